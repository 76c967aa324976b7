package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Summary is a flattened view of the recorder's counters for display at
// the end of a run.
type Summary struct {
	Tasks          map[string]float64 // outcome -> count
	ScoringPasses  float64
	MeanScore      float64
	BelowThreshold float64
	BackendCalls   float64
	BackendErrors  float64
}

// Summary gathers the registry and totals the collectors across labels.
func (r *Recorder) Summary() (Summary, error) {
	families, err := r.gatherer.Gather()
	if err != nil {
		return Summary{}, fmt.Errorf("gather metrics: %w", err)
	}

	s := Summary{Tasks: map[string]float64{}}
	var scoreSum float64
	for _, mf := range families {
		switch strings.TrimPrefix(mf.GetName(), namespace+"_") {
		case "tasks_total":
			for _, m := range mf.GetMetric() {
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "outcome" {
						s.Tasks[lp.GetValue()] += m.GetCounter().GetValue()
					}
				}
			}
		case "quality_score":
			for _, m := range mf.GetMetric() {
				s.ScoringPasses += float64(m.GetHistogram().GetSampleCount())
				scoreSum += m.GetHistogram().GetSampleSum()
			}
		case "quality_below_threshold_total":
			for _, m := range mf.GetMetric() {
				s.BelowThreshold += m.GetCounter().GetValue()
			}
		case "backend_calls_total":
			for _, m := range mf.GetMetric() {
				v := m.GetCounter().GetValue()
				s.BackendCalls += v
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "success" && lp.GetValue() == "false" {
						s.BackendErrors += v
					}
				}
			}
		}
	}
	if s.ScoringPasses > 0 {
		s.MeanScore = scoreSum / s.ScoringPasses
	}
	return s, nil
}

// Write prints the summary as aligned key/value lines.
func (s Summary) Write(w io.Writer) error {
	outcomes := make([]string, 0, len(s.Tasks))
	for outcome := range s.Tasks {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)

	var b strings.Builder
	for _, outcome := range outcomes {
		fmt.Fprintf(&b, "  tasks %-10s %4.0f\n", outcome, s.Tasks[outcome])
	}
	fmt.Fprintf(&b, "  scoring passes   %4.0f (mean score %.1f)\n", s.ScoringPasses, s.MeanScore)
	fmt.Fprintf(&b, "  below threshold  %4.0f\n", s.BelowThreshold)
	fmt.Fprintf(&b, "  backend calls    %4.0f (%.0f failed)\n", s.BackendCalls, s.BackendErrors)

	_, err := io.WriteString(w, b.String())
	return err
}
