package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MaxQualityAttempts bounds the generate/score/improve loop. Every attempt
// past the first costs an improvement call and a scoring pass, so the limit
// caps cost and latency per document.
const MaxQualityAttempts = 3

// Feedback is the structured detail an improvement pass works from.
type Feedback struct {
	Summary string
	Issues  []string
	Details map[string]any
}

// Assessment is the result of one scoring pass.
type Assessment struct {
	Attempt   int
	Score     float64
	Threshold float64
	Passed    bool
	Feedback  Feedback
}

// Scorer rates content of the given kind on a 0-100 scale.
type Scorer interface {
	Score(ctx context.Context, content, kind string) (Assessment, error)
}

// Improver rewrites a draft using the feedback from its last assessment.
type Improver interface {
	Improve(ctx context.Context, kind, content string, assessment Assessment) (string, error)
}

// GateState is a state of the quality loop.
type GateState int

const (
	GateGenerating GateState = iota
	GateScoring
	GateImproving
	GateAccepted
	GateExhausted // Accepted below threshold
)

func (s GateState) String() string {
	switch s {
	case GateGenerating:
		return "generating"
	case GateScoring:
		return "scoring"
	case GateImproving:
		return "improving"
	case GateAccepted:
		return "accepted"
	case GateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// GateOutcome is what the quality loop hands back for a task.
type GateOutcome struct {
	Content     string
	Attempts    int
	Assessments []Assessment
	Final       GateState
}

// Passed reports whether the accepted content met the threshold.
// Ungated tasks always pass.
func (o GateOutcome) Passed() bool {
	return o.Final == GateAccepted
}

// QualityGate wraps a task's capability in the generate/score/improve loop.
type QualityGate struct {
	scorer   Scorer
	improver Improver
	timeout  time.Duration
	logger   *slog.Logger
}

// NewQualityGate creates a quality gate. timeout bounds every produce and
// improve call; zero disables the bound. A nil improver makes every
// below-threshold draft final after its first scoring pass.
func NewQualityGate(scorer Scorer, improver Improver, timeout time.Duration, logger *slog.Logger) *QualityGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &QualityGate{
		scorer:   scorer,
		improver: improver,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run drives one task through the loop. onScore, if non-nil, is called after
// every scoring pass. Only a failing produce call is returned as an error;
// scoring and improvement problems degrade to accepting the latest draft.
func (g *QualityGate) Run(ctx context.Context, task *Task, inputs map[string]string, onScore func(Assessment)) (GateOutcome, error) {
	logger := g.logger.With("task", task.ID)
	out := GateOutcome{}
	state := GateGenerating

	for {
		switch state {
		case GateGenerating:
			content, err := g.invoke(ctx, task.ID, OpProduce, func(ctx context.Context) (string, error) {
				return task.Capability.Produce(ctx, inputs)
			})
			if err != nil {
				return out, err
			}
			out.Content = content
			out.Attempts = 1

			if !task.Gated() {
				out.Final = GateAccepted
				return out, nil
			}
			if g.scorer == nil {
				logger.Warn("quality gate requested but no scorer configured, accepting draft")
				out.Final = GateAccepted
				return out, nil
			}
			state = GateScoring

		case GateScoring:
			threshold := *task.QualityThreshold
			assessment, err := g.scorer.Score(ctx, out.Content, task.Kind)
			if err != nil {
				logger.Warn("scoring failed, assuming score 0", "attempt", out.Attempts, "error", err)
				assessment = Assessment{
					Feedback: Feedback{Summary: fmt.Sprintf("scoring failed: %v", err)},
				}
			}
			assessment.Attempt = out.Attempts
			assessment.Threshold = threshold
			assessment.Passed = assessment.Score >= threshold
			out.Assessments = append(out.Assessments, assessment)
			if onScore != nil {
				onScore(assessment)
			}

			logger.Debug("draft scored", "attempt", out.Attempts, "score", assessment.Score, "threshold", threshold)

			switch {
			case assessment.Passed:
				state = GateAccepted
			case out.Attempts >= MaxQualityAttempts:
				state = GateExhausted
			case g.improver == nil:
				state = GateExhausted
			default:
				state = GateImproving
			}

		case GateImproving:
			last := out.Assessments[len(out.Assessments)-1]
			improved, err := g.invoke(ctx, task.ID, OpImprove, func(ctx context.Context) (string, error) {
				return g.improver.Improve(ctx, task.Kind, out.Content, last)
			})
			if err != nil {
				logger.Warn("improvement failed, keeping previous draft", "attempt", out.Attempts, "error", err)
				state = GateExhausted
				continue
			}
			out.Content = improved
			out.Attempts++
			state = GateScoring

		case GateAccepted:
			out.Final = GateAccepted
			return out, nil

		case GateExhausted:
			last := out.Assessments[len(out.Assessments)-1]
			logger.Warn("quality threshold not reached, accepting best effort draft",
				"attempts", out.Attempts, "score", last.Score, "threshold", last.Threshold)
			out.Final = GateExhausted
			return out, nil
		}
	}
}

// invoke calls fn under the configured timeout. The call is abandoned (not
// interrupted) when the timeout fires; a capability that ignores its context
// keeps running in the background until it returns.
func (g *QualityGate) invoke(ctx context.Context, taskID, op string, fn func(context.Context) (string, error)) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type result struct {
		content string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		content, err := fn(ctx)
		done <- result{content: content, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", &CapabilityError{TaskID: taskID, Op: op, Err: r.err}
		}
		return r.content, nil
	case <-ctx.Done():
		return "", &CapabilityError{TaskID: taskID, Op: op, Err: ctx.Err()}
	}
}
