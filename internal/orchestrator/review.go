package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/docflow/internal/scheduler"
)

// AssessmentSource returns the quality passes recorded for documents,
// keyed by document ID. Documents without assessments are omitted.
type AssessmentSource interface {
	Assessments(ctx context.Context, ids []string) (map[string][]scheduler.Assessment, error)
}

// QualityTable renders the final assessment of each document as a markdown
// table followed by the open issues. Documents missing from inputs failed
// and are listed as such.
func QualityTable(ids []string, inputs map[string]string, assessments map[string][]scheduler.Assessment) string {
	var b strings.Builder
	b.WriteString("| Document | Score | Threshold | Passes | Result |\n")
	b.WriteString("|---|---|---|---|---|\n")

	var issues []string
	for _, id := range ids {
		passes := assessments[id]
		if len(passes) == 0 {
			result := "not gated"
			if _, ok := inputs[id]; !ok {
				result = "failed"
			}
			fmt.Fprintf(&b, "| %s | - | - | 0 | %s |\n", id, result)
			continue
		}

		last := passes[len(passes)-1]
		result := "passed"
		if !last.Passed {
			result = "below threshold"
		}
		fmt.Fprintf(&b, "| %s | %.1f | %.1f | %d | %s |\n", id, last.Score, last.Threshold, len(passes), result)
		for _, issue := range last.Feedback.Issues {
			issues = append(issues, fmt.Sprintf("- %s: %s", id, issue))
		}
	}

	if len(issues) > 0 {
		b.WriteString("\nOpen issues:\n")
		b.WriteString(strings.Join(issues, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
