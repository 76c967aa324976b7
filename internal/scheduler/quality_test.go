package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestQualityGate_ExhaustsAfterMaxAttempts(t *testing.T) {
	produce := &fakeCapability{content: "draft"}
	scorer := &constantScorer{score: 40}
	improver := &suffixImprover{}
	gate := NewQualityGate(scorer, improver, 0, nil)

	task := &Task{ID: "charter", Kind: "project_charter", Capability: produce, QualityThreshold: Threshold(70)}

	var scored []float64
	out, err := gate.Run(context.Background(), task, nil, func(a Assessment) { scored = append(scored, a.Score) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := produce.calls.Load(); got != 1 {
		t.Errorf("expected 1 produce call, got %d", got)
	}
	if got := improver.calls.Load(); got != 2 {
		t.Errorf("expected 2 improve calls, got %d", got)
	}
	if got := scorer.calls.Load(); got != MaxQualityAttempts {
		t.Errorf("expected %d scoring passes, got %d", MaxQualityAttempts, got)
	}
	if out.Attempts != MaxQualityAttempts {
		t.Errorf("expected %d attempts, got %d", MaxQualityAttempts, out.Attempts)
	}
	if out.Content != "draft++" {
		t.Errorf("expected attempt-3 content %q, got %q", "draft++", out.Content)
	}
	if out.Passed() || out.Final != GateExhausted {
		t.Errorf("expected exhausted outcome, got %s", out.Final)
	}
	if last := out.Assessments[len(out.Assessments)-1]; last.Passed {
		t.Error("expected last assessment to record passed=false")
	}
	if diff := cmp.Diff([]float64{40, 40, 40}, scored); diff != "" {
		t.Errorf("onScore mismatch (-want +got):\n%s", diff)
	}
}

func TestQualityGate_PassesFirstAttempt(t *testing.T) {
	produce := &fakeCapability{content: "good"}
	scorer := &constantScorer{score: 90}
	improver := &suffixImprover{}
	gate := NewQualityGate(scorer, improver, 0, nil)

	task := &Task{ID: "requirements", Capability: produce, QualityThreshold: Threshold(70)}
	out, err := gate.Run(context.Background(), task, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if produce.calls.Load() != 1 || improver.calls.Load() != 0 {
		t.Errorf("expected 1 produce and 0 improve calls, got %d and %d", produce.calls.Load(), improver.calls.Load())
	}
	if out.Attempts != 1 || !out.Passed() || out.Content != "good" {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestQualityGate_ImprovesUntilPassing(t *testing.T) {
	produce := &fakeCapability{content: "v1"}
	scorer := &scriptedScorer{scores: map[string]float64{"v1": 60, "v1+": 78}}
	improver := &suffixImprover{}
	gate := NewQualityGate(scorer, improver, 0, nil)

	task := &Task{ID: "charter", Kind: "project_charter", Capability: produce, QualityThreshold: Threshold(75)}
	out, err := gate.Run(context.Background(), task, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Attempts != 2 || out.Content != "v1+" || !out.Passed() {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if len(improver.feedback) != 1 || improver.feedback[0].Score != 60 {
		t.Errorf("improver should receive the failing assessment, got %+v", improver.feedback)
	}
	if improver.feedback[0].Feedback.Summary != "project_charter scored" {
		t.Errorf("expected scorer feedback to reach the improver, got %+v", improver.feedback[0].Feedback)
	}
}

func TestQualityGate_UngatedTaskSkipsScoring(t *testing.T) {
	produce := &fakeCapability{content: "setup guide"}
	scorer := &constantScorer{score: 0}
	gate := NewQualityGate(scorer, &suffixImprover{}, 0, nil)

	out, err := gate.Run(context.Background(), &Task{ID: "setup_guide", Capability: produce}, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if scorer.calls.Load() != 0 {
		t.Errorf("expected no scoring for an ungated task, got %d calls", scorer.calls.Load())
	}
	if out.Attempts != 1 || !out.Passed() || len(out.Assessments) != 0 {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestQualityGate_ScorerFailureCountsAsZero(t *testing.T) {
	produce := &fakeCapability{content: "draft"}
	scorer := &scriptedScorer{err: errors.New("rubric unavailable")}
	improver := &suffixImprover{}
	gate := NewQualityGate(scorer, improver, 0, nil)

	task := &Task{ID: "charter", Capability: produce, QualityThreshold: Threshold(50)}
	out, err := gate.Run(context.Background(), task, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Attempts != MaxQualityAttempts || out.Passed() {
		t.Errorf("expected exhausted loop, got %+v", out)
	}
	for _, a := range out.Assessments {
		if a.Score != 0 || a.Passed {
			t.Errorf("expected zero score on scorer failure, got %+v", a)
		}
	}
}

func TestQualityGate_ImproverFailureKeepsDraft(t *testing.T) {
	produce := &fakeCapability{content: "draft"}
	improver := &suffixImprover{err: errors.New("model overloaded")}
	gate := NewQualityGate(&constantScorer{score: 10}, improver, 0, nil)

	task := &Task{ID: "charter", Capability: produce, QualityThreshold: Threshold(50)}
	out, err := gate.Run(context.Background(), task, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Content != "draft" || out.Attempts != 1 || out.Final != GateExhausted {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if improver.calls.Load() != 1 {
		t.Errorf("expected a single improve attempt, got %d", improver.calls.Load())
	}
}

func TestQualityGate_NilImproverAcceptsFirstDraft(t *testing.T) {
	gate := NewQualityGate(&constantScorer{score: 10}, nil, 0, nil)
	task := &Task{ID: "charter", Capability: &fakeCapability{content: "draft"}, QualityThreshold: Threshold(50)}

	out, err := gate.Run(context.Background(), task, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Attempts != 1 || out.Final != GateExhausted {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestQualityGate_ProduceFailure(t *testing.T) {
	cause := errors.New("backend error")
	gate := NewQualityGate(&constantScorer{score: 90}, nil, 0, nil)

	_, err := gate.Run(context.Background(), &Task{ID: "A", Capability: &fakeCapability{err: cause}}, nil, nil)

	var capErr *CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected *CapabilityError, got %T: %v", err, err)
	}
	if capErr.Op != OpProduce || capErr.TaskID != "A" || !errors.Is(err, cause) {
		t.Errorf("unexpected error: %+v", capErr)
	}
}

func TestQualityGate_Timeout(t *testing.T) {
	gate := NewQualityGate(nil, nil, 20*time.Millisecond, nil)
	slow := CapabilityFunc(func(ctx context.Context, _ map[string]string) (string, error) {
		time.Sleep(200 * time.Millisecond) // ignores ctx on purpose
		return "late", nil
	})

	start := time.Now()
	_, err := gate.Run(context.Background(), &Task{ID: "slow", Capability: slow}, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("timeout should abandon the call, took %v", elapsed)
	}
}

func TestGateState_String(t *testing.T) {
	states := map[GateState]string{
		GateGenerating: "generating",
		GateScoring:    "scoring",
		GateImproving:  "improving",
		GateAccepted:   "accepted",
		GateExhausted:  "exhausted",
		GateState(99):  "unknown",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("GateState(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
