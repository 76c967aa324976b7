package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/aristath/docflow/internal/events"
)

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Notify(e events.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) types(taskID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.TaskID() == taskID {
			out = append(out, e.EventType())
		}
	}
	return out
}

func (l *eventLog) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

type memorySaver struct {
	mu    sync.Mutex
	saved map[string]string
	err   error
	calls atomic.Int32
}

func (s *memorySaver) Save(_ context.Context, taskID, content string) error {
	s.calls.Add(1)
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]string)
	}
	s.saved[taskID] = content
	return nil
}

type resultSaver struct {
	memorySaver
	mu      sync.Mutex
	results map[string]TaskStatus
}

func (s *resultSaver) SaveResult(_ context.Context, _ string, r TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		s.results = make(map[string]TaskStatus)
	}
	s.results[r.TaskID] = r.Status
	return nil
}

func TestCoordinator_EndToEnd(t *testing.T) {
	requirements := &fakeCapability{content: "reqs"}
	charter := &fakeCapability{content: "charter v1"}
	scorer := &scriptedScorer{scores: map[string]float64{"reqs": 85, "charter v1": 60, "charter v1+": 78}}
	improver := &suffixImprover{}
	sink := &eventLog{}
	rec := &memorySaver{}

	coord := NewCoordinator("run-1", CoordinatorConfig{
		MaxConcurrency: 4,
		Scorer:         scorer,
		Improver:       improver,
		Sink:           sink,
		Saver:          rec,
	})

	phases := []Phase{{
		Name: "phase-1",
		Tasks: []*Task{
			{ID: "requirements", Capability: requirements, QualityThreshold: Threshold(80), Required: true},
			{ID: "charter", Capability: charter, DependsOn: []string{"requirements"}, QualityThreshold: Threshold(75)},
		},
	}}

	agg, err := coord.Run(context.Background(), phases, map[string]string{"idea": "todo app"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	req, _ := agg.Result("requirements")
	if req.Status != TaskSucceeded || req.Attempts != 1 {
		t.Errorf("requirements: expected success after 1 attempt, got %s after %d", req.Status, req.Attempts)
	}
	ch, _ := agg.Result("charter")
	if ch.Status != TaskSucceeded || ch.Attempts != 2 {
		t.Errorf("charter: expected success after 2 attempts, got %s after %d", ch.Status, ch.Attempts)
	}
	if got := charter.calls.Load(); got != 1 {
		t.Errorf("charter: expected a single produce call, got %d", got)
	}
	if got := improver.calls.Load(); got != 1 {
		t.Errorf("expected 1 improve call, got %d", got)
	}
	// Two scoring passes for charter, one for requirements.
	if got := scorer.calls.Load(); got != 3 {
		t.Errorf("expected 3 scoring passes, got %d", got)
	}
	if !req.StartedAt.Before(ch.StartedAt) {
		t.Error("requirements must start strictly before charter")
	}

	wantDocs := map[string]string{"requirements": "reqs", "charter": "charter v1+"}
	if diff := cmp.Diff(wantDocs, agg.Documents); diff != "" {
		t.Errorf("documents mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantDocs, rec.saved); diff != "" {
		t.Errorf("saved documents mismatch (-want +got):\n%s", diff)
	}

	wantEvents := []string{
		events.EventTypeTaskStarted,
		events.EventTypeTaskScored,
		events.EventTypeTaskScored,
		events.EventTypeTaskCompleted,
	}
	if diff := cmp.Diff(wantEvents, sink.types("charter")); diff != "" {
		t.Errorf("charter events mismatch (-want +got):\n%s", diff)
	}
	for _, typ := range []string{events.EventTypePhaseStarted, events.EventTypePhaseCompleted, events.EventTypeRunFinished} {
		if sink.count(typ) != 1 {
			t.Errorf("expected exactly one %s event, got %d", typ, sink.count(typ))
		}
	}

	status := coord.Status()
	if status.State != RunCompleted || status.Phase != "phase-1" || len(status.Results) != 2 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestCoordinator_LaterPhaseConsumesEarlierResults(t *testing.T) {
	api := &fakeCapability{content: "api docs"}
	phases := []Phase{
		{Tasks: []*Task{
			{ID: "requirements", Capability: &fakeCapability{content: "reqs"}},
			{ID: "design", Capability: &fakeCapability{err: errors.New("model unavailable")}},
		}},
		{Tasks: []*Task{
			{ID: "api", Capability: api, DependsOn: []string{"requirements", "design", "idea"}},
		}},
	}

	coord := NewCoordinator("run-2", CoordinatorConfig{})
	agg, err := coord.Run(context.Background(), phases, map[string]string{"idea": "todo app"})
	if err != nil {
		t.Fatalf("optional failure must not fail the run: %v", err)
	}

	if len(agg.Phases) != 2 || agg.Phases[0].Name != "phase-1" || agg.Phases[1].Name != "phase-2" {
		t.Fatalf("unexpected phases: %+v", agg.Phases)
	}
	if diff := cmp.Diff([]string{"design"}, agg.Phases[0].Failed); diff != "" {
		t.Errorf("failed mismatch (-want +got):\n%s", diff)
	}

	want := map[string]string{"requirements": "reqs", "idea": "todo app"}
	if diff := cmp.Diff(want, api.lastInputs()); diff != "" {
		t.Errorf("api inputs mismatch (-want +got):\n%s", diff)
	}
	if agg.Documents["api"] != "api docs" {
		t.Errorf("expected api document, got %q", agg.Documents["api"])
	}
	if _, ok := agg.Documents["idea"]; ok {
		t.Error("shared context must not be reported as a document")
	}
}

func TestCoordinator_RequiredFailureStopsLaterPhases(t *testing.T) {
	later := &fakeCapability{content: "later"}
	phases := []Phase{
		{Name: "discovery", Tasks: []*Task{
			{ID: "requirements", Capability: &fakeCapability{err: errors.New("backend error")}, Required: true},
			{ID: "glossary", Capability: &fakeCapability{content: "terms"}},
		}},
		{Name: "delivery", Tasks: []*Task{
			{ID: "setup_guide", Capability: later},
		}},
	}

	sink := &eventLog{}
	coord := NewCoordinator("run-3", CoordinatorConfig{Sink: sink})
	agg, err := coord.Run(context.Background(), phases, nil)

	if !errors.Is(err, ErrRequiredTaskFailed) {
		t.Fatalf("expected ErrRequiredTaskFailed, got %v", err)
	}
	if agg == nil || agg.FatalError != err {
		t.Fatalf("expected FatalError to match the returned error, got %+v", agg)
	}
	var capErr *CapabilityError
	if !errors.As(err, &capErr) || capErr.TaskID != "requirements" {
		t.Errorf("fatal error should wrap the task failure, got %v", err)
	}
	if later.calls.Load() != 0 || len(agg.Phases) != 1 {
		t.Error("later phases must not run after a required failure")
	}
	if agg.Documents["glossary"] != "terms" {
		t.Error("partial results must remain available")
	}
	if coord.Status().State != RunFailed {
		t.Errorf("expected failed state, got %s", coord.Status().State)
	}
}

func TestCoordinator_GraphErrorsBeforeExecution(t *testing.T) {
	first := &fakeCapability{content: "x"}
	tests := []struct {
		name   string
		phases []Phase
		check  func(error) bool
	}{
		{
			name: "dependency on a later phase",
			phases: []Phase{
				{Tasks: []*Task{{ID: "a", Capability: first, DependsOn: []string{"b"}}}},
				{Tasks: []*Task{{ID: "b", Capability: first}}},
			},
			check: func(err error) bool {
				var unknown *UnknownDependencyError
				return errors.As(err, &unknown)
			},
		},
		{
			name: "cycle in second phase",
			phases: []Phase{
				{Tasks: []*Task{{ID: "a", Capability: first}}},
				{Tasks: []*Task{
					{ID: "b", Capability: first, DependsOn: []string{"c"}},
					{ID: "c", Capability: first, DependsOn: []string{"b"}},
				}},
			},
			check: func(err error) bool {
				var cycle *CycleError
				return errors.As(err, &cycle)
			},
		},
		{
			name: "task repeated across phases",
			phases: []Phase{
				{Tasks: []*Task{{ID: "a", Capability: first}}},
				{Tasks: []*Task{{ID: "a", Capability: first}}},
			},
			check: func(err error) bool { return err != nil },
		},
		{
			name: "task repeated across same-named phases",
			phases: []Phase{
				{Name: "docs", Tasks: []*Task{{ID: "a", Capability: first}}},
				{Name: "docs", Tasks: []*Task{{ID: "a", Capability: first}}},
			},
			check: func(err error) bool { return err != nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, err := NewCoordinator("run", CoordinatorConfig{}).Run(context.Background(), tt.phases, nil)
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if agg != nil {
				t.Error("expected no aggregate result on configuration error")
			}
		})
	}
	if first.calls.Load() != 0 {
		t.Errorf("no task may run on configuration error, got %d calls", first.calls.Load())
	}
}

func TestCoordinator_SaverFailureIsNotFatal(t *testing.T) {
	saver := &memorySaver{err: errors.New("disk full")}
	phases := []Phase{{Tasks: []*Task{
		{ID: "a", Capability: &fakeCapability{content: "a"}},
		{ID: "b", Capability: &fakeCapability{err: errors.New("boom")}},
	}}}

	agg, err := NewCoordinator("run", CoordinatorConfig{Saver: saver}).Run(context.Background(), phases, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if agg.Documents["a"] != "a" {
		t.Error("expected document despite saver failure")
	}
	if got := saver.calls.Load(); got != 1 {
		t.Errorf("Save must be called once per succeeded task, got %d", got)
	}
}

func TestCoordinator_ResultSaverSeesFailures(t *testing.T) {
	saver := &resultSaver{}
	phases := []Phase{{Tasks: []*Task{
		{ID: "a", Capability: &fakeCapability{content: "a"}},
		{ID: "b", Capability: &fakeCapability{err: errors.New("boom")}},
		{ID: "c", Capability: &fakeCapability{content: "c"}, DependsOn: []string{"b"}},
	}}}

	if _, err := NewCoordinator("run", CoordinatorConfig{Saver: saver}).Run(context.Background(), phases, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[string]TaskStatus{"a": TaskSucceeded, "b": TaskFailed, "c": TaskFailed}
	if diff := cmp.Diff(want, saver.results); diff != "" {
		t.Errorf("saved results mismatch (-want +got):\n%s", diff)
	}
	if saver.calls.Load() != 0 {
		t.Error("Save must not be called when SaveResult is available")
	}
}

func TestCoordinator_AbortDuringRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := CapabilityFunc(func(context.Context, map[string]string) (string, error) {
		close(started)
		<-release
		return "done", nil
	})
	later := &fakeCapability{content: "later"}

	phases := []Phase{
		{Tasks: []*Task{{ID: "slow", Capability: blocking, Required: true}}},
		{Tasks: []*Task{{ID: "later", Capability: later}}},
	}

	coord := NewCoordinator("run-abort", CoordinatorConfig{})
	type outcome struct {
		agg *AggregateResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		agg, err := coord.Run(context.Background(), phases, nil)
		done <- outcome{agg, err}
	}()

	<-started
	if coord.Status().State != RunRunning {
		t.Errorf("expected running state, got %s", coord.Status().State)
	}
	coord.Abort()
	close(release)

	var out outcome
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after abort")
	}

	if out.err != nil {
		t.Fatalf("abort is not an error, got %v", out.err)
	}
	if !out.agg.Aborted {
		t.Error("expected Aborted to be set")
	}
	if out.agg.Documents["slow"] != "done" {
		t.Error("in-flight task should finish and be kept")
	}
	if later.calls.Load() != 0 {
		t.Error("no phase may start after abort")
	}
	if coord.Status().State != RunAborted {
		t.Errorf("expected aborted state, got %s", coord.Status().State)
	}
}

func TestCoordinator_AbortBeforeRun(t *testing.T) {
	task := &fakeCapability{content: "x"}
	coord := NewCoordinator("run", CoordinatorConfig{})
	coord.Abort()

	agg, err := coord.Run(context.Background(), []Phase{{Tasks: []*Task{{ID: "a", Capability: task}}}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !agg.Aborted || task.calls.Load() != 0 {
		t.Errorf("expected aborted run without task calls, got %+v", agg)
	}
}

func TestCoordinator_PerPhaseConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	capability := CapabilityFunc(func(context.Context, map[string]string) (string, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	})

	tasks := []*Task{
		{ID: "a", Capability: capability},
		{ID: "b", Capability: capability},
		{ID: "c", Capability: capability},
	}
	coord := NewCoordinator("run", CoordinatorConfig{MaxConcurrency: 3})
	if _, err := coord.Run(context.Background(), []Phase{{Tasks: tasks, MaxConcurrency: 1}}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak.Load() != 1 {
		t.Errorf("phase limit of 1 not honored, peak %d", peak.Load())
	}
}
