package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aristath/docflow/internal/events"
	"github.com/aristath/docflow/internal/logging"
)

// Saver is the persistence hook. Save is called once for every task that
// succeeds. Errors are logged and never fail the run.
type Saver interface {
	Save(ctx context.Context, taskID, content string) error
}

// ResultSaver is implemented by savers that want every terminal result,
// including failures and quality assessments. When a Saver also implements
// ResultSaver, SaveResult is called instead of Save.
type ResultSaver interface {
	SaveResult(ctx context.Context, phase string, result TaskResult) error
}

// Phase is one dependency graph executed to completion before the next starts.
type Phase struct {
	Name           string
	Tasks          []*Task
	MaxConcurrency int // 0 uses CoordinatorConfig.MaxConcurrency
}

// PhaseResult summarizes one executed phase.
type PhaseResult struct {
	Name      string
	Results   map[string]TaskResult
	Succeeded []string // Sorted task IDs
	Failed    []string // Sorted task IDs
	Duration  time.Duration
}

// AggregateResult is the outcome of a whole run. Documents of successful
// tasks stay available even when FatalError is set.
type AggregateResult struct {
	RunID      string
	Phases     []PhaseResult
	Documents  map[string]string // Task ID -> accepted content
	FatalError error
	Aborted    bool
}

// Result looks up a task result across all executed phases.
func (a *AggregateResult) Result(taskID string) (TaskResult, bool) {
	for _, p := range a.Phases {
		if r, ok := p.Results[taskID]; ok {
			return r, true
		}
	}
	return TaskResult{}, false
}

// RunState is the lifecycle state of a Coordinator.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunAborted   RunState = "aborted"
)

// RunStatus is a point-in-time view of a run.
type RunStatus struct {
	RunID   string
	State   RunState
	Phase   string
	Results map[string]TaskResult
}

// CoordinatorConfig holds the collaborators injected into a Coordinator.
// Everything except Executor settings is optional.
type CoordinatorConfig struct {
	MaxConcurrency int
	TaskTimeout    time.Duration
	Scorer         Scorer
	Improver       Improver
	Sink           events.Sink
	Saver          Saver
	Logger         *slog.Logger // Falls back to the logger in Run's context
}

// Coordinator runs phases in order, each through its own Executor.
type Coordinator struct {
	runID string
	cfg   CoordinatorConfig

	mu      sync.Mutex
	state   RunState
	phase   string
	results map[string]TaskResult
	cancel  context.CancelFunc
	aborted bool
}

// NewCoordinator creates a coordinator for one run.
func NewCoordinator(runID string, cfg CoordinatorConfig) *Coordinator {
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	return &Coordinator{
		runID:   runID,
		cfg:     cfg,
		state:   RunIdle,
		results: make(map[string]TaskResult),
	}
}

// RunID returns the identifier of the run.
func (c *Coordinator) RunID() string { return c.runID }

// Run executes phases strictly in order. shared supplies content that any
// task may depend on without it being a task itself; succeeded tasks are
// added to it for later phases.
//
// Graph errors are returned before any task runs. A failed required task
// stops the remaining phases and is returned as the error (and recorded in
// FatalError). Failed optional tasks are reported in the result only; later
// dependents run with that input absent. An abort, via Abort or ctx, is not
// an error: the result has Aborted set.
func (c *Coordinator) Run(ctx context.Context, phases []Phase, shared map[string]string) (*AggregateResult, error) {
	logger := c.cfg.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	logger = logger.With("run", c.runID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.state == RunRunning {
		c.mu.Unlock()
		return nil, fmt.Errorf("run %s already in progress", c.runID)
	}
	c.state = RunRunning
	c.cancel = cancel
	if c.aborted {
		cancel()
	}
	c.mu.Unlock()

	start := time.Now()
	agg := &AggregateResult{RunID: c.runID, Documents: make(map[string]string)}

	graphs, tasks, err := c.plan(phases, shared)
	if err != nil {
		c.setState(RunFailed)
		c.cfg.Sink.Notify(events.RunFinishedEvent{
			RunID: c.runID, State: string(RunFailed), Err: err, Duration: time.Since(start), Timestamp: time.Now(),
		})
		return nil, err
	}

	available := make(map[string]string, len(shared))
	for k, v := range shared {
		available[k] = v
	}

	gate := NewQualityGate(c.cfg.Scorer, c.cfg.Improver, c.cfg.TaskTimeout, logger)

	for i, phase := range phases {
		name := phaseName(phase, i)

		if runCtx.Err() != nil {
			agg.Aborted = true
			break
		}

		pr := c.runPhase(runCtx, i, name, phase, tasks[i], graphs[i], gate, available, logger)
		agg.Phases = append(agg.Phases, pr)

		for _, id := range pr.Succeeded {
			content := pr.Results[id].Content
			available[id] = content
			agg.Documents[id] = content
		}

		if fatal := requiredFailure(name, tasks[i], pr.Results); fatal != nil {
			logger.Error("required task failed, skipping remaining phases", "phase", name, "error", fatal)
			agg.FatalError = fatal
			break
		}

		if runCtx.Err() != nil {
			agg.Aborted = true
			break
		}
	}

	state := RunCompleted
	switch {
	case agg.FatalError != nil:
		state = RunFailed
	case agg.Aborted:
		state = RunAborted
	}
	c.setState(state)

	c.cfg.Sink.Notify(events.RunFinishedEvent{
		RunID:     c.runID,
		State:     string(state),
		Documents: len(agg.Documents),
		Err:       agg.FatalError,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	})
	logger.Info("run finished", "state", state, "documents", len(agg.Documents), "duration", time.Since(start))

	return agg, agg.FatalError
}

// plan clones every phase's tasks and builds its graph. Tasks of earlier
// phases and shared keys are external to later phases.
func (c *Coordinator) plan(phases []Phase, shared map[string]string) ([]*Graph, [][]*Task, error) {
	external := make([]string, 0, len(shared))
	for k := range shared {
		external = append(external, k)
	}
	sort.Strings(external)

	definedIn := make(map[string]int)
	graphs := make([]*Graph, len(phases))
	tasks := make([][]*Task, len(phases))

	for i, phase := range phases {
		name := phaseName(phase, i)

		cloned := make([]*Task, len(phase.Tasks))
		for j, task := range phase.Tasks {
			cloned[j] = cloneTask(task)
			if task == nil {
				continue
			}
			if prev, ok := definedIn[task.ID]; ok && prev != i {
				return nil, nil, fmt.Errorf("task %q defined in phases %s and %s", task.ID, phaseName(phases[prev], prev), name)
			}
		}

		g, err := Build(cloned, external)
		if err != nil {
			return nil, nil, fmt.Errorf("phase %s: %w", name, err)
		}
		graphs[i] = g
		tasks[i] = cloned

		for _, task := range cloned {
			definedIn[task.ID] = i
			external = append(external, task.ID)
		}
	}
	return graphs, tasks, nil
}

func (c *Coordinator) runPhase(ctx context.Context, index int, name string, phase Phase, tasks []*Task, graph *Graph, gate *QualityGate, available map[string]string, logger *slog.Logger) PhaseResult {
	limit := phase.MaxConcurrency
	if limit <= 0 {
		limit = c.cfg.MaxConcurrency
	}

	c.mu.Lock()
	c.phase = name
	for _, task := range tasks {
		c.results[task.ID] = TaskResult{TaskID: task.ID, Status: TaskPending}
	}
	c.mu.Unlock()

	c.cfg.Sink.Notify(events.PhaseStartedEvent{
		Phase: name, Index: index, TaskIDs: graph.Order(), Timestamp: time.Now(),
	})
	logger.Info("phase started", "phase", name, "tasks", len(tasks), "max_concurrency", limit)

	start := time.Now()
	l := &phaseListener{
		coord:   c,
		phase:   name,
		sink:    c.cfg.Sink,
		saveCtx: context.WithoutCancel(ctx),
		logger:  logger.With("phase", name),
		total:   len(tasks),
	}

	exec := NewExecutor(ExecutorConfig{MaxConcurrency: limit, TaskTimeout: c.cfg.TaskTimeout}, gate, logger.With("phase", name))
	results := exec.Execute(ctx, tasks, graph, available, l)

	pr := PhaseResult{Name: name, Results: results, Duration: time.Since(start)}
	for id, r := range results {
		if r.Status == TaskSucceeded {
			pr.Succeeded = append(pr.Succeeded, id)
		} else {
			pr.Failed = append(pr.Failed, id)
		}
	}
	sort.Strings(pr.Succeeded)
	sort.Strings(pr.Failed)

	c.cfg.Sink.Notify(events.PhaseCompletedEvent{
		Phase:     name,
		Index:     index,
		Succeeded: len(pr.Succeeded),
		Failed:    len(pr.Failed),
		Duration:  pr.Duration,
		Timestamp: time.Now(),
	})
	logger.Info("phase completed", "phase", name, "succeeded", len(pr.Succeeded), "failed", len(pr.Failed), "duration", pr.Duration)

	return pr
}

// requiredFailure returns the fatal error for the first required task that
// failed, in graph order. Tasks that were never started because of an abort
// do not count.
func requiredFailure(phase string, tasks []*Task, results map[string]TaskResult) error {
	for _, task := range tasks {
		if !task.Required {
			continue
		}
		r := results[task.ID]
		if r.Status != TaskFailed || errors.Is(r.Err, ErrAborted) {
			continue
		}
		return fmt.Errorf("%w: %s in phase %s: %w", ErrRequiredTaskFailed, task.ID, phase, r.Err)
	}
	return nil
}

// Status returns the current state of the run.
func (c *Coordinator) Status() RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make(map[string]TaskResult, len(c.results))
	for id, r := range c.results {
		cp := r
		cp.Assessments = append([]Assessment(nil), r.Assessments...)
		results[id] = cp
	}
	return RunStatus{RunID: c.runID, State: c.state, Phase: c.phase, Results: results}
}

// Abort stops admission of new tasks. Running capabilities finish normally.
// Calling Abort before Run makes Run return immediately with Aborted set.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) setState(s RunState) {
	c.mu.Lock()
	c.state = s
	c.cancel = nil
	c.mu.Unlock()
}

func (c *Coordinator) record(r TaskResult) {
	c.mu.Lock()
	c.results[r.TaskID] = r
	c.mu.Unlock()
}

func phaseName(p Phase, index int) string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("phase-%d", index+1)
}

// phaseListener relays executor callbacks to the sink, the saver and the
// coordinator's status view.
type phaseListener struct {
	coord   *Coordinator
	phase   string
	sink    events.Sink
	saveCtx context.Context
	logger  *slog.Logger

	mu        sync.Mutex
	total     int
	running   int
	completed int
	failed    int
}

func (l *phaseListener) TaskStarted(task *Task) {
	l.coord.record(TaskResult{TaskID: task.ID, Status: TaskRunning, StartedAt: time.Now()})
	l.sink.Notify(events.TaskStartedEvent{
		Phase: l.phase, ID: task.ID, Name: task.Name, Kind: task.Kind, Timestamp: time.Now(),
	})

	l.mu.Lock()
	l.running++
	l.mu.Unlock()
	l.progress()
}

func (l *phaseListener) TaskScored(task *Task, a Assessment) {
	l.sink.Notify(events.TaskScoredEvent{
		Phase:     l.phase,
		ID:        task.ID,
		Kind:      task.Kind,
		Attempt:   a.Attempt,
		Score:     a.Score,
		Threshold: a.Threshold,
		Passed:    a.Passed,
		Issues:    append([]string(nil), a.Feedback.Issues...),
		Timestamp: time.Now(),
	})
}

func (l *phaseListener) TaskFinished(task *Task, r TaskResult) {
	l.coord.record(r)

	l.mu.Lock()
	if !r.StartedAt.IsZero() {
		l.running--
	}
	if r.Status == TaskSucceeded {
		l.completed++
	} else {
		l.failed++
	}
	l.mu.Unlock()

	if r.Status == TaskSucceeded {
		ev := events.TaskCompletedEvent{
			Phase:     l.phase,
			ID:        task.ID,
			Kind:      task.Kind,
			Content:   r.Content,
			Attempts:  r.Attempts,
			Passed:    true,
			Duration:  r.Duration(),
			Timestamp: time.Now(),
		}
		if a, ok := r.Assessment(); ok {
			ev.Score = a.Score
			ev.Passed = a.Passed
		}
		l.sink.Notify(ev)
	} else {
		l.sink.Notify(events.TaskFailedEvent{
			Phase:     l.phase,
			ID:        task.ID,
			Kind:      task.Kind,
			Err:       r.Err,
			Blocked:   IsBlocked(r.Err),
			Duration:  r.Duration(),
			Timestamp: time.Now(),
		})
	}
	l.progress()
	l.save(r)
}

func (l *phaseListener) save(r TaskResult) {
	saver := l.coord.cfg.Saver
	if saver == nil {
		return
	}

	var err error
	if rs, ok := saver.(ResultSaver); ok {
		err = rs.SaveResult(l.saveCtx, l.phase, r)
	} else if r.Status == TaskSucceeded {
		err = saver.Save(l.saveCtx, r.TaskID, r.Content)
	}
	if err != nil {
		l.logger.Warn("failed to persist task result", "task", r.TaskID, "error", err)
	}
}

func (l *phaseListener) progress() {
	l.mu.Lock()
	ev := events.DAGProgressEvent{
		Phase:     l.phase,
		Total:     l.total,
		Completed: l.completed,
		Running:   l.running,
		Failed:    l.failed,
		Pending:   l.total - l.completed - l.running - l.failed,
		Timestamp: time.Now(),
	}
	l.mu.Unlock()
	l.sink.Notify(ev)
}
