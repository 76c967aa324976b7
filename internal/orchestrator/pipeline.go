// Package orchestrator turns the document catalog into scheduler phases,
// binds each document to a model backend and drives a run end to end.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/aristath/docflow/internal/backend"
	"github.com/aristath/docflow/internal/config"
	"github.com/aristath/docflow/internal/events"
	"github.com/aristath/docflow/internal/logging"
	"github.com/aristath/docflow/internal/metrics"
	"github.com/aristath/docflow/internal/persistence"
	"github.com/aristath/docflow/internal/quality"
	"github.com/aristath/docflow/internal/scheduler"
)

// BackendFactory creates the backend for a provider. Tests substitute it;
// the default is backend.New.
type BackendFactory func(provider string, cfg backend.Config) (backend.Backend, error)

// Options configures a Pipeline.
type Options struct {
	Config    *config.Config
	Idea      string
	Documents []string // Documents to generate (plus their dependencies); empty means all
	RunID     string   // Generated when empty

	// Completed holds documents produced by an earlier attempt of the same
	// run. They are not regenerated and feed their dependents directly.
	Completed map[string]string

	Sink           events.Sink
	Metrics        *metrics.Recorder
	Store          persistence.Store
	OutputDir      string // Overrides Config.OutputDir; "-" disables file output
	ProcessManager *backend.ProcessManager
	BackendFactory BackendFactory
	Getenv         func(string) string // Defaults to os.Getenv
	Logger         *slog.Logger
}

// Pipeline is one configured generation run.
type Pipeline struct {
	opts     Options
	runID    string
	catalog  config.Catalog
	phases   []scheduler.Phase
	shared   map[string]string
	backends map[string]backend.Backend
	coord    *scheduler.Coordinator
	files    *persistence.FileWriter
	bus      *events.EventBus // Feeds metrics off the scheduler's goroutines
	logger   *slog.Logger
}

// NewPipeline validates the configuration, resolves the selected documents
// and prepares backends, capabilities and the coordinator. No backend is
// called until Run.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if opts.Idea == "" {
		return nil, errors.New("pipeline: project idea is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.BackendFactory == nil {
		pm := opts.ProcessManager
		opts.BackendFactory = func(_ string, cfg backend.Config) (backend.Backend, error) {
			return backend.New(cfg, pm)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	catalog, err := opts.Config.Documents.Resolve(opts.Documents)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		opts:     opts,
		runID:    opts.RunID,
		catalog:  catalog,
		shared:   make(map[string]string, len(opts.Completed)),
		backends: make(map[string]backend.Backend),
		logger:   logger.With("run", opts.RunID),
	}
	for id, content := range opts.Completed {
		p.shared[id] = content
	}

	if err := p.build(); err != nil {
		p.closeBackends()
		return nil, err
	}
	return p, nil
}

// build creates agents and tasks for every pending document.
func (p *Pipeline) build() error {
	cfg := p.opts.Config
	breakers := NewBreakerRegistry(cfg.Scheduler.Breaker.MaxFailures, cfg.Scheduler.Breaker.Timeout.Duration, p.logger)
	retry := RetryPolicyFrom(cfg.Scheduler.Retry)

	var observer CallObserver
	if p.opts.Metrics != nil {
		observer = p.opts.Metrics
	}

	byKind := make(map[string]*Agent)
	var fallback *Agent

	for _, group := range p.catalog.Phases() {
		phase := scheduler.Phase{
			Name:           fmt.Sprintf("phase-%d", group.Number),
			MaxConcurrency: cfg.Scheduler.ConcurrencyFor(group.Number),
		}

		for _, doc := range group.Documents {
			if _, done := p.shared[doc.ID]; done {
				p.logger.Info("document already generated, skipping", "document", doc.ID)
				continue
			}

			agent, err := p.agentFor(doc, breakers, retry, observer)
			if err != nil {
				return err
			}
			gen, err := NewGenerator(doc, p.opts.Idea, agent)
			if err != nil {
				return err
			}
			if doc.QualityReport {
				gen.WithAssessments(p)
			}
			if _, ok := byKind[doc.KindOrID()]; !ok {
				byKind[doc.KindOrID()] = agent
			}
			if fallback == nil {
				fallback = agent
			}

			phase.Tasks = append(phase.Tasks, &scheduler.Task{
				ID:               doc.ID,
				Name:             doc.DisplayName(),
				Kind:             doc.KindOrID(),
				Capability:       gen,
				DependsOn:        append([]string(nil), doc.DependsOn...),
				QualityThreshold: doc.QualityThreshold,
				Required:         doc.Required,
			})
		}

		if len(phase.Tasks) > 0 {
			p.phases = append(p.phases, phase)
		}
	}

	var scorerOpts []quality.Option
	if w := cfg.Quality.Weights; w != nil {
		scorerOpts = append(scorerOpts, quality.WithWeights(*w))
	}
	scorerOpts = append(scorerOpts, quality.WithLogger(p.logger))
	scorer, err := quality.NewScorer(cfg.Quality.Rubrics, scorerOpts...)
	if err != nil {
		return fmt.Errorf("quality rubrics: %w", err)
	}

	p.bus = events.NewEventBus()
	sink := events.Fanout{p.opts.Sink, p.bus}

	var savers persistence.MultiSaver
	if p.opts.Store != nil {
		savers = append(savers, persistence.NewRunSaver(p.opts.Store, p.runID))
	}
	outputDir := p.opts.OutputDir
	if outputDir == "" {
		outputDir = cfg.OutputDir
	}
	if outputDir != "" && outputDir != "-" {
		p.files = persistence.NewFileWriter(outputDir, p.runID)
		savers = append(savers, p.files)
	}

	coordCfg := scheduler.CoordinatorConfig{
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
		TaskTimeout:    cfg.Scheduler.TaskTimeout.Duration,
		Scorer:         scorer,
		Improver:       NewImprover(byKind, fallback),
		Sink:           sink,
		Logger:         p.logger,
	}
	if len(savers) > 0 {
		coordCfg.Saver = savers
	}
	p.coord = scheduler.NewCoordinator(p.runID, coordCfg)
	return nil
}

// agentFor returns an agent bound to the document's provider and model.
// Backends are shared by all documents of a provider.
func (p *Pipeline) agentFor(doc config.DocumentConfig, breakers *BreakerRegistry, retry RetryPolicy, observer CallObserver) (*Agent, error) {
	cfg := p.opts.Config
	name, provider, ok := cfg.ProviderFor(doc)
	if !ok {
		return nil, fmt.Errorf("document %s: unknown provider %q", doc.ID, name)
	}

	b, ok := p.backends[name]
	if !ok {
		bcfg := backend.Config{
			Type:      provider.Type,
			Name:      name,
			SessionID: p.runID,
			Command:   provider.Command,
			Args:      provider.Args,
			Output:    provider.Output,
			BaseURL:   provider.BaseURL,
			Model:     provider.Model,
			Timeout:   provider.Timeout.Duration,
		}
		if provider.APIKeyEnv != "" {
			bcfg.APIKey = p.opts.Getenv(provider.APIKeyEnv)
		}

		var err error
		b, err = p.opts.BackendFactory(name, bcfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		p.backends[name] = b
	}

	return &Agent{
		provider: name,
		model:    cfg.ModelFor(doc),
		backend:  b,
		breaker:  breakers.Get(name),
		retry:    retry,
		observer: observer,
		logger:   p.logger,
	}, nil
}

// RunID returns the identifier of the run.
func (p *Pipeline) RunID() string { return p.runID }

// Phases returns the phases that will run, without documents skipped
// because they were already completed.
func (p *Pipeline) Phases() []scheduler.Phase {
	return append([]scheduler.Phase(nil), p.phases...)
}

// OutputPath returns where a document is written, or "" when file output
// is disabled.
func (p *Pipeline) OutputPath(docID string) string {
	if p.files == nil {
		return ""
	}
	return p.files.Path(docID)
}

// Status returns the coordinator's current view of the run.
func (p *Pipeline) Status() scheduler.RunStatus { return p.coord.Status() }

// Abort stops admission of new documents; running ones finish.
func (p *Pipeline) Abort() { p.coord.Abort() }

// Run executes every phase, records the run in the store and releases the
// backends. The returned result is non-nil unless the phases could not be
// planned.
func (p *Pipeline) Run(ctx context.Context) (*scheduler.AggregateResult, error) {
	defer p.closeBackends()
	ctx = logging.WithLogger(ctx, p.logger)

	if store := p.opts.Store; store != nil {
		if _, err := store.GetRun(ctx, p.runID); errors.Is(err, persistence.ErrNotFound) {
			if err := store.CreateRun(ctx, persistence.Run{ID: p.runID, Idea: p.opts.Idea}); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
	}

	var metricsDone <-chan struct{}
	if p.opts.Metrics != nil {
		metricsDone = p.bus.Attach(p.opts.Metrics, 1024, events.TopicTask, events.TopicPhase, events.TopicRun)
	}

	p.logger.Info("starting run", "documents", len(p.catalog), "phases", len(p.phases), "resumed", len(p.opts.Completed))
	agg, err := p.coord.Run(ctx, p.phases, p.shared)

	p.bus.Close()
	if metricsDone != nil {
		<-metricsDone
	}
	if n := p.bus.Dropped(); n > 0 {
		p.logger.Warn("metrics missed events", "dropped", n)
	}

	if agg != nil {
		for id, content := range p.opts.Completed {
			if _, ok := agg.Documents[id]; !ok {
				agg.Documents[id] = content
			}
		}
	}

	if store := p.opts.Store; store != nil {
		state := p.coord.Status().State
		if ferr := store.FinishRun(context.WithoutCancel(ctx), p.runID, state, err); ferr != nil {
			p.logger.Warn("failed to record run state", "error", ferr)
		}
	}
	return agg, err
}

// Assessments reads the quality passes of documents from the store, or
// from the coordinator when the run is not persisted.
func (p *Pipeline) Assessments(ctx context.Context, ids []string) (map[string][]scheduler.Assessment, error) {
	out := make(map[string][]scheduler.Assessment, len(ids))

	if p.opts.Store == nil {
		results := p.coord.Status().Results
		for _, id := range ids {
			if r, ok := results[id]; ok && len(r.Assessments) > 0 {
				out[id] = r.Assessments
			}
		}
		return out, nil
	}

	docs, err := p.opts.Store.ListDocuments(ctx, p.runID)
	if err != nil {
		return nil, fmt.Errorf("assessments of run %s: %w", p.runID, err)
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	for _, d := range docs {
		if wanted[d.TaskID] && len(d.Assessments) > 0 {
			out[d.TaskID] = d.Assessments
		}
	}
	return out, nil
}

func (p *Pipeline) closeBackends() {
	for name, b := range p.backends {
		if err := b.Close(); err != nil {
			p.logger.Warn("failed to close backend", "provider", name, "error", err)
		}
	}
}
