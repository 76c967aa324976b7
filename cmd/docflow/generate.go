package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aristath/docflow/internal/events"
	"github.com/aristath/docflow/internal/logging"
	"github.com/aristath/docflow/internal/metrics"
	"github.com/aristath/docflow/internal/orchestrator"
	"github.com/aristath/docflow/internal/persistence"
	"github.com/aristath/docflow/internal/scheduler"
	"github.com/aristath/docflow/internal/tui"
)

type generateFlags struct {
	docs        []string
	useTUI      bool
	logLevel    string
	logFormat   string
	logFile     string
	concurrency int
	resume      string
	output      string
}

func (a *app) generateCmd() *cobra.Command {
	var f generateFlags

	cmd := &cobra.Command{
		Use:   `generate "<idea>"`,
		Short: "Generate documents for a project idea",
		Long: `Generate the document catalog (or the documents named with --doc, plus
everything they depend on) for a project idea.

Examples:
  docflow generate "a recipe sharing app for families"
  docflow generate "a recipe sharing app" --doc api_documentation --tui
  docflow generate --resume 3f0c...   # continue a failed or aborted run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGenerate(cmd.Context(), f, args)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&f.docs, "doc", nil, "document to generate, repeatable (default all)")
	flags.BoolVar(&f.useTUI, "tui", false, "show progress in a terminal UI")
	flags.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&f.logFile, "log-file", "docflow.log", "log destination while the terminal UI is shown")
	flags.IntVar(&f.concurrency, "concurrency", 0, "workers per phase, overriding the configured values")
	flags.StringVar(&f.resume, "resume", "", "run ID to resume; documents it already produced are kept")
	flags.StringVar(&f.output, "output", "", `output directory ("-" disables markdown files)`)
	return cmd
}

func (a *app) runGenerate(ctx context.Context, f generateFlags, args []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	if f.concurrency > 0 {
		cfg.Scheduler.MaxConcurrency = f.concurrency
		cfg.Scheduler.PhaseConcurrency = nil
	}

	logOut := a.stderr
	if f.useTUI {
		file, err := os.OpenFile(f.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer file.Close()
		logOut = file
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, logOut)
	if err != nil {
		return err
	}
	ctx = logging.WithLogger(ctx, logger)

	store, err := persistence.NewSQLiteStore(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	idea := ""
	if len(args) == 1 {
		idea = args[0]
	}
	var completed map[string]string
	if f.resume != "" {
		var storedIdea string
		storedIdea, completed, err = loadCompleted(ctx, store, f.resume)
		if err != nil {
			return err
		}
		if idea == "" {
			idea = storedIdea
		}
	}
	if idea == "" {
		return errors.New(`a project idea is required: docflow generate "<idea>"`)
	}

	bus := events.NewEventBus()
	defer bus.Close()
	var printed <-chan struct{}
	if !f.useTUI {
		printed = bus.Attach(progressPrinter(a.stdout), 1024, events.TopicPhase, events.TopicTask)
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	p, err := orchestrator.NewPipeline(orchestrator.Options{
		Config:         cfg,
		Idea:           idea,
		Documents:      f.docs,
		RunID:          f.resume,
		Completed:      completed,
		Sink:           bus,
		Metrics:        recorder,
		Store:          store,
		OutputDir:      f.output,
		ProcessManager: a.pm,
		Getenv:         a.getenv,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Run %s: generating %s\n", p.RunID(), describePhases(p.Phases()))

	var agg *scheduler.AggregateResult
	if f.useTUI {
		agg, err = runWithTUI(ctx, p, bus, idea, a.stderr)
	} else {
		agg, err = p.Run(ctx)
	}

	bus.Close()
	if printed != nil {
		<-printed
	}

	printReport(a.stdout, p, agg, recorder)
	if err != nil {
		return fmt.Errorf("run %s: %w", p.RunID(), err)
	}
	if agg != nil && agg.Aborted {
		return fmt.Errorf("run %s aborted; continue it with --resume %s", p.RunID(), p.RunID())
	}
	return nil
}

// loadCompleted returns the idea of a stored run and the content of its
// succeeded documents.
func loadCompleted(ctx context.Context, store persistence.Store, runID string) (string, map[string]string, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return "", nil, fmt.Errorf("resume %s: %w", runID, err)
	}
	docs, err := store.ListDocuments(ctx, runID)
	if err != nil {
		return "", nil, fmt.Errorf("resume %s: %w", runID, err)
	}

	completed := make(map[string]string)
	for _, d := range docs {
		if d.Status == scheduler.TaskSucceeded {
			completed[d.TaskID] = d.Content
		}
	}
	return run.Idea, completed, nil
}

// runWithTUI runs the pipeline in the background while the terminal UI
// shows its events. Quitting the UI early aborts the run.
func runWithTUI(ctx context.Context, p *orchestrator.Pipeline, bus *events.EventBus, idea string, stderr io.Writer) (*scheduler.AggregateResult, error) {
	type outcome struct {
		agg *scheduler.AggregateResult
		err error
	}
	done := make(chan outcome, 1)

	// Subscribe before the run publishes anything.
	model := tui.New(bus, idea, p.Abort)
	go func() {
		agg, err := p.Run(ctx)
		done <- outcome{agg, err}
	}()

	prog := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := prog.Run(); err != nil {
		p.Abort()
		logging.FromContext(ctx).Error("terminal UI failed", "error", err)
	}

	select {
	case r := <-done:
		return r.agg, r.err
	default:
	}
	fmt.Fprintln(stderr, "Waiting for running documents to finish...")
	r := <-done
	return r.agg, r.err
}

func describePhases(phases []scheduler.Phase) string {
	total := 0
	for _, ph := range phases {
		total += len(ph.Tasks)
	}
	return fmt.Sprintf("%d documents in %d phases", total, len(phases))
}

// progressPrinter reports task and phase events as plain lines.
func progressPrinter(w io.Writer) events.Sink {
	return events.SinkFunc(func(e events.Event) {
		switch ev := e.(type) {
		case events.PhaseStartedEvent:
			fmt.Fprintf(w, "== %s: %d documents\n", ev.Phase, len(ev.TaskIDs))
		case events.TaskStartedEvent:
			fmt.Fprintf(w, "   %-26s started\n", ev.ID)
		case events.TaskScoredEvent:
			verdict := "below threshold"
			if ev.Passed {
				verdict = "passed"
			}
			fmt.Fprintf(w, "   %-26s scored %.1f/%.1f on attempt %d, %s\n", ev.ID, ev.Score, ev.Threshold, ev.Attempt, verdict)
		case events.TaskCompletedEvent:
			fmt.Fprintf(w, "   %-26s done in %s\n", ev.ID, ev.Duration.Round(time.Millisecond))
		case events.TaskFailedEvent:
			fmt.Fprintf(w, "   %-26s failed: %v\n", ev.ID, ev.Err)
		case events.PhaseCompletedEvent:
			fmt.Fprintf(w, "== %s finished: %d succeeded, %d failed\n", ev.Phase, ev.Succeeded, ev.Failed)
		}
	})
}

func printReport(w io.Writer, p *orchestrator.Pipeline, agg *scheduler.AggregateResult, recorder *metrics.Recorder) {
	status := p.Status()
	fmt.Fprintf(w, "\nRun %s %s\n", p.RunID(), status.State)

	if agg != nil && len(agg.Documents) > 0 {
		fmt.Fprintln(w, "Documents:")
		for _, ph := range agg.Phases {
			for _, id := range ph.Succeeded {
				path := p.OutputPath(id)
				if path == "" {
					path = "(not written)"
				} else if rel, err := filepath.Rel(".", path); err == nil {
					path = rel
				}
				fmt.Fprintf(w, "  %-26s %s\n", id, path)
			}
		}
	}

	summary, err := recorder.Summary()
	if err != nil {
		slog.Default().Warn("failed to summarize metrics", "error", err)
		return
	}
	fmt.Fprintln(w, "Metrics:")
	summary.Write(w)
}
