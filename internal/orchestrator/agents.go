package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/docflow/internal/backend"
	"github.com/aristath/docflow/internal/config"
	"github.com/aristath/docflow/internal/scheduler"
)

const systemPrompt = "You are a senior technical writer. Answer with the complete markdown document only, without preamble or closing remarks."

// CallObserver is told about every backend call. metrics.Recorder satisfies it.
type CallObserver interface {
	ObserveBackendCall(provider string, elapsed time.Duration, err error)
}

// Agent sends prompts for one document to its provider with retry and
// circuit breaking.
type Agent struct {
	provider string
	model    string
	backend  backend.Backend
	breaker  *gobreaker.CircuitBreaker
	retry    RetryPolicy
	observer CallObserver
	logger   *slog.Logger
}

// Ask sends prompt and returns the trimmed answer.
func (a *Agent) Ask(ctx context.Context, prompt string) (string, error) {
	var observe func(time.Duration, error)
	if a.observer != nil {
		observe = func(d time.Duration, err error) {
			a.observer.ObserveBackendCall(a.provider, d, err)
		}
	}

	msg := backend.Message{Content: prompt, System: systemPrompt, Model: a.model}
	resp, err := sendWithRetry(ctx, a.backend, msg, a.breaker, a.retry, observe)
	if err != nil {
		return "", fmt.Errorf("provider %s: %w", a.provider, err)
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("provider %s returned an empty document", a.provider)
	}
	return content, nil
}

// PromptData is the data a document prompt template is executed with.
type PromptData struct {
	Idea   string
	Name   string
	Kind   string
	Inputs map[string]string // Upstream document ID -> content

	// Set only for documents with QualityReport.
	Quality     string
	Assessments map[string][]scheduler.Assessment
}

// Generator produces the first draft of one document. It implements
// scheduler.Capability.
type Generator struct {
	doc         config.DocumentConfig
	idea        string
	tmpl        *template.Template
	agent       *Agent
	assessments AssessmentSource
}

// NewGenerator parses the document's prompt template.
func NewGenerator(doc config.DocumentConfig, idea string, agent *Agent) (*Generator, error) {
	tmpl, err := template.New(doc.ID).Option("missingkey=zero").Parse(doc.Prompt)
	if err != nil {
		return nil, fmt.Errorf("document %s: invalid prompt template: %w", doc.ID, err)
	}
	return &Generator{doc: doc, idea: idea, tmpl: tmpl, agent: agent}, nil
}

// WithAssessments sets where quality report documents read the
// assessments of their dependencies.
func (g *Generator) WithAssessments(src AssessmentSource) *Generator {
	g.assessments = src
	return g
}

// Prompt renders the prompt for inputs.
func (g *Generator) Prompt(inputs map[string]string) (string, error) {
	return g.render(g.data(inputs))
}

func (g *Generator) data(inputs map[string]string) PromptData {
	return PromptData{
		Idea:   g.idea,
		Name:   g.doc.DisplayName(),
		Kind:   g.doc.KindOrID(),
		Inputs: inputs,
	}
}

func (g *Generator) render(data PromptData) (string, error) {
	var b strings.Builder
	if err := g.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("document %s: render prompt: %w", g.doc.ID, err)
	}
	return b.String(), nil
}

// Produce renders the prompt and asks the document's provider for a draft.
func (g *Generator) Produce(ctx context.Context, inputs map[string]string) (string, error) {
	data := g.data(inputs)
	if g.doc.QualityReport && g.assessments != nil {
		found, err := g.assessments.Assessments(ctx, g.doc.DependsOn)
		if err != nil {
			// Render without scores.
			g.agent.logger.Warn("failed to load quality assessments", "document", g.doc.ID, "error", err)
		}
		data.Assessments = found
		data.Quality = QualityTable(g.doc.DependsOn, inputs, found)
	}

	prompt, err := g.render(data)
	if err != nil {
		return "", err
	}

	missing := missingInputs(g.doc.DependsOn, inputs)
	if len(missing) > 0 {
		g.agent.logger.Info("generating without optional inputs", "document", g.doc.ID, "missing", missing)
	}
	return g.agent.Ask(ctx, prompt)
}

func missingInputs(deps []string, inputs map[string]string) []string {
	var missing []string
	for _, id := range deps {
		if _, ok := inputs[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// Improver rewrites drafts from quality feedback, using the agent that
// produced documents of the same kind. It implements scheduler.Improver.
type Improver struct {
	agents   map[string]*Agent // Kind -> agent
	fallback *Agent
}

// NewImprover creates an improver. fallback serves kinds without an agent.
func NewImprover(agents map[string]*Agent, fallback *Agent) *Improver {
	return &Improver{agents: agents, fallback: fallback}
}

// Improve asks for a revision addressing every issue in the assessment.
func (i *Improver) Improve(ctx context.Context, kind, content string, assessment scheduler.Assessment) (string, error) {
	agent, ok := i.agents[kind]
	if !ok {
		agent = i.fallback
	}
	if agent == nil {
		return "", fmt.Errorf("no provider available to improve %s", kind)
	}
	return agent.Ask(ctx, improvementPrompt(kind, content, assessment))
}

func improvementPrompt(kind, content string, a scheduler.Assessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following %s document scored %.1f out of 100; it needs at least %.1f.\n",
		strings.ReplaceAll(kind, "_", " "), a.Score, a.Threshold)
	if a.Feedback.Summary != "" {
		fmt.Fprintf(&b, "Assessment: %s\n", a.Feedback.Summary)
	}
	if len(a.Feedback.Issues) > 0 {
		b.WriteString("\nFix these issues:\n")
		for _, issue := range a.Feedback.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	b.WriteString("\nRevise the document. Keep everything that is already correct and return the full improved document.\n\n")
	b.WriteString("--- document ---\n")
	b.WriteString(content)
	b.WriteString("\n")
	return b.String()
}
