package config

import (
	"github.com/aristath/docflow/internal/quality"
)

// Provider types understood by backend.New.
const (
	ProviderCLI    = "cli"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// ProviderConfig defines how to reach one model backend.
// Documents pick a provider by key; several documents can share one.
type ProviderConfig struct {
	Type      string   `json:"type" yaml:"type"`                                   // "cli", "ollama" or "gemini"
	Command   string   `json:"command,omitempty" yaml:"command,omitempty"`         // CLI binary (cli only)
	Args      []string `json:"args,omitempty" yaml:"args,omitempty"`               // CLI args; "{prompt}" is replaced with the prompt
	Output    string   `json:"output,omitempty" yaml:"output,omitempty"`           // CLI output format: "text" or "json"
	BaseURL   string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`       // HTTP endpoint (ollama, gemini)
	Model     string   `json:"model,omitempty" yaml:"model,omitempty"`             // Default model
	APIKeyEnv string   `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"` // Env var holding the API key
	Timeout   Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`         // Per-request timeout
}

// DocumentConfig is one entry of the document catalog.
type DocumentConfig struct {
	ID               string   `json:"id" yaml:"id"`
	Name             string   `json:"name,omitempty" yaml:"name,omitempty"`
	Kind             string   `json:"kind,omitempty" yaml:"kind,omitempty"` // Rubric key; defaults to ID
	Phase            int      `json:"phase" yaml:"phase"`
	DependsOn        []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	QualityThreshold *float64 `json:"quality_threshold,omitempty" yaml:"quality_threshold,omitempty"`
	Required         bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Provider         string   `json:"provider,omitempty" yaml:"provider,omitempty"` // Defaults to Config.DefaultProvider
	Prompt           string   `json:"prompt" yaml:"prompt"`                         // text/template over .Idea and .Inputs

	// QualityReport makes the quality assessments of the document's
	// dependencies available to its prompt as .Quality and .Assessments.
	QualityReport bool `json:"quality_report,omitempty" yaml:"quality_report,omitempty"`
}

// KindOrID returns the rubric key of the document.
func (d DocumentConfig) KindOrID() string {
	if d.Kind != "" {
		return d.Kind
	}
	return d.ID
}

// DisplayName returns Name, or ID when Name is empty.
func (d DocumentConfig) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// RetryConfig bounds retries of a single backend call.
type RetryConfig struct {
	MaxAttempts     int      `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	InitialInterval Duration `json:"initial_interval,omitempty" yaml:"initial_interval,omitempty"`
	MaxInterval     Duration `json:"max_interval,omitempty" yaml:"max_interval,omitempty"`
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32   `json:"max_failures,omitempty" yaml:"max_failures,omitempty"`
	Timeout     Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"` // Open -> half-open delay
}

// SchedulerConfig controls task execution.
type SchedulerConfig struct {
	MaxConcurrency   int           `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	PhaseConcurrency map[int]int   `json:"phase_concurrency,omitempty" yaml:"phase_concurrency,omitempty"` // Phase number -> worker count
	TaskTimeout      Duration      `json:"task_timeout,omitempty" yaml:"task_timeout,omitempty"`
	Retry            RetryConfig   `json:"retry" yaml:"retry"`
	Breaker          BreakerConfig `json:"breaker" yaml:"breaker"`
}

// ConcurrencyFor returns the worker count of a phase.
func (s SchedulerConfig) ConcurrencyFor(phase int) int {
	if n, ok := s.PhaseConcurrency[phase]; ok && n > 0 {
		return n
	}
	return s.MaxConcurrency
}

// QualityConfig tunes the rubric scorer.
type QualityConfig struct {
	Rubrics map[string]quality.Rubric `json:"rubrics,omitempty" yaml:"rubrics,omitempty"`
	Weights *quality.Weights          `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// LoggingConfig selects the log level and handler.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // text or json
}

// Config is the top-level configuration.
type Config struct {
	Providers       map[string]ProviderConfig `json:"providers" yaml:"providers"`
	DefaultProvider string                    `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
	DefaultModel    string                    `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	PhaseModels     map[int]string            `json:"phase_models,omitempty" yaml:"phase_models,omitempty"` // Phase number -> model override
	Documents       Catalog                   `json:"documents" yaml:"documents"`
	Scheduler       SchedulerConfig           `json:"scheduler" yaml:"scheduler"`
	Quality         QualityConfig             `json:"quality" yaml:"quality"`
	Logging         LoggingConfig             `json:"logging" yaml:"logging"`
	DatabasePath    string                    `json:"database_path,omitempty" yaml:"database_path,omitempty"`
	OutputDir       string                    `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
}

// ProviderFor returns the provider key and settings for a document.
func (c *Config) ProviderFor(doc DocumentConfig) (string, ProviderConfig, bool) {
	name := doc.Provider
	if name == "" {
		name = c.DefaultProvider
	}
	p, ok := c.Providers[name]
	return name, p, ok
}

// ModelFor returns the model a document is generated with: a phase override
// wins over the global default, which wins over the provider's own model.
func (c *Config) ModelFor(doc DocumentConfig) string {
	if m := c.PhaseModels[doc.Phase]; m != "" {
		return m
	}
	if c.DefaultModel != "" {
		return c.DefaultModel
	}
	_, p, _ := c.ProviderFor(doc)
	return p.Model
}
