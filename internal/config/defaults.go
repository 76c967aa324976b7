package config

import "time"

// Default values applied when the config leaves them unset.
const (
	DefaultMaxConcurrency      = 4
	DefaultPhaseOneConcurrency = 4
	DefaultTaskTimeout         = 5 * time.Minute
	DefaultOutputDir           = "docs"
	DefaultDatabaseFile        = "docflow.db"
)

// inputsBlock renders upstream documents into a prompt.
const inputsBlock = `{{range $id, $doc := .Inputs}}
--- {{$id}} ---
{{$doc}}
{{end}}`

func threshold(v float64) *float64 { return &v }

// DefaultCatalog returns the built-in document catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		{
			ID:               "requirements",
			Name:             "Requirements",
			Phase:            1,
			QualityThreshold: threshold(80),
			Required:         true,
			Prompt: `Write a requirements document in markdown for this project idea:

{{.Idea}}

Include the sections Project Overview, Core Features, Technical Requirements, User Personas, Business Objectives and Constraints.`,
		},
		{
			ID:               "project_charter",
			Name:             "Project Charter",
			Phase:            1,
			DependsOn:        []string{"requirements"},
			QualityThreshold: threshold(75),
			Prompt: `Write a project charter in markdown for: {{.Idea}}

Base it on these documents:
` + inputsBlock + `
Include Executive Summary, Project Overview, Objectives, Scope and Stakeholders sections.`,
		},
		{
			ID:               "user_stories",
			Name:             "User Stories",
			Phase:            1,
			DependsOn:        []string{"requirements"},
			QualityThreshold: threshold(75),
			Prompt: `Write user stories in markdown for: {{.Idea}}

Base them on these documents:
` + inputsBlock + `
Group stories by Epic and give each Acceptance Criteria.`,
		},
		{
			ID:               "technical_documentation",
			Name:             "Technical Documentation",
			Phase:            1,
			DependsOn:        []string{"requirements"},
			QualityThreshold: threshold(70),
			Prompt: `Write technical documentation in markdown for: {{.Idea}}

Base it on these documents:
` + inputsBlock + `
Cover System Architecture, Technical Stack, Database Design, API Design and Security.`,
		},
		{
			ID:               "database_schema",
			Name:             "Database Schema",
			Phase:            1,
			DependsOn:        []string{"requirements", "technical_documentation"},
			QualityThreshold: threshold(70),
			Prompt: `Design the database schema in markdown for: {{.Idea}}

Base it on these documents:
` + inputsBlock + `
Cover Database Overview, Tables, Relationships and Indexes.`,
		},
		{
			ID:        "api_documentation",
			Name:      "API Documentation",
			Phase:     2,
			DependsOn: []string{"technical_documentation", "database_schema"},
			Prompt: `Write API documentation in markdown for: {{.Idea}}
` + inputsBlock,
		},
		{
			ID:        "setup_guide",
			Name:      "Setup Guide",
			Phase:     2,
			DependsOn: []string{"technical_documentation"},
			Prompt: `Write a setup guide in markdown for: {{.Idea}}
` + inputsBlock,
		},
		{
			ID:        "test_documentation",
			Name:      "Test Documentation",
			Phase:     2,
			DependsOn: []string{"requirements", "user_stories"},
			Prompt: `Write test documentation in markdown for: {{.Idea}}
` + inputsBlock,
		},
		{
			ID:        "developer_documentation",
			Name:      "Developer Documentation",
			Phase:     2,
			DependsOn: []string{"technical_documentation", "api_documentation"},
			Prompt: `Write developer documentation in markdown for: {{.Idea}}
` + inputsBlock,
		},
		{
			ID:            "quality_review",
			Name:          "Quality Review",
			Phase:         3,
			DependsOn:     generatedDocuments(),
			QualityReport: true,
			Prompt: `Write a quality review in markdown of the documentation set for: {{.Idea}}

Scores from the automated quality checks:
{{.Quality}}
Documents:
` + inputsBlock + `
Cover Summary, Strengths, Gaps and Inconsistencies, and Recommendations. Point out
contradictions between documents and anything a developer would still need.`,
		},
		{
			ID:        "assistant_context",
			Name:      "AI Assistant Context",
			Phase:     3,
			DependsOn: generatedDocuments(),
			Prompt: `Combine the documents below into one markdown context file that an AI coding
assistant reads before working on: {{.Idea}}

` + inputsBlock + `
Cover Project Overview, Architecture, Data Model, API, Development Workflow,
Testing and Conventions. Keep commands and names exactly as the documents give them.`,
		},
	}
}

// generatedDocuments lists the phase 1 and 2 documents the final phase reads.
func generatedDocuments() []string {
	return []string{
		"requirements",
		"project_charter",
		"user_stories",
		"technical_documentation",
		"database_schema",
		"api_documentation",
		"setup_guide",
		"test_documentation",
		"developer_documentation",
	}
}

// DefaultConfig returns the default configuration with built-in providers and catalog.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"ollama": {
				Type:    ProviderOllama,
				BaseURL: "http://localhost:11434",
				Model:   "llama3.1",
				Timeout: D(10 * time.Minute),
			},
			"gemini": {
				Type:      ProviderGemini,
				BaseURL:   "https://generativelanguage.googleapis.com/v1beta",
				Model:     "gemini-2.5-pro",
				APIKeyEnv: "GEMINI_API_KEY",
				Timeout:   D(5 * time.Minute),
			},
			"claude": {
				Type:    ProviderCLI,
				Command: "claude",
				Args:    []string{"-p", "{prompt}", "--output-format", "json"},
				Output:  "json",
			},
		},
		DefaultProvider: "ollama",
		Documents:       DefaultCatalog(),
		Scheduler: SchedulerConfig{
			MaxConcurrency:   DefaultMaxConcurrency,
			PhaseConcurrency: map[int]int{1: DefaultPhaseOneConcurrency},
			TaskTimeout:      D(DefaultTaskTimeout),
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: D(2 * time.Second),
				MaxInterval:     D(30 * time.Second),
			},
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     D(time.Minute),
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		DatabasePath: DefaultDatabaseFile,
		OutputDir:    DefaultOutputDir,
	}
}
