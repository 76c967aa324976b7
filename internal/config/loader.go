package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aristath/docflow/internal/quality"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed files return an error. Files ending
// in .yaml or .yml are parsed as YAML, everything else as JSON.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths and applies
// environment overrides.
// Global: ~/.docflow/config.json
// Project: .docflow/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	cfg, err := Load(GlobalPath(homeDir), ProjectPath())
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath returns the global config location under homeDir.
func GlobalPath(homeDir string) string {
	return filepath.Join(homeDir, ".docflow", "config.json")
}

// ProjectPath returns the project config location relative to the working directory.
func ProjectPath() string {
	return filepath.Join(".docflow", "config.json")
}

// decodeFile parses path into v, picking the format from the extension.
func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if isYAML(path) {
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// mergeConfigFile reads a config file and merges it into the base config.
// Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	var loaded Config
	if err := decodeFile(path, &loaded); err != nil {
		return err
	}

	merge(base, &loaded)
	return nil
}

// merge overlays the non-zero fields of loaded onto base. Providers and
// rubrics merge by key; documents merge by ID, new ones are appended.
func merge(base, loaded *Config) {
	for key, provider := range loaded.Providers {
		base.Providers[key] = provider
	}
	if loaded.DefaultProvider != "" {
		base.DefaultProvider = loaded.DefaultProvider
	}
	if loaded.DefaultModel != "" {
		base.DefaultModel = loaded.DefaultModel
	}
	for phase, model := range loaded.PhaseModels {
		if base.PhaseModels == nil {
			base.PhaseModels = make(map[int]string)
		}
		base.PhaseModels[phase] = model
	}

	for _, doc := range loaded.Documents {
		replaced := false
		for i := range base.Documents {
			if base.Documents[i].ID == doc.ID {
				base.Documents[i] = doc
				replaced = true
				break
			}
		}
		if !replaced {
			base.Documents = append(base.Documents, doc)
		}
	}

	s, ls := &base.Scheduler, loaded.Scheduler
	if ls.MaxConcurrency != 0 {
		s.MaxConcurrency = ls.MaxConcurrency
	}
	for phase, n := range ls.PhaseConcurrency {
		if s.PhaseConcurrency == nil {
			s.PhaseConcurrency = make(map[int]int)
		}
		s.PhaseConcurrency[phase] = n
	}
	if ls.TaskTimeout.Duration != 0 {
		s.TaskTimeout = ls.TaskTimeout
	}
	if ls.Retry.MaxAttempts != 0 {
		s.Retry.MaxAttempts = ls.Retry.MaxAttempts
	}
	if ls.Retry.InitialInterval.Duration != 0 {
		s.Retry.InitialInterval = ls.Retry.InitialInterval
	}
	if ls.Retry.MaxInterval.Duration != 0 {
		s.Retry.MaxInterval = ls.Retry.MaxInterval
	}
	if ls.Breaker.MaxFailures != 0 {
		s.Breaker.MaxFailures = ls.Breaker.MaxFailures
	}
	if ls.Breaker.Timeout.Duration != 0 {
		s.Breaker.Timeout = ls.Breaker.Timeout
	}

	for kind, r := range loaded.Quality.Rubrics {
		if base.Quality.Rubrics == nil {
			base.Quality.Rubrics = make(map[string]quality.Rubric)
		}
		base.Quality.Rubrics[kind] = r
	}
	if loaded.Quality.Weights != nil {
		base.Quality.Weights = loaded.Quality.Weights
	}

	if loaded.Logging.Level != "" {
		base.Logging.Level = loaded.Logging.Level
	}
	if loaded.Logging.Format != "" {
		base.Logging.Format = loaded.Logging.Format
	}
	if loaded.DatabasePath != "" {
		base.DatabasePath = loaded.DatabasePath
	}
	if loaded.OutputDir != "" {
		base.OutputDir = loaded.OutputDir
	}
}

// LoadCatalog reads a standalone catalog file. It accepts either a bare
// list of documents or an object with a "documents" key.
func LoadCatalog(path string) (Catalog, error) {
	var wrapped struct {
		Documents Catalog `json:"documents" yaml:"documents"`
	}
	if err := decodeFile(path, &wrapped); err == nil && len(wrapped.Documents) > 0 {
		return wrapped.Documents, nil
	}

	var bare Catalog
	if err := decodeFile(path, &bare); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return bare, nil
}
