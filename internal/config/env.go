package config

import (
	"fmt"
	"strings"
)

// Environment variables read by ApplyEnv.
const (
	EnvCatalog      = "DOCFLOW_CATALOG"
	EnvDefaultModel = "DOCFLOW_DEFAULT_MODEL"
	EnvPhaseModel   = "DOCFLOW_PHASE%d_MODEL"
	EnvDatabase     = "DOCFLOW_DATABASE"
	EnvOutputDir    = "DOCFLOW_OUTPUT_DIR"
	EnvLogLevel     = "DOCFLOW_LOG_LEVEL"
)

// ApplyEnv overlays environment overrides. getenv is usually os.Getenv.
// DOCFLOW_CATALOG replaces the whole catalog; per-phase model variables are
// read for every phase the resulting catalog uses.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if path := strings.TrimSpace(getenv(EnvCatalog)); path != "" {
		catalog, err := LoadCatalog(path)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCatalog, err)
		}
		cfg.Documents = catalog
	}

	if m := strings.TrimSpace(getenv(EnvDefaultModel)); m != "" {
		cfg.DefaultModel = m
	}

	for _, p := range cfg.Documents.Phases() {
		m := strings.TrimSpace(getenv(fmt.Sprintf(EnvPhaseModel, p.Number)))
		if m == "" {
			continue
		}
		if cfg.PhaseModels == nil {
			cfg.PhaseModels = make(map[int]string)
		}
		cfg.PhaseModels[p.Number] = m
	}

	if v := getenv(EnvDatabase); v != "" {
		cfg.DatabasePath = v
	}
	if v := getenv(EnvOutputDir); v != "" {
		cfg.OutputDir = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
