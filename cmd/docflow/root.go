package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/docflow/internal/backend"
	"github.com/aristath/docflow/internal/config"
)

// app carries the process environment into the commands so tests can
// substitute it.
type app struct {
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
	pm     *backend.ProcessManager

	configPath  string
	catalogPath string
	dbPath      string
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docflow",
		Short: "Generate a project's documentation set with language models",
		Long: `docflow turns a one-line project idea into a set of markdown documents:
requirements, charter, user stories, technical and API documentation and more.

Documents are generated phase by phase. Inside a phase every document starts
as soon as the documents it depends on are ready, and gated documents are
scored and revised until they reach their quality threshold.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "project config file (default .docflow/config.json)")
	flags.StringVar(&a.catalogPath, "catalog", "", "document catalog file replacing the configured catalog")
	flags.StringVar(&a.dbPath, "database", "", "SQLite database path (default from config)")

	root.AddCommand(a.generateCmd(), a.catalogCmd(), a.documentsCmd())
	return root
}

// loadConfig merges the global and project config, then environment
// overrides, then the persistent flags.
func (a *app) loadConfig() (*config.Config, error) {
	globalPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		globalPath = config.GlobalPath(home)
	}
	projectPath := a.configPath
	if projectPath == "" {
		projectPath = config.ProjectPath()
	}

	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, a.getenv); err != nil {
		return nil, err
	}

	if a.catalogPath != "" {
		catalog, err := config.LoadCatalog(a.catalogPath)
		if err != nil {
			return nil, fmt.Errorf("--catalog: %w", err)
		}
		cfg.Documents = catalog
	}
	if a.dbPath != "" {
		cfg.DatabasePath = a.dbPath
	}
	return cfg, nil
}
