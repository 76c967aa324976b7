package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/docflow/internal/config"
)

func (a *app) catalogCmd() *cobra.Command {
	var (
		docs     []string
		validate bool
	)

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the document catalog grouped by phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if validate {
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid configuration:\n%w", err)
				}
			}

			resolved, err := cfg.Documents.Resolve(docs)
			if err != nil {
				return err
			}
			if err := writeCatalog(cmd, cfg, resolved); err != nil {
				return err
			}
			if validate {
				fmt.Fprintf(cmd.OutOrStdout(), "\nconfiguration valid: %d documents, %d providers\n",
					len(cfg.Documents), len(cfg.Providers))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&docs, "doc", nil, "only these documents and their dependencies")
	cmd.Flags().BoolVar(&validate, "validate", false, "validate providers, thresholds, prompts and dependencies")
	return cmd
}

func writeCatalog(cmd *cobra.Command, cfg *config.Config, catalog config.Catalog) error {
	out := cmd.OutOrStdout()
	for i, phase := range catalog.Phases() {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "Phase %d (%d workers)\n", phase.Number, cfg.Scheduler.ConcurrencyFor(phase.Number))

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tPROVIDER\tMODEL\tTHRESHOLD\tREQUIRED\tDEPENDS ON")
		for _, doc := range phase.Documents {
			provider, _, _ := cfg.ProviderFor(doc)
			threshold := "-"
			if doc.QualityThreshold != nil {
				threshold = fmt.Sprintf("%.0f", *doc.QualityThreshold)
			}
			required := ""
			if doc.Required {
				required = "yes"
			}
			deps := strings.Join(doc.DependsOn, ", ")
			if deps == "" {
				deps = "-"
			}
			model := cfg.ModelFor(doc)
			if model == "" {
				model = "-"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n", doc.ID, provider, model, threshold, required, deps)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
