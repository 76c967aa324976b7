package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/gammazero/toposort"
)

// Catalog is the ordered list of documents a run can produce.
type Catalog []DocumentConfig

// Get returns the document with the given ID.
func (c Catalog) Get(id string) (DocumentConfig, bool) {
	for _, d := range c {
		if d.ID == id {
			return d, true
		}
	}
	return DocumentConfig{}, false
}

// IDs returns every document ID in catalog order.
func (c Catalog) IDs() []string {
	ids := make([]string, len(c))
	for i, d := range c {
		ids[i] = d.ID
	}
	return ids
}

// Validate checks the catalog on its own and against the configured providers.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	for name, p := range c.Providers {
		switch p.Type {
		case ProviderCLI:
			if p.Command == "" {
				errs = append(errs, fmt.Errorf("provider %q: command is required", name))
			}
		case ProviderOllama, ProviderGemini:
			if p.BaseURL == "" {
				errs = append(errs, fmt.Errorf("provider %q: base_url is required", name))
			}
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown type %q", name, p.Type))
		}
	}

	for _, d := range c.Documents {
		if name, _, ok := c.ProviderFor(d); !ok {
			errs = append(errs, fmt.Errorf("document %q: unknown provider %q", d.ID, name))
		}
	}

	if c.Scheduler.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("scheduler: max_concurrency must not be negative"))
	}

	if err := c.Documents.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks IDs, phases, thresholds, prompts and dependencies.
func (c Catalog) Validate() error {
	var errs []error
	byID := make(map[string]DocumentConfig, len(c))

	for i, d := range c {
		if d.ID == "" {
			errs = append(errs, fmt.Errorf("document at position %d has no id", i))
			continue
		}
		if _, dup := byID[d.ID]; dup {
			errs = append(errs, fmt.Errorf("document %q defined more than once", d.ID))
			continue
		}
		byID[d.ID] = d

		if d.Phase < 1 {
			errs = append(errs, fmt.Errorf("document %q: phase must be at least 1, got %d", d.ID, d.Phase))
		}
		if t := d.QualityThreshold; t != nil && (*t < 0 || *t > 100) {
			errs = append(errs, fmt.Errorf("document %q: quality_threshold %v outside [0,100]", d.ID, *t))
		}
		if strings.TrimSpace(d.Prompt) == "" {
			errs = append(errs, fmt.Errorf("document %q: prompt is empty", d.ID))
		} else if _, err := template.New(d.ID).Parse(d.Prompt); err != nil {
			errs = append(errs, fmt.Errorf("document %q: prompt: %w", d.ID, err))
		}
	}

	for _, d := range c {
		for _, dep := range d.DependsOn {
			upstream, ok := byID[dep]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("document %q depends on unknown document %q", d.ID, dep))
			case upstream.Phase > d.Phase:
				errs = append(errs, fmt.Errorf("document %q (phase %d) depends on %q from later phase %d",
					d.ID, d.Phase, dep, upstream.Phase))
			}
		}
	}

	if len(errs) == 0 {
		if err := c.checkAcyclic(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c Catalog) checkAcyclic() error {
	var edges []toposort.Edge
	for _, d := range c {
		if len(d.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, d.ID})
			continue
		}
		for _, dep := range d.DependsOn {
			edges = append(edges, toposort.Edge{dep, d.ID})
		}
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("document dependencies: %w", err)
	}
	return nil
}

// Resolve returns the selected documents plus everything they depend on,
// transitively, with every document after its dependencies. An empty
// selection returns the whole catalog.
func (c Catalog) Resolve(selected []string) (Catalog, error) {
	if len(selected) == 0 {
		selected = c.IDs()
	}

	byID := make(map[string]DocumentConfig, len(c))
	position := make(map[string]int, len(c))
	for i, d := range c {
		byID[d.ID] = d
		position[d.ID] = i
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(c))
	var out Catalog

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		d, ok := byID[id]
		if !ok {
			if len(path) == 0 {
				return fmt.Errorf("unknown document %q", id)
			}
			return fmt.Errorf("document %q depends on unknown document %q", path[len(path)-1], id)
		}
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle: %s -> %s", strings.Join(path, " -> "), id)
		}

		state[id] = visiting
		deps := append([]string(nil), d.DependsOn...)
		sort.SliceStable(deps, func(i, j int) bool { return position[deps[i]] < position[deps[j]] })
		for _, dep := range deps {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = done
		out = append(out, d)
		return nil
	}

	for _, id := range selected {
		if err := visit(id, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Phases groups documents by phase number, ascending. Within a phase the
// catalog order is kept.
func (c Catalog) Phases() []PhaseDocuments {
	byPhase := make(map[int]Catalog)
	for _, d := range c {
		byPhase[d.Phase] = append(byPhase[d.Phase], d)
	}

	numbers := make([]int, 0, len(byPhase))
	for n := range byPhase {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	out := make([]PhaseDocuments, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, PhaseDocuments{Number: n, Documents: byPhase[n]})
	}
	return out
}

// PhaseDocuments is the slice of a catalog that runs in one phase.
type PhaseDocuments struct {
	Number    int
	Documents Catalog
}
