// Package quality scores generated documents against per-kind rubrics.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/aristath/docflow/internal/scheduler"
)

// Weights sets how much each criterion contributes to the overall score.
// They are normalized, so only their ratios matter.
type Weights struct {
	Words       float64 `json:"words" yaml:"words"`
	Sections    float64 `json:"sections" yaml:"sections"`
	Readability float64 `json:"readability" yaml:"readability"`
}

// DefaultWeights favors structure over length and style.
var DefaultWeights = Weights{Words: 0.3, Sections: 0.5, Readability: 0.2}

// Report is the detailed breakdown behind a score.
type Report struct {
	Kind             string
	Words            int
	MinWords         int
	SectionsFound    int
	SectionsRequired int
	MissingSections  []string
	Readability      float64
	MinReadability   float64
	WordScore        float64
	SectionScore     float64
	ReadabilityScore float64
	Overall          float64
}

// Scorer implements scheduler.Scorer with rubric checks. It is safe for
// concurrent use.
type Scorer struct {
	rubrics map[string]*compiledRubric
	weights Weights
	logger  *slog.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithWeights overrides DefaultWeights. Non-positive totals are ignored.
func WithWeights(w Weights) Option {
	return func(s *Scorer) {
		if w.Words+w.Sections+w.Readability > 0 {
			s.weights = w
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) { s.logger = l }
}

// NewScorer compiles rubrics. Built-in rubrics are used for kinds rubrics
// does not mention, and DefaultKind is always present.
func NewScorer(rubrics map[string]Rubric, opts ...Option) (*Scorer, error) {
	merged := DefaultRubrics()
	for kind, r := range rubrics {
		merged[NormalizeKind(kind)] = r
	}

	s := &Scorer{
		rubrics: make(map[string]*compiledRubric, len(merged)),
		weights: DefaultWeights,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for kind, r := range merged {
		cr, err := compile(kind, r)
		if err != nil {
			return nil, err
		}
		s.rubrics[kind] = cr
	}
	return s, nil
}

// Rubric returns the rubric applied to kind and the key it was found under.
func (s *Scorer) Rubric(kind string) (Rubric, string) {
	cr, key := s.lookup(kind)
	return cr.Rubric, key
}

func (s *Scorer) lookup(kind string) (*compiledRubric, string) {
	k := NormalizeKind(kind)
	if cr, ok := s.rubrics[k]; ok {
		return cr, k
	}
	if alias, ok := aliases[k]; ok {
		if cr, ok := s.rubrics[alias]; ok {
			return cr, alias
		}
	}
	return s.rubrics[DefaultKind], DefaultKind
}

// Evaluate scores content against the rubric for kind.
func (s *Scorer) Evaluate(content, kind string) Report {
	cr, key := s.lookup(kind)

	rep := Report{
		Kind:             key,
		Words:            CountWords(content),
		MinWords:         cr.MinWords,
		SectionsRequired: len(cr.sections),
		Readability:      FleschReadingEase(content),
		MinReadability:   cr.MinReadability,
	}

	rep.WordScore = ratio(float64(rep.Words), float64(cr.MinWords))
	if rep.Words == 0 {
		rep.WordScore = 0
	}

	for i, re := range cr.sections {
		if re.MatchString(content) {
			rep.SectionsFound++
		} else {
			rep.MissingSections = append(rep.MissingSections, cr.RequiredSections[i])
		}
	}
	rep.SectionScore = ratio(float64(rep.SectionsFound), float64(rep.SectionsRequired))
	if content == "" {
		rep.SectionScore = 0
	}

	rep.ReadabilityScore = ratio(rep.Readability, cr.MinReadability)
	if rep.Words == 0 {
		rep.ReadabilityScore = 0
	}

	total := s.weights.Words + s.weights.Sections + s.weights.Readability
	overall := (s.weights.Words*rep.WordScore +
		s.weights.Sections*rep.SectionScore +
		s.weights.Readability*rep.ReadabilityScore) / total
	rep.Overall = math.Round(overall*10) / 10

	return rep
}

// Score implements scheduler.Scorer. Passed is left for the caller to decide
// against its own threshold.
func (s *Scorer) Score(ctx context.Context, content, kind string) (scheduler.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return scheduler.Assessment{}, err
	}

	rep := s.Evaluate(content, kind)
	s.logger.Debug("document scored", "kind", rep.Kind, "score", rep.Overall,
		"words", rep.Words, "sections", rep.SectionsFound, "readability", rep.Readability)

	return scheduler.Assessment{
		Score:    rep.Overall,
		Feedback: rep.Feedback(),
	}, nil
}

// Feedback turns the report into improvement guidance.
func (r Report) Feedback() scheduler.Feedback {
	var issues []string
	if r.Words < r.MinWords {
		issues = append(issues, fmt.Sprintf("document has %d words, expected at least %d", r.Words, r.MinWords))
	}
	missing := append([]string(nil), r.MissingSections...)
	sort.Strings(missing)
	for _, m := range missing {
		issues = append(issues, fmt.Sprintf("missing section matching %s", m))
	}
	if r.Readability < r.MinReadability {
		issues = append(issues, fmt.Sprintf("readability %.1f is below %.1f; use shorter sentences and simpler words", r.Readability, r.MinReadability))
	}

	summary := fmt.Sprintf("%s scored %.1f/100", r.Kind, r.Overall)
	if len(issues) == 0 {
		summary += " with no outstanding issues"
	}

	return scheduler.Feedback{
		Summary: summary,
		Issues:  issues,
		Details: map[string]any{
			"words":             r.Words,
			"min_words":         r.MinWords,
			"sections_found":    r.SectionsFound,
			"sections_required": r.SectionsRequired,
			"readability":       r.Readability,
			"min_readability":   r.MinReadability,
			"word_score":        r.WordScore,
			"section_score":     r.SectionScore,
			"readability_score": r.ReadabilityScore,
		},
	}
}

// ratio returns got/want as a percentage capped at 100. A zero requirement
// is always met.
func ratio(got, want float64) float64 {
	if want <= 0 {
		return 100
	}
	return clamp(got/want*100, 0, 100)
}
