package quality

import (
	"fmt"
	"regexp"
	"strings"
)

// Rubric is the set of requirements a document kind is scored against.
type Rubric struct {
	MinWords         int      `json:"min_words" yaml:"min_words"`
	RequiredSections []string `json:"required_sections" yaml:"required_sections"` // Heading regexes, matched per line, case-insensitive
	MinReadability   float64  `json:"min_readability" yaml:"min_readability"`     // Flesch reading ease
}

// DefaultKind is the rubric key used for kinds without their own rubric.
const DefaultKind = "default"

// DefaultRubrics returns the built-in rubric for every document kind of the
// default catalog, plus the fallback under DefaultKind.
func DefaultRubrics() map[string]Rubric {
	return map[string]Rubric{
		DefaultKind: {
			MinWords:         500,
			RequiredSections: []string{`^#+\s+.*`},
			MinReadability:   50,
		},
		"requirements": {
			MinWords: 300,
			RequiredSections: []string{
				`^#+\s+Project\s+Overview`,
				`^#+\s+Core\s+Features`,
				`^#+\s+Technical\s+Requirements`,
				`^#+\s+User\s+Personas`,
				`^#+\s+Business\s+Objectives`,
				`^#+\s+Constraints`,
			},
			MinReadability: 50,
		},
		"project_charter": {
			MinWords: 500,
			RequiredSections: []string{
				`^#+\s+(Executive\s+)?Summary`,
				`^#+\s+Project\s+Overview`,
				`^#+\s+(Business\s+)?Objectives`,
				`^#+\s+Scope`,
				`^#+\s+Stakeholders`,
			},
			MinReadability: 50,
		},
		"user_stories": {
			MinWords: 400,
			RequiredSections: []string{
				`^#+\s+User\s+Stories`,
				`^#+\s+(Acceptance\s+)?Criteria`,
				`^#+\s+Epic`,
				`^#+\s+Feature`,
			},
			MinReadability: 50,
		},
		"technical_documentation": {
			MinWords: 1000,
			RequiredSections: []string{
				`^#+\s+System\s+Architecture`,
				`^#+\s+Technical\s+Stack`,
				`^#+\s+Database\s+Design`,
				`^#+\s+API\s+Design`,
				`^#+\s+Security`,
			},
			MinReadability: 45,
		},
		"database_schema": {
			MinWords: 600,
			RequiredSections: []string{
				`^#+\s+Database\s+Overview`,
				`^#+\s+(Schema|Table)`,
				`^#+\s+(Relationship|Entity)`,
				`^#+\s+Index`,
			},
			MinReadability: 45,
		},
		"api_documentation": {
			MinWords: 800,
			RequiredSections: []string{
				`^#+\s+API\s+Overview`,
				`^#+\s+Authentication`,
				`^#+\s+Endpoint`,
				`^#+\s+(Data\s+)?Model`,
				`^#+\s+Error`,
			},
			MinReadability: 50,
		},
		"setup_guide": {
			MinWords: 600,
			RequiredSections: []string{
				`^#+\s+Prerequisite`,
				`^#+\s+Installation`,
				`^#+\s+(Setup|Configuration)`,
				`^#+\s+(Running|Start)`,
				`^#+\s+Troubleshooting`,
			},
			MinReadability: 60,
		},
		"test_documentation": {
			MinWords: 600,
			RequiredSections: []string{
				`^#+\s+Test\s+(Strategy|Plan)`,
				`^#+\s+Test\s+Case`,
				`^#+\s+Test\s+Scenario`,
				`^#+\s+(Test\s+)?Environment`,
				`^#+\s+(Test\s+)?(Coverage|Result)`,
			},
			MinReadability: 50,
		},
		"developer_documentation": {
			MinWords: 800,
			RequiredSections: []string{
				`^#+\s+(Getting\s+)?Started`,
				`^#+\s+(Architecture|Structure)`,
				`^#+\s+(Development|Coding)`,
				`^#+\s+(Testing|Test)`,
				`^#+\s+(Deployment|Deploy)`,
			},
			MinReadability: 50,
		},
	}
}

// aliases maps short names to rubric keys.
var aliases = map[string]string{
	"charter":         "project_charter",
	"stories":         "user_stories",
	"technical":       "technical_documentation",
	"technical_spec":  "technical_documentation",
	"database":        "database_schema",
	"api":             "api_documentation",
	"setup":           "setup_guide",
	"test":            "test_documentation",
	"tests":           "test_documentation",
	"developer":       "developer_documentation",
	"developer_guide": "developer_documentation",
}

// NormalizeKind lowercases kind and folds spaces and dashes into underscores.
func NormalizeKind(kind string) string {
	k := strings.ToLower(strings.TrimSpace(kind))
	k = strings.NewReplacer("-", "_", " ", "_").Replace(k)
	return strings.TrimSuffix(k, ".md")
}

type compiledRubric struct {
	Rubric
	sections []*regexp.Regexp
}

func compile(kind string, r Rubric) (*compiledRubric, error) {
	if r.MinWords < 0 {
		return nil, fmt.Errorf("rubric %q: min_words must not be negative", kind)
	}
	if r.MinReadability < 0 || r.MinReadability > 100 {
		return nil, fmt.Errorf("rubric %q: min_readability %v outside [0,100]", kind, r.MinReadability)
	}

	cr := &compiledRubric{Rubric: r}
	for _, pattern := range r.RequiredSections {
		re, err := regexp.Compile("(?mi)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("rubric %q: section pattern %q: %w", kind, pattern, err)
		}
		cr.sections = append(cr.sections, re)
	}
	return cr, nil
}
