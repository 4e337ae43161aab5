package findings

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openctemio/qualitygate/pkg/domain/finding"
)

// Evaluation statuses that fail a check even without detailed results.
var failingEvaluations = map[string]bool{
	"RED":    true,
	"FAILED": true,
	"ERROR":  true,
}

type resultDocument struct {
	OverallStatus string                 `yaml:"overallStatus"`
	Chapters      map[string]chapterNode `yaml:"chapters"`
}

type chapterNode struct {
	Requirements map[string]requirementNode `yaml:"requirements"`
}

type requirementNode struct {
	Checks map[string]checkNode `yaml:"checks"`
}

type checkNode struct {
	Evaluation evaluationNode `yaml:"evaluation"`
}

type evaluationNode struct {
	Status  string       `yaml:"status"`
	Reason  string       `yaml:"reason"`
	Results []resultNode `yaml:"results"`
}

type resultNode struct {
	Criterion     string         `yaml:"criterion"`
	Fulfilled     bool           `yaml:"fulfilled"`
	Justification string         `yaml:"justification"`
	Metadata      map[string]any `yaml:"metadata"`
}

// ParseOutcomes extracts the non-passing outcomes of a result document in
// chapter, requirement, check order. Outcomes with the same hash collapse to
// the first one.
func ParseOutcomes(doc []byte) ([]finding.Outcome, error) {
	var parsed resultDocument
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("decode result document: %w", err)
	}

	var outcomes []finding.Outcome
	seen := make(map[string]bool)
	add := func(o finding.Outcome) {
		h := o.Hash()
		if seen[h] {
			return
		}
		seen[h] = true
		outcomes = append(outcomes, o)
	}

	for _, c := range slices.Sorted(maps.Keys(parsed.Chapters)) {
		chapter := parsed.Chapters[c]
		for _, r := range slices.Sorted(maps.Keys(chapter.Requirements)) {
			requirement := chapter.Requirements[r]
			for _, k := range slices.Sorted(maps.Keys(requirement.Checks)) {
				eval := requirement.Checks[k].Evaluation

				if len(eval.Results) == 0 {
					if failingEvaluations[strings.ToUpper(strings.TrimSpace(eval.Status))] {
						add(finding.Outcome{
							Chapter:       c,
							Requirement:   r,
							Check:         k,
							Justification: eval.Reason,
							Metadata:      map[string]any{},
						})
					}
					continue
				}

				for _, res := range eval.Results {
					if res.Fulfilled {
						continue
					}
					add(finding.Outcome{
						Chapter:       c,
						Requirement:   r,
						Check:         k,
						Criterion:     res.Criterion,
						Justification: res.Justification,
						Metadata:      normalizeMetadata(res.Metadata),
					})
				}
			}
		}
	}
	return outcomes, nil
}

// normalizeMetadata turns the YAML decoding of metadata into JSON-friendly
// values so it survives a JSONB round trip unchanged.
func normalizeMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeMetadata(t)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeValue(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	default:
		return v
	}
}
