// Package suggest maps diagnosis text to candidate medicines. It is only
// consulted from the doctor workflow, never by queue ordering.
package suggest

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/medqueue/medqueue/internal/domain/prescription"
)

//go:embed treatments.yaml
var defaultTable []byte

// Suggestion is the suggester's answer. Confidence is in [0, 1] and is 0
// when nothing matched.
type Suggestion struct {
	Medicines  []prescription.Medicine `json:"medicines"`
	Confidence float64                 `json:"confidence"`
	Matched    []string                `json:"matched_keywords,omitempty"`
}

// Suggester is the narrow interface the engine depends on.
type Suggester interface {
	Suggest(diagnosis string) Suggestion
}

type entry struct {
	Keywords   []string                `yaml:"keywords"`
	Confidence float64                 `yaml:"confidence"`
	Medicines  []prescription.Medicine `yaml:"medicines"`
}

type table struct {
	Treatments []entry `yaml:"treatments"`
}

// KeywordSuggester matches keywords as substrings of the lowercased
// diagnosis.
type KeywordSuggester struct {
	entries []entry
}

// NewDefault loads the embedded table.
func NewDefault() (*KeywordSuggester, error) {
	return Parse(defaultTable)
}

// Load reads a table from path, or the embedded one when path is empty.
func Load(path string) (*KeywordSuggester, error) {
	if path == "" {
		return NewDefault()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read treatment table: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*KeywordSuggester, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse treatment table: %w", err)
	}
	for i, e := range t.Treatments {
		if len(e.Keywords) == 0 {
			return nil, fmt.Errorf("treatment %d has no keywords", i+1)
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return nil, fmt.Errorf("treatment %d confidence %.2f outside [0, 1]", i+1, e.Confidence)
		}
		for j := range e.Keywords {
			t.Treatments[i].Keywords[j] = strings.ToLower(strings.TrimSpace(e.Keywords[j]))
		}
	}
	return &KeywordSuggester{entries: t.Treatments}, nil
}

// Suggest merges the medicines of every matching entry, deduplicated by
// name, and reports the highest matching confidence.
func (s *KeywordSuggester) Suggest(diagnosis string) Suggestion {
	text := strings.ToLower(diagnosis)
	out := Suggestion{Medicines: []prescription.Medicine{}}
	seen := make(map[string]bool)

	for _, e := range s.entries {
		kw, ok := firstMatch(text, e.Keywords)
		if !ok {
			continue
		}
		out.Matched = append(out.Matched, kw)
		if e.Confidence > out.Confidence {
			out.Confidence = e.Confidence
		}
		for _, m := range e.Medicines {
			key := strings.ToLower(m.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			out.Medicines = append(out.Medicines, m)
		}
	}
	return out
}

func firstMatch(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}
