// Package mapping resolves raw spreadsheet headers to canonical field
// keys. The mapper only suggests; callers may hand-edit the result
// before validation runs.
package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/civiclens/clover/pkg/fields"
	"github.com/civiclens/clover/pkg/normalizers"
)

// Mapping is the resolved assignment of canonical field key to raw
// source header. Unmapped fields are absent.
type Mapping map[string]string

// Ambiguity records a field whose alias matched more than one header.
// Informational only: the first match was chosen, the rest are listed
// for the operator deciding whether to override.
type Ambiguity struct {
	Key          string   `json:"key"`
	Chosen       string   `json:"chosen"`
	Alternatives []string `json:"alternatives"`
}

// Suggestion is the mapper's automatic output.
type Suggestion struct {
	Mapping     Mapping     `json:"mapping"`
	Unmapped    []string    `json:"unmapped,omitempty"`
	Ambiguities []Ambiguity `json:"ambiguities,omitempty"`
}

// Mapper matches headers against a field definition set.
type Mapper struct {
	fields       *fields.Set
	strictPrefix bool
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithStrictPrefix makes alias matching require the normalized header
// to start with the alias rather than merely contain it.
func WithStrictPrefix() Option {
	return func(m *Mapper) { m.strictPrefix = true }
}

func NewMapper(set *fields.Set, opts ...Option) *Mapper {
	m := &Mapper{fields: set}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Suggest maps the given headers. The result is deterministic for
// identical input: fields are tried in declaration order, exact key
// matches before alias matches, and a header claimed by one field is
// never reassigned to a later one.
func (m *Mapper) Suggest(headers []string) *Suggestion {
	result := &Suggestion{Mapping: make(Mapping, len(m.fields.Fields))}
	claimed := make(map[string]bool, len(headers))

	// Exact key matches claim their headers before any alias runs, so
	// an alias like "amt" cannot steal a header literally named for a
	// later field.
	for _, def := range m.fields.Fields {
		for _, header := range headers {
			if claimed[header] {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(header), def.Key) {
				result.Mapping[def.Key] = header
				claimed[header] = true
				break
			}
		}
	}

	for _, def := range m.fields.Fields {
		if _, ok := result.Mapping[def.Key]; ok {
			continue
		}

		var matches []string
		for _, alias := range def.Aliases {
			for _, header := range headers {
				if claimed[header] || containsString(matches, header) {
					continue
				}
				if m.aliasMatches(normalizers.NormalizeHeader(header), alias) {
					matches = append(matches, header)
				}
			}
			// Aliases are ordered most-specific first; once one hits,
			// later aliases must not widen the candidate set.
			if len(matches) > 0 {
				break
			}
		}

		if len(matches) == 0 {
			result.Unmapped = append(result.Unmapped, def.Key)
			continue
		}

		result.Mapping[def.Key] = matches[0]
		claimed[matches[0]] = true
		if len(matches) > 1 {
			result.Ambiguities = append(result.Ambiguities, Ambiguity{
				Key:          def.Key,
				Chosen:       matches[0],
				Alternatives: matches[1:],
			})
		}
	}

	return result
}

// aliasMatches compares both sides in normalized form, so aliases in
// an operator-supplied fields file may carry spaces and casing.
func (m *Mapper) aliasMatches(normalizedHeader, alias string) bool {
	alias = normalizers.NormalizeHeader(alias)
	if normalizedHeader == "" || alias == "" {
		return false
	}
	if m.strictPrefix {
		return strings.HasPrefix(normalizedHeader, alias)
	}
	return strings.Contains(normalizedHeader, alias)
}

// Validate checks a mapping, typically one hand-edited by an operator,
// against the headers actually present in the source.
func (m *Mapper) Validate(mapping Mapping, headers []string) error {
	available := make(map[string]bool, len(headers))
	for _, h := range headers {
		available[h] = true
	}

	used := make(map[string]string, len(mapping))
	var problems []string
	for _, key := range sortedKeys(mapping) {
		header := mapping[key]
		if m.fields.Get(key) == nil {
			problems = append(problems, fmt.Sprintf("unknown field %q", key))
			continue
		}
		if !available[header] {
			problems = append(problems, fmt.Sprintf("field %q maps to missing header %q", key, header))
			continue
		}
		if prev, ok := used[header]; ok {
			problems = append(problems, fmt.Sprintf("header %q mapped to both %q and %q", header, prev, key))
			continue
		}
		used[header] = key
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid mapping: %s", strings.Join(problems, "; "))
	}
	return nil
}

func sortedKeys(m Mapping) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
