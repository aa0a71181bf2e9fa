// Package fields defines the canonical disclosure fields a filing row
// can carry, along with the header aliases used to recognize them in
// uploaded spreadsheets.
package fields

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Well-known field keys referenced by the importer and resolver.
const (
	KeyEntityName    = "entity_name"
	KeyEntityType    = "entity_type"
	KeyAmount        = "amount"
	KeyDate          = "date"
	KeyEntityAddress = "entity_address"
	KeyEntityCity    = "entity_city"
	KeyEntityState   = "entity_state"
	KeyEntityZip     = "entity_zip"
	KeyOccupation    = "occupation"
	KeyEmployer      = "employer"
	KeyCommitteeID   = "committee_id"
	KeyIntermediary  = "intermediary"
	KeyCode          = "code"
	KeyMemo          = "memo"
)

// Value types a field can declare. The validator coerces cells
// accordingly; a cell that fails coercion counts as missing.
const (
	TypeString = "string"
	TypeAmount = "amount"
	TypeDate   = "date"
)

// Definition describes one canonical field of a disclosure row.
type Definition struct {
	// Key is the stable identifier rows are keyed by after mapping.
	Key string `yaml:"key" validate:"required"`
	// Label is the human-facing name used in validation errors.
	Label string `yaml:"label" validate:"required"`
	// Type is one of TypeString, TypeAmount, TypeDate. Empty means
	// TypeString.
	Type string `yaml:"type"`
	// Required marks fields a row cannot be imported without.
	Required bool `yaml:"required"`
	// Aliases are known source headers for this field, in normalized
	// form (lowercased, non-alphanumerics stripped).
	Aliases []string `yaml:"aliases"`
}

// Set is an ordered collection of field definitions. Order matters:
// the header mapper resolves ambiguous headers to the earliest field.
type Set struct {
	Fields []Definition `yaml:"fields"`

	byKey map[string]*Definition
}

//go:embed defaults.yaml
var defaultsYAML []byte

// Defaults returns the built-in disclosure field set.
func Defaults() (*Set, error) {
	return parse(defaultsYAML)
}

// Load reads a field set from a YAML file, for jurisdictions whose
// disclosure layout differs from the built-in defaults.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field definitions: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse field definitions: %w", err)
	}

	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("field definitions contain no fields")
	}

	s.byKey = make(map[string]*Definition, len(s.Fields))
	for i := range s.Fields {
		def := &s.Fields[i]
		if def.Key == "" {
			return nil, fmt.Errorf("field definition %d is missing a key", i)
		}
		if def.Label == "" {
			return nil, fmt.Errorf("field %q is missing a label", def.Key)
		}
		switch def.Type {
		case "":
			def.Type = TypeString
		case TypeString, TypeAmount, TypeDate:
		default:
			return nil, fmt.Errorf("field %q has unknown type %q", def.Key, def.Type)
		}
		if _, ok := s.byKey[def.Key]; ok {
			return nil, fmt.Errorf("duplicate field key %q", def.Key)
		}
		s.byKey[def.Key] = def
	}

	return &s, nil
}

// Get returns the definition for a key, or nil when unknown.
func (s *Set) Get(key string) *Definition {
	return s.byKey[key]
}

// Required returns the definitions marked required, in declared order.
func (s *Set) Required() []Definition {
	var out []Definition
	for _, def := range s.Fields {
		if def.Required {
			out = append(out, def)
		}
	}
	return out
}
