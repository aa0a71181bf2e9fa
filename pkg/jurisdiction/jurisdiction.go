// Package jurisdiction guesses a city or county label from a filer's
// free-text name. The guess is advisory metadata: leaving it unset is
// always safe, and a hand-entered jurisdiction is never overwritten.
package jurisdiction

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Rule maps a substring token to a jurisdiction label. Tokens are
// matched case-insensitively against the whole name.
type Rule struct {
	Token string `yaml:"token" validate:"required"`
	Label string `yaml:"label" validate:"required"`
}

// cityCouncilPattern extracts a city from committee names of the form
// "Friends of Jane Doe for Mayberry City Council".
var cityCouncilPattern = regexp.MustCompile(`(?i)\bfor\s+([a-z][a-z .'-]*?)\s+city\s+council\b`)

//go:embed defaults.yaml
var defaultsYAML []byte

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Classifier evaluates an ordered rule list, first match wins, then
// falls back to the city-council pattern.
type Classifier struct {
	rules  []Rule
	titler cases.Caser
}

// NewClassifier builds a classifier over an ordered rule list. Rules
// earlier in the list shadow later ones, so specific tokens must come
// before the generic ones that contain them.
func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: rules, titler: cases.Title(language.AmericanEnglish)}
}

// Default returns a classifier loaded with the built-in rule table.
func Default() (*Classifier, error) {
	var f ruleFile
	if err := yaml.Unmarshal(defaultsYAML, &f); err != nil {
		return nil, fmt.Errorf("failed to parse built-in jurisdiction rules: %w", err)
	}
	return NewClassifier(f.Rules), nil
}

// Load builds a classifier from a YAML rule file, for deployments
// covering a different set of jurisdictions than the defaults.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jurisdiction rules: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse jurisdiction rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("jurisdiction rule file contains no rules")
	}
	for i, r := range f.Rules {
		if r.Token == "" || r.Label == "" {
			return nil, fmt.Errorf("jurisdiction rule %d is missing a token or label", i)
		}
	}

	return NewClassifier(f.Rules), nil
}

// Classify returns the jurisdiction label for a filer name, or
// ("", false) when the name gives no signal. Unknown is an explicit
// outcome, never a default label.
func (c *Classifier) Classify(name string) (string, bool) {
	lowered := strings.ToLower(name)
	if strings.TrimSpace(lowered) == "" {
		return "", false
	}

	for _, rule := range c.rules {
		if strings.Contains(lowered, strings.ToLower(rule.Token)) {
			return rule.Label, true
		}
	}

	if m := cityCouncilPattern.FindStringSubmatch(name); m != nil {
		return c.titler.String(strings.ToLower(m[1])), true
	}

	return "", false
}
