package interaction

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

var (
	ErrEmptyRuleTable = errors.New("interaction rule table is empty")
	ErrDuplicateRule  = errors.New("duplicate interaction rule id")
	ErrInvalidRule    = errors.New("invalid interaction rule")
)

// Rule is a static reference entry pairing two substances
type Rule struct {
	ID             string   `json:"id" yaml:"id"`
	Substance1     string   `json:"substance1" yaml:"substance1"`
	Substance2     string   `json:"substance2" yaml:"substance2"`
	Severity       Severity `json:"severity" yaml:"severity"`
	Description    string   `json:"description" yaml:"description"`
	Recommendation string   `json:"recommendation" yaml:"recommendation"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules returns the built-in rule table
func DefaultRules() []Rule {
	rules, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded interaction rules: %v", err))
	}
	return rules
}

// LoadRules reads a rule table from a YAML file. An empty path yields the built-in table.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule table
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, ErrEmptyRuleTable
	}

	seen := make(map[string]bool, len(f.Rules))
	for i, r := range f.Rules {
		switch {
		case r.ID == "":
			return nil, fmt.Errorf("%w: rule %d has no id", ErrInvalidRule, i)
		case Normalize(r.Substance1) == "" || Normalize(r.Substance2) == "":
			return nil, fmt.Errorf("%w: rule %s has an empty substance", ErrInvalidRule, r.ID)
		case !r.Severity.Valid():
			return nil, fmt.Errorf("%w: rule %s has severity %q", ErrInvalidRule, r.ID, r.Severity)
		case seen[r.ID]:
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
		seen[r.ID] = true
	}
	return f.Rules, nil
}
