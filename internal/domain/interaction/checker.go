// Package interaction detects known drug interactions between medications
// by matching their active substances against a pairwise rule table.
package interaction

import (
	"github.com/carelink/pillwise/internal/domain/medication"
)

// Result is the outcome of checking one medication against others.
// HighestSeverity is empty when no interaction was found.
type Result struct {
	HasInteraction  bool     `json:"hasInteraction"`
	Interactions    []Rule   `json:"interactions"`
	HighestSeverity Severity `json:"highestSeverity,omitempty"`
}

type compiledRule struct {
	rule Rule
	s1   string
	s2   string
}

// Checker matches substances against a fixed rule table. It is safe for
// concurrent use.
type Checker struct {
	rules []compiledRule
}

// NewChecker compiles a rule table; a nil table uses DefaultRules
func NewChecker(rules []Rule) *Checker {
	if rules == nil {
		rules = DefaultRules()
	}
	c := &Checker{rules: make([]compiledRule, len(rules))}
	for i, r := range rules {
		c.rules[i] = compiledRule{rule: r, s1: Normalize(r.Substance1), s2: Normalize(r.Substance2)}
	}
	return c
}

// Rules returns the table the checker was built with
func (c *Checker) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	for i, cr := range c.rules {
		out[i] = cr.rule
	}
	return out
}

// CheckSubstances checks a candidate substance against existing ones.
// Findings are deduplicated by rule id, in discovery order.
func (c *Checker) CheckSubstances(candidate string, existing []string) Result {
	res := Result{Interactions: []Rule{}}
	seen := make(map[string]bool)
	cand := Normalize(candidate)

	for _, e := range existing {
		c.collect(cand, Normalize(e), seen, &res.Interactions)
	}

	for _, r := range res.Interactions {
		res.HighestSeverity = Max(res.HighestSeverity, r.Severity)
	}
	res.HasInteraction = len(res.Interactions) > 0
	return res
}

// CheckInteractions checks a candidate medication against existing medications
func (c *Checker) CheckInteractions(candidate medication.Medication, existing []medication.Medication) Result {
	subs := make([]string, len(existing))
	for i, m := range existing {
		subs[i] = m.ActiveSubstance
	}
	return c.CheckSubstances(candidate.ActiveSubstance, subs)
}

// CheckAll checks every unordered pair in meds and returns the rules found,
// deduplicated across pairs, in pair order then rule order.
func (c *Checker) CheckAll(meds []medication.Medication) []Rule {
	normalized := make([]string, len(meds))
	for i, m := range meds {
		normalized[i] = Normalize(m.ActiveSubstance)
	}

	found := []Rule{}
	seen := make(map[string]bool)
	for i := 0; i < len(meds); i++ {
		for j := i + 1; j < len(meds); j++ {
			c.collect(normalized[i], normalized[j], seen, &found)
		}
	}
	return found
}

func (c *Checker) collect(a, b string, seen map[string]bool, out *[]Rule) {
	for _, cr := range c.rules {
		if seen[cr.rule.ID] {
			continue
		}
		if (SubstancesMatch(a, cr.s1) && SubstancesMatch(b, cr.s2)) ||
			(SubstancesMatch(a, cr.s2) && SubstancesMatch(b, cr.s1)) {
			seen[cr.rule.ID] = true
			*out = append(*out, cr.rule)
		}
	}
}
