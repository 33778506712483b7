// Package policy holds the substance classification table: which chemicals
// are prohibited outright and which are allowed up to a concentration
// ceiling. The table is loaded once at startup and read-only for the run.
package policy

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Class tags a substance as prohibited or allowed-with-limit.
type Class string

const (
	ClassProhibited Class = "PROHIBITED"
	ClassAllowed    Class = "ALLOWED"
)

// Rule is the policy entry for one substance. MaxLevel is only meaningful
// for ClassAllowed.
type Rule struct {
	Class    Class
	MaxLevel float64
}

// Table maps substance identifiers to rules. Substances absent from the
// table are treated as prohibited: an unknown chemical cannot support a
// certification claim.
type Table struct {
	rules map[string]Rule
}

// Lookup returns the rule for a substance. Unknown substances report
// ClassProhibited.
func (t *Table) Lookup(substance string) Rule {
	if r, ok := t.rules[substance]; ok {
		return r
	}
	return Rule{Class: ClassProhibited}
}

// Known reports whether the substance appears in the table.
func (t *Table) Known(substance string) bool {
	_, ok := t.rules[substance]
	return ok
}

// Substances returns all configured substance identifiers in lexical order.
func (t *Table) Substances() []string {
	out := make([]string, 0, len(t.rules))
	for s := range t.rules {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// file is the YAML shape of a policy table:
//
//	prohibited: [Glyphosate, DDT, Atrazine]
//	limits:
//	  Sulfur: 0.25
type file struct {
	Prohibited []string           `yaml:"prohibited"`
	Limits     map[string]float64 `yaml:"limits"`
}

// Load reads a policy table from a YAML file.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML policy document.
func Parse(raw []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("policy: decode: %w", err)
	}
	rules := make(map[string]Rule, len(f.Prohibited)+len(f.Limits))
	for _, s := range f.Prohibited {
		rules[s] = Rule{Class: ClassProhibited}
	}
	for s, max := range f.Limits {
		if _, dup := rules[s]; dup {
			return nil, fmt.Errorf("policy: substance %s is both prohibited and limited", s)
		}
		if max < 0 {
			return nil, fmt.Errorf("policy: negative limit for %s", s)
		}
		rules[s] = Rule{Class: ClassAllowed, MaxLevel: max}
	}
	return &Table{rules: rules}, nil
}

// New builds a table from explicit rule sets. Used by tests and by callers
// that assemble policy programmatically.
func New(prohibited []string, limits map[string]float64) *Table {
	rules := make(map[string]Rule, len(prohibited)+len(limits))
	for _, s := range prohibited {
		rules[s] = Rule{Class: ClassProhibited}
	}
	for s, max := range limits {
		rules[s] = Rule{Class: ClassAllowed, MaxLevel: max}
	}
	return &Table{rules: rules}
}

// Default is the table the reference deployment ships with.
func Default() *Table {
	return New(
		[]string{"Glyphosate", "DDT", "Atrazine"},
		map[string]float64{
			"Sulfur":        0.25,
			"Pyrethrin":     0.15,
			"CopperSulfate": 0.20,
		},
	)
}
