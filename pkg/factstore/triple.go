// Package factstore is the typed adapter in front of the external RDF fact
// base. It exposes pattern-matched reads, rule-style updates, and bulk triple
// load, and decodes raw bindings into typed records at this boundary so the
// rest of the pipeline never sees untyped maps.
package factstore

import (
	"strings"
)

// NS is the namespace all local names resolve under.
const NS = "http://example.org/organic#"

// Vocabulary used by the certification graph. Predicates and classes are
// local names under NS; PredType renders as rdf:type.
const (
	PredType            = "a"
	PredHasCategory     = "hasCategory"
	PredHasSample       = "hasSample"
	PredHasChemical     = "hasChemical"
	PredHasValue        = "hasValue"
	PredMaxAllowedLevel = "maxAllowedLevel"
	PredCertStatus      = "certificationStatus"
	PredCertDate        = "certificationDate"
	PredViolationReason = "hasViolationReason"
	PredRegulation      = "regulation"

	ClassProduct            = "Product"
	ClassProhibitedChemical = "ProhibitedChemical"
	ClassAllowedChemical    = "AllowedChemical"
	ClassOrganicFarm        = "OrganicFarm"
	ClassNonOrganicFarm     = "NonOrganicFarm"
)

// Triple is one fact. Subject and Predicate are always local names under NS;
// Object is a local name unless Literal is set, in which case it is a plain
// literal value.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
	Literal   bool
}

// Lit builds a literal-object triple.
func Lit(s, p, o string) Triple { return Triple{Subject: s, Predicate: p, Object: o, Literal: true} }

// IRI builds an IRI-object triple.
func IRI(s, p, o string) Triple { return Triple{Subject: s, Predicate: p, Object: o} }

// Line renders the triple as a single canonical Turtle-style line. Proof
// serialization sorts these lines, so the rendering must be stable.
func (t Triple) Line() string {
	var b strings.Builder
	b.WriteByte(':')
	b.WriteString(t.Subject)
	b.WriteByte(' ')
	if t.Predicate == PredType {
		b.WriteByte('a')
	} else {
		b.WriteByte(':')
		b.WriteString(t.Predicate)
	}
	b.WriteByte(' ')
	if t.Literal {
		b.WriteByte('"')
		b.WriteString(escapeLiteral(t.Object))
		b.WriteByte('"')
	} else {
		b.WriteByte(':')
		b.WriteString(t.Object)
	}
	b.WriteString(" .")
	return b.String()
}

func escapeLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// Pattern is a triple template for reads and deletes. Empty fields are
// wildcards. AnyObjectKind matches both IRI and literal objects.
type Pattern struct {
	Subject   string
	Predicate string
	Object    string
	// LiteralObject constrains a bound Object to literal (true) or IRI
	// (false). Ignored when Object is a wildcard.
	LiteralObject bool
}

// Matches reports whether the triple satisfies the pattern.
func (p Pattern) Matches(t Triple) bool {
	if p.Subject != "" && p.Subject != t.Subject {
		return false
	}
	if p.Predicate != "" && p.Predicate != t.Predicate {
		return false
	}
	if p.Object != "" {
		if p.Object != t.Object || p.LiteralObject != t.Literal {
			return false
		}
	}
	return true
}
