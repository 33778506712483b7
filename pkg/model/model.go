// Package model defines the core records flowing through the certification
// pipeline: entities under assessment, their chemical samples, and the
// verdict each run assigns.
package model

import (
	"sort"
	"strconv"
	"time"
)

// RegulationEU2018848 is the regulation tag stamped on certified entities.
const RegulationEU2018848 = "EU_2018_848"

// Status is the certification outcome of an entity.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCertified Status = "CERTIFIED"
	StatusRejected  Status = "REJECTED"
)

// Sample is a single chemical-concentration measurement. A sample belongs to
// exactly one entity and is immutable once ingested.
type Sample struct {
	ID            string  `json:"id"`
	Substance     string  `json:"substance"`
	Concentration float64 `json:"concentration"`
}

// Verdict is the certification outcome for one entity. An entity has exactly
// one verdict at a time; REJECTED carries the ordered violation trail.
type Verdict struct {
	Status      Status    `json:"status"`
	CertifiedAt time.Time `json:"certified_at,omitzero"`
	Regulation  string    `json:"regulation,omitempty"`
	Reasons     []string  `json:"reasons,omitempty"`
}

// Equal reports whether two verdicts are identical, ignoring the
// certification timestamp (which is run-local).
func (v Verdict) Equal(o Verdict) bool {
	if v.Status != o.Status || v.Regulation != o.Regulation {
		return false
	}
	if len(v.Reasons) != len(o.Reasons) {
		return false
	}
	for i := range v.Reasons {
		if v.Reasons[i] != o.Reasons[i] {
			return false
		}
	}
	return true
}

// Entity is a farm or product being certified. Entities are created when
// first referenced by an ingested sample and never deleted within a run;
// only the classification engine assigns verdicts.
type Entity struct {
	ID       string   `json:"id"`
	Category string   `json:"category,omitempty"`
	Samples  []Sample `json:"samples"`
	Verdict  Verdict  `json:"verdict"`
}

// HasSamples reports whether the entity carries at least one sample.
// Sample-less entities stay PENDING and receive no proof.
func (e *Entity) HasSamples() bool { return len(e.Samples) > 0 }

// SortedIDs returns the entity ids of m in lexical order. Batch operations
// iterate in this order so artifacts and nonce assignment are deterministic.
func SortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FormatConcentration renders a concentration the way it appears in
// violation reasons and triples: shortest exact decimal form, no exponent.
func FormatConcentration(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
