// Package ingest loads sensor readings into the fact base. Payloads are
// validated against a JSON schema before any triple is emitted, so a
// malformed feed is rejected as a whole rather than half-loaded.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agrotrust/certkernel/pkg/factstore"
	"github.com/agrotrust/certkernel/pkg/model"
	"github.com/agrotrust/certkernel/pkg/policy"
)

// Reading is one sensor measurement as delivered by the feed.
type Reading struct {
	ID       string  `json:"id"`
	Product  string  `json:"product"`
	Category string  `json:"category"`
	Chemical string  `json:"chemical"`
	Value    float64 `json:"value"`
}

const schemaJSON = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "product", "chemical", "value"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"product": {"type": "string", "minLength": 1},
			"category": {"type": "string"},
			"chemical": {"type": "string", "minLength": 1},
			"value": {"type": "number", "minimum": 0}
		}
	}
}`

var readingSchema = jsonschema.MustCompileString("sensor_readings.json", schemaJSON)

// Decode validates and parses a sensor feed.
func Decode(r io.Reader) ([]Reading, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: read feed: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("ingest: parse feed: %w", err)
	}
	if err := readingSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("ingest: invalid feed: %w", err)
	}

	var readings []Reading
	if err := json.Unmarshal(raw, &readings); err != nil {
		return nil, fmt.Errorf("ingest: decode feed: %w", err)
	}
	return readings, nil
}

// SampleNode names the sample subject for a reading, mirroring the graph's
// Sample_<product>_<id> convention.
func SampleNode(r Reading) string {
	return fmt.Sprintf("Sample_%s_%s", sanitize(r.Product), sanitize(r.ID))
}

// Triples renders readings plus the policy table as graph facts.
func Triples(readings []Reading, table *policy.Table) []factstore.Triple {
	var out []factstore.Triple

	// Policy facts first: substance classes and ceilings.
	for _, substance := range table.Substances() {
		rule := table.Lookup(substance)
		switch rule.Class {
		case policy.ClassProhibited:
			out = append(out, factstore.IRI(substance, factstore.PredType, factstore.ClassProhibitedChemical))
		case policy.ClassAllowed:
			out = append(out,
				factstore.IRI(substance, factstore.PredType, factstore.ClassAllowedChemical),
				factstore.Lit(substance, factstore.PredMaxAllowedLevel, model.FormatConcentration(rule.MaxLevel)),
			)
		}
	}

	for _, r := range readings {
		product := sanitize(r.Product)
		sample := SampleNode(r)
		out = append(out,
			factstore.IRI(product, factstore.PredType, factstore.ClassProduct),
			factstore.IRI(product, factstore.PredHasSample, sample),
			factstore.IRI(sample, factstore.PredHasChemical, sanitize(r.Chemical)),
			factstore.Lit(sample, factstore.PredHasValue, model.FormatConcentration(r.Value)),
		)
		if r.Category != "" {
			out = append(out, factstore.IRI(product, factstore.PredHasCategory, sanitize(r.Category)))
		}
	}
	return out
}

// Ingestor validates feeds and bulk-loads them into a store.
type Ingestor struct {
	store  factstore.Store
	policy *policy.Table
	logger *slog.Logger
}

// NewIngestor builds an ingestor.
func NewIngestor(store factstore.Store, table *policy.Table, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, policy: table, logger: logger}
}

// Run decodes a feed and loads it, returning the number of readings loaded.
func (i *Ingestor) Run(ctx context.Context, feed io.Reader) (int, error) {
	readings, err := Decode(feed)
	if err != nil {
		return 0, err
	}
	triples := Triples(readings, i.policy)
	if err := i.store.BulkLoad(ctx, triples); err != nil {
		return 0, fmt.Errorf("ingest: bulk load: %w", err)
	}
	i.logger.Info("sensor feed loaded", "readings", len(readings), "triples", len(triples))
	return len(readings), nil
}

// sanitize makes a feed value safe as a local name: spaces and separators
// collapse to underscores.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
