package factstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/agrotrust/certkernel/pkg/model"
)

// Snapshot reads the whole graph once and decodes it into typed entities.
// Classification operates on this snapshot rather than patching the store
// in place, so repeated runs always start from the same ground facts.
func Snapshot(ctx context.Context, store Store, logger *slog.Logger) (map[string]*model.Entity, error) {
	if logger == nil {
		logger = slog.Default()
	}
	triples, err := store.Select(ctx, Pattern{})
	if err != nil {
		return nil, fmt.Errorf("factstore: snapshot: %w", err)
	}

	bySubject := make(map[string][]Triple)
	for _, t := range triples {
		bySubject[t.Subject] = append(bySubject[t.Subject], t)
	}

	entities := make(map[string]*model.Entity)
	for subject, facts := range bySubject {
		sampleNodes := objectsOf(facts, PredHasSample)
		if len(sampleNodes) == 0 {
			continue
		}
		e := &model.Entity{ID: subject, Verdict: model.Verdict{Status: model.StatusPending}}
		if cats := objectsOf(facts, PredHasCategory); len(cats) > 0 {
			e.Category = cats[0]
		}

		sort.Strings(sampleNodes)
		for _, node := range sampleNodes {
			sample, err := decodeSample(node, bySubject[node])
			if err != nil {
				logger.Warn("skipping undecodable sample", "entity", subject, "sample", node, "err", err)
				continue
			}
			e.Samples = append(e.Samples, sample)
		}

		if err := decodePriorVerdict(e, facts); err != nil {
			// Contradictory derived state from an earlier run. Reject
			// conservatively; the fresh classification pass recomputes it.
			logger.Warn("inconsistent derived facts", "entity", subject, "err", err)
			e.Verdict = model.Verdict{Status: model.StatusRejected, Reasons: []string{"inconsistent derived certification state"}}
		}
		entities[subject] = e
	}
	return entities, nil
}

func decodeSample(node string, facts []Triple) (model.Sample, error) {
	chems := objectsOf(facts, PredHasChemical)
	if len(chems) == 0 {
		return model.Sample{}, fmt.Errorf("no chemical")
	}
	vals := literalsOf(facts, PredHasValue)
	if len(vals) == 0 {
		return model.Sample{}, fmt.Errorf("no value")
	}
	conc, err := strconv.ParseFloat(vals[0], 64)
	if err != nil {
		return model.Sample{}, fmt.Errorf("bad concentration %q: %w", vals[0], err)
	}
	if conc < 0 {
		return model.Sample{}, fmt.Errorf("negative concentration %v", conc)
	}
	return model.Sample{ID: node, Substance: chems[0], Concentration: conc}, nil
}

func decodePriorVerdict(e *model.Entity, facts []Triple) error {
	organic := hasType(facts, ClassOrganicFarm)
	nonOrganic := hasType(facts, ClassNonOrganicFarm)
	if organic && nonOrganic {
		return fmt.Errorf("typed both %s and %s", ClassOrganicFarm, ClassNonOrganicFarm)
	}
	statuses := literalsOf(facts, PredCertStatus)
	if len(statuses) > 1 {
		return fmt.Errorf("multiple certification statuses %v", statuses)
	}
	switch {
	case nonOrganic:
		e.Verdict = model.Verdict{Status: model.StatusRejected, Reasons: literalsOf(facts, PredViolationReason)}
	case organic:
		v := model.Verdict{Status: model.StatusCertified}
		if regs := objectsOf(facts, PredRegulation); len(regs) > 0 {
			v.Regulation = regs[0]
		}
		if dates := literalsOf(facts, PredCertDate); len(dates) > 0 {
			if ts, err := time.Parse(time.RFC3339, dates[0]); err == nil {
				v.CertifiedAt = ts
			}
		}
		e.Verdict = v
	}
	return nil
}

// EntitySubgraph renders the facts owned by one entity: its type, category,
// verdict triples, and every sample. This is the subgraph that gets hashed
// into a proof, so the triple set must be complete and reproducible.
func EntitySubgraph(e *model.Entity) []Triple {
	triples := []Triple{IRI(e.ID, PredType, ClassProduct)}
	if e.Category != "" {
		triples = append(triples, IRI(e.ID, PredHasCategory, e.Category))
	}
	for _, s := range e.Samples {
		triples = append(triples,
			IRI(e.ID, PredHasSample, s.ID),
			IRI(s.ID, PredHasChemical, s.Substance),
			Lit(s.ID, PredHasValue, model.FormatConcentration(s.Concentration)),
		)
	}
	triples = append(triples, VerdictTriples(e)...)
	return triples
}

// VerdictTriples renders the derived certification facts for one entity.
func VerdictTriples(e *model.Entity) []Triple {
	switch e.Verdict.Status {
	case model.StatusCertified:
		return []Triple{
			IRI(e.ID, PredType, ClassOrganicFarm),
			Lit(e.ID, PredCertStatus, string(model.StatusCertified)),
			Lit(e.ID, PredCertDate, e.Verdict.CertifiedAt.UTC().Format(time.RFC3339)),
			IRI(e.ID, PredRegulation, e.Verdict.Regulation),
		}
	case model.StatusRejected:
		triples := []Triple{
			IRI(e.ID, PredType, ClassNonOrganicFarm),
			Lit(e.ID, PredCertStatus, string(model.StatusRejected)),
		}
		for _, reason := range e.Verdict.Reasons {
			triples = append(triples, Lit(e.ID, PredViolationReason, reason))
		}
		return triples
	default:
		return nil
	}
}

// ClearDerived retracts every derived certification fact. Write-back runs
// this before inserting fresh verdicts; without the retraction a rerun would
// accrete stale statuses on top of new ones.
func ClearDerived(ctx context.Context, store Store) error {
	patterns := []Pattern{
		{Predicate: PredCertStatus},
		{Predicate: PredCertDate},
		{Predicate: PredViolationReason},
		{Predicate: PredRegulation},
		{Predicate: PredType, Object: ClassOrganicFarm},
		{Predicate: PredType, Object: ClassNonOrganicFarm},
	}
	for _, p := range patterns {
		if err := store.Delete(ctx, p); err != nil {
			return fmt.Errorf("factstore: clear derived: %w", err)
		}
	}
	return nil
}

// WriteVerdicts replaces all derived certification facts with the given
// entities' verdicts.
func WriteVerdicts(ctx context.Context, store Store, entities map[string]*model.Entity) error {
	if err := ClearDerived(ctx, store); err != nil {
		return err
	}
	var triples []Triple
	for _, id := range model.SortedIDs(entities) {
		triples = append(triples, VerdictTriples(entities[id])...)
	}
	if err := store.Insert(ctx, triples); err != nil {
		return fmt.Errorf("factstore: write verdicts: %w", err)
	}
	return nil
}

func objectsOf(facts []Triple, pred string) []string {
	var out []string
	for _, t := range facts {
		if t.Predicate == pred && !t.Literal {
			out = append(out, t.Object)
		}
	}
	sort.Strings(out)
	return out
}

func literalsOf(facts []Triple, pred string) []string {
	var out []string
	for _, t := range facts {
		if t.Predicate == pred && t.Literal {
			out = append(out, t.Object)
		}
	}
	sort.Strings(out)
	return out
}

func hasType(facts []Triple, class string) bool {
	for _, t := range facts {
		if t.Predicate == PredType && !t.Literal && t.Object == class {
			return true
		}
	}
	return false
}
