// Package classify implements the certification rule engine. It is a
// forward-chaining evaluator reframed as a pure function: each run computes
// a fresh verdict for every entity from its samples and the policy table,
// so repeated runs over an unchanged fact base always agree.
package classify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/agrotrust/certkernel/pkg/model"
	"github.com/agrotrust/certkernel/pkg/policy"
)

// Engine evaluates the certification rules against an entity snapshot.
type Engine struct {
	policy     *policy.Table
	regulation string
	clock      func() time.Time
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the certification timestamp source for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New builds an engine over a policy table. The regulation tag is stamped on
// every certified verdict.
func New(table *policy.Table, regulation string, opts ...Option) *Engine {
	e := &Engine{
		policy:     table,
		regulation: regulation,
		clock:      time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Classify runs the three rule passes over the snapshot and returns a fresh
// verdict per entity id. The input entities are not mutated; callers apply
// the result with Apply.
//
// Pass order is fixed: certification is defined as the absence of any
// violation, so the violation passes must complete before the certification
// pass reads their results.
func (e *Engine) Classify(entities map[string]*model.Entity) map[string]model.Verdict {
	now := e.clock().UTC()
	reasons := make(map[string][]string, len(entities))

	ids := model.SortedIDs(entities)

	// Pass 1: prohibited substances. Every offending sample contributes a
	// reason; identical reasons from distinct samples are kept.
	for _, id := range ids {
		for _, sample := range entities[id].Samples {
			rule := e.policy.Lookup(sample.Substance)
			if rule.Class != policy.ClassProhibited {
				continue
			}
			reasons[id] = append(reasons[id], ProhibitedReason(sample.Substance))
		}
	}

	// Pass 2: concentration ceilings. A reason identical to one already
	// recorded is skipped; distinct causes accumulate. Exactly at the
	// limit is compliant.
	for _, id := range ids {
		for _, sample := range entities[id].Samples {
			rule := e.policy.Lookup(sample.Substance)
			if rule.Class != policy.ClassAllowed || sample.Concentration <= rule.MaxLevel {
				continue
			}
			reason := LimitReason(sample.Substance, rule.MaxLevel)
			if !contains(reasons[id], reason) {
				reasons[id] = append(reasons[id], reason)
			}
		}
	}

	// Pass 3: certification. Entities without violations and with at least
	// one sample are certified; sample-less entities stay pending.
	verdicts := make(map[string]model.Verdict, len(entities))
	for _, id := range ids {
		entity := entities[id]
		switch {
		case len(reasons[id]) > 0:
			verdicts[id] = model.Verdict{Status: model.StatusRejected, Reasons: reasons[id]}
		case entity.HasSamples():
			verdicts[id] = model.Verdict{
				Status:      model.StatusCertified,
				CertifiedAt: now,
				Regulation:  e.regulation,
			}
		default:
			verdicts[id] = model.Verdict{Status: model.StatusPending}
		}
	}

	e.check(verdicts)
	return verdicts
}

// Apply writes the verdicts onto the entities and returns the same map for
// chaining into proof generation.
func Apply(entities map[string]*model.Entity, verdicts map[string]model.Verdict) map[string]*model.Entity {
	for id, v := range verdicts {
		if e, ok := entities[id]; ok {
			e.Verdict = v
		}
	}
	return entities
}

// check guards the derived-state invariants. A violation here is a defect
// in the pass logic, not an expected runtime condition: the offending
// entity is logged and forced to the conservative rejected state.
func (e *Engine) check(verdicts map[string]model.Verdict) {
	for id, v := range verdicts {
		var bad bool
		switch v.Status {
		case model.StatusRejected:
			bad = len(v.Reasons) == 0
		case model.StatusCertified:
			bad = len(v.Reasons) > 0
		}
		if bad {
			e.logger.Warn("classification inconsistency, rejecting conservatively", "entity", id, "verdict", v.Status)
			reasons := v.Reasons
			if len(reasons) == 0 {
				reasons = []string{"inconsistent derived certification state"}
			}
			verdicts[id] = model.Verdict{Status: model.StatusRejected, Reasons: reasons}
		}
	}
}

// ProhibitedReason is the violation string for a prohibited substance.
func ProhibitedReason(substance string) string {
	return fmt.Sprintf("contains prohibited substance: %s", substance)
}

// LimitReason is the violation string for an exceeded concentration ceiling.
func LimitReason(substance string, max float64) string {
	return fmt.Sprintf("%s exceeds limit of %s", substance, model.FormatConcentration(max))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
