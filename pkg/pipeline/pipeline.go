// Package pipeline orchestrates a certification run: probe dependencies,
// snapshot the fact base, classify, write verdicts back, generate proofs,
// anchor them, and persist artifacts and the result index.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agrotrust/certkernel/pkg/artifacts"
	"github.com/agrotrust/certkernel/pkg/classify"
	"github.com/agrotrust/certkernel/pkg/factstore"
	"github.com/agrotrust/certkernel/pkg/ledger"
	"github.com/agrotrust/certkernel/pkg/model"
	"github.com/agrotrust/certkernel/pkg/probe"
	"github.com/agrotrust/certkernel/pkg/proof"
	"github.com/agrotrust/certkernel/pkg/report"
)

// Indexer is the slice of the result index the pipeline writes.
type Indexer interface {
	Init(ctx context.Context) error
	IndexRun(ctx context.Context, runID string, now time.Time, entities map[string]*model.Entity, receipts map[string]*ledger.Receipt) error
}

// Runner drives one end-to-end certification run.
type Runner struct {
	store      factstore.Store
	engine     *classify.Engine
	generator  *proof.Generator
	anchor     *ledger.Anchor
	ledgerPing func(ctx context.Context) error
	artifacts  *artifacts.Writer
	index      Indexer
	regulation string
	probes     probe.Policy
	clock      func() time.Time
	logger     *slog.Logger
}

// Options configure a Runner beyond its required collaborators.
type Options struct {
	// Anchor and LedgerPing are nil when the run stops at proof
	// generation.
	Anchor     *ledger.Anchor
	LedgerPing func(ctx context.Context) error
	// Index is nil when no result index is configured.
	Index  Indexer
	Probes probe.Policy
	Clock  func() time.Time
	Logger *slog.Logger
}

// NewRunner assembles a runner.
func NewRunner(fs factstore.Store, engine *classify.Engine, gen *proof.Generator, art *artifacts.Writer, regulation string, opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Probes == (probe.Policy{}) {
		opts.Probes = probe.DefaultPolicy()
	}
	return &Runner{
		store:      fs,
		engine:     engine,
		generator:  gen,
		anchor:     opts.Anchor,
		ledgerPing: opts.LedgerPing,
		artifacts:  art,
		index:      opts.Index,
		regulation: regulation,
		probes:     opts.Probes,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
}

// Summary is the outcome of one run.
type Summary struct {
	RunID     string
	Entities  int
	Certified int
	Rejected  int
	Pending   int
	Proofs    int
	Anchored  int
	Failed    map[string]error
	Report    report.Summary
}

// Run executes the full pipeline. Per-entity anchoring failures are
// collected in the summary; only infrastructure failures abort the run.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)
	logger.Info("certification run starting")

	if err := r.probeDependencies(ctx, runID, logger); err != nil {
		return nil, err
	}

	entities, err := factstore.Snapshot(ctx, r.store, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: snapshot: %w", err)
	}
	logger.Info("fact base snapshot taken", "entities", len(entities))

	verdicts := r.engine.Classify(entities)
	classify.Apply(entities, verdicts)

	if err := factstore.WriteVerdicts(ctx, r.store, entities); err != nil {
		return nil, fmt.Errorf("pipeline: write verdicts: %w", err)
	}

	proofs, sigIndex := r.generator.GenerateAll(entities)
	if err := r.artifacts.WriteProofs(proofs, sigIndex); err != nil {
		return nil, fmt.Errorf("pipeline: persist proofs: %w", err)
	}

	var (
		receipts map[string]*ledger.Receipt
		failures map[string]error
	)
	if r.anchor != nil {
		receipts, failures, err = r.anchor.CommitAll(ctx, proofs)
		if err != nil {
			return nil, fmt.Errorf("pipeline: anchor: %w", err)
		}
		if err := r.artifacts.WriteReceipts(receipts, failures); err != nil {
			return nil, fmt.Errorf("pipeline: persist receipts: %w", err)
		}
	}

	now := r.clock().UTC()
	if r.index != nil {
		if err := r.index.IndexRun(ctx, runID, now, entities, receipts); err != nil {
			return nil, fmt.Errorf("pipeline: index run: %w", err)
		}
	}

	summary := r.summarize(runID, now, entities, proofs, receipts, failures)
	if err := r.artifacts.WriteReport(summary.Report, entities); err != nil {
		return nil, fmt.Errorf("pipeline: persist report: %w", err)
	}

	logger.Info("certification run complete",
		"entities", summary.Entities,
		"certified", summary.Certified,
		"rejected", summary.Rejected,
		"pending", summary.Pending,
		"anchored", summary.Anchored,
		"failed", len(summary.Failed),
	)
	return summary, nil
}

// probeDependencies blocks until the fact store, and the ledger when
// configured, answer. A dependency that never answers is fatal.
func (r *Runner) probeDependencies(ctx context.Context, runID string, logger *slog.Logger) error {
	if err := probe.Wait(ctx, r.probes, "factstore", runID, logger, r.store.Ping); err != nil {
		return err
	}
	if r.ledgerPing != nil {
		if err := probe.Wait(ctx, r.probes, "ledger", runID, logger, r.ledgerPing); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) summarize(runID string, now time.Time, entities map[string]*model.Entity, proofs map[string]*proof.Proof, receipts map[string]*ledger.Receipt, failures map[string]error) *Summary {
	s := &Summary{
		RunID:    runID,
		Entities: len(entities),
		Proofs:   len(proofs),
		Anchored: len(receipts),
		Failed:   failures,
	}
	for _, e := range entities {
		switch e.Verdict.Status {
		case model.StatusCertified:
			s.Certified++
		case model.StatusRejected:
			s.Rejected++
		default:
			s.Pending++
		}
	}
	s.Report = report.Build(runID, now, r.regulation, entities, len(receipts), len(failures))
	return s
}
