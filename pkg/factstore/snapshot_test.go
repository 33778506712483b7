package factstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrotrust/certkernel/pkg/model"
)

func seedFarm(t *testing.T, store Store, farm, sample, chemical, value string) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), []Triple{
		IRI(farm, PredType, ClassProduct),
		IRI(farm, PredHasCategory, "Vegetables"),
		IRI(farm, PredHasSample, sample),
		IRI(sample, PredHasChemical, chemical),
		Lit(sample, PredHasValue, value),
	}))
}

func TestSnapshotDecodesTypedEntities(t *testing.T) {
	store := NewMemoryStore()
	seedFarm(t, store, "FarmX", "Sample_FarmX_1", "DDT", "0.5")
	seedFarm(t, store, "FarmY", "Sample_FarmY_1", "Sulfur", "0.2")

	entities, err := Snapshot(context.Background(), store, nil)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	fx := entities["FarmX"]
	require.NotNil(t, fx)
	assert.Equal(t, "Vegetables", fx.Category)
	assert.Equal(t, model.StatusPending, fx.Verdict.Status)
	require.Len(t, fx.Samples, 1)
	assert.Equal(t, model.Sample{ID: "Sample_FarmX_1", Substance: "DDT", Concentration: 0.5}, fx.Samples[0])
}

func TestSnapshotSkipsSampleLessSubjects(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Insert(context.Background(), []Triple{
		IRI("DDT", PredType, ClassProhibitedChemical),
		IRI("Sulfur", PredType, ClassAllowedChemical),
		Lit("Sulfur", PredMaxAllowedLevel, "0.25"),
	}))

	entities, err := Snapshot(context.Background(), store, nil)
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestSnapshotRejectsContradictoryDerivedState(t *testing.T) {
	store := NewMemoryStore()
	seedFarm(t, store, "FarmX", "s1", "Sulfur", "0.1")
	require.NoError(t, store.Insert(context.Background(), []Triple{
		IRI("FarmX", PredType, ClassOrganicFarm),
		IRI("FarmX", PredType, ClassNonOrganicFarm),
	}))

	entities, err := Snapshot(context.Background(), store, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, entities["FarmX"].Verdict.Status)
}

func TestWriteVerdictsReplacesDerivedFacts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedFarm(t, store, "FarmX", "s1", "Sulfur", "0.1")

	certified := map[string]*model.Entity{
		"FarmX": {
			ID: "FarmX",
			Samples: []model.Sample{{ID: "s1", Substance: "Sulfur", Concentration: 0.1}},
			Verdict: model.Verdict{
				Status:      model.StatusCertified,
				CertifiedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
				Regulation:  model.RegulationEU2018848,
			},
		},
	}
	require.NoError(t, WriteVerdicts(ctx, store, certified))

	// Flip to rejected and write back again; the certified facts must be gone.
	rejected := map[string]*model.Entity{
		"FarmX": {
			ID:      "FarmX",
			Samples: certified["FarmX"].Samples,
			Verdict: model.Verdict{Status: model.StatusRejected, Reasons: []string{"contains prohibited substance: DDT"}},
		},
	}
	require.NoError(t, WriteVerdicts(ctx, store, rejected))

	statuses, err := store.Select(ctx, Pattern{Predicate: PredCertStatus})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, string(model.StatusRejected), statuses[0].Object)

	organic, err := store.Select(ctx, Pattern{Predicate: PredType, Object: ClassOrganicFarm})
	require.NoError(t, err)
	assert.Empty(t, organic)
}

func TestEntitySubgraphIsComplete(t *testing.T) {
	e := &model.Entity{
		ID:       "FarmW",
		Category: "Orchard",
		Samples:  []model.Sample{{ID: "s1", Substance: "Sulfur", Concentration: 0.3}},
		Verdict: model.Verdict{
			Status:  model.StatusRejected,
			Reasons: []string{"Sulfur exceeds limit of 0.25"},
		},
	}
	lines := make([]string, 0)
	for _, tr := range EntitySubgraph(e) {
		lines = append(lines, tr.Line())
	}
	assert.Contains(t, lines, ":FarmW a :Product .")
	assert.Contains(t, lines, ":FarmW :hasCategory :Orchard .")
	assert.Contains(t, lines, ":FarmW :hasSample :s1 .")
	assert.Contains(t, lines, `:s1 :hasValue "0.3" .`)
	assert.Contains(t, lines, `:FarmW :hasViolationReason "Sulfur exceeds limit of 0.25" .`)
	assert.Contains(t, lines, ":FarmW a :NonOrganicFarm .")
}
