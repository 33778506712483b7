package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrotrust/certkernel/pkg/ledger"
	"github.com/agrotrust/certkernel/pkg/model"
)

func newMockIndex(t *testing.T) (*Index, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewIndex(db), mock
}

func TestInit(t *testing.T) {
	x, mock := newMockIndex(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entities").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, x.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEntity(t *testing.T) {
	x, mock := newMockIndex(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO entities").
		WithArgs("FarmA", "Vegetables", "REJECTED", model.RegulationEU2018848,
			`["contains prohibited substance: Glyphosate"]`, nil, "run-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := x.UpsertEntity(context.Background(), EntityRecord{
		EntityID:   "FarmA",
		Category:   "Vegetables",
		Status:     "REJECTED",
		Regulation: model.RegulationEU2018848,
		Reasons:    []string{"contains prohibited substance: Glyphosate"},
		RunID:      "run-1",
		IndexedAt:  now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntity(t *testing.T) {
	x, mock := newMockIndex(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"entity_id", "category", "status", "regulation", "reasons", "certified_at", "run_id", "indexed_at"}).
		AddRow("FarmB", "", "CERTIFIED", model.RegulationEU2018848, "", now, "run-1", now)
	mock.ExpectQuery("SELECT .+ FROM entities WHERE entity_id").
		WithArgs("FarmB").
		WillReturnRows(rows)

	rec, err := x.GetEntity(context.Background(), "FarmB")
	require.NoError(t, err)
	assert.Equal(t, "CERTIFIED", rec.Status)
	require.NotNil(t, rec.CertifiedAt)
	assert.Equal(t, now, *rec.CertifiedAt)
	assert.Empty(t, rec.Reasons)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntityNotFound(t *testing.T) {
	x, mock := newMockIndex(t)
	mock.ExpectQuery("SELECT .+ FROM entities WHERE entity_id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "category", "status", "regulation", "reasons", "certified_at", "run_id", "indexed_at"}))

	_, err := x.GetEntity(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchEntities(t *testing.T) {
	x, mock := newMockIndex(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"entity_id", "category", "status", "regulation", "reasons", "certified_at", "run_id", "indexed_at"}).
		AddRow("FarmA", "", "REJECTED", "", `["r1"]`, nil, "run-1", now).
		AddRow("FarmB", "", "CERTIFIED", model.RegulationEU2018848, "", now, "run-1", now)
	mock.ExpectQuery("SELECT .+ FROM entities WHERE LOWER").
		WithArgs("%farm%").
		WillReturnRows(rows)

	recs, err := x.SearchEntities(context.Background(), "Farm")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"r1"}, recs[0].Reasons)
	assert.Nil(t, recs[0].CertifiedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReceipt(t *testing.T) {
	x, mock := newMockIndex(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"entity_id", "tx_id", "block_number", "chain_id", "status", "run_id", "indexed_at"}).
		AddRow("FarmB", "0xabc", 12, 1337, "CONFIRMED", "run-1", now)
	mock.ExpectQuery("SELECT .+ FROM receipts WHERE entity_id").
		WithArgs("FarmB").
		WillReturnRows(rows)

	rec, err := x.GetReceipt(context.Background(), "FarmB")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", rec.TxID)
	assert.Equal(t, uint64(12), rec.BlockNumber)
	assert.Equal(t, uint64(1337), rec.ChainID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexRun(t *testing.T) {
	x, mock := newMockIndex(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entities := map[string]*model.Entity{
		"FarmA": {ID: "FarmA", Verdict: model.Verdict{Status: model.StatusRejected, Reasons: []string{"r1"}}},
		"FarmB": {ID: "FarmB", Verdict: model.Verdict{Status: model.StatusCertified, Regulation: model.RegulationEU2018848, CertifiedAt: now}},
	}
	receipts := map[string]*ledger.Receipt{
		"FarmB": {EntityID: "FarmB", TxID: "0xabc", BlockNumber: 12, ChainID: 1337, Status: ledger.StatusConfirmed},
	}

	// Entities upsert in id order, then receipts.
	mock.ExpectExec("INSERT INTO entities").
		WithArgs("FarmA", "", "REJECTED", "", `["r1"]`, nil, "run-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO entities").
		WithArgs("FarmB", "", "CERTIFIED", model.RegulationEU2018848, "", sqlmock.AnyArg(), "run-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO receipts").
		WithArgs("FarmB", "0xabc", 12, 1337, "CONFIRMED", "run-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, x.IndexRun(context.Background(), "run-1", now, entities, receipts))
	assert.NoError(t, mock.ExpectationsWereMet())
}
