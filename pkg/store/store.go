// Package store persists run results in a relational index so verdicts and
// anchor receipts can be queried after the fact. It works against both
// Postgres and SQLite via standard drivers.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agrotrust/certkernel/pkg/ledger"
	"github.com/agrotrust/certkernel/pkg/model"
)

var ErrNotFound = errors.New("store: not found")

// EntityRecord is one indexed verdict.
type EntityRecord struct {
	EntityID    string
	Category    string
	Status      string
	Regulation  string
	Reasons     []string
	CertifiedAt *time.Time
	RunID       string
	IndexedAt   time.Time
}

// ReceiptRecord is one indexed anchor receipt.
type ReceiptRecord struct {
	EntityID    string
	TxID        string
	BlockNumber uint64
	ChainID     uint64
	Status      string
	RunID       string
	IndexedAt   time.Time
}

// Index implements the result index on database/sql.
type Index struct {
	db *sql.DB
}

func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	entity_id TEXT PRIMARY KEY,
	category TEXT,
	status TEXT NOT NULL,
	regulation TEXT,
	reasons TEXT,
	certified_at TIMESTAMP,
	run_id TEXT,
	indexed_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS receipts (
	entity_id TEXT PRIMARY KEY,
	tx_id TEXT NOT NULL,
	block_number INTEGER NOT NULL,
	chain_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	run_id TEXT,
	indexed_at TIMESTAMP NOT NULL
);
`

func (x *Index) Init(ctx context.Context) error {
	_, err := x.db.ExecContext(ctx, schema)
	return err
}

// UpsertEntity records an entity's latest verdict. Reruns replace the prior
// row.
func (x *Index) UpsertEntity(ctx context.Context, rec EntityRecord) error {
	var reasons []byte
	if len(rec.Reasons) > 0 {
		var err error
		reasons, err = json.Marshal(rec.Reasons)
		if err != nil {
			return fmt.Errorf("store: encode reasons: %w", err)
		}
	}
	query := `
		INSERT INTO entities (entity_id, category, status, regulation, reasons, certified_at, run_id, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (entity_id) DO UPDATE SET
			category = EXCLUDED.category,
			status = EXCLUDED.status,
			regulation = EXCLUDED.regulation,
			reasons = EXCLUDED.reasons,
			certified_at = EXCLUDED.certified_at,
			run_id = EXCLUDED.run_id,
			indexed_at = EXCLUDED.indexed_at
	`
	_, err := x.db.ExecContext(ctx, query,
		rec.EntityID, rec.Category, rec.Status, rec.Regulation, string(reasons), rec.CertifiedAt, rec.RunID, rec.IndexedAt,
	)
	return err
}

// UpsertReceipt records an entity's latest anchor receipt.
func (x *Index) UpsertReceipt(ctx context.Context, rec ReceiptRecord) error {
	query := `
		INSERT INTO receipts (entity_id, tx_id, block_number, chain_id, status, run_id, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (entity_id) DO UPDATE SET
			tx_id = EXCLUDED.tx_id,
			block_number = EXCLUDED.block_number,
			chain_id = EXCLUDED.chain_id,
			status = EXCLUDED.status,
			run_id = EXCLUDED.run_id,
			indexed_at = EXCLUDED.indexed_at
	`
	_, err := x.db.ExecContext(ctx, query,
		rec.EntityID, rec.TxID, rec.BlockNumber, rec.ChainID, rec.Status, rec.RunID, rec.IndexedAt,
	)
	return err
}

const entityColumns = `entity_id, category, status, regulation, reasons, certified_at, run_id, indexed_at`

// GetEntity returns one indexed verdict, or ErrNotFound.
func (x *Index) GetEntity(ctx context.Context, entityID string) (EntityRecord, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE entity_id = $1`
	rec, err := scanEntity(x.db.QueryRowContext(ctx, query, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EntityRecord{}, ErrNotFound
		}
		return EntityRecord{}, err
	}
	return rec, nil
}

// SearchEntities lists indexed verdicts whose id contains the query,
// case-insensitively. An empty query lists everything.
func (x *Index) SearchEntities(ctx context.Context, q string) ([]EntityRecord, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE LOWER(entity_id) LIKE $1 ORDER BY entity_id`
	rows, err := x.db.QueryContext(ctx, query, "%"+strings.ToLower(q)+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]EntityRecord, 0)
	for rows.Next() {
		rec, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetReceipt returns one indexed receipt, or ErrNotFound.
func (x *Index) GetReceipt(ctx context.Context, entityID string) (ReceiptRecord, error) {
	query := `SELECT entity_id, tx_id, block_number, chain_id, status, run_id, indexed_at FROM receipts WHERE entity_id = $1`
	row := x.db.QueryRowContext(ctx, query, entityID)

	var rec ReceiptRecord
	err := row.Scan(&rec.EntityID, &rec.TxID, &rec.BlockNumber, &rec.ChainID, &rec.Status, &rec.RunID, &rec.IndexedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReceiptRecord{}, ErrNotFound
		}
		return ReceiptRecord{}, err
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (EntityRecord, error) {
	var (
		rec     EntityRecord
		reasons sql.NullString
		cert    sql.NullTime
	)
	err := row.Scan(&rec.EntityID, &rec.Category, &rec.Status, &rec.Regulation, &reasons, &cert, &rec.RunID, &rec.IndexedAt)
	if err != nil {
		return EntityRecord{}, err
	}
	if reasons.Valid && reasons.String != "" {
		if err := json.Unmarshal([]byte(reasons.String), &rec.Reasons); err != nil {
			return EntityRecord{}, fmt.Errorf("store: decode reasons for %s: %w", rec.EntityID, err)
		}
	}
	if cert.Valid {
		t := cert.Time
		rec.CertifiedAt = &t
	}
	return rec, nil
}

// IndexRun writes every entity verdict and anchor receipt from one run.
func (x *Index) IndexRun(ctx context.Context, runID string, now time.Time, entities map[string]*model.Entity, receipts map[string]*ledger.Receipt) error {
	for _, id := range model.SortedIDs(entities) {
		e := entities[id]
		rec := EntityRecord{
			EntityID:   id,
			Category:   e.Category,
			Status:     string(e.Verdict.Status),
			Regulation: e.Verdict.Regulation,
			Reasons:    e.Verdict.Reasons,
			RunID:      runID,
			IndexedAt:  now,
		}
		if !e.Verdict.CertifiedAt.IsZero() {
			t := e.Verdict.CertifiedAt
			rec.CertifiedAt = &t
		}
		if err := x.UpsertEntity(ctx, rec); err != nil {
			return fmt.Errorf("store: index entity %s: %w", id, err)
		}
	}
	for _, id := range model.SortedIDs(receipts) {
		r := receipts[id]
		rec := ReceiptRecord{
			EntityID:    id,
			TxID:        r.TxID,
			BlockNumber: r.BlockNumber,
			ChainID:     r.ChainID,
			Status:      r.Status,
			RunID:       runID,
			IndexedAt:   now,
		}
		if err := x.UpsertReceipt(ctx, rec); err != nil {
			return fmt.Errorf("store: index receipt %s: %w", id, err)
		}
	}
	return nil
}
