package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrotrust/certkernel/pkg/canonical"
	"github.com/agrotrust/certkernel/pkg/model"
	"github.com/agrotrust/certkernel/pkg/proof"
)

// Commitment is the payload anchored on-ledger for one entity.
type Commitment struct {
	EntityID    string `json:"entity_id"`
	ContentHash string `json:"content_hash"`
	Timestamp   string `json:"timestamp"`
	Regulation  string `json:"regulation"`
}

// Encode returns the canonical byte encoding carried as transaction data.
func (c Commitment) Encode() ([]byte, error) {
	return canonical.Marshal(c)
}

// DecodeCommitment parses on-ledger transaction data back into a commitment.
func DecodeCommitment(data []byte) (Commitment, error) {
	var c Commitment
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("ledger: decode commitment: %w", err)
	}
	return c, nil
}

// Receipt is the immutable record of one successfully verified commit.
type Receipt struct {
	EntityID    string     `json:"entity_id"`
	TxID        string     `json:"tx_id"`
	BlockNumber uint64     `json:"block_number"`
	GasUsed     uint64     `json:"gas_used"`
	ChainID     uint64     `json:"chain_id"`
	Commitment  Commitment `json:"certification_data"`
	Status      string     `json:"status"`
}

// StatusConfirmed is the only status a persisted receipt carries; failed
// commits are recorded in the failure map instead.
const StatusConfirmed = "CONFIRMED"

// Anchor commits proofs to the ledger and verifies each commitment by
// reading it back. One anchor serves one account; it owns that account's
// sequence numbers for the duration of a batch.
type Anchor struct {
	client         Client
	account        string
	gasLimit       uint64
	confirmTimeout time.Duration
	logger         *slog.Logger

	chainID     uint64
	nonce       uint64
	noncePrimed bool
}

// Config configures an Anchor.
type Config struct {
	Account        string
	GasLimit       uint64
	ConfirmTimeout time.Duration
}

// NewAnchor builds an anchor over a ledger client.
func NewAnchor(client Client, cfg Config, logger *slog.Logger) *Anchor {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 100000
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Anchor{
		client:         client,
		account:        cfg.Account,
		gasLimit:       cfg.GasLimit,
		confirmTimeout: cfg.ConfirmTimeout,
		logger:         logger,
	}
}

// prime fetches the chain id and the account's pending nonce once per
// batch. The anchor increments the nonce locally afterwards: re-reading it
// between submissions races against unmined transactions and hands two
// submissions the same sequence number.
func (a *Anchor) prime(ctx context.Context) error {
	if a.noncePrimed {
		return nil
	}
	chainID, err := a.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("ledger: chain id: %w", err)
	}
	nonce, err := a.client.PendingNonce(ctx, a.account)
	if err != nil {
		return fmt.Errorf("ledger: pending nonce: %w", err)
	}
	a.chainID = chainID
	a.nonce = nonce
	a.noncePrimed = true
	return nil
}

// Commit anchors one commitment and verifies it on-ledger. Returns a
// confirmed receipt or one of the per-entity error types.
func (a *Anchor) Commit(ctx context.Context, entityID string, c Commitment) (*Receipt, error) {
	if err := a.prime(ctx); err != nil {
		return nil, err
	}

	payload, err := c.Encode()
	if err != nil {
		return nil, &SubmitError{EntityID: entityID, Err: err}
	}

	gasPrice, err := a.client.GasPrice(ctx)
	if err != nil {
		return nil, &SubmitError{EntityID: entityID, Err: err}
	}

	nonce := a.nonce
	txID, err := a.client.Submit(ctx, Transaction{
		From:     a.account,
		To:       a.account,
		Value:    0,
		Gas:      a.gasLimit,
		GasPrice: gasPrice,
		Nonce:    nonce,
		Data:     payload,
		ChainID:  a.chainID,
	})
	if err != nil {
		return nil, &SubmitError{EntityID: entityID, Err: err}
	}
	// The nonce is spent as soon as the ledger accepted the submission,
	// whatever happens to the transaction afterwards.
	a.nonce++

	a.logger.Info("commitment submitted", "entity", entityID, "tx", txID, "nonce", nonce)

	receipt, err := a.client.WaitForReceipt(ctx, txID, a.confirmTimeout)
	if err != nil {
		return nil, &ConfirmationTimeoutError{EntityID: entityID, TxID: txID}
	}
	if !receipt.Succeeded {
		return nil, &TransactionRevertedError{EntityID: entityID, TxID: txID}
	}

	// Verification is distinct from confirmation: read the transaction
	// back and compare the stored payload byte for byte.
	stored, err := a.client.GetTransaction(ctx, txID)
	if err != nil {
		return nil, &CommitmentMismatchError{EntityID: entityID, TxID: txID, Detail: fmt.Sprintf("re-fetch failed: %v", err)}
	}
	if !bytes.Equal(stored.Data, payload) {
		return nil, &CommitmentMismatchError{EntityID: entityID, TxID: txID, Detail: "stored payload differs from submitted payload"}
	}
	onLedger, err := DecodeCommitment(stored.Data)
	if err != nil {
		return nil, &CommitmentMismatchError{EntityID: entityID, TxID: txID, Detail: err.Error()}
	}
	if onLedger != c {
		return nil, &CommitmentMismatchError{EntityID: entityID, TxID: txID, Detail: "decoded commitment differs from submitted commitment"}
	}

	return &Receipt{
		EntityID:    entityID,
		TxID:        txID,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		ChainID:     a.chainID,
		Commitment:  c,
		Status:      StatusConfirmed,
	}, nil
}

// CommitAll anchors every proof, in entity-id order for deterministic nonce
// assignment. Individual failures are collected, never raised; the returned
// error is reserved for setup failures that doom the whole batch.
func (a *Anchor) CommitAll(ctx context.Context, proofs map[string]*proof.Proof) (map[string]*Receipt, map[string]error, error) {
	if err := a.prime(ctx); err != nil {
		return nil, nil, err
	}

	receipts := make(map[string]*Receipt)
	failures := make(map[string]error)

	for _, id := range model.SortedIDs(proofs) {
		p := proofs[id]
		c := Commitment{
			EntityID:    p.EntityID,
			ContentHash: p.ContentHash,
			Timestamp:   p.Timestamp,
			Regulation:  p.Regulation,
		}
		receipt, err := a.Commit(ctx, id, c)
		if err != nil {
			a.logger.Error("commit failed", "entity", id, "err", err)
			failures[id] = err
			continue
		}
		a.logger.Info("commitment confirmed", "entity", id, "tx", receipt.TxID, "block", receipt.BlockNumber)
		receipts[id] = receipt
	}
	return receipts, failures, nil
}
