// Package ledger anchors certification proofs on an external append-only
// ledger. The ledger itself (consensus, accounts, mining) is an opaque
// collaborator behind the Client interface; this package owns the
// commit-and-verify protocol on top of it.
package ledger

import (
	"context"
	"time"
)

// Transaction is a submission request. Commitments are carried as opaque
// data on a zero-value self-transfer.
type Transaction struct {
	From     string
	To       string
	Value    uint64
	Gas      uint64
	GasPrice uint64
	Nonce    uint64
	Data     []byte
	ChainID  uint64
}

// TxRecord is a transaction as read back from the ledger.
type TxRecord struct {
	TxID        string
	BlockNumber uint64
	Data        []byte
}

// TxReceipt is the confirmation record for a mined transaction.
type TxReceipt struct {
	TxID        string
	BlockNumber uint64
	GasUsed     uint64
	// Succeeded is the ledger status flag: true for an executed
	// transaction, false for a reverted one.
	Succeeded bool
}

// Client is the narrow ledger contract the anchor depends on.
type Client interface {
	// ChainID identifies the network.
	ChainID(ctx context.Context) (uint64, error)
	// PendingNonce returns the next sequence number for an account,
	// including transactions not yet mined.
	PendingNonce(ctx context.Context, account string) (uint64, error)
	// GasPrice returns the current suggested gas price.
	GasPrice(ctx context.Context) (uint64, error)
	// Submit sends a transaction and returns its id.
	Submit(ctx context.Context, tx Transaction) (string, error)
	// GetTransaction fetches a transaction by id.
	GetTransaction(ctx context.Context, txID string) (*TxRecord, error)
	// WaitForReceipt blocks until the transaction is mined or the timeout
	// elapses.
	WaitForReceipt(ctx context.Context, txID string, timeout time.Duration) (*TxReceipt, error)
	// Ping checks ledger reachability.
	Ping(ctx context.Context) error
}
