package ledger

import "fmt"

// ConfirmationTimeoutError reports a transaction that was submitted but not
// confirmed within the configured wait. Per-entity: the batch continues.
type ConfirmationTimeoutError struct {
	EntityID string
	TxID     string
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("confirmation timeout for %s (tx %s)", e.EntityID, e.TxID)
}

// TransactionRevertedError reports a confirmed transaction whose status flag
// signals failure.
type TransactionRevertedError struct {
	EntityID string
	TxID     string
}

func (e *TransactionRevertedError) Error() string {
	return fmt.Sprintf("transaction reverted for %s (tx %s)", e.EntityID, e.TxID)
}

// CommitmentMismatchError reports a confirmed transaction whose on-ledger
// payload does not match what was submitted. This guards against
// ledger-side corruption, eventual-consistency replay, and id collision.
type CommitmentMismatchError struct {
	EntityID string
	TxID     string
	Detail   string
}

func (e *CommitmentMismatchError) Error() string {
	return fmt.Sprintf("on-ledger commitment mismatch for %s (tx %s): %s", e.EntityID, e.TxID, e.Detail)
}

// SubmitError wraps a submission failure for one entity.
type SubmitError struct {
	EntityID string
	Err      error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit failed for %s: %v", e.EntityID, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }
