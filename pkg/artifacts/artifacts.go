// Package artifacts persists the run outputs: per-entity proof files, the
// combined signatures index, and the receipt indexes. Documents are
// key-ordered JSON and overwritten per run, so a rerun fully replaces the
// previous state.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agrotrust/certkernel/pkg/ledger"
	"github.com/agrotrust/certkernel/pkg/model"
	"github.com/agrotrust/certkernel/pkg/proof"
	"github.com/agrotrust/certkernel/pkg/report"
)

const (
	proofsDir   = "proofs"
	receiptsDir = "receipts"
	reportsDir  = "reports"
)

// Writer writes run artifacts under a root directory.
type Writer struct {
	root string
}

// NewWriter builds a writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{root: dir}
}

// WriteProofs persists one JSON file per proof plus the combined signatures
// index.
func (w *Writer) WriteProofs(proofs map[string]*proof.Proof, index proof.SignaturesIndex) error {
	dir := filepath.Join(w.root, proofsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}
	for _, id := range model.SortedIDs(proofs) {
		path := filepath.Join(dir, id+"_proof.json")
		if err := writeJSON(path, proofs[id]); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(dir, "signatures.json"), index)
}

// ReadProofs loads every per-entity proof file from a previous run.
func (w *Writer) ReadProofs() (map[string]*proof.Proof, error) {
	paths, err := filepath.Glob(filepath.Join(w.root, proofsDir, "*_proof.json"))
	if err != nil {
		return nil, fmt.Errorf("artifacts: %w", err)
	}
	proofs := make(map[string]*proof.Proof, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("artifacts: %w", err)
		}
		var p proof.Proof
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("artifacts: decode %s: %w", filepath.Base(path), err)
		}
		proofs[p.EntityID] = &p
	}
	return proofs, nil
}

// ReadSignatures loads a previously written signatures index.
func (w *Writer) ReadSignatures() (proof.SignaturesIndex, error) {
	raw, err := os.ReadFile(filepath.Join(w.root, proofsDir, "signatures.json"))
	if err != nil {
		return nil, fmt.Errorf("artifacts: %w", err)
	}
	var index proof.SignaturesIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("artifacts: decode signatures: %w", err)
	}
	return index, nil
}

// failureRecord is how a per-entity commit failure round-trips to disk.
type failureRecord struct {
	Error string `json:"error"`
}

// WriteReceipts persists per-entity receipt files and the combined index.
// Failed entities appear in the combined index with their error string, so
// the accounting never silently drops an entity.
func (w *Writer) WriteReceipts(receipts map[string]*ledger.Receipt, failures map[string]error) error {
	dir := filepath.Join(w.root, receiptsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}
	for _, id := range model.SortedIDs(receipts) {
		path := filepath.Join(dir, id+"_receipt.json")
		if err := writeJSON(path, receipts[id]); err != nil {
			return err
		}
	}

	combined := make(map[string]any, len(receipts)+len(failures))
	for id, r := range receipts {
		combined[id] = r
	}
	for id, err := range failures {
		combined[id] = failureRecord{Error: err.Error()}
	}
	return writeJSON(filepath.Join(dir, "all_receipts.json"), combined)
}

// WriteReport persists the run summary as JSON and the sample detail table
// as CSV.
func (w *Writer) WriteReport(summary report.Summary, entities map[string]*model.Entity) error {
	dir := filepath.Join(w.root, reportsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}

	jf, err := os.Create(filepath.Join(dir, "summary.json"))
	if err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}
	defer func() { _ = jf.Close() }()
	if err := summary.WriteJSON(jf); err != nil {
		return err
	}

	cf, err := os.Create(filepath.Join(dir, "details.csv"))
	if err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}
	defer func() { _ = cf.Close() }()
	return report.WriteCSV(cf, entities)
}

func writeJSON(path string, v any) error {
	// encoding/json sorts map keys, which gives the key-ordered documents
	// the artifact contract asks for.
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: encode %s: %w", filepath.Base(path), err)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("artifacts: write %s: %w", filepath.Base(path), err)
	}
	return nil
}
