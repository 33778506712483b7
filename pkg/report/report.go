// Package report renders run results as a CSV detail table and a JSON
// summary document.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/agrotrust/certkernel/pkg/model"
)

// Summary is the machine-readable digest of one classification run.
type Summary struct {
	RunID        string            `json:"run_id"`
	GeneratedAt  time.Time         `json:"generated_at"`
	Regulation   string            `json:"regulation"`
	Entities     int               `json:"entities"`
	Certified    int               `json:"certified"`
	Rejected     int               `json:"rejected"`
	Pending      int               `json:"pending"`
	Anchored     int               `json:"anchored"`
	AnchorFailed int               `json:"anchor_failed"`
	Substances   []string          `json:"substances_detected"`
	StatusByFarm map[string]string `json:"status_by_farm"`
}

// Build computes a summary from classified entities.
func Build(runID string, now time.Time, regulation string, entities map[string]*model.Entity, anchored, anchorFailed int) Summary {
	s := Summary{
		RunID:        runID,
		GeneratedAt:  now.UTC(),
		Regulation:   regulation,
		Entities:     len(entities),
		Anchored:     anchored,
		AnchorFailed: anchorFailed,
		StatusByFarm: make(map[string]string, len(entities)),
	}
	seen := make(map[string]bool)
	for _, id := range model.SortedIDs(entities) {
		e := entities[id]
		s.StatusByFarm[id] = string(e.Verdict.Status)
		switch e.Verdict.Status {
		case model.StatusCertified:
			s.Certified++
		case model.StatusRejected:
			s.Rejected++
		default:
			s.Pending++
		}
		for _, sample := range e.Samples {
			if sample.Substance != "" && !seen[sample.Substance] {
				seen[sample.Substance] = true
				s.Substances = append(s.Substances, sample.Substance)
			}
		}
	}
	sort.Strings(s.Substances)
	return s
}

// WriteJSON renders the summary with sorted keys and a trailing newline.
func (s Summary) WriteJSON(w io.Writer) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("report: encode summary: %w", err)
	}
	raw = append(raw, '\n')
	_, err = w.Write(raw)
	return err
}

var csvHeader = []string{"farm", "sample", "substance", "concentration", "verdict", "reasons"}

// WriteCSV renders one row per sample, plus a header. Farms without samples
// still get a row so the detail table covers every entity.
func WriteCSV(w io.Writer, entities map[string]*model.Entity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	for _, id := range model.SortedIDs(entities) {
		e := entities[id]
		verdict := string(e.Verdict.Status)
		reasons := strings.Join(e.Verdict.Reasons, "; ")
		if !e.HasSamples() {
			if err := cw.Write([]string{id, "", "", "", verdict, reasons}); err != nil {
				return fmt.Errorf("report: write row: %w", err)
			}
			continue
		}
		for _, s := range e.Samples {
			row := []string{
				id,
				s.ID,
				s.Substance,
				model.FormatConcentration(s.Concentration),
				verdict,
				reasons,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("report: write row: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: flush: %w", err)
	}
	return nil
}
