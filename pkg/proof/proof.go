// Package proof produces signed, hash-committed snapshots of an entity's
// certified fact subgraph. A proof is self-verifying: its embedded data must
// hash to its own content hash, and its signature must recover to its
// embedded signer address.
package proof

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/agrotrust/certkernel/pkg/canonical"
	"github.com/agrotrust/certkernel/pkg/crypto"
	"github.com/agrotrust/certkernel/pkg/factstore"
	"github.com/agrotrust/certkernel/pkg/merkle"
	"github.com/agrotrust/certkernel/pkg/model"
)

// TypeOrganicCertification tags proofs produced by this pipeline.
const TypeOrganicCertification = "ORGANIC_CERTIFICATION"

// Proof binds an entity's serialized fact subgraph to a content hash, a
// regulation tag, and optionally a recoverable signature.
type Proof struct {
	EntityID    string            `json:"entity_id"`
	Timestamp   string            `json:"timestamp"`
	ContentHash string            `json:"content_hash"`
	MerkleRoot  string            `json:"merkle_root"`
	Regulation  string            `json:"regulation"`
	ProofType   string            `json:"proof_type"`
	Data        string            `json:"data"`
	Signature   *crypto.Signature `json:"signature,omitempty"`
}

// IntegrityError reports a proof whose embedded data does not hash to its
// own content hash. This is a defect, never an expected runtime condition.
type IntegrityError struct {
	EntityID string
	Want     string
	Got      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("proof integrity violation for %s: content hash %s, recomputed %s", e.EntityID, e.Want, e.Got)
}

// Verify recomputes the content hash from the embedded data.
func (p *Proof) Verify() error {
	got := canonical.HashBytes([]byte(p.Data))
	if got != p.ContentHash {
		return &IntegrityError{EntityID: p.EntityID, Want: p.ContentHash, Got: got}
	}
	return nil
}

// SigningBody returns the canonical bytes a signature covers: the proof with
// its signature field cleared, JCS-encoded.
func (p *Proof) SigningBody() ([]byte, error) {
	body := *p
	body.Signature = nil
	return canonical.Marshal(&body)
}

// VerifySignature checks the embedded signature, if any.
func (p *Proof) VerifySignature() error {
	if p.Signature == nil {
		return nil
	}
	body, err := p.SigningBody()
	if err != nil {
		return err
	}
	return crypto.VerifySignature(body, p.Signature)
}

// SignatureRecord is one entry of the combined signatures index.
type SignatureRecord struct {
	ContentHash string            `json:"content_hash"`
	Timestamp   string            `json:"timestamp"`
	Signature   *crypto.Signature `json:"signature,omitempty"`
}

// SignaturesIndex maps entity id to its signature record.
type SignaturesIndex map[string]SignatureRecord

// Generator builds proofs. A nil signer is valid: proofs are then emitted
// unsigned.
type Generator struct {
	signer     crypto.Signer
	regulation string
	clock      func() time.Time
	logger     *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the proof timestamp source for tests.
func WithClock(clock func() time.Time) Option {
	return func(g *Generator) { g.clock = clock }
}

// WithLogger sets the generator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// NewGenerator builds a proof generator.
func NewGenerator(signer crypto.Signer, regulation string, opts ...Option) *Generator {
	g := &Generator{
		signer:     signer,
		regulation: regulation,
		clock:      time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds and self-verifies a proof for one entity.
func (g *Generator) Generate(entity *model.Entity) (*Proof, error) {
	lines := SubgraphLines(entity)
	data := strings.Join(lines, "\n") + "\n"

	p := &Proof{
		EntityID:    entity.ID,
		Timestamp:   g.clock().UTC().Format(time.RFC3339),
		ContentHash: canonical.HashBytes([]byte(data)),
		MerkleRoot:  merkle.Build(lines).Root,
		Regulation:  g.regulation,
		ProofType:   TypeOrganicCertification,
		Data:        data,
	}

	if g.signer != nil {
		if err := g.sign(p); err != nil {
			// Degraded mode: a bad key must not abort the batch.
			g.logger.Warn("proof signing failed, emitting unsigned proof", "entity", entity.ID, "err", err)
			p.Signature = nil
		}
	}

	if err := p.Verify(); err != nil {
		return nil, err
	}
	return p, nil
}

func (g *Generator) sign(p *Proof) error {
	body, err := p.SigningBody()
	if err != nil {
		return err
	}
	sig, err := g.signer.Sign(body)
	if err != nil {
		return err
	}
	p.Signature = sig
	return nil
}

// GenerateAll builds proofs for every entity with a settled verdict,
// continuing past individual failures. It returns only verified proofs plus
// the combined signatures index. Pending entities are skipped: they have no
// certification state worth committing.
func (g *Generator) GenerateAll(entities map[string]*model.Entity) (map[string]*Proof, SignaturesIndex) {
	proofs := make(map[string]*Proof)
	index := make(SignaturesIndex)

	for _, id := range model.SortedIDs(entities) {
		entity := entities[id]
		if entity.Verdict.Status == model.StatusPending {
			continue
		}
		p, err := g.Generate(entity)
		if err != nil {
			g.logger.Error("proof generation failed", "entity", id, "err", err)
			continue
		}
		proofs[id] = p
		index[id] = SignatureRecord{
			ContentHash: p.ContentHash,
			Timestamp:   p.Timestamp,
			Signature:   p.Signature,
		}
	}
	return proofs, index
}

// SubgraphLines renders the entity's owned facts as sorted canonical triple
// lines. Sorting by the rendered line realizes the subject, predicate,
// object total order.
func SubgraphLines(entity *model.Entity) []string {
	triples := factstore.EntitySubgraph(entity)
	lines := make([]string, len(triples))
	for i, t := range triples {
		lines[i] = t.Line()
	}
	sort.Strings(lines)
	return lines
}
