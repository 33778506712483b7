package proof

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrotrust/certkernel/pkg/canonical"
	"github.com/agrotrust/certkernel/pkg/crypto"
	"github.com/agrotrust/certkernel/pkg/model"
)

var testClock = func() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func certifiedEntity(id string) *model.Entity {
	return &model.Entity{
		ID:       id,
		Category: "Vegetables",
		Samples:  []model.Sample{{ID: "Sample_" + id + "_1", Substance: "Sulfur", Concentration: 0.2}},
		Verdict: model.Verdict{
			Status:      model.StatusCertified,
			CertifiedAt: testClock(),
			Regulation:  model.RegulationEU2018848,
		},
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	gen := NewGenerator(nil, model.RegulationEU2018848, WithClock(testClock))
	p, err := gen.Generate(certifiedEntity("FarmY"))
	require.NoError(t, err)

	assert.Equal(t, "FarmY", p.EntityID)
	assert.Equal(t, TypeOrganicCertification, p.ProofType)
	assert.Equal(t, canonical.HashBytes([]byte(p.Data)), p.ContentHash)
	assert.NotEmpty(t, p.MerkleRoot)
	assert.Nil(t, p.Signature)
	assert.NoError(t, p.Verify())
}

func TestSerializationIsDeterministic(t *testing.T) {
	gen := NewGenerator(nil, model.RegulationEU2018848, WithClock(testClock))
	a, err := gen.Generate(certifiedEntity("FarmY"))
	require.NoError(t, err)
	b, err := gen.Generate(certifiedEntity("FarmY"))
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, a.MerkleRoot, b.MerkleRoot)
}

func TestSubgraphLinesAreSorted(t *testing.T) {
	lines := SubgraphLines(certifiedEntity("FarmY"))
	require.NotEmpty(t, lines)
	for i := 1; i < len(lines); i++ {
		assert.LessOrEqual(t, lines[i-1], lines[i])
	}
	assert.Contains(t, lines, ":FarmY a :Product .")
}

func TestTamperedDataFailsVerify(t *testing.T) {
	gen := NewGenerator(nil, model.RegulationEU2018848, WithClock(testClock))
	p, err := gen.Generate(certifiedEntity("FarmY"))
	require.NoError(t, err)

	p.Data = strings.Replace(p.Data, "0.2", "0.3", 1)
	err = p.Verify()
	require.Error(t, err)

	var integrity *IntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, "FarmY", integrity.EntityID)
}

func TestSignedProofRecoversSigner(t *testing.T) {
	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)

	gen := NewGenerator(signer, model.RegulationEU2018848, WithClock(testClock))
	p, err := gen.Generate(certifiedEntity("FarmY"))
	require.NoError(t, err)

	require.NotNil(t, p.Signature)
	assert.Equal(t, signer.Address(), p.Signature.SignerAddress)
	assert.NoError(t, p.VerifySignature())

	body, err := p.SigningBody()
	require.NoError(t, err)
	recovered, err := crypto.RecoverSigner(body, p.Signature)
	require.NoError(t, err)
	assert.True(t, crypto.AddressesEqual(signer.Address(), recovered))
}

type failingSigner struct{}

func (failingSigner) Sign([]byte) (*crypto.Signature, error) {
	return nil, errors.New("hsm unreachable")
}
func (failingSigner) Address() string { return "0x0" }

func TestSigningFailureDegradesToUnsigned(t *testing.T) {
	gen := NewGenerator(failingSigner{}, model.RegulationEU2018848, WithClock(testClock))
	p, err := gen.Generate(certifiedEntity("FarmY"))
	require.NoError(t, err)
	assert.Nil(t, p.Signature)
	assert.NoError(t, p.Verify())
}

func TestGenerateAllSkipsPendingAndBuildsIndex(t *testing.T) {
	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)
	gen := NewGenerator(signer, model.RegulationEU2018848, WithClock(testClock))

	entities := map[string]*model.Entity{
		"FarmY":     certifiedEntity("FarmY"),
		"FarmX": {
			ID:      "FarmX",
			Samples: []model.Sample{{ID: "s1", Substance: "DDT", Concentration: 0.5}},
			Verdict: model.Verdict{Status: model.StatusRejected, Reasons: []string{"contains prohibited substance: DDT"}},
		},
		"FarmEmpty": {ID: "FarmEmpty", Verdict: model.Verdict{Status: model.StatusPending}},
	}

	proofs, index := gen.GenerateAll(entities)
	require.Len(t, proofs, 2)
	assert.NotContains(t, proofs, "FarmEmpty")

	require.Len(t, index, 2)
	rec := index["FarmY"]
	assert.Equal(t, proofs["FarmY"].ContentHash, rec.ContentHash)
	assert.NotNil(t, rec.Signature)
}

func TestRejectedEntityProofCarriesReasons(t *testing.T) {
	gen := NewGenerator(nil, model.RegulationEU2018848, WithClock(testClock))
	p, err := gen.Generate(&model.Entity{
		ID:      "FarmX",
		Samples: []model.Sample{{ID: "s1", Substance: "DDT", Concentration: 0.5}},
		Verdict: model.Verdict{Status: model.StatusRejected, Reasons: []string{"contains prohibited substance: DDT"}},
	})
	require.NoError(t, err)
	assert.Contains(t, p.Data, `:FarmX :hasViolationReason "contains prohibited substance: DDT" .`)
	assert.Contains(t, p.Data, ":FarmX a :NonOrganicFarm .")
}
