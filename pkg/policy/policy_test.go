package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	raw := []byte(`
prohibited: [DDT, Atrazine]
limits:
  Sulfur: 0.25
  Pyrethrin: 0.15
`)
	table, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, Rule{Class: ClassProhibited}, table.Lookup("DDT"))
	assert.Equal(t, Rule{Class: ClassAllowed, MaxLevel: 0.25}, table.Lookup("Sulfur"))
	assert.Equal(t, []string{"Atrazine", "DDT", "Pyrethrin", "Sulfur"}, table.Substances())
}

func TestParseRejectsConflicts(t *testing.T) {
	_, err := Parse([]byte("prohibited: [Sulfur]\nlimits:\n  Sulfur: 0.25\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("limits:\n  Sulfur: -0.1\n"))
	assert.Error(t, err)
}

func TestUnknownSubstanceIsProhibited(t *testing.T) {
	table := New(nil, nil)
	assert.False(t, table.Known("Mystery"))
	assert.Equal(t, ClassProhibited, table.Lookup("Mystery").Class)
}

func TestDefaultTable(t *testing.T) {
	table := Default()
	assert.Equal(t, ClassProhibited, table.Lookup("Glyphosate").Class)
	assert.Equal(t, 0.20, table.Lookup("CopperSulfate").MaxLevel)
}
