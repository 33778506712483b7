package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrotrust/certkernel/pkg/config"
	"github.com/agrotrust/certkernel/pkg/model"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"FUSEKI_URL", "FUSEKI_DATASET", "FUSEKI_USER", "FUSEKI_PASSWORD",
		"LEDGER_RPC_URL", "LEDGER_ACCOUNT", "PRIVATE_KEY",
		"GAS_LIMIT", "CONFIRM_TIMEOUT_SECONDS",
		"POLICY_FILE", "REGULATION", "OUTPUT_DIR",
		"DATABASE_URL", "PORT", "LOG_LEVEL", "OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3030", cfg.FusekiURL)
	assert.Equal(t, "organic", cfg.FusekiDataset)
	assert.Equal(t, "http://localhost:8545", cfg.LedgerRPCURL)
	assert.Equal(t, uint64(100000), cfg.GasLimit)
	assert.Equal(t, 120*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, model.RegulationEU2018848, cfg.Regulation)
	assert.Equal(t, "output", cfg.OutputDir)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FUSEKI_URL", "http://fuseki:3030")
	t.Setenv("FUSEKI_DATASET", "farm")
	t.Setenv("LEDGER_RPC_URL", "http://chain:8545")
	t.Setenv("LEDGER_ACCOUNT", "0xabc")
	t.Setenv("GAS_LIMIT", "250000")
	t.Setenv("CONFIRM_TIMEOUT_SECONDS", "30")
	t.Setenv("OUTPUT_DIR", "/var/run/certs")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "http://fuseki:3030", cfg.FusekiURL)
	assert.Equal(t, "farm", cfg.FusekiDataset)
	assert.Equal(t, "http://chain:8545", cfg.LedgerRPCURL)
	assert.Equal(t, "0xabc", cfg.LedgerAccount)
	assert.Equal(t, uint64(250000), cfg.GasLimit)
	assert.Equal(t, 30*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, "/var/run/certs", cfg.OutputDir)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_BadNumbers(t *testing.T) {
	t.Setenv("GAS_LIMIT", "lots")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("GAS_LIMIT", "")
	t.Setenv("CONFIRM_TIMEOUT_SECONDS", "-5")
	_, err = config.Load()
	assert.Error(t, err)
}
