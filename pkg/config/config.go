// Package config loads pipeline configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/agrotrust/certkernel/pkg/model"
)

// Config holds the settings for one pipeline run.
type Config struct {
	// Fact store.
	FusekiURL      string
	FusekiDataset  string
	FusekiUser     string
	FusekiPassword string

	// Ledger.
	LedgerRPCURL   string
	LedgerAccount  string
	PrivateKey     string
	GasLimit       uint64
	ConfirmTimeout time.Duration

	// Policy and reporting.
	PolicyFile string
	Regulation string
	OutputDir  string

	// Result index and API.
	DatabaseURL string
	Port        string

	// Ambient.
	LogLevel     string
	OTLPEndpoint string
}

// Load reads configuration from the environment, applying defaults that
// match a local Fuseki plus dev-chain setup.
func Load() (*Config, error) {
	cfg := &Config{
		FusekiURL:      getenv("FUSEKI_URL", "http://localhost:3030"),
		FusekiDataset:  getenv("FUSEKI_DATASET", "organic"),
		FusekiUser:     os.Getenv("FUSEKI_USER"),
		FusekiPassword: os.Getenv("FUSEKI_PASSWORD"),

		LedgerRPCURL:  getenv("LEDGER_RPC_URL", "http://localhost:8545"),
		LedgerAccount: os.Getenv("LEDGER_ACCOUNT"),
		PrivateKey:    os.Getenv("PRIVATE_KEY"),

		PolicyFile: os.Getenv("POLICY_FILE"),
		Regulation: getenv("REGULATION", model.RegulationEU2018848),
		OutputDir:  getenv("OUTPUT_DIR", "output"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		Port:        getenv("PORT", "8080"),

		LogLevel:     getenv("LOG_LEVEL", "info"),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}

	gasLimit, err := parseUint("GAS_LIMIT", 100000)
	if err != nil {
		return nil, err
	}
	cfg.GasLimit = gasLimit

	timeoutSecs, err := parseUint("CONFIRM_TIMEOUT_SECONDS", 120)
	if err != nil {
		return nil, err
	}
	cfg.ConfirmTimeout = time.Duration(timeoutSecs) * time.Second

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseUint(key string, def uint64) (uint64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}
