package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/agrotrust/certkernel/pkg/artifacts"
	"github.com/agrotrust/certkernel/pkg/classify"
	"github.com/agrotrust/certkernel/pkg/config"
	"github.com/agrotrust/certkernel/pkg/crypto"
	"github.com/agrotrust/certkernel/pkg/factstore"
	"github.com/agrotrust/certkernel/pkg/ingest"
	"github.com/agrotrust/certkernel/pkg/ledger"
	"github.com/agrotrust/certkernel/pkg/model"
	"github.com/agrotrust/certkernel/pkg/observability"
	"github.com/agrotrust/certkernel/pkg/pipeline"
	"github.com/agrotrust/certkernel/pkg/policy"
	"github.com/agrotrust/certkernel/pkg/proof"
	"github.com/agrotrust/certkernel/pkg/report"
	"github.com/agrotrust/certkernel/pkg/search"
	"github.com/agrotrust/certkernel/pkg/store"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "run":
		return runPipeline(args[2:], stdout, stderr, true)
	case "prove":
		return runPipeline(args[2:], stdout, stderr, false)
	case "ingest":
		return runIngest(args[2:], stdout, stderr)
	case "classify":
		return runClassify(args[2:], stdout, stderr)
	case "anchor":
		return runAnchor(args[2:], stdout, stderr)
	case "report":
		return runReport(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "certkernel - organic certification pipeline")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  certkernel <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  ingest   Load a sensor feed into the fact store (--input)")
	fmt.Fprintln(w, "  run      Classify, prove and anchor every entity")
	fmt.Fprintln(w, "  classify Classify entities and write verdicts back")
	fmt.Fprintln(w, "  prove    Classify and generate proofs without anchoring")
	fmt.Fprintln(w, "  anchor   Anchor previously generated proofs")
	fmt.Fprintln(w, "  report   Render the summary and detail reports")
	fmt.Fprintln(w, "  verify   Check a proof file's hash and signature (--proof)")
	fmt.Fprintln(w, "  serve    Serve the result index over HTTP")
	fmt.Fprintln(w, "  help     Show this help")
}

// setup is the shared state the subcommands build from configuration.
type setup struct {
	cfg    *config.Config
	logger *slog.Logger
	store  factstore.Store
	table  *policy.Table
}

func newSetup(stderr io.Writer) (*setup, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	table := policy.Default()
	if cfg.PolicyFile != "" {
		table, err = policy.Load(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
	}

	fs := factstore.NewSPARQLStore(factstore.SPARQLConfig{
		BaseURL:  cfg.FusekiURL,
		Dataset:  cfg.FusekiDataset,
		User:     cfg.FusekiUser,
		Password: cfg.FusekiPassword,
	}, logger)

	return &setup{cfg: cfg, logger: logger, store: fs, table: table}, nil
}

func openIndex(ctx context.Context, cfg *config.Config) (*store.Index, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	driver := "sqlite"
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	idx := store.NewIndex(db)
	if err := idx.Init(ctx); err != nil {
		return nil, fmt.Errorf("init index database: %w", err)
	}
	return idx, nil
}

func runIngest(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", "", "sensor feed JSON file (defaults to stdin)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	s, err := newSetup(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var feed io.Reader = os.Stdin
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer func() { _ = f.Close() }()
		feed = f
	}

	n, err := ingest.NewIngestor(s.store, s.table, s.logger).Run(context.Background(), feed)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Loaded %d readings\n", n)
	return 0
}

func runPipeline(args []string, stdout, stderr io.Writer, anchor bool) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	s, err := newSetup(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "certkernel",
		OTLPEndpoint: s.cfg.OTLPEndpoint,
		Enabled:      s.cfg.OTLPEndpoint != "",
		Insecure:     true,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	var signer crypto.Signer
	if s.cfg.PrivateKey != "" {
		sk, err := crypto.NewSignerFromHex(s.cfg.PrivateKey)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		signer = sk
	}

	opts := pipeline.Options{Logger: s.logger}
	if anchor {
		client := ledger.NewRPCClient(ledger.RPCConfig{URL: s.cfg.LedgerRPCURL}, s.logger)
		opts.Anchor = ledger.NewAnchor(client, ledger.Config{
			Account:        s.cfg.LedgerAccount,
			GasLimit:       s.cfg.GasLimit,
			ConfirmTimeout: s.cfg.ConfirmTimeout,
		}, s.logger)
		opts.LedgerPing = client.Ping
	}

	idx, err := openIndex(ctx, s.cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if idx != nil {
		opts.Index = idx
	}

	engine := classify.New(s.table, s.cfg.Regulation, classify.WithLogger(s.logger))
	gen := proof.NewGenerator(signer, s.cfg.Regulation, proof.WithLogger(s.logger))
	runner := pipeline.NewRunner(s.store, engine, gen, artifacts.NewWriter(s.cfg.OutputDir), s.cfg.Regulation, opts)

	ctx, finish := obs.TrackStage(ctx, "run")
	summary, err := runner.Run(ctx)
	finish(err)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Run %s: %d entities, %d certified, %d rejected, %d pending, %d anchored\n",
		summary.RunID, summary.Entities, summary.Certified, summary.Rejected, summary.Pending, summary.Anchored)
	if len(summary.Failed) > 0 {
		for id, ferr := range summary.Failed {
			_, _ = fmt.Fprintf(stderr, "Anchor failed for %s: %v\n", id, ferr)
		}
		return 1
	}
	return 0
}

func runClassify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	s, err := newSetup(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	entities, err := factstore.Snapshot(ctx, s.store, s.logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	engine := classify.New(s.table, s.cfg.Regulation, classify.WithLogger(s.logger))
	classify.Apply(entities, engine.Classify(entities))
	if err := factstore.WriteVerdicts(ctx, s.store, entities); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var certified, rejected, pending int
	for _, e := range entities {
		switch e.Verdict.Status {
		case model.StatusCertified:
			certified++
		case model.StatusRejected:
			rejected++
		default:
			pending++
		}
	}
	_, _ = fmt.Fprintf(stdout, "Classified %d entities: %d certified, %d rejected, %d pending\n",
		len(entities), certified, rejected, pending)
	return 0
}

func runAnchor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("anchor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	s, err := newSetup(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	writer := artifacts.NewWriter(s.cfg.OutputDir)
	proofs, err := writer.ReadProofs()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(proofs) == 0 {
		_, _ = fmt.Fprintln(stderr, "No proofs found; run prove first")
		return 1
	}

	client := ledger.NewRPCClient(ledger.RPCConfig{URL: s.cfg.LedgerRPCURL}, s.logger)
	anchorer := ledger.NewAnchor(client, ledger.Config{
		Account:        s.cfg.LedgerAccount,
		GasLimit:       s.cfg.GasLimit,
		ConfirmTimeout: s.cfg.ConfirmTimeout,
	}, s.logger)

	receipts, failures, err := anchorer.CommitAll(ctx, proofs)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := writer.WriteReceipts(receipts, failures); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Anchored %d of %d proofs\n", len(receipts), len(proofs))
	for id, ferr := range failures {
		_, _ = fmt.Fprintf(stderr, "Anchor failed for %s: %v\n", id, ferr)
	}
	if len(failures) > 0 {
		return 1
	}
	return 0
}

func runReport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	s, err := newSetup(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	entities, err := factstore.Snapshot(ctx, s.store, s.logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	summary := report.Build(uuid.NewString(), time.Now().UTC(), s.cfg.Regulation, entities, 0, 0)
	if err := artifacts.NewWriter(s.cfg.OutputDir).WriteReport(summary, entities); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := summary.WriteJSON(stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("proof", "", "proof JSON file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		_, _ = fmt.Fprintln(stderr, "Usage: certkernel verify --proof <file>")
		return 2
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var p proof.Proof
	if err := json.Unmarshal(raw, &p); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := p.Verify(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Integrity check failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Content hash OK (%s)\n", p.ContentHash)

	if p.Signature == nil {
		_, _ = fmt.Fprintln(stdout, "Proof is unsigned")
		return 0
	}
	if err := p.VerifySignature(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Signature check failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Signature OK (signer %s)\n", p.Signature.SignerAddress)
	return 0
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logger := observability.NewLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.DatabaseURL == "" {
		_, _ = fmt.Fprintln(stderr, "Error: DATABASE_URL is required for serve")
		return 1
	}
	idx, err := openIndex(context.Background(), cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	srv := search.NewServer(idx, logger)
	addr := ":" + cfg.Port
	_, _ = fmt.Fprintf(stdout, "Listening on %s\n", addr)
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
