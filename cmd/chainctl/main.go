package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vinetrace/vine-ledger/internal/adapter"
	"github.com/vinetrace/vine-ledger/internal/config"
	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/ledger"
	"github.com/vinetrace/vine-ledger/internal/logger"
	"github.com/vinetrace/vine-ledger/internal/store"
)

const usage = `Usage: chainctl [flags] <command>

Commands:
  create-chain  -block <id> [-company <id>] -season <s> [-season-type calendar|harvest] -actor <a>
  archive       -block <id> -season <s> -actor <a> [-reason <r>]
  verify        -chain <id>
  trace         -fruit <id>
  summary       -block <id>
`

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	config.ChdirRepoRoot()
	cfg, err := config.LoadChainctlConfig(*configFile, *envPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "chainctl",
		},
	})
	if err != nil {
		fail("Failed to initialize logger: %v", err)
	}
	defer logger.Flush(2 * time.Second)

	db, err := store.OpenDB(cfg.Database.DSN(), "")
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	dataStore := store.NewPGStore(db)
	clock := adapter.NewClock()
	manager := ledger.NewManager(dataStore, clock)
	verifier := ledger.NewVerifier(dataStore)
	tracer := ledger.NewTracer(dataStore, verifier)

	ctx := context.Background()
	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "create-chain":
		runCreateChain(ctx, manager, args)
	case "archive":
		runArchive(ctx, manager, args)
	case "verify":
		runVerify(ctx, verifier, args)
	case "trace":
		runTrace(ctx, tracer, args)
	case "summary":
		runSummary(ctx, tracer, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		flag.Usage()
		os.Exit(2)
	}
}

func runCreateChain(ctx context.Context, manager ledger.Manager, args []string) {
	fs := flag.NewFlagSet("create-chain", flag.ExitOnError)
	block := fs.String("block", "", "Vineyard block ID")
	company := fs.String("company", "", "Owning company ID (optional)")
	season := fs.String("season", "", "Season identifier")
	seasonType := fs.String("season-type", string(domain.SeasonTypeCalendar), "Season type (calendar or harvest)")
	actor := fs.String("actor", "", "Actor recorded as chain creator")
	_ = fs.Parse(args)

	if *block == "" || *season == "" || *actor == "" {
		fail("create-chain requires -block, -season, and -actor")
	}

	input := ledger.CreateChainInput{
		BlockID:    *block,
		Season:     *season,
		SeasonType: domain.SeasonType(*seasonType),
		Actor:      *actor,
		Origin:     domain.ChainOriginManual,
	}
	if *company != "" {
		input.CompanyID = company
	}

	chain, err := manager.CreateChainForBlock(ctx, input)
	if err != nil {
		fail("create-chain failed: %v", err)
	}
	printJSON(chain)
}

func runArchive(ctx context.Context, manager ledger.Manager, args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	block := fs.String("block", "", "Vineyard block ID")
	season := fs.String("season", "", "Season identifier")
	actor := fs.String("actor", "", "Actor recorded as archiver")
	reason := fs.String("reason", "season ended", "Archive reason")
	_ = fs.Parse(args)

	if *block == "" || *season == "" || *actor == "" {
		fail("archive requires -block, -season, and -actor")
	}

	chain, err := manager.ArchiveChainForSeason(ctx, *block, *season, *actor, *reason)
	if err != nil {
		fail("archive failed: %v", err)
	}
	printJSON(chain)
}

func runVerify(ctx context.Context, verifier ledger.Verifier, args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	chainID := fs.String("chain", "", "Chain ID to verify")
	_ = fs.Parse(args)

	if *chainID == "" {
		fail("verify requires -chain")
	}

	result, err := verifier.VerifyChainIntegrity(ctx, *chainID)
	if err != nil {
		fail("verify failed: %v", err)
	}
	printJSON(result)
	if !result.Valid {
		os.Exit(1)
	}
}

func runTrace(ctx context.Context, tracer ledger.Tracer, args []string) {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	fruitID := fs.String("fruit", "", "Fruit batch ID to trace")
	_ = fs.Parse(args)

	if *fruitID == "" {
		fail("trace requires -fruit")
	}

	trace, err := tracer.GetProvenanceTrace(ctx, *fruitID)
	if err != nil {
		fail("trace failed: %v", err)
	}
	printJSON(trace)
}

func runSummary(ctx context.Context, tracer ledger.Tracer, args []string) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	block := fs.String("block", "", "Vineyard block ID")
	_ = fs.Parse(args)

	if *block == "" {
		fail("summary requires -block")
	}

	summary, err := tracer.GetChainByBlock(ctx, *block)
	if err != nil {
		fail("summary failed: %v", err)
	}
	printJSON(summary)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail("failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
