// Command polis runs a generative society simulation: a cast of
// LLM-played roles negotiates and acts over a shared world ledger for
// a fixed number of ticks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/polis/internal/config"
	"github.com/talgya/polis/internal/engine"
	"github.com/talgya/polis/internal/persistence"
	"github.com/talgya/polis/internal/provider"
	"github.com/talgya/polis/internal/runlog"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (defaults apply when empty)")
		ticks      = flag.Int("ticks", 0, "override tick count")
		seed       = flag.Int64("seed", 0, "override event seed")
		prompt     = flag.String("prompt", "a medieval river kingdom under fiscal strain", "scenario prompt for the world bootstrap")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *ticks > 0 {
		cfg.Ticks = *ticks
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// ── Run directory + history log ───────────────────────────────────
	runDir := filepath.Join(cfg.RunDir, time.Now().UTC().Format("20060102-150405"))
	history, err := runlog.NewWriter(runDir)
	if err != nil {
		slog.Error("failed to open history log", "error", err)
		os.Exit(1)
	}
	defer history.Close()
	slog.Info("run directory ready", "dir", runDir)

	// ── Decision provider ─────────────────────────────────────────────
	var source engine.Source
	apiKey := os.Getenv(cfg.Provider.APIKeyEnv)
	client := provider.NewClient(apiKey, cfg.Provider.Model,
		cfg.Provider.CallTimeout(), cfg.Provider.MaxPerMinute)
	if client != nil {
		source = client
		slog.Info("decision provider enabled", "model", cfg.Provider.Model)
	} else {
		slog.Warn("api key not set, running the built-in scenario without a provider",
			"env", cfg.Provider.APIKeyEnv)
	}

	// ── Run ───────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, source, db, history)
	if err := eng.Setup(ctx, *prompt); err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Running %d ticks, seed %d. (Ctrl+C stops at the next tick barrier.)\n\n",
		cfg.Ticks, cfg.Seed)

	runErr := eng.Run(ctx)
	if runErr != nil {
		slog.Error("run ended early", "error", runErr)
	}

	report, narrative, err := eng.Finalize(ctx)
	if err != nil {
		slog.Error("finalize failed", "error", err)
	}

	fmt.Printf("\nRun complete: %s ticks recorded.\n", humanize.Comma(int64(report.Ticks)))
	for _, v := range report.Variables {
		fmt.Printf("  %-28s %s -> %s (volatility %.4f)\n",
			v.Variable, humanize.Ftoa(v.First), humanize.Ftoa(v.Last), v.Volatility)
	}
	if len(report.FloorBreaches) > 0 {
		fmt.Printf("  %d guardrail floor breaches from exogenous events.\n", len(report.FloorBreaches))
	}
	if narrative != "" {
		fmt.Printf("\n%s\n", narrative)
	}

	if runErr != nil {
		os.Exit(1)
	}
}
