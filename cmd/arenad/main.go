// Command arenad runs the arena action orchestrator and battle
// resolution scheduler against an external ledger node.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/talgya/arena/internal/actions"
	"github.com/talgya/arena/internal/api"
	"github.com/talgya/arena/internal/config"
	"github.com/talgya/arena/internal/entropy"
	"github.com/talgya/arena/internal/ledger"
	"github.com/talgya/arena/internal/replica"
	"github.com/talgya/arena/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// ── Replica ───────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("failed to create database directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}
	store, err := replica.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open replica database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("replica opened", "path", cfg.DBPath)

	// ── Ledger Gateway ────────────────────────────────────────────────
	gateway := ledger.NewClient(cfg.LedgerURL, ledger.WithTimeout(cfg.LedgerTimeout))
	slog.Info("ledger gateway configured", "url", cfg.LedgerURL, "timeout", cfg.LedgerTimeout)

	// ── Entropy ───────────────────────────────────────────────────────
	rand := entropy.NewClient(cfg.RandomOrgKey)
	if rand != nil {
		slog.Info("random.org entropy enabled")
	} else {
		slog.Info("using crypto/rand entropy")
	}

	// ── Orchestrator ──────────────────────────────────────────────────
	actionCfg := actions.Config{
		MoveBaseCooldown: cfg.MoveBaseCooldown,
		BattleCooldown:   cfg.BattleCooldown,
		AllianceCooldown: cfg.AllianceCooldown,
		IgnoreCooldown:   cfg.IgnoreCooldown,
		BattleDuration:   cfg.BattleDuration,
		InteractionRange: cfg.InteractionRange,
		MapSeed:          cfg.MapSeed,
		GameCacheTTL:     actions.DefaultConfig().GameCacheTTL,
	}
	orch := actions.New(store, gateway, actionCfg)

	// ── Scheduler ─────────────────────────────────────────────────────
	sched := scheduler.New(store, gateway, rand, cfg.ResolveInterval)
	sched.Start()

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("ARENA_ADMIN_KEY not set — scheduler control endpoints disabled")
	}
	apiServer := &api.Server{
		Store:    store,
		Orch:     orch,
		Sched:    sched,
		Port:     cfg.APIPort,
		AdminKey: cfg.AdminKey,
	}
	apiServer.Start()

	// ── Shutdown ──────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("received signal, shutting down", "signal", sig)
	sched.Stop()
}
