package main

import (
	"bytes"
	"context"
	_ "embed"
	"log/slog"
	"os"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/gl"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sequences"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

//go:embed fixture.yaml
var defaultFixture []byte

func main() {
	if app.SkipStartup("seed") {
		return
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	raw := defaultFixture
	if len(os.Args) > 1 {
		if raw, err = os.ReadFile(os.Args[1]); err != nil {
			logger.Error("read fixture", slog.Any("error", err))
			os.Exit(1)
		}
	}
	fixture, err := LoadFixture(bytes.NewReader(raw))
	if err != nil {
		logger.Error("load fixture", slog.Any("error", err))
		os.Exit(1)
	}

	if err := db.RunMigrations(cfg.PGDSN); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	directory := accounts.NewDirectory(accounts.NewRepository(pool))
	gate := periods.NewGate(periods.NewRepository(pool), fixture.StartMonth, logger)
	engine := gl.NewEngine(gl.Dependencies{
		Repo:        gl.NewRepository(pool, cfg.LedgerScale),
		Sequences:   sequences.NewAllocator(),
		Periods:     gate,
		Accounts:    directory,
		Balances:    balances.NewReader(pool, directory, cfg.LedgerScale),
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Logger:      logger,
		Scale:       cfg.LedgerScale,
	})

	started := time.Now()
	sum, err := Apply(ctx, fixture, cfg.LedgerScale, directory, gate, engine)
	if err != nil {
		logger.Error("seed ledger", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seed complete",
		slog.String("tenant", fixture.Tenant),
		slog.Int("accounts", sum.Accounts),
		slog.Int("periods", sum.Periods),
		slog.Int("posted", sum.Posted),
		slog.Int("skipped_periods", sum.SkippedPeriods),
		slog.Int("skipped_transactions", sum.SkippedTxns),
		slog.Duration("duration", time.Since(started)),
	)
}
