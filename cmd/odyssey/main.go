package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/gl"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/integrity"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sequences"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-ledger/internal/audit/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.SkipStartup("odyssey") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.MigrationsAuto {
		if err := db.RunMigrations(cfg.PGDSN); err != nil {
			logger.Error("run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if err := integrity.ReconcileTransactionTypes(ctx, dbpool); err != nil {
		logger.Error("reconcile transaction types", slog.Any("error", err))
		os.Exit(1)
	}

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	reversalDate, err := gl.ParseReversalDate(cfg.LedgerReversalDate)
	if err != nil {
		logger.Error("reversal date policy", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	directory := accounts.NewDirectory(accounts.NewRepository(dbpool))
	gate := periods.NewGate(periods.NewRepository(dbpool), cfg.LedgerFiscalYearStartMonth, logger)
	reader := balances.NewReader(dbpool, directory, cfg.LedgerScale)
	cachedReader := balances.NewCachedReader(reader, redisClient, cfg.LedgerCacheTTL, logger).WithRecorder(metrics)

	engine := gl.NewEngine(gl.Dependencies{
		Repo:         gl.NewRepository(dbpool, cfg.LedgerScale),
		Sequences:    sequences.NewAllocator(),
		Periods:      gate,
		Accounts:     directory,
		Balances:     cachedReader,
		Audit:        shared.NewAuditLogger(dbpool),
		Idempotency:  shared.NewIdempotencyStore(dbpool),
		Cache:        cachedReader,
		Metrics:      metrics,
		Logger:       logger,
		Scale:        cfg.LedgerScale,
		ReversalDate: reversalDate,
	})
	reportService := reports.NewService(cachedReader, directory, cfg.LedgerScale)

	if len(os.Args) > 1 && cli.IsCommand(os.Args[1]) {
		ledger, err := cli.NewLedgerCLI(reportService)
		if err != nil {
			logger.Error("init cli", slog.Any("error", err))
			os.Exit(1)
		}
		code := cli.Run(ctx, os.Args[1:], cli.Env{Ledger: ledger, RedisAddr: cfg.RedisAddr})
		stop()
		dbpool.Close()
		os.Exit(code)
	}

	redisOpts, err := cache.QueueOptions(cfg.RedisAddr)
	if err != nil {
		logger.Error("queue options", slog.Any("error", err))
		os.Exit(1)
	}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("job inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		LedgerHandler:  gl.NewHandler(logger, engine),
		PeriodHandler:  periods.NewHandler(logger, gate),
		AccountHandler: accounts.NewHandler(logger, directory),
		ReportHandler:  reports.NewHandler(logger, reportService),
		AuditHandler:   audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))).WithExportLimit(cfg.AuditExportPerMinute),
		JobHandler:     jobs.NewHandler(inspector, jobClient, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Int("ledger_scale", int(cfg.LedgerScale)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
