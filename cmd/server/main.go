package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kevin07696/settlement-service/internal/adapters/bank"
	"github.com/kevin07696/settlement-service/internal/adapters/memory"
	"github.com/kevin07696/settlement-service/internal/adapters/notification"
	"github.com/kevin07696/settlement-service/internal/adapters/postgres"
	"github.com/kevin07696/settlement-service/internal/adapters/secrets"
	"github.com/kevin07696/settlement-service/internal/auth"
	"github.com/kevin07696/settlement-service/internal/config"
	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
	cronHandler "github.com/kevin07696/settlement-service/internal/handlers/cron"
	settlementHandler "github.com/kevin07696/settlement-service/internal/handlers/settlement"
	"github.com/kevin07696/settlement-service/internal/middleware"
	serviceports "github.com/kevin07696/settlement-service/internal/services/ports"
	"github.com/kevin07696/settlement-service/internal/services/settlement"
	httpclient "github.com/kevin07696/settlement-service/pkg/http"
	"github.com/kevin07696/settlement-service/pkg/logging"
	ratelimit "github.com/kevin07696/settlement-service/pkg/middleware"
	"github.com/kevin07696/settlement-service/pkg/observability"
	"github.com/kevin07696/settlement-service/pkg/shutdown"
)

const serviceName = "settlement-service"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logger.Environment, cfg.Logger.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting settlement service",
		zap.String("version", "0.1.0"),
		zap.String("environment", cfg.Logger.Environment),
	)

	ctx := context.Background()

	secretManager := initSecretManager(ctx, cfg, logger)
	resolver := secrets.NewResolver(secretManager, cfg.Secrets.PathPrefix, logger)
	if err := resolver.Resolve(ctx,
		secrets.Ref{Target: &cfg.Bank.APIKey, Name: "bank-api-key", Required: !cfg.Bank.Simulated},
		secrets.Ref{Target: &cfg.Auth.JWTSecret, Name: "jwt-secret"},
		secrets.Ref{Target: &cfg.Auth.CronSecret, Name: "cron-secret"},
	); err != nil {
		logger.Fatal("Failed to resolve secrets", zap.Error(err))
	}

	shutdownMgr := shutdown.NewManager(logger, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)

	var dbPool *pgxpool.Pool
	var repo ports.SettlementRepository
	if cfg.Database.UsesDatabase() {
		dbPool, err = initDatabase(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		shutdownMgr.RegisterNoErr("database", dbPool.Close)
		repo = postgres.NewSettlementRepository(postgres.NewDBExecutor(dbPool))

		logger.Info("Database connection established",
			zap.String("database", cfg.Database.Database),
		)
	} else {
		logger.Warn("DB_HOST not set - using the in-memory settlement store, data is lost on restart")
		repo = memory.NewSettlementRepository()
	}

	serviceLogger := logging.NewZapLogger(logger)
	loc := cfg.Settlement.Location()
	weekEnd, err := settlement.ParseWeekday(cfg.Settlement.WeekEnd)
	if err != nil {
		logger.Fatal("Invalid settlement week end", zap.Error(err))
	}

	ledgerCfg := settlement.DefaultLedgerConfig(cfg.Settlement.Currency)
	ledgerCfg.MaxAttempts = cfg.Settlement.MaxAccumulateTries
	ledger := settlement.NewLedger(repo, serviceLogger, ledgerCfg)

	processorCfg := settlement.DefaultProcessorConfig(cfg.Settlement.Currency, loc)
	processorCfg.WeekEnd = weekEnd
	processorCfg.Workers = cfg.Settlement.Workers
	processorCfg.StatusWriteAttempts = cfg.Settlement.StatusWriteAttempts
	processorCfg.ClaimTTL = time.Duration(cfg.Settlement.ClaimTTLMinutes) * time.Minute
	processorCfg.Timeouts.BankTransfer = time.Duration(cfg.Bank.Timeout) * time.Second
	processorCfg.Timeouts.Notification = time.Duration(cfg.Notification.Timeout) * time.Second

	processor := settlement.NewProcessor(repo, initBankGateway(cfg, logger), initNotifier(cfg, logger), serviceLogger, processorCfg)
	shutdownMgr.Register("notifications", processor.WaitForNotifications)

	batches := shutdown.NewInFlightTracker("settlement-batches", logger)
	shutdownMgr.Register("settlement-batches", batches.Shutdown)
	tracked := &drainingProcessor{next: processor, tracker: batches}

	if cfg.Settlement.SchedulerEnabled {
		schedule, err := settlement.ParseSchedule(cfg.Settlement.ScheduleDay, cfg.Settlement.ScheduleTime, cfg.Settlement.Timezone)
		if err != nil {
			logger.Fatal("Invalid settlement schedule", zap.Error(err))
		}
		scheduler := settlement.NewScheduler(tracked, schedule, cfg.Settlement.CatchUp, serviceLogger)
		worker := shutdown.NewBackgroundWorker(ctx, "settlement-scheduler", logger)
		worker.Start(scheduler.Start)
		shutdownMgr.Register("settlement-scheduler", worker.Shutdown)

		logger.Info("Settlement scheduler enabled",
			zap.String("day", cfg.Settlement.ScheduleDay),
			zap.String("time", cfg.Settlement.ScheduleTime),
			zap.String("timezone", cfg.Settlement.Timezone),
		)
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	router.Use(observability.HTTPMetrics)
	router.Use(middleware.NewSecurityHeaders(cfg.Logger.Environment != "production").Middleware)
	router.Use(chimw.Compress(5))
	if cfg.RateLimit.RPS > 0 {
		limiter := ratelimit.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		router.Use(limiter.Middleware)
		shutdownMgr.RegisterNoErr("rate-limiter", limiter.Shutdown)
	}

	settlementHandler.NewHandler(ledger, tracked, settlementHandler.Config{
		Location: loc,
		Currency: cfg.Settlement.Currency,
		WeekEnd:  weekEnd,
		CatchUp:  cfg.Settlement.CatchUp,
		Timeouts: processorCfg.Timeouts,
	}, logger).RegisterRoutes(router, initAdminAuth(cfg, logger))

	cronHandler.NewSettlementHandler(tracked, cfg.Settlement.CatchUp, logger).
		RegisterRoutes(router, middleware.CronAuth(cfg.Auth.CronSecret, logger))

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()
	shutdownMgr.RegisterHTTPServer("http-server", httpServer)

	healthChecker := observability.NewHealthChecker(dbPool)
	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, logger)
	shutdownMgr.Register("metrics-server", func(ctx context.Context) error {
		return observability.ShutdownMetricsServer(ctx, metricsServer)
	})
	logger.Info("Metrics server listening", zap.Int("port", cfg.Server.MetricsPort))

	if err := shutdownMgr.WaitForShutdown(ctx); err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Debug("Database pool configured",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
	)
	return pool, nil
}

func initBankGateway(cfg *config.Config, logger *zap.Logger) ports.BankTransferGateway {
	if cfg.Bank.Simulated {
		logger.Warn("Using SIMULATED bank gateway - NOT for production use!")
		return bank.NewSimulatedGateway(logger, 50*time.Millisecond)
	}

	timeout := time.Duration(cfg.Bank.Timeout) * time.Second
	bankCfg := bank.DefaultHTTPTransferConfig(cfg.Bank.BaseURL, cfg.Bank.APIKey)
	bankCfg.Timeout = timeout
	bankCfg.MaxRetries = cfg.Bank.MaxRetries
	bankCfg.CircuitBreaker.OnStateChange = func(from, to bank.CircuitState) {
		observability.SetBankCircuitState(int(to))
		logger.Warn("Bank circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	logger.Info("Bank transfer gateway configured",
		zap.String("base_url", cfg.Bank.BaseURL),
		zap.Duration("timeout", timeout),
	)
	return bank.NewHTTPTransferAdapter(bankCfg, httpclient.NewHTTPClient(httpclient.BankClientConfig(), timeout), logger)
}

func initNotifier(cfg *config.Config, logger *zap.Logger) ports.Notifier {
	if cfg.Notification.URL == "" {
		logger.Info("NOTIFICATION_SERVICE_URL not set - settlement notifications disabled")
		return notification.NoopNotifier{}
	}
	timeout := time.Duration(cfg.Notification.Timeout) * time.Second
	client := httpclient.NewHTTPClient(httpclient.NotificationClientConfig(), timeout)
	return notification.NewHTTPNotifier(cfg.Notification.URL, client, logger)
}

// initAdminAuth returns the admin route guard. Without a usable JWT secret the
// admin routes reject every request.
func initAdminAuth(cfg *config.Config, logger *zap.Logger) func(http.Handler) http.Handler {
	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, serviceName)
	if err != nil {
		logger.Warn("JWT secret missing or too short - admin routes are disabled", zap.Error(err))
		return middleware.NewJWTAuth(rejectAll{}, logger).RequireRole(auth.RoleAdmin)
	}
	return middleware.NewJWTAuth(tokens, logger).RequireRole(auth.RoleAdmin)
}

type rejectAll struct{}

func (rejectAll) ValidateToken(string) (*auth.Claims, error) { return nil, auth.ErrInvalidToken }

// drainingProcessor refuses new batches once shutdown has begun and lets
// shutdown wait for the running one.
type drainingProcessor struct {
	next    serviceports.SettlementProcessor
	tracker *shutdown.InFlightTracker
}

func (p *drainingProcessor) ProcessWeek(ctx context.Context, req serviceports.ProcessWeekRequest) (*serviceports.BatchResult, error) {
	if !p.tracker.Add() {
		return nil, domain.ErrShuttingDown
	}
	defer p.tracker.Done()
	return p.next.ProcessWeek(ctx, req)
}
