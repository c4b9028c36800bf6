package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	cacheadapter "github.com/viralforge/cashback-activation-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/cashback-activation-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/cashback-activation-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/cashback-activation-service/internal/adapters/http"
	"github.com/viralforge/cashback-activation-service/internal/adapters/memory"
	"github.com/viralforge/cashback-activation-service/internal/adapters/metrics"
	payoutadapter "github.com/viralforge/cashback-activation-service/internal/adapters/payout"
	"github.com/viralforge/cashback-activation-service/internal/adapters/postgres"
	"github.com/viralforge/cashback-activation-service/internal/adapters/security"
	"github.com/viralforge/cashback-activation-service/internal/application"
	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

type Runtime struct {
	cfg       Config
	logger    *slog.Logger
	service   *application.Service
	metrics   *metrics.Prometheus
	webhook   *security.HMACAuthenticator
	clicks    *eventadapter.AsyncClickRecorder
	payouts   *eventadapter.PayoutQueue
	outbox    *eventadapter.LedgerRelay
	sweeper   *eventadapter.MaintenanceWorker
	db        *gorm.DB
	redis     *redis.Client
	cleanupFn func(context.Context)
}

type repositorySet struct {
	users       ports.UserRepository
	activations ports.ActivationRepository
	clicks      ports.ClickRepository
	settlements ports.SettlementRepository
	payouts     ports.PayoutRepository
	outbox      ports.OutboxRepository
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping cashback activation service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"store_driver", cfg.StoreDriver,
	)
	if insecure := cfg.InsecureDefaults(); len(insecure) > 0 {
		logger.Warn("using development secrets; never run like this in production", "secrets", insecure)
	}

	var closers []func()
	cleanup := func(context.Context) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Runtime, error) {
		cleanup(ctx)
		return nil, err
	}

	rt := &Runtime{cfg: cfg, logger: logger, metrics: metrics.NewPrometheus()}

	var repos repositorySet
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fail(fmt.Errorf("gorm sql db: %w", err))
		}
		closers = append(closers, func() { _ = sqlDB.Close() })
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return fail(fmt.Errorf("run migrations: %w", err))
		}
		pg := postgres.NewRepositories(db)
		repos = repositorySet{pg.Users, pg.Activations, pg.Clicks, pg.Settlements, pg.Payouts, pg.Outbox}
		rt.db = db
	default:
		logger.Warn("using in-memory store; state is lost on restart")
		mem := memory.NewRepositories(memory.NewStore())
		repos = repositorySet{mem.Users, mem.Activations, mem.Clicks, mem.Settlements, mem.Payouts, mem.Outbox}
	}

	var limiter ports.RateLimiter = memory.NewSlidingWindowLimiter()
	var admission ports.AdmissionControl = memory.NewAdmissionSwitch(false)
	if cfg.RedisURL != "" {
		client, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		limiter = cacheadapter.NewRedisRateLimiter(client)
		admission = cacheadapter.NewRedisAdmissionControl(client)
		rt.redis = client
	} else {
		logger.Warn("redis not configured; rate limits and the admission pause are process-local")
	}

	var publisher ports.EventPublisher = eventadapter.NewLoggingPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fail(fmt.Errorf("init kafka publisher: %w", err))
		}
		closers = append(closers, func() { _ = kafka.Close() })
		publisher = kafka
	}

	authenticator, err := security.NewHMACAuthenticator(cfg.HMACSecret, cfg.SignatureWindow)
	if err != nil {
		return fail(fmt.Errorf("init request authenticator: %w", err))
	}
	tokens, err := security.NewRedirectTokenSigner(cfg.JWTSecret, cfg.RedirectTTL)
	if err != nil {
		return fail(fmt.Errorf("init redirect token signer: %w", err))
	}
	rt.webhook, err = security.NewHMACAuthenticator(cfg.WebhookSecret, cfg.SignatureWindow)
	if err != nil {
		return fail(fmt.Errorf("init webhook verifier: %w", err))
	}

	simOpts := []payoutadapter.SimulatedOption{
		payoutadapter.WithFailingIdentifiers(cfg.SimulatedFailingIDs...),
		payoutadapter.WithMaxAmount(cfg.SimulatedMaxAmount),
		payoutadapter.WithLatency(cfg.SimulatedLatency),
	}
	executor := payoutadapter.NewRouter(map[domain.PayoutMethod]ports.PayoutExecutor{
		domain.PayoutMethodEsewa:  payoutadapter.NewSimulatedExecutor("esewa", simOpts...),
		domain.PayoutMethodKhalti: payoutadapter.NewSimulatedExecutor("khalti", simOpts...),
	})

	rt.clicks = eventadapter.NewAsyncClickRecorder(logger, repos.clicks, cfg.ClickBuffer)
	rt.payouts = eventadapter.NewPayoutQueue(logger, cfg.PayoutQueueBuffer, cfg.PayoutWorkers)

	appCfg := application.DefaultConfig()
	appCfg.ServiceName = cfg.ServiceID
	appCfg.RedirectBaseURL = cfg.RedirectBaseURL
	appCfg.ProductBaseURL = cfg.ProductBaseURL
	appCfg.ProductHosts = cfg.ProductHosts
	appCfg.AffiliateCode = cfg.AffiliateCode
	appCfg.AffiliateSource = cfg.AffiliateSource
	appCfg.DedupWindow = cfg.DedupWindow
	appCfg.ActivationTTL = cfg.ActivationTTL
	appCfg.RedirectTTL = cfg.RedirectTTL
	appCfg.ActivationRateLimit = cfg.ActivationRateLimit
	appCfg.ActivationRateWindow = cfg.ActivationRateWindow
	appCfg.PayoutRateLimit = cfg.PayoutRateLimit
	appCfg.PayoutRateWindow = cfg.PayoutRateWindow
	appCfg.NewUserHold = cfg.NewUserHold
	appCfg.CashbackAmount = cfg.CashbackAmount
	appCfg.CommissionAmount = cfg.CommissionAmount
	appCfg.MinimumPayout = cfg.MinimumPayout
	appCfg.ExecutorTimeout = cfg.ExecutorTimeout
	appCfg.StalePayoutAge = cfg.StalePayoutAge
	appCfg.RetentionPeriod = cfg.RetentionPeriod
	appCfg.MaintenanceBatch = cfg.MaintenanceBatch

	rt.service = application.NewService(application.Dependencies{
		Config:        appCfg,
		Users:         repos.users,
		Activations:   repos.activations,
		Settlements:   repos.settlements,
		Payouts:       repos.payouts,
		Outbox:        repos.outbox,
		Clicks:        repos.clicks,
		ClickRecorder: rt.clicks,
		RateLimiter:   limiter,
		Admission:     admission,
		Authenticator: authenticator,
		Tokens:        tokens,
		Executor:      executor,
		Dispatcher:    rt.payouts,
		Metrics:       rt.metrics,
	})

	rt.outbox = eventadapter.NewLedgerRelay(logger, repos.outbox, publisher, eventadapter.RelayOptions{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		LeaseTTL:     cfg.OutboxClaimTTL,
		MaxAttempts:  cfg.OutboxMaxRetries,
	})
	rt.sweeper = eventadapter.NewMaintenanceWorker(logger, rt.service, cfg.MaintenanceInterval)
	rt.cleanupFn = cleanup
	return rt, nil
}

// ready pings every configured backing store.
func (r *Runtime) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if r.redis != nil {
		if err := r.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// RunAPI serves HTTP and gRPC and drives the click recorder and payout queue.
// With the memory store the outbox relay and maintenance sweep run in-process,
// since no separate worker can see the same state.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := httpadapter.NewHandler(r.service, httpadapter.Options{
		Webhook:        r.webhook,
		Metrics:        r.metrics,
		MetricsHandler: r.metrics.Handler(),
		Ready:          r.ready,
		TrustedProxies: r.cfg.TrustedProxies,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", r.cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(r.metrics.UnaryServerInterceptor()))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewCashbackInternalServer(r.service))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(ctx)
		return fmt.Errorf("listen gRPC: %w", err)
	}

	bgCtx, cancelBackground := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	r.runBackground(bgCtx, &wg, "click_recorder", r.clicks.Run)
	r.runBackground(bgCtx, &wg, "payout_queue", func(ctx context.Context) error {
		return r.payouts.Run(ctx, r.service.ProcessPayout)
	})
	r.runBackground(bgCtx, &wg, "db_stats", r.recordDBStats)
	if r.cfg.StoreDriver == StoreDriverMemory {
		r.runBackground(bgCtx, &wg, "ledger_relay", r.outbox.Run)
		r.runBackground(bgCtx, &wg, "maintenance_worker", r.sweeper.Run)
	}

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	cancelBackground()
	wg.Wait()
	r.cleanupFn(shutdownCtx)
	return runErr
}

// RunWorker relays the outbox and runs the maintenance sweep.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	r.logger.Info("outbox and maintenance workers started")
	r.runBackground(ctx, &wg, "ledger_relay", r.outbox.Run)
	r.runBackground(ctx, &wg, "maintenance_worker", r.sweeper.Run)
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}

func (r *Runtime) runBackground(ctx context.Context, wg *sync.WaitGroup, name string, run func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("background task stopped",
				"operation", name,
				"outcome", "failure",
				"error", err,
			)
		}
	}()
}

func (r *Runtime) recordDBStats(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	ticker := time.NewTicker(r.cfg.DBStatsInterval)
	defer ticker.Stop()
	for {
		r.metrics.RecordDBPoolStats(sqlDB.Stats())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
