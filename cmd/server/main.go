package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/featureflags"
	"github.com/aryan0dhankhar/fleetdesk/internal/handler"
	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/events"
	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/fleetdesk/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/fleetdesk/internal/observability/tracing"
	"github.com/aryan0dhankhar/fleetdesk/internal/reliability/retry"
	"github.com/aryan0dhankhar/fleetdesk/internal/repository"
	"github.com/aryan0dhankhar/fleetdesk/internal/security"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/audit"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/auth"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/ratelimit"
	"github.com/aryan0dhankhar/fleetdesk/internal/service"
	"github.com/aryan0dhankhar/fleetdesk/internal/worker"
	"github.com/aryan0dhankhar/fleetdesk/pkg/cache"
	"github.com/aryan0dhankhar/fleetdesk/pkg/config"
	"github.com/aryan0dhankhar/fleetdesk/pkg/database"
)

type eventBus interface {
	domain.EventBus
	Close() error
}

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting fleetdesk server", slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, log, "fleetdesk", cfg.Environment)
	if err != nil {
		log.Warn("tracing disabled", slog.String("error", err.Error()))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// 3. Postgres: identities, tenants, memberships, claims
	pool, err := retry.Do(ctx, retry.StartupConfig(), log, "connect postgres", func(ctx context.Context) (*database.ConnectionPool, error) {
		return database.NewConnectionPool(ctx, &database.Config{URL: cfg.DatabaseURL}, log)
	})
	if err != nil {
		log.Error("failed to connect to Postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Redis: tenant-scoped records and order timelines
	redisClient, err := retry.Do(ctx, retry.StartupConfig(), log, "connect redis", func(context.Context) (*redis.Client, error) {
		return redis.NewClient(cfg.RedisURL, log)
	})
	if err != nil {
		log.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()

	// 5. Event bus
	readiness := map[string]handler.Pinger{
		"postgres": handler.PingFunc(pool.Health),
		"redis":    redisClient,
	}
	var bus eventBus
	if cfg.NATSURL != "" {
		natsBus, err := events.ConnectNATS(cfg.NATSURL, log)
		if err != nil {
			log.Error("failed to connect to NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		readiness["nats"] = natsBus
		bus = natsBus
	} else {
		log.Info("NATS_URL not set, using in-process event bus")
		bus = events.NewLocalBus(log)
	}
	defer bus.Close()

	// 6. Repositories
	db := pool.GetDB()
	users := repository.NewPostgresUserRepository(db, log)
	tenants := repository.NewPostgresTenantRepository(db, log)
	claimsStore := repository.NewPostgresClaimsStore(db, log)

	claimsCache, err := cache.New(cfg.ClaimsCacheMaxBytes)
	if err != nil {
		log.Error("failed to create claims cache", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer claimsCache.Close()
	cachedClaims := repository.NewCachedClaimsStore(claimsStore, claimsCache, time.Duration(cfg.ClaimsCacheTTLSeconds)*time.Second, log)

	recordStore := redis.NewRecordStore(redisClient)
	orderRepo := repository.NewOrderRepository(recordStore, log)
	recordRepo := repository.NewRecordRepository(recordStore, log)

	// 7. Services
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, time.Duration(cfg.TokenTTLMinutes)*time.Minute)
	authz := security.NewAuthorizationService(log)
	auditLog := audit.NewLogger(log)
	flags := featureflags.Env{}

	memberRole, err := domain.ParseRole(cfg.DefaultMemberRole)
	if err != nil {
		log.Error("invalid DEFAULT_MEMBER_ROLE", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Force-refresh must read the authoritative claims, never the cache.
	identity := service.NewIdentityService(users, claimsStore, tokens, log)
	provisioning := service.NewProvisioningService(service.ProvisioningDeps{
		Claims:      cachedClaims,
		Tenants:     tenants,
		Memberships: tenants,
		Users:       users,
		Bus:         bus,
		Flags:       flags,
		Authz:       authz,
		Audit:       auditLog,
	}, service.ProvisioningPolicy{
		DefaultTenantID:   cfg.DefaultTenantID,
		DefaultMemberRole: memberRole,
	}, log)
	orders := service.NewOrderService(orderRepo, bus, auditLog, log)
	records := service.NewRecordService(recordRepo, log)
	tenantSvc := service.NewTenantService(tenants, tenants, recordRepo, flags, log)

	limiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, cfg.RateLimitPerMinute/10+1)
	provisionLimiter := ratelimit.NewLimiter(cfg.ProvisionRateLimitPerMinute, 3)

	// 8. HTTP routes
	router := handler.NewRouter(handler.RouterDeps{
		Identity:         identity,
		Provisioning:     provisioning,
		Orders:           orders,
		Records:          records,
		Tenants:          tenantSvc,
		Memberships:      tenants,
		Bus:              bus,
		Authz:            authz,
		Audit:            auditLog,
		Limiter:          limiter,
		ProvisionLimiter: provisionLimiter,
		Readiness:        readiness,
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		Logger:           log,
	})

	// 9. Consistency worker
	consistencyWorker := worker.NewConsistencyWorker(
		tenants,
		orders,
		log,
		time.Duration(cfg.ConsistencyIntervalMinutes)*time.Minute,
	)
	go consistencyWorker.Start(ctx)

	// 10. Start HTTP server
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:     otelhttp.NewHandler(router, "fleetdesk"),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /ws/events connections are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("auth", "jwt"),
		slog.Int("rate_limit", cfg.RateLimitPerMinute),
		slog.String("default_tenant", cfg.DefaultTenantID),
		slog.Bool("nats", cfg.NATSURL != ""),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
			sigChan <- syscall.SIGTERM
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel() // Stop consistency worker
	limiter.Stop()
	provisionLimiter.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}
