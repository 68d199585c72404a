package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-escrow-gateway/config"
	"crypto-escrow-gateway/internal/adapter/chain"
	httpHandler "crypto-escrow-gateway/internal/adapter/http/handler"
	pgStorage "crypto-escrow-gateway/internal/adapter/storage/postgres"
	redisStorage "crypto-escrow-gateway/internal/adapter/storage/redis"
	"crypto-escrow-gateway/internal/core/ports"
	"crypto-escrow-gateway/internal/metrics"
	"crypto-escrow-gateway/internal/service"
	"crypto-escrow-gateway/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("network", cfg.Chain.Network).
		Int("port", cfg.Server.Port).
		Msg("Starting Crypto Escrow Gateway")

	metrics.Register()

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	addrRepo := pgStorage.NewAddressRepo(pool)
	escrowRepo := pgStorage.NewEscrowRepo(pool)
	confirmRepo := pgStorage.NewConfirmationRepo(pool)
	notifRepo := pgStorage.NewNotificationRepo(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	eventCache := redisStorage.NewEventCache(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	deriver, err := service.NewHDKeyDerivationService(cfg.Chain.Network)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize key derivation service")
	}
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Issuer)
	feeCalc := service.NewFixedRateFeeService(cfg.Escrow.FeeRateBps)
	authorizer := service.NewRoleAuthorizer()

	// Initialize business services
	auditSvc := service.NewAuditService(auditRepo, log)
	notifier := service.NewStorefrontNotifier(notifRepo, sigSvc,
		&http.Client{Timeout: 10 * time.Second}, cfg.Storefront, log)
	allocator := service.NewAddressAllocator(walletRepo, addrRepo, deriver, encSvc, transactor, log)
	escrowSvc := service.NewEscrowService(
		escrowRepo,
		walletRepo,
		confirmRepo,
		allocator,
		feeCalc,
		eventCache,
		authorizer,
		notifier,
		auditSvc,
		transactor,
		cfg.Escrow,
		log,
	)
	walletSvc := service.NewWalletService(walletRepo, deriver, encSvc, transactor, log)
	reportingSvc := service.NewReportingService(escrowRepo, log)

	// Chain observation: poll the provider and feed confirmations into the
	// escrow service. Push callbacks arrive on /api/v1/chain/events.
	chainSource := chain.NewEsploraClient(cfg.Chain, log)
	observer := service.NewChainObserver(
		escrowSvc, escrowRepo, chainSource,
		cfg.Chain.PollInterval, cfg.Escrow.LateFundingGrace, log,
	)
	go observer.Start(ctx)
	defer observer.Stop()

	// Sweeper: expire unfunded escrows and auto-release stale holds.
	sweeper := service.NewSweeper(escrowSvc, cfg.Escrow.SweepInterval, log)
	go sweeper.Start(ctx)
	defer sweeper.Stop()

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		EscrowSvc:      escrowSvc,
		WalletSvc:      walletSvc,
		ReportingSvc:   reportingSvc,
		SigSvc:         sigSvc,
		NonceStore:     nonceStore,
		TokenSvc:       tokenSvc,
		Storefront:     cfg.Storefront,
		WebhookSecret:  cfg.Chain.WebhookSecret,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		AuditSvc:       auditSvc,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
