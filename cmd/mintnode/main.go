// Command mintnode runs the request-lifecycle node: it ingests generation
// requests over HTTP and the ledger stream, verifies payments, generates
// media, pins it, mints the asset, and delivers the outcome — all backed by
// durable SQLite state so a restart resumes exactly where it stopped.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-mint-node/internal/config"
	"github.com/tbourn/go-mint-node/internal/coordinator"
	"github.com/tbourn/go-mint-node/internal/genai"
	httpapi "github.com/tbourn/go-mint-node/internal/http"
	"github.com/tbourn/go-mint-node/internal/ipfs"
	"github.com/tbourn/go-mint-node/internal/ledger"
	"github.com/tbourn/go-mint-node/internal/messaging"
	"github.com/tbourn/go-mint-node/internal/observability"
	"github.com/tbourn/go-mint-node/internal/repo"
	"github.com/tbourn/go-mint-node/internal/services"
	"github.com/tbourn/go-mint-node/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", cfg.OTEL.ServiceName).Logger()

	// Tracing
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate database failed")
	}

	// External clients
	ledgerClient := ledger.NewHTTPClient(cfg.Ledger.RPCURL, cfg.Ledger.Account, cfg.Ledger.CallTimeout)

	var providers []genai.Provider
	if cfg.Providers.FalKey != "" {
		providers = append(providers, genai.NewFalProvider(cfg.Providers.FalURL, cfg.Providers.FalKey, cfg.Pipeline.GenerateTimeout))
	}
	if cfg.Providers.OpenAIKey != "" {
		providers = append(providers, genai.NewOpenAIProvider(cfg.Providers.OpenAIURL, cfg.Providers.OpenAIKey, cfg.Providers.OpenAIModel, cfg.Pipeline.GenerateTimeout))
	}
	if len(providers) == 0 {
		logger.Fatal().Msg("no generation provider configured (set FAL_KEY and/or OPENAI_KEY)")
	}

	pinner := ipfs.NewHTTPPinner(cfg.IPFS.Endpoint, cfg.IPFS.Token, cfg.IPFS.GroupID, cfg.Pipeline.GenerateTimeout)

	if cfg.Messaging.WebhookURL == "" {
		logger.Warn().Msg("MESSAGING_WEBHOOK_URL is empty; outcome delivery will fail until it is set")
	}
	messenger := messaging.NewWebhookClient(cfg.Messaging.WebhookURL, cfg.Messaging.WebhookToken, 30*time.Second)
	formatter := messaging.NewFormatter(cfg.Messaging.Locale)

	// Pipeline
	queue := coordinator.NewQueue(cfg.Pipeline.QueueSize, logger)

	ingestSvc := services.NewIngestService(db, queue, logger)
	ingestSvc.MaxPromptLen = cfg.Pipeline.MaxPromptLength

	verifySvc := services.NewVerifyService(db, ledgerClient, logger)
	verifySvc.MinAmount = cfg.Ledger.MinAmount
	verifySvc.Window = cfg.Ledger.PayWindow
	verifySvc.Backoff.BaseDelay = cfg.Pipeline.RetryBaseDelay
	verifySvc.Backoff.MaxDelay = cfg.Pipeline.RetryMaxDelay

	generateSvc := services.NewGenerateService(db, providers, pinner, logger)
	generateSvc.Spec.Size = cfg.Providers.ImageSize
	generateSvc.CallTimeout = cfg.Pipeline.GenerateTimeout
	generateSvc.Backoff.BaseDelay = cfg.Pipeline.RetryBaseDelay
	generateSvc.Backoff.MaxDelay = cfg.Pipeline.RetryMaxDelay

	mintSvc := services.NewMintService(db, ledgerClient, logger)
	mintSvc.MaxTotalAttempts = cfg.Pipeline.MintMaxAttempts
	mintSvc.CallTimeout = cfg.Ledger.CallTimeout
	mintSvc.Backoff.BaseDelay = cfg.Pipeline.RetryBaseDelay
	mintSvc.Backoff.MaxDelay = cfg.Pipeline.RetryMaxDelay

	dispatchSvc := services.NewDispatchService(db, messenger, formatter, logger)

	coord := coordinator.NewCoordinator(db, verifySvc, generateSvc, mintSvc, dispatchSvc, logger)
	pool := coordinator.NewPool(queue, coord, cfg.Pipeline.Workers, logger)

	sweeper := coordinator.NewSweeper(db, queue, logger)
	sweeper.Interval = cfg.Pipeline.SweepInterval
	sweeper.Staleness = cfg.Pipeline.Staleness

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pool.Run(ctx) }()
	go func() { defer wg.Done(); sweeper.Run(ctx) }()

	// Optional on-ledger ingest path
	if cfg.Ledger.WSURL != "" {
		watcher := &ledger.Watcher{
			URL:     cfg.Ledger.WSURL,
			Account: cfg.Ledger.Account,
			Handler: func(ctx context.Context, p ledger.StreamPayment) error {
				if !services.IsRequestMemo(p.MemoData) {
					return nil
				}
				_, _, err := ingestSvc.Ingest(ctx, messaging.InboundEvent{
					RequesterIdentity: p.Sender,
					Prompt:            p.MemoData,
					PaymentReference:  p.MemoType,
				})
				return err
			},
			Log: logger,
		}
		wg.Add(1)
		go func() { defer wg.Done(); watcher.Run(ctx) }()
	}

	// HTTP transport
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, ingestSvc, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("mint node listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown failed")
	}
	wg.Wait()
	logger.Info().Msg("stopped")
}
