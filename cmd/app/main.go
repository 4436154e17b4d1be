package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hapshi-bot/internal/ali"
	"hapshi-bot/internal/cache"
	"hapshi-bot/internal/chat"
	"hapshi-bot/internal/config"
	"hapshi-bot/internal/greenapi"
	"hapshi-bot/internal/httpserver"
	"hapshi-bot/internal/links"
	"hapshi-bot/internal/logging"
	"hapshi-bot/internal/metrics"
	"hapshi-bot/internal/money"
	"hapshi-bot/internal/pipeline"
	"hapshi-bot/internal/rank"
	"hapshi-bot/internal/reply"
	"hapshi-bot/internal/wa"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting hapshi-bot", "env", cfg.AppEnv, "gateway", cfg.GatewayDriver)
	if len(cfg.AllowChatIDs) == 0 {
		logger.Warn("ALLOW_CHAT_ID is empty, the bot will not answer anyone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var (
		searchCache ali.Cache
		deduper     pipeline.Deduper
	)
	if cfg.RedisAddr != "" {
		redisClient := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
			Prefix:   "hapshi:",
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		searchCache = redisClient
		deduper = redisClient
	}

	aliClient := ali.New(ali.Config{
		BaseURL:        cfg.AliAPIURL,
		AppKey:         cfg.AliAppKey,
		AppSecret:      cfg.AliAppSecret,
		TrackingID:     cfg.AliTrackingID,
		SignMethod:     cfg.AliSignMethod,
		Currency:       cfg.AliCurrency,
		Language:       cfg.AliLanguage,
		PageSize:       cfg.AliPageSize,
		Timeout:        cfg.AliTimeout,
		MaxAttempts:    cfg.AliMaxAttempts,
		RetryBaseDelay: cfg.AliRetryBaseDelay,
		CacheTTL:       cfg.SearchCacheTTL,
	}, logger, metricRegistry, searchCache)

	resolver := links.New(aliClient, links.Config{}, logger, metricRegistry)
	formatter := reply.New(money.Converter{Code: cfg.AliCurrency, Rate: cfg.ExchangeRate}, reply.HebrewTexts, language.Hebrew)

	var (
		messenger chat.Messenger
		waClient  *wa.Client
	)
	switch cfg.GatewayDriver {
	case config.DriverWhatsmeow:
		waClient, err = wa.New(ctx, wa.Config{
			StorePath:    cfg.WhatsAppStorePath,
			LogLevel:     cfg.WhatsAppLogLevel,
			MediaTimeout: cfg.GreenMediaTimeout,
			Metrics:      metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()
		messenger = waClient
	default:
		messenger = greenapi.New(greenapi.Config{
			BaseURL:      cfg.GreenAPIBaseURL,
			InstanceID:   cfg.GreenAPIID,
			Token:        cfg.GreenAPIToken,
			TextTimeout:  cfg.GreenTextTimeout,
			MediaTimeout: cfg.GreenMediaTimeout,
		}, logger, metricRegistry)
	}

	// Runs outlive the signal context so in-flight searches can finish.
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	pipe := pipeline.New(runCtx, pipeline.Config{
		AllowChatIDs:  cfg.AllowChatIDs,
		ResultCount:   cfg.ResultCount,
		MaxConcurrent: cfg.MaxConcurrentSearches,
		QueueWait:     cfg.SearchQueueWait,
		DedupeTTL:     cfg.DedupeTTL,
	}, pipeline.Deps{
		Messenger: messenger,
		Searcher:  aliClient,
		Resolver:  resolver,
		Ranker:    rank.New(rank.DefaultWeights),
		Formatter: formatter,
		Deduper:   deduper,
	}, logger, metricRegistry)

	var webhook http.Handler
	if waClient != nil {
		waClient.SetDispatcher(pipe)
		go func() {
			if err := waClient.Start(ctx); err != nil {
				logger.Error("whatsapp client stopped", "error", err)
				stop()
			}
		}()
	} else {
		webhook = greenapi.NewWebhookHandler(logger, metricRegistry, cfg.GreenWebhookToken, pipe)
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		Webhook: webhook,
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := pipe.WaitContext(shutdownCtx); err != nil {
		logger.Warn("pipeline runs still in flight at shutdown", "error", err)
	}

	return nil
}
