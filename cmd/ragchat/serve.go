package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liliang-cn/ragchat/internal/alert"
	"github.com/liliang-cn/ragchat/internal/api"
	"github.com/liliang-cn/ragchat/internal/background"
	"github.com/liliang-cn/ragchat/internal/config"
	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/liliang-cn/ragchat/internal/llm"
	"github.com/liliang-cn/ragchat/internal/metrics"
	"github.com/liliang-cn/ragchat/internal/ratelimit"
	"github.com/liliang-cn/ragchat/internal/repository"
	"github.com/liliang-cn/ragchat/internal/repository/badgerstore"
	"github.com/liliang-cn/ragchat/internal/retrieval"
	"github.com/liliang-cn/ragchat/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// conversationStore is what the chat and admin services need from a store
type conversationStore interface {
	service.RecordStore
	service.RecordReader
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	var site *domain.SitePolicy
	if err := cfg.Validate(); err != nil {
		logger.Error("Site configuration invalid, chat requests will fail", zap.Error(err))
	} else {
		site = cfg.SitePolicy()
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	runner, err := background.NewRunner(cfg.Background.PoolSize, logger.Named("background"))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	streamMetrics := metrics.NewStreamMetrics(reg)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	retriever, err := retrieval.NewWeaviateRetriever(cfg.Weaviate.Host, cfg.Weaviate.Scheme, cfg.Weaviate.ContentField, logger.Named("retrieval"))
	if err != nil {
		return err
	}
	retriever.WithTimeout(cfg.Weaviate.Timeout)

	chains, err := llm.NewRegistryFromConfig(cfg.LLM, logger.Named("llm"))
	if err != nil {
		return err
	}
	titles := llm.NewTitleGenerator(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.TitleModel, logger.Named("title"))

	classifier := service.NewErrorClassifier(newNotifier(cfg, redisClient, logger), runner, streamMetrics, logger.Named("classifier"))
	persistence := service.NewPersistenceCoordinator(store, titles, runner, classifier, streamMetrics, service.PersistenceOptions{
		Retries:      cfg.Persistence.Retries,
		RetryBase:    cfg.Persistence.RetryBase,
		TitleTimeout: cfg.Persistence.TitleTimeout,
	}, logger.Named("persistence"))

	orchestrator := service.NewOrchestrator(retriever, persistence, classifier, streamMetrics, cfg.Server.KeepAliveInterval, logger.Named("chat"))
	comparison := service.NewComparisonOrchestrator(retriever, classifier, streamMetrics, cfg.Comparison.Timeout, cfg.Server.KeepAliveInterval, logger.Named("comparison"))

	chatService := service.NewChatService(site, chains, newLimiter(cfg, redisClient, logger), orchestrator, comparison, logger)
	adminService := service.NewAdminService(store, cfg.Site.ID)

	// Setup router
	router := api.SetupRouter(chatService, adminService, api.RouterConfig{
		APIKey:       cfg.Admin.APIKey,
		AllowOrigins: cfg.Site.AllowedOrigins,
		Gatherer:     reg,
	}, logger.Named("http"))

	// Streams stay open for the whole answer, so there is no write timeout
	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ragchat server",
			zap.String("address", cfg.Address()),
			zap.String("base_url", cfg.Server.BaseURL),
			zap.String("site_id", cfg.Site.ID),
			zap.Strings("models", chains.Names()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Let in-flight persistence and alerts finish
	runner.Wait()
	runner.Close()

	logger.Info("Server exited")
	return nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (conversationStore, func(), error) {
	switch cfg.Store.Driver {
	case "badger":
		s, err := badgerstore.Open(cfg.Store.BadgerPath, logger.Named("badger"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		return s, func() { s.Close() }, nil
	default:
		db, err := repository.NewDB(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return repository.NewConversationRepository(db), func() { db.Close() }, nil
	}
}

func newLimiter(cfg *config.Config, client *redis.Client, logger *zap.Logger) service.RateLimiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	limiters := ratelimit.Chain{ratelimit.NewIPLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)}
	if client != nil && cfg.RateLimit.DailyQuota > 0 {
		limiters = append(limiters, ratelimit.NewDailyQuota(client, cfg.RateLimit.DailyQuota, logger.Named("quota")))
	}
	return limiters
}

func newNotifier(cfg *config.Config, client *redis.Client, logger *zap.Logger) service.OperatorAlert {
	if !cfg.Alert.Enabled {
		return nil
	}
	if client != nil {
		return alert.NewStreamNotifier(client, cfg.Alert.Stream, cfg.Alert.MaxLen)
	}
	return alert.NewLogNotifier(logger.Named("alert"))
}
