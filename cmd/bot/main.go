package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/triage-bot/internal/analytics"
	"github.com/xaenox/triage-bot/internal/bot"
	"github.com/xaenox/triage-bot/internal/classifier"
	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/pipeline"
	"github.com/xaenox/triage-bot/internal/ratelimit"
	"github.com/xaenox/triage-bot/internal/retrieval"
	"github.com/xaenox/triage-bot/internal/risk"
	"github.com/xaenox/triage-bot/internal/server"
	"github.com/xaenox/triage-bot/internal/storage"
	"github.com/xaenox/triage-bot/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file, empty for environment only")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Service error", zap.Error(err))
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Initialize storage
	history := storage.NewMemoryStorage(cfg.History.Size)

	var (
		sink        analytics.Sink            = analytics.NewLogSink(logger)
		deadLetters analytics.DeadLetterStore = history
	)
	if cfg.Database.Host != "" {
		logger.Info("Using PostgreSQL analytics storage", zap.String("host", cfg.Database.Host))
		pg, err := storage.NewPostgresStorage(ctx, storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer pg.Close()
		sink, deadLetters = pg, pg
	} else {
		logger.Info("Using log analytics sink")
	}

	memCache := ratelimit.NewCache[models.ClassificationResult](cfg.Cache.TTL, logger)
	var resultCache classifier.ResultCache = classifier.NewMemoryResultCache(memCache)
	cacheStats := memCache.Stats
	if cfg.Redis.URL != "" {
		client, err := storage.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		logger.Info("Using Redis classification cache", zap.String("stream", cfg.Redis.DeadLetterStream))
		resultCache = storage.NewRedisCache(client, cfg.Redis.CachePrefix)
		cacheStats = nil
		deadLetters = storage.NewRedisDeadLetter(client, cfg.Redis.DeadLetterStream, logger)
	} else {
		go memCache.RunSweeper(ctx, cfg.Cache.SweepInterval)
	}

	// Initialize classifiers
	rules := classifier.NewRuleClassifier(logger)
	if err := applyThresholds(rules, cfg.Classifier); err != nil {
		return err
	}

	llm, err := newLLMClassifier(cfg, logger)
	if err != nil {
		return err
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.PerMinute,
		MaxRequestsPerHour:   cfg.RateLimit.PerHour,
		MaxRequestsPerDay:    cfg.RateLimit.PerDay,
	})
	escalator := classifier.NewEscalator(llm, limiter, resultCache, cfg.Cache.TTL, logger)

	retriever, err := newRetriever(cfg.Retrieval, logger)
	if err != nil {
		return err
	}

	risks := risk.NewStore(risk.Options{IdleTTL: cfg.Risk.IdleTTL, MaxUsers: cfg.Risk.MaxUsers}, logger)
	go risks.RunSweeper(ctx, cfg.Risk.SweepInterval)

	processor := analytics.NewProcessor(analytics.Config{
		MaxBatchSize:  cfg.Analytics.MaxBatchSize,
		MaxWait:       cfg.Analytics.MaxWait,
		RetryAttempts: cfg.Analytics.RetryAttempts,
	}, sink, deadLetters, logger)

	p := pipeline.New(pipeline.Deps{
		Rules:           rules,
		Escalator:       escalator,
		Retriever:       retriever,
		Risk:            risks,
		History:         history,
		Analytics:       processor,
		ContextMessages: cfg.History.ContextMessages,
		CacheStats:      cacheStats,
		Logger:          logger,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      server.NewRouter(server.NewHandler(p, logger)),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	botCtx, stopBot := context.WithCancel(ctx)
	defer stopBot()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// botDone closes once the bot has stopped and its handlers returned.
	botDone := make(chan struct{})
	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram.Token, p, logger)
		if err != nil {
			return err
		}
		go func() {
			defer close(botDone)
			if err := b.Start(botCtx); err != nil {
				errCh <- fmt.Errorf("bot: %w", err)
			}
		}()
	} else {
		close(botDone)
		logger.Info("Telegram token not set, bot disabled")
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	shutdown(shutdownCtx, srv, stopBot, botDone, processor, logger)

	logger.Info("Shutdown complete", zap.Any("analytics", processor.Stats()))
	return runErr
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops intake first so the processor drains everything the
// server and the bot queued.
func shutdown(ctx context.Context, srv shutdowner, stopBot func(), botDone <-chan struct{}, processor shutdowner, logger *zap.Logger) {
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	stopBot()
	select {
	case <-botDone:
	case <-ctx.Done():
		logger.Warn("Bot did not stop before the shutdown timeout")
	}
	if err := processor.Shutdown(ctx); err != nil {
		logger.Error("Analytics shutdown error", zap.Error(err))
	}
}

func applyThresholds(rules *classifier.RuleClassifier, cfg config.ClassifierConfig) error {
	if err := rules.AdjustSensitivity(models.CategoryCrisis, cfg.CrisisThreshold); err != nil {
		return err
	}
	for name, th := range cfg.Thresholds {
		cat, err := models.ParseCategory(name)
		if err != nil {
			return fmt.Errorf("classifier.thresholds: %w", err)
		}
		if cat == models.CategoryCrisis && th < classifier.CrisisConfidenceFloor {
			return fmt.Errorf("classifier.thresholds: crisis threshold %.2f below %.2f", th, classifier.CrisisConfidenceFloor)
		}
		if err := rules.AdjustSensitivity(cat, th); err != nil {
			return err
		}
	}
	return nil
}

func newLLMClassifier(cfg *config.Config, logger *zap.Logger) (*classifier.LLMClassifier, error) {
	var reasoner classifier.Reasoner
	switch strings.ToLower(cfg.Reasoner.Provider) {
	case "openai":
		logger.Info("Using OpenAI reasoner", zap.String("model", cfg.OpenAI.Model))
		reasoner = classifier.NewOpenAIReasoner(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Temperature, logger)
	case "http":
		logger.Info("Using HTTP reasoner", zap.String("base_url", cfg.Reasoner.BaseURL))
		reasoner = classifier.NewHTTPReasoner(cfg.Reasoner.BaseURL, cfg.Reasoner.Timeout)
	case "none", "":
		logger.Info("Escalation disabled, ambiguous messages use the fallback classifier")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown reasoner provider %q", cfg.Reasoner.Provider)
	}

	return classifier.NewLLMClassifier(reasoner, classifier.LLMOptions{
		MaxTokens:       cfg.Reasoner.MaxTokens,
		ContextMessages: cfg.History.ContextMessages,
		Timeout:         cfg.Reasoner.Timeout,
	}, logger), nil
}

func newRetriever(cfg config.RetrievalConfig, logger *zap.Logger) (*retrieval.Retriever, error) {
	if cfg.KnowledgeFile == "" {
		entries, err := retrieval.DefaultKnowledge()
		if err != nil {
			return nil, err
		}
		return retrieval.New(entries, logger), nil
	}

	data, err := os.ReadFile(cfg.KnowledgeFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge file: %w", err)
	}
	entries, err := retrieval.LoadKnowledge(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse knowledge file %s: %w", cfg.KnowledgeFile, err)
	}
	logger.Info("Loaded knowledge base", zap.String("path", cfg.KnowledgeFile), zap.Int("entries", len(entries)))
	return retrieval.New(entries, logger), nil
}
