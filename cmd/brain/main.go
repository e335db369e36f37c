package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wondrlabs/finsight-brain-go/internal/agent"
	"github.com/wondrlabs/finsight-brain-go/internal/brain"
	"github.com/wondrlabs/finsight-brain-go/internal/config"
	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/handler"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/cache"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/llm"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/observability"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/resilience"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/supabase"
	"github.com/wondrlabs/finsight-brain-go/internal/port"
	"github.com/wondrlabs/finsight-brain-go/internal/reasoning"
	"github.com/wondrlabs/finsight-brain-go/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("use_llm", cfg.UseLLM),
		zap.Bool("guardrails_enabled", cfg.GuardrailsEnabled),
		zap.Duration("query_timeout", cfg.QueryTimeout),
		zap.Duration("agent_timeout", cfg.AgentTimeout),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "finsight-brain")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}
	storeCB := resilience.NewCircuitBreaker("supabase")
	llmCB := resilience.NewLLMCircuitBreaker("llm")

	// --- Data store ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	if cfg.SupabaseURL == "" {
		logger.Fatal("SUPABASE_URL is required: the brain has no data backend without it")
	}
	store := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		storeCB,
		resilienceCfg,
		logger,
	)

	// --- Agents (registration order fixes result order) ---
	agents := []port.Agent{
		agent.NewTransactionsAgent(store, logger),
		agent.NewCustomersAgent(store, logger),
		agent.NewContactsAgent(store, logger),
	}
	router := brain.New(agents, cfg.AgentTimeout, logger, metrics)

	// --- Reasoning ---
	synthesizer := reasoning.New(logger, cfg.DetailCap)

	// --- LLM ---
	var generator port.AnswerGenerator
	if cfg.UseLLM && cfg.LLMAPIKey != "" {
		llmClient := &http.Client{Timeout: cfg.LLMTimeout}
		generator = llm.NewClient(llmClient, cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMMaxTokens, llmCB, resilienceCfg)
		logger.Info("answer generation enabled", zap.String("model", cfg.LLMModel))
	} else {
		logger.Warn("answer generation disabled, serving synthesized digests")
	}

	// --- Guardrails ---
	ruleCache := cache.New[[]domain.GuardrailRule](cfg.GuardrailCacheTTL)
	guardrail := service.NewGuardrail(store, ruleCache, logger, metrics)
	if cfg.GuardrailsEnabled {
		warmCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		if err := guardrail.Warm(warmCtx); err != nil {
			logger.Warn("guardrail warm-up failed, rules load lazily", zap.Error(err))
		}
		cancel()
	}

	// --- Services ---
	querySvc := service.NewQueryService(
		router,
		synthesizer,
		generator,
		guardrail,
		store,
		logger,
		metrics,
		service.QueryServiceConfig{
			QueryTimeout:      cfg.QueryTimeout,
			MaxQueryLength:    cfg.MaxQueryLength,
			UseLLM:            cfg.UseLLM,
			FallbackAnswer:    cfg.DefaultAnswer,
			GuardrailsEnabled: cfg.GuardrailsEnabled,
		},
	)

	keyCache := cache.New[*domain.APIKey](cfg.CacheTTL)
	authSvc := service.NewAuthService(cfg.JWTSecret, store, keyCache, logger, metrics)

	// --- Router ---
	httpRouter := handler.NewRouter(querySvc, authSvc, metrics, logger, handler.RouterConfig{
		RequireAuth:  cfg.RequireAuth,
		APIKeyHeader: cfg.APIKeyHeader,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      httpRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
