package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
)

// Metrics holds all Prometheus metrics for the brain pipeline.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	queryDuration   *prometheus.HistogramVec
	agentDuration   *prometheus.HistogramVec
	agentOutcomes   *prometheus.CounterVec
	intentsTotal    *prometheus.CounterVec
	guardrailEvents *prometheus.CounterVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	tokensUsed      *prometheus.CounterVec
	queriesTotal    *prometheus.CounterVec
	llmFallbacks    prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brain_query_duration_seconds",
				Help:    "End-to-end duration of query pipeline runs.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"response_type"},
		),
		agentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brain_agent_duration_seconds",
				Help:    "Duration of individual agent executions.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		agentOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brain_agent_outcomes_total",
				Help: "Agent executions by outcome (handled, skipped, failed).",
			},
			[]string{"agent", "outcome"},
		),
		intentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brain_intents_total",
				Help: "Queries classified per intent.",
			},
			[]string{"intent"},
		),
		guardrailEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brain_guardrail_events_total",
				Help: "Guardrail actions taken (block, transform, warn, flag).",
			},
			[]string{"direction", "action"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brain_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brain_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brain_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brain_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		queriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brain_queries_total",
				Help: "Total queries processed.",
			},
			[]string{"status"},
		),
		llmFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "brain_llm_fallbacks_total",
				Help: "Queries answered with the fallback text because the LLM failed.",
			},
		),
	}
}

// RecordQueryDuration records the end-to-end duration of one query run.
func (m *Metrics) RecordQueryDuration(responseType string, d time.Duration) {
	m.queryDuration.WithLabelValues(responseType).Observe(d.Seconds())
}

// RecordAgentExecution records one agent's execution time and outcome.
func (m *Metrics) RecordAgentExecution(agent, outcome string, d time.Duration) {
	m.agentDuration.WithLabelValues(agent).Observe(d.Seconds())
	m.agentOutcomes.WithLabelValues(agent, outcome).Inc()
}

// IncrIntent increments the per-intent classification counter.
func (m *Metrics) IncrIntent(intent string) {
	m.intentsTotal.WithLabelValues(intent).Inc()
}

// IncrGuardrailEvent counts a guardrail action. Direction is "input" or "output".
func (m *Metrics) IncrGuardrailEvent(direction, action string) {
	m.guardrailEvents.WithLabelValues(direction, action).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrQuery increments the query counter with a status label.
func (m *Metrics) IncrQuery(status string) {
	m.queriesTotal.WithLabelValues(status).Inc()
}

// IncrLLMFallback counts one query that fell back to the canned answer.
func (m *Metrics) IncrLLMFallback() {
	m.llmFallbacks.Inc()
}

// GetPipelineSnapshot returns a snapshot of pipeline metrics suitable for the
// GET /v1/metrics/pipeline endpoint.
func (m *Metrics) GetPipelineSnapshot() *domain.PipelineMetrics {
	// Prometheus counters expose cumulative values.
	promptTokens := getCounterValue(m.tokensUsed, "prompt")
	completionTokens := getCounterValue(m.tokensUsed, "completion")
	totalQueries := getCounterValue(m.queriesTotal, "success") +
		getCounterValue(m.queriesTotal, "error") +
		getCounterValue(m.queriesTotal, "blocked")
	errorCount := getCounterValue(m.queriesTotal, "error")
	blockedCount := getCounterValue(m.guardrailEvents, "input", "block") +
		getCounterValue(m.guardrailEvents, "output", "block")
	fallbacks := getSingleCounterValue(m.llmFallbacks)
	cacheHits := getCounterValue(m.cacheHits, "guardrails") +
		getCounterValue(m.cacheHits, "api_keys")
	cacheMisses := getCounterValue(m.cacheMisses, "guardrails") +
		getCounterValue(m.cacheMisses, "api_keys")

	totalTokens := promptTokens + completionTokens
	avgTokens := float64(0)
	errorRate := float64(0)
	fallbackRate := float64(0)
	cacheHitRate := float64(0)

	if totalQueries > 0 {
		avgTokens = totalTokens / totalQueries
		errorRate = errorCount / totalQueries
		fallbackRate = fallbacks / totalQueries
	}
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	return &domain.PipelineMetrics{
		TotalQueries:        int64(totalQueries),
		ErrorRate:           errorRate,
		FallbackRate:        fallbackRate,
		AvgTokensPerQuery:   avgTokens,
		GuardrailBlockCount: int64(blockedCount),
		CacheHitRate:        cacheHitRate,
		Period:              "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getSingleCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
