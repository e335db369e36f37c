// Package service orchestrates the query pipeline: guardrails, routing,
// synthesis, answer generation, and response assembly.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wondrlabs/finsight-brain-go/internal/brain"
	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/observability"
	"github.com/wondrlabs/finsight-brain-go/internal/port"
	"github.com/wondrlabs/finsight-brain-go/internal/reasoning"
)

var tracer = otel.Tracer("service/query")

// noDataAnswer is returned when no agent contributed records. No model is
// invoked on this path.
const noDataAnswer = "I couldn't find any matching records for your query. " +
	"Try rephrasing it or widening the date range."

// blockedAnswer replaces a generated answer the output guardrail rejected.
const blockedAnswer = "I can't share that response. Please rephrase your question."

// QueryService runs the full pipeline for one natural-language query.
type QueryService struct {
	brain       *brain.Brain
	synthesizer *reasoning.Synthesizer
	generator   port.AnswerGenerator
	guardrail   *Guardrail
	history     port.HistoryStore
	logger      *zap.Logger
	metrics     *observability.Metrics

	queryTimeout      time.Duration
	maxQueryLength    int
	useLLM            bool
	fallbackAnswer    string
	guardrailsEnabled bool
	now               func() time.Time
}

// QueryServiceConfig carries the pipeline knobs.
type QueryServiceConfig struct {
	QueryTimeout      time.Duration
	MaxQueryLength    int
	UseLLM            bool
	FallbackAnswer    string // prepended to the digest when the model fails
	GuardrailsEnabled bool
}

// NewQueryService wires the pipeline components together.
func NewQueryService(
	b *brain.Brain,
	synthesizer *reasoning.Synthesizer,
	generator port.AnswerGenerator,
	guardrail *Guardrail,
	history port.HistoryStore,
	logger *zap.Logger,
	metrics *observability.Metrics,
	cfg QueryServiceConfig,
) *QueryService {
	return &QueryService{
		brain:             b,
		synthesizer:       synthesizer,
		generator:         generator,
		guardrail:         guardrail,
		history:           history,
		logger:            logger,
		metrics:           metrics,
		queryTimeout:      cfg.QueryTimeout,
		maxQueryLength:    cfg.MaxQueryLength,
		useLLM:            cfg.UseLLM,
		fallbackAnswer:    cfg.FallbackAnswer,
		guardrailsEnabled: cfg.GuardrailsEnabled,
		now:               time.Now,
	}
}

// ExecuteQuery runs the pipeline end to end. Only malformed input,
// guardrail blocks, and synthesis defects surface as errors; every other
// failure degrades into a still-valid envelope.
func (s *QueryService) ExecuteQuery(ctx context.Context, req *domain.QueryRequest) (*domain.ResponseEnvelope, error) {
	ctx, span := tracer.Start(ctx, "QueryService.ExecuteQuery")
	defer span.End()
	span.SetAttributes(attribute.String("query.cif", req.CIF))

	start := s.now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, &domain.ErrValidation{Field: "query", Message: "query must not be empty"}
	}
	if s.maxQueryLength > 0 && len(req.Query) > s.maxQueryLength {
		return nil, &domain.ErrValidation{
			Field:   "query",
			Message: fmt.Sprintf("query exceeds %d characters", s.maxQueryLength),
		}
	}
	if strings.TrimSpace(req.CIF) == "" {
		return nil, &domain.ErrValidation{Field: "cif", Message: "cif is required"}
	}

	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	queryText := req.Query
	var status *domain.GuardrailStatus

	if s.guardrailsApply(req) {
		in := s.guardrail.CheckInput(ctx, queryText)
		s.metrics.IncrGuardrailEvent("input", in.Action)
		status = &domain.GuardrailStatus{
			Action:     in.Action,
			Severity:   in.Severity,
			Violations: in.Violations,
			Failed:     in.Failed,
		}
		switch in.Action {
		case "block":
			s.metrics.IncrQuery("blocked")
			return nil, &domain.ErrGuardrailBlocked{
				RuleName: strings.Join(in.Violations, ","),
				Severity: in.Severity,
			}
		case "transform":
			queryText = in.Text
		}
	}

	parsed := brain.Parse(queryText, req.CIF, s.now())
	results := s.brain.Route(ctx, parsed)

	sc, err := s.synthesizer.Synthesize(parsed, results)
	if err != nil {
		s.metrics.IncrQuery("error")
		return nil, fmt.Errorf("synthesize results: %w", err)
	}

	answer, model, tokens := s.generateAnswer(ctx, queryText, sc)

	if s.guardrailsApply(req) && !sc.NoData {
		out := s.guardrail.CheckOutput(ctx, answer)
		s.metrics.IncrGuardrailEvent("output", out.Action)
		status = mergeGuardrailStatus(status, out)
		switch out.Action {
		case "block":
			answer = blockedAnswer
		case "transform":
			answer = out.Text
		}
	}

	envelope := &domain.ResponseEnvelope{
		Query:           req.Query,
		CIF:             req.CIF,
		Answer:          answer,
		Citations:       citations(results),
		Transactions:    sc.Transactions,
		LatencyMS:       s.now().Sub(start).Milliseconds(),
		ModelUsed:       model,
		GuardrailStatus: status,
		AgentActivity:   agentActivity(results),
		ResponseType:    sc.ResponseType,
		DataSources:     sc.DataSources,
	}

	s.metrics.IncrQuery("success")
	s.metrics.RecordQueryDuration(string(sc.ResponseType), s.now().Sub(start))
	s.logger.Info("query complete",
		zap.String("cif", req.CIF),
		zap.String("response_type", string(sc.ResponseType)),
		zap.String("model", model),
		zap.Int64("latency_ms", envelope.LatencyMS),
		zap.Strings("data_sources", sc.DataSources),
	)

	s.logHistory(envelope, tokens)
	return envelope, nil
}

// generateAnswer produces the answer text, degrading gracefully: no data
// skips the model entirely; a provider failure falls back to the
// synthesized digest.
func (s *QueryService) generateAnswer(ctx context.Context, query string, sc *domain.SynthesizedContext) (answer, model string, tokens int) {
	if sc.NoData {
		return noDataAnswer, "none", 0
	}
	if !s.useLLM || s.generator == nil {
		return sc.MergedText, "none", 0
	}

	gen, err := s.generator.Generate(ctx, query, sc)
	if err != nil {
		s.metrics.IncrLLMFallback()
		s.metrics.IncrExternalError("llm")
		s.logger.Warn("answer generation failed, serving synthesized digest", zap.Error(err))
		answer := sc.MergedText
		if s.fallbackAnswer != "" {
			answer = s.fallbackAnswer + "\n\n" + sc.MergedText
		}
		return answer, "unavailable", 0
	}

	s.metrics.RecordTokens(gen.TokensUsed.PromptTokens, gen.TokensUsed.CompletionTokens)
	return gen.Answer, gen.Model, gen.TokensUsed.TotalTokens
}

func (s *QueryService) guardrailsApply(req *domain.QueryRequest) bool {
	return s.guardrailsEnabled && req.UseGuardrails && s.guardrail != nil
}

// logHistory audits the envelope in the background. Failures are logged
// and never affect the response.
func (s *QueryService) logHistory(envelope *domain.ResponseEnvelope, tokens int) {
	if s.history == nil {
		return
	}
	entry := &domain.HistoryEntry{
		ID:             uuid.NewString(),
		CIF:            envelope.CIF,
		Query:          envelope.Query,
		Response:       envelope.Answer,
		ModelUsed:      envelope.ModelUsed,
		LatencyMS:      envelope.LatencyMS,
		RetrievedCount: len(envelope.Transactions),
		TokensUsed:     tokens,
		CreatedAt:      s.now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.InsertHistory(ctx, entry); err != nil {
			s.logger.Warn("history insert failed",
				zap.String("cif", entry.CIF),
				zap.Error(err),
			)
		}
	}()
}

// agentActivity replays the router results for the caller, one entry per
// dispatched agent in registration order.
func agentActivity(results []domain.AgentResult) []domain.AgentActivity {
	activity := make([]domain.AgentActivity, 0, len(results))
	for _, r := range results {
		entry := domain.AgentActivity{
			AgentName:       r.AgentName,
			Handled:         r.Handled,
			ExecutionTimeMS: r.ExecutionTimeMS,
			Error:           r.Error,
		}
		if r.Handled {
			entry.ResultType = r.ResultType
			count := r.RecordCount
			entry.RecordCount = &count
		}
		activity = append(activity, entry)
	}
	return activity
}

// citations names each data source that contributed records.
func citations(results []domain.AgentResult) []domain.Citation {
	cites := []domain.Citation{}
	for _, r := range results {
		if !r.HasRecords() {
			continue
		}
		cites = append(cites, domain.Citation{
			Source:      r.AgentName,
			Title:       fmt.Sprintf("%s data", r.AgentName),
			TextSnippet: fmt.Sprintf("%d records retrieved by the %s agent", r.RecordCount, r.AgentName),
		})
	}
	return cites
}

func mergeGuardrailStatus(in *domain.GuardrailStatus, out GuardrailResult) *domain.GuardrailStatus {
	merged := &domain.GuardrailStatus{
		Action:   out.Action,
		Severity: out.Severity,
		Failed:   out.Failed,
	}
	if in != nil {
		merged.Violations = append(merged.Violations, in.Violations...)
		merged.Failed = merged.Failed || in.Failed
		// The stricter stage wins the headline action.
		if in.Action != "allow" && out.Action == "allow" {
			merged.Action = in.Action
			merged.Severity = in.Severity
		}
	}
	merged.Violations = append(merged.Violations, out.Violations...)
	return merged
}

// ListHistory returns the caller's recent audited queries.
func (s *QueryService) ListHistory(ctx context.Context, cif string, limit int) ([]domain.HistoryEntry, error) {
	ctx, span := tracer.Start(ctx, "QueryService.ListHistory")
	defer span.End()

	if strings.TrimSpace(cif) == "" {
		return nil, &domain.ErrValidation{Field: "cif", Message: "cif is required"}
	}
	return s.history.ListHistory(ctx, cif, limit)
}
