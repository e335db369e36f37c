package brain

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/observability"
	"github.com/wondrlabs/finsight-brain-go/internal/port"
)

var tracer = otel.Tracer("brain")

// Brain routes a parsed query to the agents that can answer it, running
// them concurrently and collecting exactly one result per dispatched agent.
type Brain struct {
	agents       []port.Agent // registration order defines result order
	agentTimeout time.Duration
	logger       *zap.Logger
	metrics      *observability.Metrics
}

// New constructs a Brain over a fixed, ordered set of agents.
func New(agents []port.Agent, agentTimeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Brain {
	return &Brain{
		agents:       agents,
		agentTimeout: agentTimeout,
		logger:       logger,
		metrics:      metrics,
	}
}

// Route classifies the parsed query's agent set and dispatches it.
// Results come back in registration order regardless of completion order.
// Agent errors and timeouts are captured into the results, never returned.
func (b *Brain) Route(ctx context.Context, q *domain.ParsedQuery) []domain.AgentResult {
	ctx, span := tracer.Start(ctx, "Brain.Route")
	defer span.End()
	span.SetAttributes(
		attribute.String("query.intent", string(q.Intent)),
		attribute.String("query.cif", q.CIF),
	)

	selected, forced := b.selectAgents(q)
	names := make([]string, len(selected))
	for i, a := range selected {
		names[i] = a.Name()
	}
	span.SetAttributes(attribute.StringSlice("agents.selected", names))
	b.logger.Info("dispatching agents",
		zap.String("intent", string(q.Intent)),
		zap.Strings("agents", names),
	)
	b.metrics.IncrIntent(string(q.Intent))

	// One buffered channel slot per agent: a straggler writing after the
	// collector gave up on it can never block.
	channels := make([]chan domain.AgentResult, len(selected))
	for i, agent := range selected {
		ch := make(chan domain.AgentResult, 1)
		channels[i] = ch
		go func(a port.Agent, out chan<- domain.AgentResult) {
			out <- b.runAgent(ctx, a, q, forced)
		}(agent, ch)
	}

	// Collect in registration order. When the context expires, remaining
	// agents are abandoned and recorded as timeouts; synthesis proceeds
	// with whatever completed. Outcomes are recorded here, and only here:
	// an abandoned straggler must not add a second sample when it finally
	// returns.
	results := make([]domain.AgentResult, len(selected))
	for i, ch := range channels {
		select {
		case res := <-ch:
			results[i] = res
			b.metrics.RecordAgentExecution(res.AgentName, outcomeOf(res),
				time.Duration(res.ExecutionTimeMS)*time.Millisecond)
		case <-ctx.Done():
			results[i] = domain.AgentResult{
				AgentName: selected[i].Name(),
				Handled:   false,
				Error:     (&domain.ErrTimeout{Operation: selected[i].Name()}).Error(),
			}
			b.metrics.RecordAgentExecution(selected[i].Name(), "failed", 0)
		}
	}

	return results
}

func outcomeOf(res domain.AgentResult) string {
	switch {
	case res.Error != "":
		return "failed"
	case !res.Handled:
		return "skipped"
	default:
		return "handled"
	}
}

// selectAgents picks the dispatch set: multi-domain and comparison queries
// go to every agent; otherwise agents volunteer via CanHandle. A query no
// agent claims still dispatches the default (transactions) agent, forced to
// execute, so the caller always gets a determinate answer.
func (b *Brain) selectAgents(q *domain.ParsedQuery) ([]port.Agent, bool) {
	if q.Intent == domain.IntentMultiDomain || q.Intent == domain.IntentComparison {
		return b.agents, false
	}

	var selected []port.Agent
	for _, a := range b.agents {
		if a.CanHandle(q) {
			selected = append(selected, a)
		}
	}
	if len(selected) == 0 && len(b.agents) > 0 {
		return b.agents[:1], true
	}
	return selected, false
}

// runAgent executes one agent with its own deadline, capturing errors,
// panics, and timing into the result.
func (b *Brain) runAgent(ctx context.Context, agent port.Agent, q *domain.ParsedQuery, force bool) (result domain.AgentResult) {
	ctx, span := tracer.Start(ctx, "Agent.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("agent.name", agent.Name()))

	if b.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.agentTimeout)
		defer cancel()
	}

	start := time.Now()
	result = domain.AgentResult{AgentName: agent.Name()}

	defer func() {
		if r := recover(); r != nil {
			result.Handled = false
			result.Payload = nil
			result.Error = fmt.Sprintf("agent panic: %v", r)
			b.logger.Error("agent panicked",
				zap.String("agent", agent.Name()),
				zap.Any("panic", r),
			)
		}
		result.ExecutionTimeMS = time.Since(start).Milliseconds()
	}()

	if !force && !agent.CanHandle(q) {
		// Deliberate skip: the query is outside this agent's domain.
		return result
	}

	payload, err := agent.Execute(ctx, q)
	if err != nil {
		result.Error = err.Error()
		b.logger.Warn("agent failed",
			zap.String("agent", agent.Name()),
			zap.Error(err),
		)
		return result
	}

	result.Handled = true
	result.Payload = payload
	if payload != nil {
		result.ResultType = payload.Type
		result.RecordCount = payload.RecordCount()
	}
	return result
}
