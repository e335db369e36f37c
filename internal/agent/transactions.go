package agent

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/port"
)

// aggregationWords trigger the aggregation path instead of a plain search.
var aggregationWords = []string{"total", "sum", "average", "count", "breakdown", "spending"}

// TransactionsAgent answers spending, merchant, and transaction queries.
type TransactionsAgent struct {
	store  port.TransactionStore
	logger *zap.Logger
}

// NewTransactionsAgent creates a transactions agent over the given store.
func NewTransactionsAgent(store port.TransactionStore, logger *zap.Logger) *TransactionsAgent {
	return &TransactionsAgent{store: store, logger: logger}
}

func (a *TransactionsAgent) Name() string { return "transactions" }

// CanHandle matches when the parser extracted any transaction constraint,
// or the text itself carries spending/payment vocabulary.
func (a *TransactionsAgent) CanHandle(q *domain.ParsedQuery) bool {
	if q.DateRange != nil || q.AmountRange != nil ||
		len(q.Merchants) > 0 || len(q.Categories) > 0 || q.TransactionType != "" {
		return true
	}
	return containsAny(strings.ToLower(q.RawText), []string{
		"transaction", "spending", "spent", "payment", "purchase", "merchant",
	})
}

// Execute runs an aggregation, breakdown, or search lookup depending on
// what the query asks for.
func (a *TransactionsAgent) Execute(ctx context.Context, q *domain.ParsedQuery) (*domain.AgentPayload, error) {
	ctx, span := tracer.Start(ctx, "TransactionsAgent.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("query.cif", q.CIF))

	if q.CIF == "" {
		return nil, &domain.ErrValidation{Field: "cif", Message: "cif is required for transaction queries"}
	}

	text := strings.ToLower(q.RawText)

	switch {
	case strings.Contains(text, "category") && strings.Contains(text, "breakdown"):
		return a.breakdown(ctx, q, "category")
	case strings.Contains(text, "merchant") && (strings.Contains(text, "breakdown") || strings.Contains(text, "frequency")):
		return a.breakdown(ctx, q, "merchant")
	case containsAny(text, aggregationWords):
		return a.aggregate(ctx, q)
	default:
		return a.search(ctx, q)
	}
}

// aggregate returns per-currency aggregates plus the matching records so
// the synthesizer can rank merchants and list examples.
func (a *TransactionsAgent) aggregate(ctx context.Context, q *domain.ParsedQuery) (*domain.AgentPayload, error) {
	aggregates, err := a.store.AggregateTransactions(ctx, q.CIF, q)
	if err != nil {
		return nil, fmt.Errorf("aggregate transactions: %w", err)
	}

	transactions, err := a.store.SearchTransactions(ctx, q.CIF, q)
	if err != nil {
		return nil, fmt.Errorf("search transactions: %w", err)
	}

	a.logger.Debug("transaction aggregation complete",
		zap.String("cif", q.CIF),
		zap.Int("currencies", len(aggregates)),
		zap.Int("records", len(transactions)),
	)

	return &domain.AgentPayload{
		Type:         domain.ResultTypeAggregation,
		Aggregates:   aggregates,
		Transactions: capTransactions(transactions, recordCap(q)),
	}, nil
}

func (a *TransactionsAgent) breakdown(ctx context.Context, q *domain.ParsedQuery, group string) (*domain.AgentPayload, error) {
	items, err := a.store.BreakdownByGroup(ctx, q.CIF, group, q)
	if err != nil {
		return nil, fmt.Errorf("breakdown by %s: %w", group, err)
	}
	return &domain.AgentPayload{
		Type:      domain.ResultTypeBreakdown,
		Breakdown: items,
	}, nil
}

func (a *TransactionsAgent) search(ctx context.Context, q *domain.ParsedQuery) (*domain.AgentPayload, error) {
	transactions, err := a.store.SearchTransactions(ctx, q.CIF, q)
	if err != nil {
		return nil, fmt.Errorf("search transactions: %w", err)
	}
	return &domain.AgentPayload{
		Type:         domain.ResultTypeSearch,
		Transactions: capTransactions(transactions, recordCap(q)),
	}, nil
}

func recordCap(q *domain.ParsedQuery) int {
	if q.Limit > 0 && q.Limit < defaultRecordCap {
		return q.Limit
	}
	return defaultRecordCap
}

func capTransactions(txs []domain.Transaction, n int) []domain.Transaction {
	if len(txs) > n {
		return txs[:n]
	}
	return txs
}
