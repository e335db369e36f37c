// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
)

// Agent is a domain specialist the brain can dispatch a parsed query to.
// CanHandle must be a cheap, side-effect-free predicate; Execute does the
// actual data retrieval. Execute errors never propagate past the dispatcher:
// they are captured into the agent's result.
type Agent interface {
	Name() string
	CanHandle(q *domain.ParsedQuery) bool
	Execute(ctx context.Context, q *domain.ParsedQuery) (*domain.AgentPayload, error)
}

// TransactionStore retrieves transaction data scoped to a CIF.
type TransactionStore interface {
	SearchTransactions(ctx context.Context, cif string, q *domain.ParsedQuery) ([]domain.Transaction, error)
	AggregateTransactions(ctx context.Context, cif string, q *domain.ParsedQuery) ([]domain.TransactionAggregate, error)
	BreakdownByGroup(ctx context.Context, cif, group string, q *domain.ParsedQuery) ([]domain.BreakdownItem, error)
}

// ProfileStore retrieves customer profile data scoped to a CIF.
type ProfileStore interface {
	GetProfile(ctx context.Context, cif string) (*domain.CustomerProfile, error)
	GetProfileStatistics(ctx context.Context, cif string) (*domain.ProfileStatistics, error)
}

// ContactStore retrieves transfer contact data scoped to a CIF.
type ContactStore interface {
	ListContacts(ctx context.Context, cif string, q *domain.ParsedQuery) ([]domain.TransferContact, error)
}

// GuardrailStore loads active content-filtering rules.
type GuardrailStore interface {
	ListActiveRules(ctx context.Context, direction string) ([]domain.GuardrailRule, error)
}

// HistoryStore persists audited query/answer pairs.
type HistoryStore interface {
	InsertHistory(ctx context.Context, entry *domain.HistoryEntry) error
	ListHistory(ctx context.Context, cif string, limit int) ([]domain.HistoryEntry, error)
}

// APIKeyStore looks up inbound API credentials by name.
type APIKeyStore interface {
	GetAPIKey(ctx context.Context, name string) (*domain.APIKey, error)
}

// AnswerGenerator produces the natural-language answer from the
// synthesized context.
type AnswerGenerator interface {
	Generate(ctx context.Context, query string, sc *domain.SynthesizedContext) (*domain.GenerationResult, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
