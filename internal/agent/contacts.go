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

var contactIndicators = []string{
	"contact", "beneficiary", "beneficiaries", "recipient",
	"transfer", "send money", "payment to", "account number",
}

// ContactsAgent answers transfer contact and beneficiary queries.
type ContactsAgent struct {
	store  port.ContactStore
	logger *zap.Logger
}

// NewContactsAgent creates a contacts agent over the given store.
func NewContactsAgent(store port.ContactStore, logger *zap.Logger) *ContactsAgent {
	return &ContactsAgent{store: store, logger: logger}
}

func (a *ContactsAgent) Name() string { return "contacts" }

func (a *ContactsAgent) CanHandle(q *domain.ParsedQuery) bool {
	if q.BankName != "" || q.ContactType != "" || q.MinFrequency > 0 {
		return true
	}
	return containsAny(strings.ToLower(q.RawText), contactIndicators)
}

// Execute lists the caller's transfer contacts filtered by the query's
// bank/type/frequency constraints. Ordering (frequency desc, most recent
// transfer first) comes from the store.
func (a *ContactsAgent) Execute(ctx context.Context, q *domain.ParsedQuery) (*domain.AgentPayload, error) {
	ctx, span := tracer.Start(ctx, "ContactsAgent.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("query.cif", q.CIF))

	if q.CIF == "" {
		return nil, &domain.ErrValidation{Field: "cif", Message: "cif is required for contact queries"}
	}

	contacts, err := a.store.ListContacts(ctx, q.CIF, q)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	a.logger.Debug("contacts lookup complete",
		zap.String("cif", q.CIF),
		zap.Int("count", len(contacts)),
	)

	return &domain.AgentPayload{
		Type:     domain.ResultTypeContacts,
		Contacts: contacts,
	}, nil
}
