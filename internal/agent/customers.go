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

var profileIndicators = []string{
	"profile", "customer info", "demographics", "age", "gender",
	"occupation", "income", "risk profile", "customer name",
	"customer type", "preferred channels", "segment",
}

// CustomersAgent answers customer profile and demographic queries.
type CustomersAgent struct {
	store  port.ProfileStore
	logger *zap.Logger
}

// NewCustomersAgent creates a customers agent over the given store.
func NewCustomersAgent(store port.ProfileStore, logger *zap.Logger) *CustomersAgent {
	return &CustomersAgent{store: store, logger: logger}
}

func (a *CustomersAgent) Name() string { return "customers" }

func (a *CustomersAgent) CanHandle(q *domain.ParsedQuery) bool {
	return containsAny(strings.ToLower(q.RawText), profileIndicators)
}

// Execute fetches the profile, optionally enriched with activity statistics
// when the query asks for a complete picture.
func (a *CustomersAgent) Execute(ctx context.Context, q *domain.ParsedQuery) (*domain.AgentPayload, error) {
	ctx, span := tracer.Start(ctx, "CustomersAgent.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("query.cif", q.CIF))

	if q.CIF == "" {
		return nil, &domain.ErrValidation{Field: "cif", Message: "cif is required for profile queries"}
	}

	profile, err := a.store.GetProfile(ctx, q.CIF)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	payload := &domain.AgentPayload{
		Type:    domain.ResultTypeProfile,
		Profile: profile,
	}

	text := strings.ToLower(q.RawText)
	if strings.Contains(text, "complete") || strings.Contains(text, "statistics") || strings.Contains(text, "everything") {
		stats, err := a.store.GetProfileStatistics(ctx, q.CIF)
		if err != nil {
			// Profile alone still answers the query.
			a.logger.Warn("profile statistics unavailable",
				zap.String("cif", q.CIF),
				zap.Error(err),
			)
		} else {
			payload.Statistics = stats
		}
	}

	return payload, nil
}
