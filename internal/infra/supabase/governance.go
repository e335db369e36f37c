package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/resilience"
)

// ListActiveRules loads the active guardrail rules for one direction
// ("input" or "output"), highest priority first.
func (c *Client) ListActiveRules(ctx context.Context, direction string) ([]domain.GuardrailRule, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListActiveRules")
	defer span.End()
	span.SetAttributes(attribute.String("guardrail.direction", direction))

	path := fmt.Sprintf("guardrail_rules?is_active=eq.true&direction=eq.%s&order=priority.desc",
		url.QueryEscape(direction))

	var rules []domain.GuardrailRule
	err := c.get(ctx, path, func(body []byte) error {
		if body == nil || string(body) == "[]" {
			rules = []domain.GuardrailRule{}
			return nil
		}
		if err := json.Unmarshal(body, &rules); err != nil {
			return fmt.Errorf("failed to decode guardrail rules: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/guardrails", Err: err}
	}
	return rules, nil
}

// GetAPIKey looks up an inbound API credential by name.
func (c *Client) GetAPIKey(ctx context.Context, name string) (*domain.APIKey, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetAPIKey")
	defer span.End()

	var key *domain.APIKey
	err := c.get(ctx, fmt.Sprintf("api_keys?name=eq.%s&is_active=eq.true&limit=1", url.QueryEscape(name)), func(body []byte) error {
		if body == nil || string(body) == "[]" {
			return &domain.ErrNotFound{Resource: "api key", ID: name}
		}
		var rows []domain.APIKey
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("failed to decode api key: %w", err)
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "api key", ID: name}
		}
		key = &rows[0]
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/apikeys", Err: err}
	}
	return key, nil
}

// InsertHistory appends one audited query/answer pair. Callers treat this
// as fire-and-forget.
func (c *Client) InsertHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	ctx, span := tracer.Start(ctx, "Supabase.InsertHistory")
	defer span.End()
	span.SetAttributes(attribute.String("query.cif", entry.CIF))

	payload, err := json.Marshal(entry)
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/history", Err: err}
	}

	_, err = c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			_, err := c.doRequest(ctx, http.MethodPost, "search_history", payload)
			return err
		})
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/history", Err: err}
	}
	return nil
}

// ListHistory returns the most recent history rows for a CIF.
func (c *Client) ListHistory(ctx context.Context, cif string, limit int) ([]domain.HistoryEntry, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListHistory")
	defer span.End()
	span.SetAttributes(attribute.String("query.cif", cif))

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	path := fmt.Sprintf("search_history?cif=eq.%s&order=created_at.desc&limit=%d", url.QueryEscape(cif), limit)

	var entries []domain.HistoryEntry
	err := c.get(ctx, path, func(body []byte) error {
		if body == nil || string(body) == "[]" {
			entries = []domain.HistoryEntry{}
			return nil
		}
		if err := json.Unmarshal(body, &entries); err != nil {
			return fmt.Errorf("failed to decode history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/history", Err: err}
	}
	return entries, nil
}
