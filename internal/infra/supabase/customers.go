package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
)

// profileRow maps the customer_profiles table columns.
type profileRow struct {
	CIF               string   `json:"cif"`
	CustomerName      string   `json:"customer_name"`
	CustomerType      string   `json:"customer_type"`
	Status            string   `json:"status"`
	Age               int      `json:"age"`
	Gender            string   `json:"gender"`
	Occupation        string   `json:"occupation"`
	IncomeRange       string   `json:"income_range"`
	RiskProfile       string   `json:"risk_profile"`
	Segment           string   `json:"segment"`
	PreferredChannels []string `json:"preferred_channels"`
}

// GetProfile fetches a customer's profile by CIF.
func (c *Client) GetProfile(ctx context.Context, cif string) (*domain.CustomerProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("query.cif", cif))

	var profile *domain.CustomerProfile
	err := c.get(ctx, fmt.Sprintf("customer_profiles?cif=eq.%s&limit=1", url.QueryEscape(cif)), func(body []byte) error {
		if body == nil || string(body) == "[]" {
			return &domain.ErrNotFound{Resource: "profile", ID: cif}
		}
		var rows []profileRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("failed to decode profile: %w", err)
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "profile", ID: cif}
		}
		r := rows[0]
		profile = &domain.CustomerProfile{
			CIF:               r.CIF,
			CustomerName:      r.CustomerName,
			CustomerType:      r.CustomerType,
			Status:            r.Status,
			Age:               r.Age,
			Gender:            r.Gender,
			Occupation:        r.Occupation,
			IncomeRange:       r.IncomeRange,
			RiskProfile:       r.RiskProfile,
			Segment:           r.Segment,
			PreferredChannels: r.PreferredChannels,
		}
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/profile", Err: err}
	}
	return profile, nil
}

// GetProfileStatistics fetches activity counts for a complete-profile view.
// Backed by the customer_statistics view.
func (c *Client) GetProfileStatistics(ctx context.Context, cif string) (*domain.ProfileStatistics, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfileStatistics")
	defer span.End()
	span.SetAttributes(attribute.String("query.cif", cif))

	var stats *domain.ProfileStatistics
	err := c.get(ctx, fmt.Sprintf("customer_statistics?cif=eq.%s&limit=1", url.QueryEscape(cif)), func(body []byte) error {
		if body == nil || string(body) == "[]" {
			return &domain.ErrNotFound{Resource: "statistics", ID: cif}
		}
		var rows []domain.ProfileStatistics
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("failed to decode statistics: %w", err)
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "statistics", ID: cif}
		}
		stats = &rows[0]
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/statistics", Err: err}
	}
	return stats, nil
}
