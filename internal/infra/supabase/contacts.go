package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
)

// contactRow maps the transfer_contacts table columns.
type contactRow struct {
	ID               string  `json:"id"`
	CIF              string  `json:"cif"`
	ContactName      string  `json:"contact_name"`
	AccountNumber    string  `json:"account_number"`
	BankName         string  `json:"bank_name"`
	ContactType      string  `json:"contact_type"`
	Frequency        int     `json:"frequency"`
	LastTransferDate *string `json:"last_transfer_date"`
}

// ListContacts returns the customer's transfer contacts, most frequent
// first, filtered by the query's bank/type/frequency constraints.
func (c *Client) ListContacts(ctx context.Context, cif string, q *domain.ParsedQuery) ([]domain.TransferContact, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListContacts")
	defer span.End()
	span.SetAttributes(attribute.String("query.cif", cif))

	filters := []string{"cif=eq." + url.QueryEscape(cif)}
	if q.BankName != "" {
		filters = append(filters, "bank_name=ilike.*"+url.QueryEscape(q.BankName)+"*")
	}
	if q.ContactType != "" {
		filters = append(filters, "contact_type=eq."+url.QueryEscape(q.ContactType))
	}
	if q.MinFrequency > 0 {
		filters = append(filters, fmt.Sprintf("frequency=gte.%d", q.MinFrequency))
	}

	limit := 100
	if q.Limit > 0 && q.Limit < limit {
		limit = q.Limit
	}
	path := fmt.Sprintf("transfer_contacts?%s&order=frequency.desc,last_transfer_date.desc.nullslast&limit=%d",
		strings.Join(filters, "&"), limit)

	var contacts []domain.TransferContact
	err := c.get(ctx, path, func(body []byte) error {
		if body == nil || string(body) == "[]" {
			contacts = []domain.TransferContact{}
			return nil
		}
		var rows []contactRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("failed to decode contacts: %w", err)
		}
		contacts = make([]domain.TransferContact, 0, len(rows))
		for _, r := range rows {
			contact := domain.TransferContact{
				ID:            r.ID,
				CIF:           r.CIF,
				ContactName:   r.ContactName,
				AccountNumber: r.AccountNumber,
				BankName:      r.BankName,
				ContactType:   r.ContactType,
				Frequency:     r.Frequency,
			}
			if r.LastTransferDate != nil {
				if t, err := time.Parse(time.RFC3339, *r.LastTransferDate); err == nil {
					contact.LastTransferDate = &t
				}
			}
			contacts = append(contacts, contact)
		}
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/contacts", Err: err}
	}
	return contacts, nil
}
