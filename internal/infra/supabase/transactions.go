package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
)

// aggregateFetchLimit bounds how many rows one aggregation pulls.
const aggregateFetchLimit = 1000

// transactionRow maps the transactions_raw table columns.
type transactionRow struct {
	ID              string  `json:"id"`
	CIF             string  `json:"cif"`
	TransactionDate string  `json:"transaction_date"`
	Description     string  `json:"description"`
	MerchantName    string  `json:"merchant_name"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	Category        string  `json:"category"`
	TransactionType string  `json:"transaction_type"`
	Location        string  `json:"location"`
	ReferenceNumber string  `json:"reference_number"`
}

func (r transactionRow) toDomain() domain.Transaction {
	t, err := time.Parse(time.RFC3339, r.TransactionDate)
	if err != nil {
		t, _ = time.Parse("2006-01-02", r.TransactionDate)
	}
	return domain.Transaction{
		ID:              r.ID,
		CIF:             r.CIF,
		Date:            t,
		Description:     r.Description,
		MerchantName:    r.MerchantName,
		Amount:          r.Amount,
		Currency:        r.Currency,
		Category:        r.Category,
		Type:            r.TransactionType,
		Location:        r.Location,
		ReferenceNumber: r.ReferenceNumber,
	}
}

// transactionFilters renders the parsed query's constraints as PostgREST
// query parameters.
func transactionFilters(cif string, q *domain.ParsedQuery) []string {
	filters := []string{"cif=eq." + url.QueryEscape(cif)}

	if q.DateRange != nil {
		filters = append(filters,
			"transaction_date=gte."+q.DateRange.Start.Format("2006-01-02"),
			"transaction_date=lte."+q.DateRange.End.Format("2006-01-02"),
		)
	}
	if len(q.Categories) > 0 {
		filters = append(filters, "category=in.("+url.QueryEscape(strings.Join(q.Categories, ","))+")")
	}
	if len(q.Merchants) > 0 {
		filters = append(filters, "merchant_name=in.("+url.QueryEscape(strings.Join(q.Merchants, ","))+")")
	}
	if q.TransactionType != "" {
		filters = append(filters, "transaction_type=eq."+url.QueryEscape(q.TransactionType))
	}
	if q.AmountRange != nil {
		if q.AmountRange.Min != nil && q.AmountRange.Max != nil && *q.AmountRange.Min == *q.AmountRange.Max {
			filters = append(filters, fmt.Sprintf("amount=eq.%g", *q.AmountRange.Min))
		} else {
			if q.AmountRange.Min != nil {
				filters = append(filters, fmt.Sprintf("amount=gte.%g", *q.AmountRange.Min))
			}
			if q.AmountRange.Max != nil {
				filters = append(filters, fmt.Sprintf("amount=lte.%g", *q.AmountRange.Max))
			}
		}
	}

	return filters
}

func (c *Client) fetchTransactions(ctx context.Context, cif string, q *domain.ParsedQuery, limit int) ([]domain.Transaction, error) {
	path := fmt.Sprintf("transactions_raw?%s&order=transaction_date.desc,reference_number.asc&limit=%d",
		strings.Join(transactionFilters(cif, q), "&"), limit)

	var transactions []domain.Transaction
	err := c.get(ctx, path, func(body []byte) error {
		if body == nil || string(body) == "[]" {
			transactions = []domain.Transaction{}
			return nil
		}
		var rows []transactionRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("failed to decode transactions: %w", err)
		}
		transactions = make([]domain.Transaction, 0, len(rows))
		for _, r := range rows {
			transactions = append(transactions, r.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/transactions", Err: err}
	}
	return transactions, nil
}

// SearchTransactions returns matching transactions, date-descending.
func (c *Client) SearchTransactions(ctx context.Context, cif string, q *domain.ParsedQuery) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SearchTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("query.cif", cif))

	limit := 50
	if q.Limit > 0 && q.Limit < limit {
		limit = q.Limit
	}
	return c.fetchTransactions(ctx, cif, q, limit)
}

// AggregateTransactions computes per-currency aggregates over the matching
// set. PostgREST has no free-form GROUP BY, so rows are pulled (bounded)
// and reduced here.
func (c *Client) AggregateTransactions(ctx context.Context, cif string, q *domain.ParsedQuery) ([]domain.TransactionAggregate, error) {
	ctx, span := tracer.Start(ctx, "Supabase.AggregateTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("query.cif", cif))

	transactions, err := c.fetchTransactions(ctx, cif, q, aggregateFetchLimit)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		agg       domain.TransactionAggregate
		absSum    float64
		merchants map[string]bool
		cats      map[string]bool
	}
	buckets := map[string]*bucket{}

	for _, tx := range transactions {
		b, ok := buckets[tx.Currency]
		if !ok {
			b = &bucket{
				agg:       domain.TransactionAggregate{Currency: tx.Currency},
				merchants: map[string]bool{},
				cats:      map[string]bool{},
			}
			buckets[tx.Currency] = b
		}
		b.agg.TotalTransactions++
		absAmount := tx.Amount
		if absAmount < 0 {
			absAmount = -absAmount
			b.agg.TotalSpending += absAmount
		} else {
			b.agg.TotalIncome += absAmount
		}
		b.absSum += absAmount
		if absAmount > b.agg.MaxAmount {
			b.agg.MaxAmount = absAmount
		}
		if tx.MerchantName != "" {
			b.merchants[tx.MerchantName] = true
		}
		if tx.Category != "" {
			b.cats[tx.Category] = true
		}
	}

	currencies := make([]string, 0, len(buckets))
	for cur := range buckets {
		currencies = append(currencies, cur)
	}
	sort.Strings(currencies)

	aggregates := make([]domain.TransactionAggregate, 0, len(currencies))
	for _, cur := range currencies {
		b := buckets[cur]
		b.agg.AvgAmount = b.absSum / float64(b.agg.TotalTransactions)
		b.agg.UniqueMerchants = len(b.merchants)
		b.agg.UniqueCategories = len(b.cats)
		aggregates = append(aggregates, b.agg)
	}
	return aggregates, nil
}

// BreakdownByGroup groups matching transactions by merchant or category,
// ordered by total amount descending within each currency.
func (c *Client) BreakdownByGroup(ctx context.Context, cif, group string, q *domain.ParsedQuery) ([]domain.BreakdownItem, error) {
	ctx, span := tracer.Start(ctx, "Supabase.BreakdownByGroup")
	defer span.End()
	span.SetAttributes(
		attribute.String("query.cif", cif),
		attribute.String("breakdown.group", group),
	)

	keyOf := func(tx domain.Transaction) string { return tx.Category }
	if group == "merchant" {
		keyOf = func(tx domain.Transaction) string { return tx.MerchantName }
	}

	transactions, err := c.fetchTransactions(ctx, cif, q, aggregateFetchLimit)
	if err != nil {
		return nil, err
	}

	type groupKey struct{ name, currency string }
	sums := map[groupKey]*domain.BreakdownItem{}
	for _, tx := range transactions {
		name := keyOf(tx)
		if name == "" {
			continue
		}
		k := groupKey{name, tx.Currency}
		item, ok := sums[k]
		if !ok {
			item = &domain.BreakdownItem{Group: name, Currency: tx.Currency}
			sums[k] = item
		}
		item.Count++
		if tx.Amount < 0 {
			item.TotalAmount += -tx.Amount
		} else {
			item.TotalAmount += tx.Amount
		}
	}

	items := make([]domain.BreakdownItem, 0, len(sums))
	for _, item := range sums {
		item.AvgAmount = item.TotalAmount / float64(item.Count)
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Currency != items[j].Currency {
			return items[i].Currency < items[j].Currency
		}
		if items[i].TotalAmount != items[j].TotalAmount {
			return items[i].TotalAmount > items[j].TotalAmount
		}
		return items[i].Group < items[j].Group
	})
	return items, nil
}
