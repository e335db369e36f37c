// Package reasoning merges agent results into a single LLM-ready context.
// Synthesis is deterministic: identical result sets produce identical
// merged text regardless of the order agents completed in.
package reasoning

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
)

// defaultDetailCap bounds how many records a detailed listing shows
// verbatim when the caller does not configure a cap.
const defaultDetailCap = 8

// topN bounds merchant/category rankings in aggregate digests.
const topN = 3

// Synthesizer merges the per-agent results of one query.
type Synthesizer struct {
	logger    *zap.Logger
	detailCap int
}

// New creates a Synthesizer. A non-positive detailCap selects the default.
func New(logger *zap.Logger, detailCap int) *Synthesizer {
	if detailCap <= 0 {
		detailCap = defaultDetailCap
	}
	return &Synthesizer{logger: logger, detailCap: detailCap}
}

// Synthesize filters the agent results to those that contributed data and
// builds the merged context. A result set with no data yields a context
// flagged NoData; a malformed record yields ErrSynthesis, the only fatal
// pipeline error.
func (s *Synthesizer) Synthesize(q *domain.ParsedQuery, results []domain.AgentResult) (*domain.SynthesizedContext, error) {
	var contributing []domain.AgentResult
	var sources []string
	for _, r := range results {
		if r.HasRecords() {
			contributing = append(contributing, r)
			sources = append(sources, r.AgentName)
		}
	}

	if len(contributing) == 0 {
		return &domain.SynthesizedContext{
			ResponseType: domain.ResponseNoData,
			DataSources:  []string{},
			NoData:       true,
		}, nil
	}

	transactions, err := collectTransactions(contributing)
	if err != nil {
		return nil, err
	}

	responseType := s.responseType(q, contributing)

	var text string
	switch responseType {
	case domain.ResponseMerchantSpecific:
		text, err = merchantDigest(q, transactions)
	case domain.ResponseCategoryAnalysis:
		text, err = categoryDigest(q, transactions)
	case domain.ResponseAggregation:
		text, err = aggregationDigest(transactions, contributing)
	case domain.ResponseDetailedListing:
		text = listingDigest(transactions, s.detailCap)
	default:
		text = multiSourceDigest(contributing)
	}
	if err != nil {
		return nil, err
	}

	sc := &domain.SynthesizedContext{
		MergedText:   text,
		ResponseType: responseType,
		Transactions: capRecords(transactions, s.detailCap),
		Totals:       currencyTotals(transactions),
		DataSources:  sources,
	}

	s.logger.Debug("synthesis complete",
		zap.String("response_type", string(responseType)),
		zap.Strings("data_sources", sources),
		zap.Int("transactions", len(transactions)),
	)
	return sc, nil
}

// responseType selects the answer shape from the intent and extracted
// constraints. Multiple contributing agents always produce a multi-source
// response so each domain stays attributed.
func (s *Synthesizer) responseType(q *domain.ParsedQuery, contributing []domain.AgentResult) domain.ResponseType {
	if len(contributing) > 1 {
		return domain.ResponseMultiSource
	}

	text := strings.ToLower(q.RawText)
	switch q.Intent {
	case domain.IntentAggregation:
		if len(q.Merchants) > 0 {
			return domain.ResponseMerchantSpecific
		}
		if len(q.Categories) > 0 &&
			(strings.Contains(text, "analysis") || strings.Contains(text, "percentage") || strings.Contains(text, "share")) {
			return domain.ResponseCategoryAnalysis
		}
		return domain.ResponseAggregation
	case domain.IntentDetailedListing, domain.IntentTransactionLookup:
		if contributing[0].AgentName == "transactions" {
			return domain.ResponseDetailedListing
		}
		return domain.ResponseMultiSource
	default:
		return domain.ResponseMultiSource
	}
}

// collectTransactions gathers every transaction across payloads and sorts
// them (date descending, reference then id as tie-breakers) so downstream
// aggregation is order-independent. A record without a currency is
// malformed and aborts synthesis.
func collectTransactions(results []domain.AgentResult) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	for _, r := range results {
		if r.Payload == nil {
			continue
		}
		for _, tx := range r.Payload.Transactions {
			if tx.Currency == "" {
				return nil, &domain.ErrSynthesis{
					Reason: fmt.Sprintf("transaction %s has no currency", tx.ID),
				}
			}
			txs = append(txs, tx)
		}
	}

	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.After(txs[j].Date)
		}
		if txs[i].ReferenceNumber != txs[j].ReferenceNumber {
			return txs[i].ReferenceNumber < txs[j].ReferenceNumber
		}
		return txs[i].ID < txs[j].ID
	})
	return txs, nil
}

// currencyTotals sums |amount| per currency. Currencies are never merged.
func currencyTotals(txs []domain.Transaction) []domain.CurrencyTotal {
	byCurrency := map[string]*domain.CurrencyTotal{}
	for _, tx := range txs {
		ct, ok := byCurrency[tx.Currency]
		if !ok {
			ct = &domain.CurrencyTotal{Currency: tx.Currency}
			byCurrency[tx.Currency] = ct
		}
		ct.Total += abs(tx.Amount)
		ct.Count++
	}

	currencies := make([]string, 0, len(byCurrency))
	for c := range byCurrency {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	totals := make([]domain.CurrencyTotal, 0, len(currencies))
	for _, c := range currencies {
		totals = append(totals, *byCurrency[c])
	}
	return totals
}

func aggregationDigest(txs []domain.Transaction, results []domain.AgentResult) (string, error) {
	var b strings.Builder
	for _, ct := range currencyTotals(txs) {
		fmt.Fprintf(&b, "Found %d transactions totaling %s.\n",
			ct.Count, FormatMoney(ct.Currency, ct.Total))
	}

	if tops := topGroups(txs, func(tx domain.Transaction) string { return tx.MerchantName }); len(tops) > 0 {
		b.WriteString("Top merchants: " + strings.Join(tops, ", ") + ".\n")
	}
	if tops := topGroups(txs, func(tx domain.Transaction) string { return tx.Category }); len(tops) > 0 {
		b.WriteString("Top categories: " + strings.Join(tops, ", ") + ".\n")
	}

	// Store-side aggregates carry spending/income splits the record cap
	// may have hidden.
	for _, r := range results {
		if r.Payload == nil {
			continue
		}
		for _, agg := range r.Payload.Aggregates {
			fmt.Fprintf(&b, "%s activity: %d transactions, spending %s, income %s.\n",
				agg.Currency, agg.TotalTransactions,
				FormatMoney(agg.Currency, agg.TotalSpending),
				FormatMoney(agg.Currency, agg.TotalIncome))
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func merchantDigest(q *domain.ParsedQuery, txs []domain.Transaction) (string, error) {
	matched := filterByMerchants(txs, q.Merchants)
	if len(matched) == 0 {
		return fmt.Sprintf("No transactions found for %s.", strings.Join(q.Merchants, ", ")), nil
	}

	var b strings.Builder
	name := matched[0].MerchantName
	for _, ct := range currencyTotals(matched) {
		avg := RoundToMinorUnit(ct.Currency, ct.Total/float64(ct.Count))
		fmt.Fprintf(&b, "%s: %d transactions totaling %s, average %s per transaction.\n",
			name, ct.Count, FormatMoney(ct.Currency, ct.Total), FormatMoney(ct.Currency, avg))
	}

	// Rank the merchant inside its category by total spend.
	if category := matched[0].Category; category != "" {
		peers := map[string]float64{}
		for _, tx := range txs {
			if tx.Category == category {
				peers[tx.MerchantName] += abs(tx.Amount)
			}
		}
		names := make([]string, 0, len(peers))
		for n := range peers {
			names = append(names, n)
		}
		sort.Slice(names, func(i, j int) bool {
			if peers[names[i]] != peers[names[j]] {
				return peers[names[i]] > peers[names[j]]
			}
			return names[i] < names[j]
		})
		for rank, n := range names {
			if n == name {
				fmt.Fprintf(&b, "%s ranks #%d of %d merchants in the %s category.\n",
					name, rank+1, len(names), category)
				break
			}
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func categoryDigest(q *domain.ParsedQuery, txs []domain.Transaction) (string, error) {
	matched := filterByCategories(txs, q.Categories)
	if len(matched) == 0 {
		return fmt.Sprintf("No transactions found in categories %s.", strings.Join(q.Categories, ", ")), nil
	}

	var b strings.Builder
	allTotals := totalsByCurrency(txs)
	for _, ct := range currencyTotals(matched) {
		line := fmt.Sprintf("%s spending: %d transactions totaling %s",
			strings.Join(q.Categories, "+"), ct.Count, FormatMoney(ct.Currency, ct.Total))
		if parent := allTotals[ct.Currency]; parent > 0 {
			line += fmt.Sprintf(" (%.1f%% of %s total)", ct.Total/parent*100, ct.Currency)
		}
		b.WriteString(line + ".\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func listingDigest(txs []domain.Transaction, detailCap int) string {
	capped := capRecords(txs, detailCap)
	var b strings.Builder
	fmt.Fprintf(&b, "Showing %d of %d transactions:\n", len(capped), len(txs))
	for _, tx := range capped {
		line := fmt.Sprintf("%s | %s | %s",
			tx.Date.Format("2006-01-02"), tx.MerchantName, FormatMoney(tx.Currency, abs(tx.Amount)))
		if tx.Category != "" {
			line += " | " + tx.Category
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// multiSourceDigest concatenates one summary per contributing agent, each
// attributed to its source.
func multiSourceDigest(results []domain.AgentResult) string {
	var sections []string
	for _, r := range results {
		if r.Payload == nil {
			continue
		}
		switch {
		case len(r.Payload.Transactions) > 0 || len(r.Payload.Aggregates) > 0:
			lines := []string{}
			for _, ct := range currencyTotals(r.Payload.Transactions) {
				lines = append(lines, fmt.Sprintf("%d transactions totaling %s",
					ct.Count, FormatMoney(ct.Currency, ct.Total)))
			}
			sections = append(sections, fmt.Sprintf("[%s] %s", r.AgentName, strings.Join(lines, "; ")))
		case len(r.Payload.Breakdown) > 0:
			lines := []string{}
			for _, item := range capBreakdown(r.Payload.Breakdown, topN) {
				lines = append(lines, fmt.Sprintf("%s: %d for %s",
					item.Group, item.Count, FormatMoney(item.Currency, item.TotalAmount)))
			}
			sections = append(sections, fmt.Sprintf("[%s] breakdown — %s", r.AgentName, strings.Join(lines, "; ")))
		case r.Payload.Profile != nil:
			sections = append(sections, fmt.Sprintf("[%s] %s", r.AgentName, profileSummary(r.Payload.Profile, r.Payload.Statistics)))
		case len(r.Payload.Contacts) > 0:
			sections = append(sections, fmt.Sprintf("[%s] %s", r.AgentName, contactsSummary(r.Payload.Contacts)))
		}
	}
	return strings.Join(sections, "\n")
}

func profileSummary(p *domain.CustomerProfile, stats *domain.ProfileStatistics) string {
	parts := []string{"Customer " + p.CustomerName}
	if p.Age > 0 {
		parts = append(parts, fmt.Sprintf("age %d", p.Age))
	}
	if p.Occupation != "" {
		parts = append(parts, p.Occupation)
	}
	if p.Segment != "" {
		parts = append(parts, "segment "+p.Segment)
	}
	if p.RiskProfile != "" {
		parts = append(parts, "risk profile "+p.RiskProfile)
	}
	summary := strings.Join(parts, ", ")
	if stats != nil {
		summary += fmt.Sprintf("; %d transactions and %d saved contacts on record",
			stats.TotalTransactions, stats.TotalContacts)
	}
	return summary + "."
}

func contactsSummary(contacts []domain.TransferContact) string {
	names := make([]string, 0, topN)
	for i, c := range contacts {
		if i == topN {
			break
		}
		names = append(names, fmt.Sprintf("%s (%s)", c.ContactName, c.BankName))
	}
	return fmt.Sprintf("%d transfer contacts; most frequent: %s.", len(contacts), strings.Join(names, ", "))
}

// topGroups ranks groups by total |amount|, descending, names ascending on
// ties, capped at topN. Mixed-currency sets rank per occurrence count
// instead to avoid cross-currency sums.
func topGroups(txs []domain.Transaction, key func(domain.Transaction) string) []string {
	currencies := map[string]bool{}
	for _, tx := range txs {
		currencies[tx.Currency] = true
	}
	multiCurrency := len(currencies) > 1

	totals := map[string]float64{}
	for _, tx := range txs {
		k := key(tx)
		if k == "" {
			continue
		}
		if multiCurrency {
			totals[k]++
		} else {
			totals[k] += abs(tx.Amount)
		}
	}
	if len(totals) == 0 {
		return nil
	}

	names := make([]string, 0, len(totals))
	for n := range totals {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if totals[names[i]] != totals[names[j]] {
			return totals[names[i]] > totals[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > topN {
		names = names[:topN]
	}
	return names
}

func filterByMerchants(txs []domain.Transaction, merchants []string) []domain.Transaction {
	var out []domain.Transaction
	for _, tx := range txs {
		for _, m := range merchants {
			if strings.Contains(strings.ToLower(tx.MerchantName), strings.ToLower(m)) {
				out = append(out, tx)
				break
			}
		}
	}
	return out
}

func filterByCategories(txs []domain.Transaction, categories []string) []domain.Transaction {
	var out []domain.Transaction
	for _, tx := range txs {
		for _, c := range categories {
			if strings.EqualFold(tx.Category, c) {
				out = append(out, tx)
				break
			}
		}
	}
	return out
}

func totalsByCurrency(txs []domain.Transaction) map[string]float64 {
	totals := map[string]float64{}
	for _, tx := range txs {
		totals[tx.Currency] += abs(tx.Amount)
	}
	return totals
}

func capRecords(txs []domain.Transaction, n int) []domain.Transaction {
	if len(txs) > n {
		return txs[:n]
	}
	return txs
}

func capBreakdown(items []domain.BreakdownItem, n int) []domain.BreakdownItem {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
