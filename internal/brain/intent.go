// Package brain classifies natural-language financial queries and routes
// them to the domain agents that can answer them.
package brain

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
)

// maxLimit bounds the caller-requested record limit.
const maxLimit = 500

// Keyword tables for classification and extraction. These are heuristic:
// a query matching none of them falls back to multi-domain dispatch.
var (
	transactionWords = []string{
		"transaction", "spending", "spend", "spent", "payment", "purchase",
		"withdrawal", "deposit", "merchant", "bought", "paid",
	}
	profileWords = []string{
		"profile", "customer info", "demographics", "age", "gender",
		"occupation", "income", "risk profile", "customer name",
		"customer type", "preferred channels", "segment",
	}
	contactWords = []string{
		"contact", "beneficiary", "beneficiaries", "recipient",
		"transfer", "send money", "payment to", "account number",
	}
	comparisonWords = []string{"compare", "comparison", "versus", " vs ", "difference between"}
	aggregateWords  = []string{"how much", "total", "sum of", "average", "overall", "spending", "spent"}
	listingWords    = []string{"show", "list", "display", "detail", "history", "recent", "latest"}

	transactionTypeWords = map[string][]string{
		"debit":    {"debit", "payment", "purchase", "withdrawal", "spending"},
		"credit":   {"credit", "deposit", "income", "salary", "refund"},
		"transfer": {"transfer", "send", "wire", "remittance"},
	}

	categoryWords = map[string][]string{
		"food":          {"food", "restaurant", "dining", "meal", "cafe", "coffee"},
		"transport":     {"transport", "taxi", "uber", "grab", "fuel", "parking"},
		"shopping":      {"shopping", "retail", "store", "mall", "online"},
		"entertainment": {"entertainment", "movie", "game", "sport", "leisure"},
		"bills":         {"bill", "utility", "electricity", "water", "internet", "phone"},
		"health":        {"health", "medical", "pharmacy", "doctor", "hospital"},
		"education":     {"education", "school", "course", "training", "book"},
	}

	merchantKeywords = []string{
		"starbucks", "mcdonald", "kfc", "pizza hut", "amazon", "tokopedia",
		"shopee", "gojek", "grab", "uber", "netflix", "spotify", "apple",
		"google", "microsoft", "indomaret", "alfamart", "ace hardware",
	}

	bankNames = []string{
		"bca", "mandiri", "bni", "bri", "cimb", "danamon", "permata",
		"maybank", "ocbc", "hsbc", "citibank", "standard chartered",
	}

	monthNames = map[string]time.Month{
		"january": time.January, "february": time.February, "march": time.March,
		"april": time.April, "may": time.May, "june": time.June,
		"july": time.July, "august": time.August, "september": time.September,
		"october": time.October, "november": time.November, "december": time.December,
	}
)

var (
	limitRe     = regexp.MustCompile(`(?:top|first|last|limit)\s+(\d+)`)
	isoDateRe   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	amountRe    = regexp.MustCompile(`(?:idr|rp|rupiah)?\s*(\d+(?:[.,]\d+)?)\s*(k|m|jt|juta|ribu)?\b`)
	frequencyRe = regexp.MustCompile(`(?:at least|minimum|more than)\s+(\d+)\s+(?:times|transfers)`)
	atPatternRe = regexp.MustCompile(`\bat\s+([a-z]+)`)
	yearAfterRe = regexp.MustCompile(`\s+(\d{4})`)
)

// atStopwords are words that follow "at" without naming a merchant.
var atStopwords = map[string]bool{
	"least": true, "most": true, "the": true, "my": true, "a": true, "an": true,
}

// Classify derives the intent of a raw query. It is a pure function of the
// text: no I/O, no shared state.
func Classify(text string) domain.Intent {
	t := strings.ToLower(text)

	txn := containsAny(t, transactionWords) || mentionsMerchant(t) || mentionsCategory(t)
	profile := containsAny(t, profileWords)
	contact := containsAny(t, contactWords)

	if containsAny(t, comparisonWords) {
		return domain.IntentComparison
	}

	domains := 0
	for _, hit := range []bool{txn, profile, contact} {
		if hit {
			domains++
		}
	}
	if domains >= 2 {
		return domain.IntentMultiDomain
	}

	switch {
	case profile:
		return domain.IntentProfileLookup
	case contact:
		return domain.IntentContactLookup
	case txn && containsAny(t, aggregateWords):
		return domain.IntentAggregation
	case txn && containsAny(t, listingWords):
		return domain.IntentDetailedListing
	case txn:
		return domain.IntentTransactionLookup
	}

	// Ambiguous or broad queries dispatch every agent.
	return domain.IntentMultiDomain
}

// Parse extracts every constraint the query text carries. Relative date
// phrases are resolved against now, so callers (and tests) control the clock.
func Parse(text, cif string, now time.Time) *domain.ParsedQuery {
	t := strings.ToLower(text)

	q := &domain.ParsedQuery{
		RawText: text,
		CIF:     cif,
		Intent:  Classify(text),
	}

	q.DateRange = extractDates(t, now)
	q.Merchants = extractMerchants(t)
	q.Categories = extractCategories(t)
	q.TransactionType = extractTransactionType(t)
	q.AmountRange = extractAmounts(t)

	for _, bank := range bankNames {
		if strings.Contains(t, bank) {
			q.BankName = strings.ToUpper(bank)
			break
		}
	}

	if strings.Contains(t, "personal") {
		q.ContactType = "personal"
	} else if strings.Contains(t, "business") || strings.Contains(t, "company") {
		q.ContactType = "business"
	}

	if m := frequencyRe.FindStringSubmatch(t); m != nil {
		q.MinFrequency, _ = strconv.Atoi(m[1])
	}

	if m := limitRe.FindStringSubmatch(t); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if n > maxLimit {
				n = maxLimit
			}
			q.Limit = n
		}
	}

	return q
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func mentionsMerchant(t string) bool {
	return containsAny(t, merchantKeywords)
}

func mentionsCategory(t string) bool {
	for _, words := range categoryWords {
		if containsAny(t, words) {
			return true
		}
	}
	return false
}

func extractDates(t string, now time.Time) *domain.DateRange {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	// Monday-based weekday offset.
	weekday := (int(today.Weekday()) + 6) % 7

	switch {
	case strings.Contains(t, "today"):
		return &domain.DateRange{Start: today, End: today}
	case strings.Contains(t, "yesterday"):
		y := today.AddDate(0, 0, -1)
		return &domain.DateRange{Start: y, End: y}
	case strings.Contains(t, "this week"):
		return &domain.DateRange{Start: today.AddDate(0, 0, -weekday), End: today}
	case strings.Contains(t, "last week"):
		return &domain.DateRange{
			Start: today.AddDate(0, 0, -(weekday + 7)),
			End:   today.AddDate(0, 0, -(weekday + 1)),
		}
	case strings.Contains(t, "this month"):
		return &domain.DateRange{
			Start: time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()),
			End:   today,
		}
	case strings.Contains(t, "last month"):
		firstOfMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		lastOfPrev := firstOfMonth.AddDate(0, 0, -1)
		return &domain.DateRange{
			Start: time.Date(lastOfPrev.Year(), lastOfPrev.Month(), 1, 0, 0, 0, 0, today.Location()),
			End:   lastOfPrev,
		}
	case strings.Contains(t, "this year"):
		return &domain.DateRange{
			Start: time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, today.Location()),
			End:   today,
		}
	case strings.Contains(t, "last year"):
		return &domain.DateRange{
			Start: time.Date(today.Year()-1, time.January, 1, 0, 0, 0, 0, today.Location()),
			End:   time.Date(today.Year()-1, time.December, 31, 0, 0, 0, 0, today.Location()),
		}
	}

	for name, month := range monthNames {
		idx := strings.Index(t, name)
		if idx < 0 {
			continue
		}
		year := today.Year()
		if m := yearAfterRe.FindStringSubmatch(t[idx+len(name):]); m != nil {
			year, _ = strconv.Atoi(m[1])
		}
		first := time.Date(year, month, 1, 0, 0, 0, 0, today.Location())
		last := first.AddDate(0, 1, -1)
		return &domain.DateRange{Start: first, End: last}
	}

	if dates := isoDateRe.FindAllString(t, -1); len(dates) > 0 {
		start, err := time.ParseInLocation("2006-01-02", dates[0], today.Location())
		if err != nil {
			return nil
		}
		end := start
		if len(dates) >= 2 {
			if e, err := time.ParseInLocation("2006-01-02", dates[1], today.Location()); err == nil {
				end = e
			}
		}
		return &domain.DateRange{Start: start, End: end}
	}

	return nil
}

func extractMerchants(t string) []string {
	var merchants []string
	for _, m := range merchantKeywords {
		if strings.Contains(t, m) {
			merchants = append(merchants, titleCase(m))
		}
	}

	// "at <merchant>" pattern, skipping idiomatic non-merchant words.
	for _, m := range atPatternRe.FindAllStringSubmatch(t, -1) {
		word := m[1]
		if atStopwords[word] || containsAny(word, merchantKeywords) {
			continue
		}
		if candidate := titleCase(word); !containsStr(merchants, candidate) {
			merchants = append(merchants, candidate)
		}
	}

	return merchants
}

func extractCategories(t string) []string {
	var found []string
	// Fixed iteration order keeps parsing deterministic.
	for _, category := range []string{"food", "transport", "shopping", "entertainment", "bills", "health", "education"} {
		if containsAny(t, categoryWords[category]) {
			found = append(found, category)
		}
	}
	return found
}

func extractTransactionType(t string) string {
	for _, txType := range []string{"debit", "credit", "transfer"} {
		if containsAny(t, transactionTypeWords[txType]) {
			return txType
		}
	}
	return ""
}

// extractAmounts parses monetary thresholds. A bare number only counts as
// an amount when it carries a currency marker or a magnitude suffix;
// otherwise "top 5" would read as a threshold of 5.
func extractAmounts(t string) *domain.AmountRange {
	var amounts []float64
	for _, m := range amountRe.FindAllStringSubmatch(t, -1) {
		raw, suffix := m[1], m[2]
		digits := strings.NewReplacer(",", "", ".", "").Replace(raw)
		value, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			continue
		}
		switch suffix {
		case "k", "ribu":
			value *= 1_000
		case "m", "jt", "juta":
			value *= 1_000_000
		}
		hasMarker := suffix != "" ||
			strings.Contains(m[0], "idr") || strings.Contains(m[0], "rp") || strings.Contains(m[0], "rupiah")
		if hasMarker {
			amounts = append(amounts, value)
		}
	}
	if len(amounts) == 0 {
		return nil
	}

	minV, maxV := amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		if a < minV {
			minV = a
		}
		if a > maxV {
			maxV = a
		}
	}

	switch {
	case strings.Contains(t, "above") || strings.Contains(t, "more than") || strings.Contains(t, "greater than"):
		return &domain.AmountRange{Min: &minV}
	case strings.Contains(t, "below") || strings.Contains(t, "less than") || strings.Contains(t, "under"):
		return &domain.AmountRange{Max: &maxV}
	case strings.Contains(t, "between") && len(amounts) >= 2:
		return &domain.AmountRange{Min: &minV, Max: &maxV}
	default:
		// Exact amount: min == max.
		return &domain.AmountRange{Min: &amounts[0], Max: &amounts[0]}
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
