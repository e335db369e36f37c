package service

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/observability"
	"github.com/wondrlabs/finsight-brain-go/internal/port"
)

// severityOrder ranks violation severities, highest first.
var severityOrder = []string{"critical", "high", "medium", "low"}

// GuardrailResult is the outcome of filtering one piece of text.
type GuardrailResult struct {
	Action     string // allow, block, transform, warn, flag
	Severity   string
	Text       string // possibly transformed
	Violations []string
	Failed     bool // the filter itself errored; text passed through
}

// Guardrail filters query and answer text against rules loaded from the
// store. Rule sets are cached with a TTL; any infrastructure failure is
// treated as allow so filtering never takes down the pipeline.
type Guardrail struct {
	store   port.GuardrailStore
	cache   port.Cache[[]domain.GuardrailRule]
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewGuardrail creates a guardrail engine.
func NewGuardrail(store port.GuardrailStore, cache port.Cache[[]domain.GuardrailRule], logger *zap.Logger, metrics *observability.Metrics) *Guardrail {
	return &Guardrail{store: store, cache: cache, logger: logger, metrics: metrics}
}

// Warm loads both rule directions concurrently, priming the cache.
// Called at startup; a failure only delays loading to first use.
func (g *Guardrail) Warm(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, direction := range []string{"input", "output"} {
		direction := direction
		eg.Go(func() error {
			_, err := g.rules(ctx, direction)
			return err
		})
	}
	return eg.Wait()
}

func (g *Guardrail) rules(ctx context.Context, direction string) ([]domain.GuardrailRule, error) {
	if cached, ok := g.cache.Get(direction); ok {
		g.metrics.IncrCacheHit("guardrails")
		return cached, nil
	}
	g.metrics.IncrCacheMiss("guardrails")
	rules, err := g.store.ListActiveRules(ctx, direction)
	if err != nil {
		return nil, err
	}
	g.cache.Set(direction, rules)
	return rules, nil
}

// CheckInput filters the inbound query text.
func (g *Guardrail) CheckInput(ctx context.Context, text string) GuardrailResult {
	return g.check(ctx, "input", text)
}

// CheckOutput filters the generated answer text.
func (g *Guardrail) CheckOutput(ctx context.Context, text string) GuardrailResult {
	return g.check(ctx, "output", text)
}

func (g *Guardrail) check(ctx context.Context, direction, text string) GuardrailResult {
	rules, err := g.rules(ctx, direction)
	if err != nil {
		// Fail open: filtering must never block the response.
		g.logger.Warn("guardrail rules unavailable, passing text through",
			zap.String("direction", direction),
			zap.Error(err),
		)
		return GuardrailResult{Action: "allow", Severity: "none", Text: text, Failed: true}
	}

	var violated []domain.GuardrailRule
	for _, rule := range rules {
		if g.matches(rule, text) {
			violated = append(violated, rule)
		}
	}
	if len(violated) == 0 {
		return GuardrailResult{Action: "allow", Severity: "none", Text: text}
	}

	result := GuardrailResult{
		Action:   finalAction(violated),
		Severity: highestSeverity(violated),
		Text:     text,
	}
	for _, rule := range violated {
		result.Violations = append(result.Violations, rule.Name)
	}

	if result.Action == "transform" {
		result.Text = applyTransforms(text, violated)
	}

	g.logger.Warn("guardrail violation",
		zap.String("direction", direction),
		zap.String("action", result.Action),
		zap.String("severity", result.Severity),
		zap.Strings("rules", result.Violations),
	)
	return result
}

func (g *Guardrail) matches(rule domain.GuardrailRule, text string) bool {
	switch rule.RuleType {
	case "regex":
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			g.logger.Warn("invalid guardrail pattern",
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
			return false
		}
		return re.MatchString(text)
	case "keyword":
		lower := strings.ToLower(text)
		for _, kw := range strings.Split(rule.Pattern, ",") {
			kw = strings.TrimSpace(strings.ToLower(kw))
			if kw != "" && strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// finalAction picks the strictest action across violations:
// block > transform > warn > flag.
func finalAction(violated []domain.GuardrailRule) string {
	actions := map[string]bool{}
	for _, r := range violated {
		actions[r.Action] = true
	}
	for _, a := range []string{"block", "transform", "warn", "flag"} {
		if actions[a] {
			return a
		}
	}
	return "allow"
}

func highestSeverity(violated []domain.GuardrailRule) string {
	for _, sev := range severityOrder {
		for _, r := range violated {
			if r.Severity == sev {
				return sev
			}
		}
	}
	return "none"
}

func applyTransforms(text string, violated []domain.GuardrailRule) string {
	out := text
	for _, rule := range violated {
		if rule.Action != "transform" {
			continue
		}
		switch rule.RuleType {
		case "regex":
			if re, err := regexp.Compile("(?i)" + rule.Pattern); err == nil {
				out = re.ReplaceAllString(out, rule.Replace)
			}
		case "keyword":
			for _, kw := range strings.Split(rule.Pattern, ",") {
				kw = strings.TrimSpace(kw)
				if kw != "" {
					out = replaceFold(out, kw, rule.Replace)
				}
			}
		}
	}
	return out
}

// replaceFold replaces every case-insensitive occurrence of old with new.
func replaceFold(s, old, new string) string {
	if old == "" {
		return s
	}
	lower, lowerOld := strings.ToLower(s), strings.ToLower(old)
	var b strings.Builder
	for {
		i := strings.Index(lower, lowerOld)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(new)
		s, lower = s[i+len(old):], lower[i+len(lowerOld):]
	}
}
