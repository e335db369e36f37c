package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/observability"
)

func blockRule(name, pattern string) domain.GuardrailRule {
	return domain.GuardrailRule{
		ID: name, Name: name, RuleType: "keyword", Pattern: pattern,
		Action: "block", Severity: "critical", IsActive: true,
	}
}

func TestGuardrailAllowsCleanText(t *testing.T) {
	store := &stubRuleStore{rules: map[string][]domain.GuardrailRule{
		"input": {blockRule("probe", "other customer")},
	}}
	g := NewGuardrail(store, newMemCache[[]domain.GuardrailRule](), zap.NewNop(), observability.NewMetrics())

	res := g.CheckInput(context.Background(), "show my spending this month")
	if res.Action != "allow" || len(res.Violations) != 0 || res.Failed {
		t.Errorf("result = %+v, want clean allow", res)
	}
	if res.Text != "show my spending this month" {
		t.Errorf("Text = %q, text must pass through untouched", res.Text)
	}
}

func TestGuardrailFailOpen(t *testing.T) {
	store := &stubRuleStore{err: errors.New("rules table unavailable")}
	g := NewGuardrail(store, newMemCache[[]domain.GuardrailRule](), zap.NewNop(), observability.NewMetrics())

	res := g.CheckInput(context.Background(), "anything at all")
	if res.Action != "allow" {
		t.Errorf("Action = %q, want allow", res.Action)
	}
	if !res.Failed {
		t.Error("Failed = false, want true")
	}
	if res.Text != "anything at all" {
		t.Errorf("Text = %q, want original", res.Text)
	}
}

func TestGuardrailActionPrecedence(t *testing.T) {
	store := &stubRuleStore{rules: map[string][]domain.GuardrailRule{
		"input": {
			{ID: "w", Name: "warn_rule", RuleType: "keyword", Pattern: "loan", Action: "warn", Severity: "low", IsActive: true},
			{ID: "t", Name: "transform_rule", RuleType: "keyword", Pattern: "loan shark", Action: "transform", Severity: "medium", Replace: "lender", IsActive: true},
			{ID: "b", Name: "block_rule", RuleType: "keyword", Pattern: "launder", Action: "block", Severity: "critical", IsActive: true},
		},
	}}
	g := NewGuardrail(store, newMemCache[[]domain.GuardrailRule](), zap.NewNop(), observability.NewMetrics())

	// warn + transform: transform wins.
	res := g.CheckInput(context.Background(), "find me a loan shark")
	if res.Action != "transform" {
		t.Errorf("Action = %q, want transform", res.Action)
	}
	if res.Severity != "medium" {
		t.Errorf("Severity = %q, want medium", res.Severity)
	}
	if res.Text != "find me a lender" {
		t.Errorf("Text = %q, want transformed", res.Text)
	}

	// block beats everything.
	res = g.CheckInput(context.Background(), "how to launder a loan shark payment")
	if res.Action != "block" {
		t.Errorf("Action = %q, want block", res.Action)
	}
	if res.Severity != "critical" {
		t.Errorf("Severity = %q, want critical", res.Severity)
	}
	if len(res.Violations) != 3 {
		t.Errorf("Violations = %v, want all three rules", res.Violations)
	}
}

func TestGuardrailRegexCaseInsensitive(t *testing.T) {
	store := &stubRuleStore{rules: map[string][]domain.GuardrailRule{
		"output": {{
			ID: "r", Name: "mask_card", RuleType: "regex",
			Pattern: `\b\d{4}-\d{4}-\d{4}-\d{4}\b`, Action: "transform",
			Severity: "high", Replace: "****-****-****-****", IsActive: true,
		}},
	}}
	g := NewGuardrail(store, newMemCache[[]domain.GuardrailRule](), zap.NewNop(), observability.NewMetrics())

	res := g.CheckOutput(context.Background(), "Your card 1234-5678-9012-3456 was charged")
	if res.Action != "transform" {
		t.Fatalf("Action = %q, want transform", res.Action)
	}
	if res.Text != "Your card ****-****-****-**** was charged" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestGuardrailKeywordTransformIsCaseInsensitive(t *testing.T) {
	store := &stubRuleStore{rules: map[string][]domain.GuardrailRule{
		"output": {{
			ID: "k", Name: "mask_pin", RuleType: "keyword",
			Pattern: "pin code", Action: "transform", Severity: "high",
			Replace: "[redacted]", IsActive: true,
		}},
	}}
	g := NewGuardrail(store, newMemCache[[]domain.GuardrailRule](), zap.NewNop(), observability.NewMetrics())

	res := g.CheckOutput(context.Background(), "Your PIN Code is 1234, keep the pin code safe")
	if res.Text != "Your [redacted] is 1234, keep the [redacted] safe" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestGuardrailInvalidRegexIgnored(t *testing.T) {
	store := &stubRuleStore{rules: map[string][]domain.GuardrailRule{
		"input": {
			{ID: "bad", Name: "bad_rule", RuleType: "regex", Pattern: "([", Action: "block", Severity: "critical", IsActive: true},
		},
	}}
	g := NewGuardrail(store, newMemCache[[]domain.GuardrailRule](), zap.NewNop(), observability.NewMetrics())

	res := g.CheckInput(context.Background(), "anything")
	if res.Action != "allow" {
		t.Errorf("Action = %q, an uncompilable rule must not match", res.Action)
	}
}

func TestGuardrailRulesCached(t *testing.T) {
	store := &stubRuleStore{
		rules: map[string][]domain.GuardrailRule{"input": {blockRule("probe", "other customer")}},
		calls: map[string]int{},
	}
	metrics := observability.NewMetrics()
	g := NewGuardrail(store, newMemCache[[]domain.GuardrailRule](), zap.NewNop(), metrics)

	for i := 0; i < 3; i++ {
		g.CheckInput(context.Background(), "hello")
	}
	if store.calls["input"] != 1 {
		t.Errorf("store called %d times, want 1 (cached)", store.calls["input"])
	}

	// One miss and two hits land in the pipeline snapshot.
	snap := metrics.GetPipelineSnapshot()
	if want := 2.0 / 3.0; snap.CacheHitRate != want {
		t.Errorf("CacheHitRate = %v, want %v", snap.CacheHitRate, want)
	}
}

func TestGuardrailWarmPrimesBothDirections(t *testing.T) {
	store := &stubRuleStore{
		rules: map[string][]domain.GuardrailRule{},
		calls: map[string]int{},
	}
	g := NewGuardrail(store, newMemCache[[]domain.GuardrailRule](), zap.NewNop(), observability.NewMetrics())

	if err := g.Warm(context.Background()); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if store.calls["input"] != 1 || store.calls["output"] != 1 {
		t.Errorf("calls = %v, want one per direction", store.calls)
	}

	g.CheckInput(context.Background(), "hello")
	g.CheckOutput(context.Background(), "hello")
	if store.calls["input"] != 1 || store.calls["output"] != 1 {
		t.Errorf("calls after checks = %v, cache not primed", store.calls)
	}
}
