package brain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/observability"
	"github.com/wondrlabs/finsight-brain-go/internal/port"
)

// stubAgent is a scriptable port.Agent for dispatcher tests.
type stubAgent struct {
	name      string
	canHandle bool
	delay     time.Duration
	ignoreCtx bool // simulate an agent that never checks its context
	payload   *domain.AgentPayload
	err       error
	panicMsg  string
}

func (a *stubAgent) Name() string                         { return a.name }
func (a *stubAgent) CanHandle(q *domain.ParsedQuery) bool { return a.canHandle }

func (a *stubAgent) Execute(ctx context.Context, q *domain.ParsedQuery) (*domain.AgentPayload, error) {
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	if a.delay > 0 {
		if a.ignoreCtx {
			time.Sleep(a.delay)
		} else {
			select {
			case <-time.After(a.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return a.payload, a.err
}

func newTestBrain(agents []port.Agent, agentTimeout time.Duration) *Brain {
	return New(agents, agentTimeout, zap.NewNop(), observability.NewMetrics())
}

func txPayload(n int) *domain.AgentPayload {
	txs := make([]domain.Transaction, n)
	for i := range txs {
		txs[i] = domain.Transaction{ID: "tx", Currency: "IDR", Amount: -1000}
	}
	return &domain.AgentPayload{Type: domain.ResultTypeSearch, Transactions: txs}
}

func TestRouteResultsInRegistrationOrder(t *testing.T) {
	// The slowest agent is registered first; completion order must not
	// leak into result order.
	agents := []port.Agent{
		&stubAgent{name: "transactions", canHandle: true, delay: 60 * time.Millisecond, payload: txPayload(2)},
		&stubAgent{name: "customers", canHandle: true, delay: 30 * time.Millisecond, payload: &domain.AgentPayload{Type: domain.ResultTypeProfile, Profile: &domain.CustomerProfile{CIF: "C1"}}},
		&stubAgent{name: "contacts", canHandle: true, payload: &domain.AgentPayload{Type: domain.ResultTypeContacts, Contacts: []domain.TransferContact{{ID: "ct1"}}}},
	}
	b := newTestBrain(agents, time.Second)

	results := b.Route(context.Background(), &domain.ParsedQuery{Intent: domain.IntentMultiDomain})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"transactions", "customers", "contacts"} {
		if results[i].AgentName != want {
			t.Errorf("results[%d].AgentName = %q, want %q", i, results[i].AgentName, want)
		}
		if !results[i].Handled {
			t.Errorf("results[%d] not handled", i)
		}
	}
	if results[0].RecordCount != 2 {
		t.Errorf("transactions RecordCount = %d, want 2", results[0].RecordCount)
	}
}

func TestRouteFailureIsolation(t *testing.T) {
	agents := []port.Agent{
		&stubAgent{name: "transactions", canHandle: true, err: errors.New("store unavailable")},
		&stubAgent{name: "contacts", canHandle: true, payload: &domain.AgentPayload{Type: domain.ResultTypeContacts, Contacts: []domain.TransferContact{{ID: "ct1"}}}},
	}
	b := newTestBrain(agents, time.Second)

	results := b.Route(context.Background(), &domain.ParsedQuery{Intent: domain.IntentMultiDomain})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].Failed() {
		t.Errorf("transactions result should be a failure: %+v", results[0])
	}
	if results[0].Error == "" || !strings.Contains(results[0].Error, "store unavailable") {
		t.Errorf("transactions Error = %q", results[0].Error)
	}
	if !results[1].Handled || results[1].RecordCount != 1 {
		t.Errorf("contacts result degraded by sibling failure: %+v", results[1])
	}
}

func TestRoutePanicRecovery(t *testing.T) {
	agents := []port.Agent{
		&stubAgent{name: "transactions", canHandle: true, panicMsg: "nil map write"},
		&stubAgent{name: "contacts", canHandle: true, payload: &domain.AgentPayload{Type: domain.ResultTypeContacts, Contacts: []domain.TransferContact{{ID: "ct1"}}}},
	}
	b := newTestBrain(agents, time.Second)

	results := b.Route(context.Background(), &domain.ParsedQuery{Intent: domain.IntentMultiDomain})

	if !strings.Contains(results[0].Error, "agent panic") {
		t.Errorf("panic not captured: %+v", results[0])
	}
	if results[0].Handled {
		t.Error("panicked agent reported as handled")
	}
	if !results[1].Handled {
		t.Errorf("sibling agent degraded by panic: %+v", results[1])
	}
}

func TestRouteContextExpiry(t *testing.T) {
	agents := []port.Agent{
		&stubAgent{name: "transactions", canHandle: true, delay: 500 * time.Millisecond, ignoreCtx: true, payload: txPayload(1)},
	}
	b := newTestBrain(agents, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	results := b.Route(ctx, &domain.ParsedQuery{Intent: domain.IntentTransactionLookup})

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].Failed() {
		t.Fatalf("expected timeout failure, got %+v", results[0])
	}
	if !strings.Contains(results[0].Error, "timed out") {
		t.Errorf("Error = %q, want timeout", results[0].Error)
	}
}

func TestRouteTimeoutRecordsOneOutcome(t *testing.T) {
	// An abandoned agent is counted once, by the collector; the straggler
	// finishing later must not add a second sample.
	metrics := observability.NewMetrics()
	agents := []port.Agent{
		&stubAgent{name: "transactions", canHandle: true, delay: 50 * time.Millisecond, ignoreCtx: true, payload: txPayload(1)},
	}
	b := New(agents, time.Second, zap.NewNop(), metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	results := b.Route(ctx, &domain.ParsedQuery{Intent: domain.IntentTransactionLookup})
	if !results[0].Failed() {
		t.Fatalf("expected timeout failure, got %+v", results[0])
	}

	// Let the abandoned goroutine run to completion before counting.
	time.Sleep(100 * time.Millisecond)

	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var samples float64
	for _, mf := range families {
		if mf.GetName() != "brain_agent_outcomes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			samples += m.GetCounter().GetValue()
		}
	}
	if samples != 1 {
		t.Errorf("outcome samples = %v, want exactly 1", samples)
	}
}

func TestRouteAgentTimeout(t *testing.T) {
	// The per-agent deadline cancels a slow agent without expiring the
	// query context.
	agents := []port.Agent{
		&stubAgent{name: "transactions", canHandle: true, delay: 500 * time.Millisecond, payload: txPayload(1)},
		&stubAgent{name: "contacts", canHandle: true, payload: &domain.AgentPayload{Type: domain.ResultTypeContacts, Contacts: []domain.TransferContact{{ID: "ct1"}}}},
	}
	b := newTestBrain(agents, 30*time.Millisecond)

	results := b.Route(context.Background(), &domain.ParsedQuery{Intent: domain.IntentMultiDomain})

	if !results[0].Failed() {
		t.Errorf("slow agent should have failed: %+v", results[0])
	}
	if !results[1].Handled {
		t.Errorf("fast agent degraded by slow sibling: %+v", results[1])
	}
}

func TestRouteSkipsNonMatchingAgents(t *testing.T) {
	agents := []port.Agent{
		&stubAgent{name: "transactions", canHandle: true, payload: txPayload(1)},
		&stubAgent{name: "customers", canHandle: false},
	}
	b := newTestBrain(agents, time.Second)

	results := b.Route(context.Background(), &domain.ParsedQuery{Intent: domain.IntentTransactionLookup})

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (only the matching agent)", len(results))
	}
	if results[0].AgentName != "transactions" {
		t.Errorf("dispatched %q, want transactions", results[0].AgentName)
	}
}

func TestRouteMultiDomainDispatchesEveryAgent(t *testing.T) {
	// Multi-domain queries reach every agent; a non-matching agent yields
	// a deliberate skip, not a failure.
	agents := []port.Agent{
		&stubAgent{name: "transactions", canHandle: true, payload: txPayload(1)},
		&stubAgent{name: "customers", canHandle: false},
		&stubAgent{name: "contacts", canHandle: true, payload: &domain.AgentPayload{Type: domain.ResultTypeContacts, Contacts: []domain.TransferContact{{ID: "ct1"}}}},
	}
	b := newTestBrain(agents, time.Second)

	results := b.Route(context.Background(), &domain.ParsedQuery{Intent: domain.IntentMultiDomain})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	skip := results[1]
	if skip.Handled || skip.Error != "" || skip.Failed() {
		t.Errorf("non-matching agent should skip cleanly: %+v", skip)
	}
}

func TestRouteForcesDefaultAgentWhenNoneMatch(t *testing.T) {
	executed := &stubAgent{name: "transactions", canHandle: false, payload: &domain.AgentPayload{Type: domain.ResultTypeSearch}}
	agents := []port.Agent{
		executed,
		&stubAgent{name: "customers", canHandle: false},
	}
	b := newTestBrain(agents, time.Second)

	results := b.Route(context.Background(), &domain.ParsedQuery{Intent: domain.IntentTransactionLookup})

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (forced default)", len(results))
	}
	if results[0].AgentName != "transactions" {
		t.Errorf("forced %q, want transactions", results[0].AgentName)
	}
	// Forced execution bypasses CanHandle: the agent ran and returned an
	// empty payload rather than skipping.
	if !results[0].Handled {
		t.Errorf("forced agent did not execute: %+v", results[0])
	}
	if results[0].RecordCount != 0 {
		t.Errorf("RecordCount = %d, want 0", results[0].RecordCount)
	}
}
