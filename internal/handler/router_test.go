package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/wondrlabs/finsight-brain-go/internal/brain"
	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/observability"
	"github.com/wondrlabs/finsight-brain-go/internal/port"
	"github.com/wondrlabs/finsight-brain-go/internal/reasoning"
	"github.com/wondrlabs/finsight-brain-go/internal/service"
)

// ---- stubs ----

type stubAgent struct {
	name    string
	payload *domain.AgentPayload
}

func (a *stubAgent) Name() string                         { return a.name }
func (a *stubAgent) CanHandle(q *domain.ParsedQuery) bool { return true }
func (a *stubAgent) Execute(ctx context.Context, q *domain.ParsedQuery) (*domain.AgentPayload, error) {
	return a.payload, nil
}

type memCache[T any] struct{ m map[string]T }

func newMemCache[T any]() *memCache[T] { return &memCache[T]{m: map[string]T{}} }

func (c *memCache[T]) Get(key string) (T, bool) { v, ok := c.m[key]; return v, ok }
func (c *memCache[T]) Set(key string, value T)  { c.m[key] = value }
func (c *memCache[T]) Delete(key string)        { delete(c.m, key) }

type stubKeyStore struct{ keys map[string]*domain.APIKey }

func (s *stubKeyStore) GetAPIKey(ctx context.Context, name string) (*domain.APIKey, error) {
	key, ok := s.keys[name]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "api_key", ID: name}
	}
	return key, nil
}

type stubHistory struct{ entries []domain.HistoryEntry }

func (s *stubHistory) InsertHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	return nil
}

func (s *stubHistory) ListHistory(ctx context.Context, cif string, limit int) ([]domain.HistoryEntry, error) {
	return s.entries, nil
}

// ---- fixtures ----

const testJWTSecret = "test-secret"

func testRouter(t *testing.T, requireAuth bool) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	agents := []port.Agent{&stubAgent{
		name: "transactions",
		payload: &domain.AgentPayload{
			Type: domain.ResultTypeSearch,
			Transactions: []domain.Transaction{
				{ID: "t1", Date: time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC), MerchantName: "Indomaret", Amount: -150_000, Currency: "IDR"},
			},
		},
	}}

	svc := service.NewQueryService(
		brain.New(agents, time.Second, logger, metrics),
		reasoning.New(logger, 0),
		nil,
		nil,
		&stubHistory{entries: []domain.HistoryEntry{{ID: "h1", CIF: "CIF001"}}},
		logger,
		metrics,
		service.QueryServiceConfig{QueryTimeout: 5 * time.Second},
	)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	keys := &stubKeyStore{keys: map[string]*domain.APIKey{
		"dashboard": {ID: "k1", Name: "dashboard", KeyHash: string(hash), IsActive: true},
	}}
	authSvc := service.NewAuthService(testJWTSecret, keys, newMemCache[*domain.APIKey](), logger, metrics)

	return NewRouter(svc, authSvc, metrics, logger, RouterConfig{
		RequireAuth:  requireAuth,
		APIKeyHeader: "X-API-Key",
	})
}

func postJSON(t *testing.T, router http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// ---- tests ----

func TestQueryEndpoint(t *testing.T) {
	router := testRouter(t, false)

	rec := postJSON(t, router, "/v1/query", domain.QueryRequest{
		Query: "Show my recent transactions",
		CIF:   "CIF001",
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var envelope domain.ResponseEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Answer == "" {
		t.Error("empty answer")
	}
	if envelope.ResponseType != domain.ResponseDetailedListing {
		t.Errorf("ResponseType = %q", envelope.ResponseType)
	}
	if len(envelope.AgentActivity) != 1 {
		t.Errorf("AgentActivity = %+v", envelope.AgentActivity)
	}
}

func TestQueryEndpointRejectsBadJSON(t *testing.T) {
	router := testRouter(t, false)

	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestQueryEndpointValidatesInput(t *testing.T) {
	router := testRouter(t, false)

	rec := postJSON(t, router, "/v1/query", domain.QueryRequest{Query: "", CIF: "CIF001"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query: status = %d, want 400", rec.Code)
	}

	rec = postJSON(t, router, "/v1/query", domain.QueryRequest{Query: "show my transactions", CIF: ""}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing cif: status = %d, want 400", rec.Code)
	}
}

func TestAggregateQueryEndpoint(t *testing.T) {
	router := testRouter(t, false)

	rec := postJSON(t, router, "/v1/query/aggregate/total_spending", map[string]string{"cif": "CIF001"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var envelope domain.ResponseEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.ResponseType != domain.ResponseAggregation {
		t.Errorf("ResponseType = %q, want aggregation", envelope.ResponseType)
	}
}

func TestAggregateQueryEndpointRejectsUnknownType(t *testing.T) {
	router := testRouter(t, false)

	rec := postJSON(t, router, "/v1/query/aggregate/net_worth", map[string]string{"cif": "CIF001"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAggregateQueryEndpointRejectsMalformedBody(t *testing.T) {
	router := testRouter(t, false)

	req := httptest.NewRequest(http.MethodPost, "/v1/query/aggregate/total_spending", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	router := testRouter(t, false)

	req := httptest.NewRequest(http.MethodGet, "/v1/query/history?cif=CIF001&limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		CIF     string                `json:"cif"`
		History []domain.HistoryEntry `json:"history"`
		Count   int                   `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.CIF != "CIF001" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	router := testRouter(t, false)

	for _, path := range []string{"/healthz", "/readyz", "/ping", "/metrics", "/v1/metrics/pipeline"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	router := testRouter(t, true)

	// No credentials.
	rec := postJSON(t, router, "/v1/query", domain.QueryRequest{Query: "show my transactions", CIF: "CIF001"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials: status = %d, want 401", rec.Code)
	}

	// Garbage bearer token.
	rec = postJSON(t, router, "/v1/query", domain.QueryRequest{Query: "show my transactions", CIF: "CIF001"},
		map[string]string{"Authorization": "Bearer not-a-token"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
}

func TestAuthBearerTokenInjectsCIF(t *testing.T) {
	router := testRouter(t, true)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, service.Claims{
		CIF: "CIF777",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// The request body omits the CIF: it comes from the token.
	rec := postJSON(t, router, "/v1/query", map[string]string{"query": "show my recent transactions"},
		map[string]string{"Authorization": "Bearer " + signed})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var envelope domain.ResponseEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.CIF != "CIF777" {
		t.Errorf("CIF = %q, want CIF777 (from token)", envelope.CIF)
	}
}

func TestAuthAPIKey(t *testing.T) {
	router := testRouter(t, true)

	rec := postJSON(t, router, "/v1/query", domain.QueryRequest{Query: "show my transactions", CIF: "CIF001"},
		map[string]string{"X-API-Key": "dashboard:s3cret"})
	if rec.Code != http.StatusOK {
		t.Errorf("valid api key: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, router, "/v1/query", domain.QueryRequest{Query: "show my transactions", CIF: "CIF001"},
		map[string]string{"X-API-Key": "dashboard:wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad api key: status = %d, want 401", rec.Code)
	}
}
