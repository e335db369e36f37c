// Package handler exposes the query pipeline over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/observability"
	"github.com/wondrlabs/finsight-brain-go/internal/service"
)

var tracer = otel.Tracer("handler")

// RouterConfig carries the handler-level knobs.
type RouterConfig struct {
	RequireAuth  bool
	APIKeyHeader string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.QueryService, authSvc *service.AuthService, metrics *observability.Metrics, logger *zap.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if cfg.RequireAuth {
			r.Use(AuthMiddleware(authSvc, cfg.APIKeyHeader, logger))
		}

		// Main pipeline: natural-language query → routed answer.
		r.Post("/query", queryHandler(svc, logger))

		// Canned aggregate queries mapped onto the same pipeline.
		r.Post("/query/aggregate/{queryType}", aggregateQueryHandler(svc, logger))

		// Audited query history for the caller.
		r.Get("/query/history", historyHandler(svc, logger))

		// Pipeline counter snapshot.
		r.Get("/metrics/pipeline", pipelineMetricsHandler(metrics, logger))
	})

	return r
}

// aggregateQueries maps canned query types onto natural-language text the
// pipeline already understands.
var aggregateQueries = map[string]string{
	"total_spending":     "What is my total spending this month?",
	"category_breakdown": "Show my spending category breakdown this month",
	"merchant_frequency": "Show my merchant frequency breakdown this month",
}

func queryHandler(svc *service.QueryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/query")
		defer span.End()

		var req domain.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.CIF == "" {
			// Bearer-authenticated callers can omit the CIF.
			req.CIF = CIFFromContext(ctx)
		}
		span.SetAttributes(attribute.String("query.cif", req.CIF))

		envelope, err := svc.ExecuteQuery(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, envelope)
	}
}

func aggregateQueryHandler(svc *service.QueryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/query/aggregate")
		defer span.End()

		queryType := chi.URLParam(r, "queryType")
		text, ok := aggregateQueries[queryType]
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown aggregate query type: %s", queryType))
			return
		}
		span.SetAttributes(attribute.String("aggregate.type", queryType))

		var req domain.QueryRequest
		if r.Body != nil {
			// CIF and guardrail options ride in the body. An empty body is
			// fine; a body that fails to decode is not.
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		req.Query = text
		if req.CIF == "" {
			req.CIF = CIFFromContext(ctx)
		}

		envelope, err := svc.ExecuteQuery(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, envelope)
	}
}

func historyHandler(svc *service.QueryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/query/history")
		defer span.End()

		cif := r.URL.Query().Get("cif")
		if cif == "" {
			cif = CIFFromContext(ctx)
		}
		limit := parseLimit(r, 20, 100)

		entries, err := svc.ListHistory(ctx, cif, limit)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"cif":     cif,
			"history": entries,
			"count":   len(entries),
		})
	}
}

func pipelineMetricsHandler(metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/metrics/pipeline")
		defer span.End()

		snapshot := metrics.GetPipelineSnapshot()
		logger.Debug("pipeline metrics snapshot served",
			zap.Int64("total_queries", snapshot.TotalQueries),
		)
		writeJSON(w, http.StatusOK, snapshot)
	}
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status: "healthy",
			Services: []domain.ServiceHealth{
				{
					Name:        "brain",
					Status:      "healthy",
					LastChecked: time.Now().UTC().Format(time.RFC3339),
				},
			},
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
