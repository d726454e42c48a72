package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/events"
	"github.com/sells-group/portfolio-metrics/internal/metrics"
	"github.com/sells-group/portfolio-metrics/internal/model"
	"github.com/sells-group/portfolio-metrics/internal/monitoring"
	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

// routerDeps are the handlers and services mounted by newRouter.
type routerDeps struct {
	Aggregator  *metrics.Aggregator
	Webhook     *events.Handler
	Metrics     *telemetry.Metrics
	Health      *monitoring.Collector
	StaleAfter  int
	CORSOrigins []string
	Now         func() time.Time
}

// newRouter builds the HTTP surface: health, prometheus metrics, the
// RevenueCat webhook and the read-only report API.
func newRouter(d routerDeps) http.Handler {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeAPI(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	if d.Webhook != nil {
		d.Webhook.Register(r)
	}

	api := &reportAPI{agg: d.Aggregator, health: d.Health, staleAfter: d.StaleAfter, now: d.Now}
	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", api.snapshot)
		r.Get("/trend", api.trend)
		r.Get("/top", api.top)
		r.Get("/ingestion", api.ingestion)
	})
	return r
}

type reportAPI struct {
	agg        *metrics.Aggregator
	health     *monitoring.Collector
	staleAfter int
	now        func() time.Time
}

func (a *reportAPI) yesterday() time.Time { return a.now().AddDate(0, 0, -1) }

// GET /api/snapshot?date=YYYY-MM-DD
func (a *reportAPI) snapshot(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateFlag(r.URL.Query().Get("date"), a.yesterday())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := a.agg.Snapshot(r.Context(), date)
	if err != nil {
		internalError(w, "snapshot", err)
		return
	}
	writeAPI(w, http.StatusOK, snap)
}

// GET /api/trend?end=YYYY-MM-DD&days=30
func (a *reportAPI) trend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	end, err := parseDateFlag(q.Get("end"), a.yesterday())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	days, err := intParam(q.Get("days"), 30)
	if err != nil || days < 1 || days > metrics.MaxTrendDays {
		writeError(w, http.StatusBadRequest, "days must be between 1 and "+strconv.Itoa(metrics.MaxTrendDays))
		return
	}
	points, err := a.agg.Trend(r.Context(), end, days)
	if err != nil {
		internalError(w, "trend", err)
		return
	}
	writeAPI(w, http.StatusOK, points)
}

// GET /api/top?date=YYYY-MM-DD&metric=revenue&limit=10
func (a *reportAPI) top(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := parseDateFlag(q.Get("date"), a.yesterday())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metric := metrics.RankRevenue
	if m := q.Get("metric"); m != "" {
		if metric, err = metrics.ParseRankMetric(m); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit, err := intParam(q.Get("limit"), 10)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	top, err := a.agg.TopPerformers(r.Context(), date, metric, limit)
	if err != nil {
		internalError(w, "top", err)
		return
	}
	writeAPI(w, http.StatusOK, map[string]any{
		"date":    date.Format(model.DateLayout),
		"metric":  metric,
		"results": top,
	})
}

// GET /api/ingestion
func (a *reportAPI) ingestion(w http.ResponseWriter, r *http.Request) {
	if a.health == nil {
		writeError(w, http.StatusNotFound, "ingestion health is not available")
		return
	}
	snap, err := a.health.Collect(r.Context(), a.staleAfter)
	if err != nil {
		internalError(w, "ingestion", err)
		return
	}
	writeAPI(w, http.StatusOK, snap)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeAPI(w, code, map[string]string{"error": msg})
}

func writeAPI(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
