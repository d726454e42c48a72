package events

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/telemetry"
)

// Path is where RevenueCat delivers webhooks.
const Path = "/webhooks/revenuecat"

const maxBodyBytes = 1 << 20

// Handler is the HTTP front of a Processor.
type Handler struct {
	proc    *Processor
	token   string
	metrics *telemetry.Metrics
}

// NewHandler creates a Handler. An empty token disables the authorization
// check.
func NewHandler(proc *Processor, token string, metrics *telemetry.Metrics) *Handler {
	return &Handler{proc: proc, token: token, metrics: metrics}
}

// Register mounts the webhook route.
func (h *Handler) Register(r chi.Router) {
	r.Post(Path, h.ServeHTTP)
}

// ServeHTTP acknowledges every delivery with 200 except unauthorized
// requests (401) and events that could not be stored (500), which the
// sender retries.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.metrics.RecordWebhook("unauthorized")
		writeStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		zap.L().Warn("events: read body", zap.Error(err))
		h.metrics.RecordWebhook(string(OutcomeIgnored))
		writeStatus(w, http.StatusOK, string(OutcomeIgnored))
		return
	}

	outcome, err := h.proc.Process(r.Context(), body)
	if err != nil {
		zap.L().Error("events: processing failed", zap.Error(err))
		writeStatus(w, http.StatusInternalServerError, string(outcome))
		return
	}
	writeStatus(w, http.StatusOK, string(outcome))
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(h.token)) == 1
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status}) //nolint:errcheck
}
