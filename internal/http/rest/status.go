package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/italolelis/batch_downloader/internal/downloader/progress"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/telemetry"
)

// ProgressSource exposes the counters of the running batch.
type ProgressSource interface {
	Progress() (progress.Snapshot, bool)
}

type progressResponse struct {
	Running bool `json:"running"`
	progress.Snapshot
	Summary string `json:"summary,omitempty"`
}

// StatusHandler serves health, metrics and batch progress.
type StatusHandler struct {
	source    ProgressSource
	telemetry *telemetry.Telemetry
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(source ProgressSource, t *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{
		source:    source,
		telemetry: t,
	}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.HTTPLogging)
	r.Use(h.telemetry.Middleware)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/progress", h.HandleProgress)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	return r
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleProgress reports the aggregate counters of the current batch.
func (h *StatusHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var resp progressResponse

	if h.source != nil {
		snapshot, ok := h.source.Progress()
		if ok {
			resp.Snapshot = snapshot
			resp.Running = snapshot.Completed < snapshot.Total
			resp.Summary = snapshot.String()
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode progress", "err", err)
	}
}
