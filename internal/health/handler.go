package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Response is the /health body
type Response struct {
	Report
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// Handler serves the health endpoints of the stream server
type Handler struct {
	checker *Checker
	version string
}

func NewHandler(checker *Checker, version string) *Handler {
	return &Handler{checker: checker, version: version}
}

// Register mounts /health, /ready and /live on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.HandleFunc("GET /live", h.Live)
}

// Health runs every check and reports each result
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.run(r.Context(), 5*time.Second)
	writeJSON(w, statusCode(report), Response{
		Report:    report,
		Timestamp: time.Now(),
		Version:   h.version,
	})
}

// Ready reports whether the server can accept subscribers
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	report := h.run(r.Context(), 3*time.Second)
	writeJSON(w, statusCode(report), map[string]any{
		"ready":     report.Healthy(),
		"timestamp": time.Now(),
	})
}

// Live answers as long as the process serves requests
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

func (h *Handler) run(ctx context.Context, timeout time.Duration) Report {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return h.checker.Run(ctx)
}

func statusCode(report Report) int {
	if report.Healthy() {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
