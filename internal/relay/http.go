// ABOUTME: HTTP surface of the relay: health probes, member listing, Prometheus metrics
// ABOUTME: Routed with chi; request logging goes through slog

package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lightningrodlabs/moss-sub000/internal/store"
)

// memberJSON is the /api/members row.
type memberJSON struct {
	AgentID       string    `json:"agent_id"`
	Nickname      string    `json:"nickname,omitempty"`
	Connected     bool      `json:"connected"`
	FirstSeen     time.Time `json:"first_seen,omitzero"`
	LastConnected time.Time `json:"last_connected,omitzero"`
}

// HTTPOptions configures NewRouter.
type HTTPOptions struct {
	MetricsEnabled bool
	MetricsPath    string
}

// NewRouter builds the relay's HTTP handler.
func NewRouter(hub *Hub, s store.Store, opts HTTPOptions, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	h := &httpHandlers{hub: hub, store: s, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Get("/health/ready", h.handleReady)
	r.Get("/api/members", h.handleMembers)

	if opts.MetricsEnabled {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}
	return r
}

// requestLogger returns a request logging middleware using slog.
func requestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Debug("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"latency", time.Since(start),
					"request_id", chimw.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

type httpHandlers struct {
	hub    *Hub
	store  store.Store
	logger *slog.Logger
}

// handleHealth returns 200 OK if the server is alive.
func (h *httpHandlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one peer is connected.
func (h *httpHandlers) handleReady(w http.ResponseWriter, _ *http.Request) {
	n := h.hub.Count()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no peers connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d peers)", n)
}

func (h *httpHandlers) handleMembers(w http.ResponseWriter, r *http.Request) {
	var rows []memberJSON

	if h.store != nil {
		members, err := h.store.ListMembers(r.Context())
		if err != nil {
			h.logger.Error("listing members", "error", err)
			http.Error(w, "listing members failed", http.StatusInternalServerError)
			return
		}
		rows = make([]memberJSON, 0, len(members))
		for _, m := range members {
			rows = append(rows, memberJSON{
				AgentID:       m.AgentID.String(),
				Nickname:      m.Nickname,
				Connected:     h.hub.IsConnected(m.AgentID),
				FirstSeen:     m.FirstSeen,
				LastConnected: m.LastConnected,
			})
		}
	} else {
		ids := h.hub.Connected()
		rows = make([]memberJSON, 0, len(ids))
		for _, id := range ids {
			row := memberJSON{AgentID: id.String(), Connected: true}
			if c, ok := h.hub.Get(id); ok {
				row.Nickname = c.Nickname
				row.LastConnected = c.ConnectedAt
			}
			rows = append(rows, row)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"members": rows}); err != nil {
		h.logger.Warn("writing members response", "error", err)
	}
}
