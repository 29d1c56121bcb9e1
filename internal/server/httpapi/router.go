// Package httpapi is the HTTP side server: health, Prometheus metrics and the
// WebSocket notification channel.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Deps are the handlers and checks the router serves.
type Deps struct {
	WS      http.Handler
	Metrics http.Handler
	Ready   func(context.Context) error // nil means always ready
	Log     *zap.Logger
}

// NewRouter builds the chi router.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(Recover(log), Logging(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				log.Warn("health check failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	if d.WS != nil {
		r.Get("/ws/notifications", d.WS.ServeHTTP)
	}
	return r
}
