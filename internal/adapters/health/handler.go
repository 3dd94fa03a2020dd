// Package health exposes liveness/readiness endpoints for the relay
// process, following standard Kubernetes/OpenShift probe conventions,
// covering what the relay actually depends on: the database and the poll
// loop itself.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Engine is satisfied by relay.Engine.
type Engine interface {
	IsHealthy() bool
	IsReady() bool
}

type Handler struct {
	db    Pinger
	relay Engine
}

func NewHandler(db Pinger, relay Engine) *Handler {
	return &Handler{db: db, relay: relay}
}

// Live is a liveness probe: is the process responsive.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, h.relay.IsHealthy())
}

// Ready is a readiness probe: is the relay able to process events right now.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbUp := h.db.Ping(ctx) == nil
	writeStatus(w, dbUp && h.relay.IsReady())
}

func writeStatus(w http.ResponseWriter, up bool) {
	status := "UP"
	httpStatus := http.StatusOK
	if !up {
		status = "DOWN"
		httpStatus = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    status,
		"component": "outbox-relay",
	})
}
