package api

import (
	"context"
	"net/http"
	"time"

	"github.com/hourglasshq/hourglass/internal/api/helpers"
)

// Pinger is the pool slice the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports process liveness and database reachability.
type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	helpers.RespondJSON(w, code, map[string]string{"status": status})
}
