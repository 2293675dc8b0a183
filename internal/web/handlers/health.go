package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// healthTimeout bounds each dependency probe.
const healthTimeout = 3 * time.Second

// Pinger is satisfied by the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker is satisfied by the detector client.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler reports database and detector reachability. A missing
// detector degrades the service, a missing database makes it unhealthy.
type HealthHandler struct {
	db       Pinger
	detector HealthChecker
	logger   *zap.Logger
}

// NewHealthHandler creates a new health handler. Either dependency may be nil.
func NewHealthHandler(db Pinger, det HealthChecker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, detector: det, logger: logger}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Detector string `json:"detector"`
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "connected", Detector: "available"}
	status := http.StatusOK

	if h.db == nil {
		resp.Database = "not configured"
	} else if err := probe(r.Context(), h.db.Ping); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		resp.Database = "unreachable"
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	if h.detector == nil {
		resp.Detector = "not configured"
	} else if err := probe(r.Context(), h.detector.Health); err != nil {
		h.logger.Warn("detector health check failed", zap.Error(err))
		resp.Detector = "unavailable"
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	respondJSON(w, status, resp)
}

func probe(ctx context.Context, check func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return check(ctx)
}
