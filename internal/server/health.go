package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atelier-ai/atelier/internal/db"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db     *db.Client
	redis  *redis.Client
	logger *zap.Logger
}

// NewHealthHandler wires a health handler.
func NewHealthHandler(dbClient *db.Client, redisClient *redis.Client, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: dbClient, redis: redisClient, logger: logger}
}

// HealthResponse is the probe payload.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Time    time.Time         `json:"time"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: "0.1.0",
		Time:    time.Now(),
		Checks:  map[string]string{"server": "ok"},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// Readiness handles GET /readiness, checking the database and Redis.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:  "ready",
		Version: "0.1.0",
		Time:    time.Now(),
		Checks:  make(map[string]string),
	}
	status := http.StatusOK

	if err := h.db.HealthCheck(ctx); err != nil {
		response.Status = "not ready"
		response.Checks["database"] = "failed"
		status = http.StatusServiceUnavailable
		h.logger.Warn("Database readiness check failed", zap.Error(err))
	} else {
		response.Checks["database"] = "ok"
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		response.Status = "not ready"
		response.Checks["redis"] = "failed"
		status = http.StatusServiceUnavailable
		h.logger.Warn("Redis readiness check failed", zap.Error(err))
	} else {
		response.Checks["redis"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
