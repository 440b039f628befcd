package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type HealthHandler struct {
	pool        *pgxpool.Pool
	environment string
	startTime   time.Time
}

func NewHealthHandler(pool *pgxpool.Pool, environment string) *HealthHandler {
	return &HealthHandler{
		pool:        pool,
		environment: environment,
		startTime:   time.Now(),
	}
}

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	Database      string `json:"database"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		Version:       "1.0.0",
		Environment:   h.environment,
		Database:      "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.pool.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("database ping failed")
		resp.Status = "degraded"
		resp.Database = "unreachable"
		RespondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}
