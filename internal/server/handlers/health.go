package handlers

import (
	"context"

	"github.com/maruel/tmdb/internal/storage"
)

// HealthHandler reports whether the server is up
type HealthHandler struct {
	repo *storage.Repository
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(repo *storage.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// HealthRequest is the request type for health check (empty).
type HealthRequest struct{}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status string `json:"status"`
	TMs    int    `json:"tms"`
}

// Health returns the health status of the server.
func (h *HealthHandler) Health(ctx context.Context, req HealthRequest) (*HealthResponse, error) {
	return &HealthResponse{Status: "ok", TMs: len(h.repo.ListTMs())}, nil
}
