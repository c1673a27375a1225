package handlers

import (
	"context"

	"github.com/maruel/tmdb/internal/storage"
)

// SearchHandler handles fuzzy search HTTP requests
type SearchHandler struct {
	repo *storage.Repository
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(repo *storage.Repository) *SearchHandler {
	return &SearchHandler{repo: repo}
}

// SearchResponse is the response to a search request
type SearchResponse struct {
	Hits []storage.SearchHit `json:"hits"`
}

// Search performs a fuzzy search over the TMs.
func (h *SearchHandler) Search(ctx context.Context, req storage.SearchRequest) (*SearchResponse, error) {
	hits, err := h.repo.Search(ctx, &req)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{Hits: hits}, nil
}
