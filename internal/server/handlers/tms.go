package handlers

import (
	"context"

	"github.com/maruel/tmdb/internal/history"
	"github.com/maruel/tmdb/internal/storage"
)

// TMHandler handles TM lifecycle HTTP requests
type TMHandler struct {
	repo *storage.Repository
}

// NewTMHandler creates a new TM handler
func NewTMHandler(repo *storage.Repository) *TMHandler {
	return &TMHandler{repo: repo}
}

// ListTMsRequest is a request to list all TMs.
type ListTMsRequest struct{}

// ListTMsResponse is a response containing a list of TMs.
type ListTMsResponse struct {
	TMs []storage.TMInfo `json:"tms"`
}

// CreateTMRequest is a request to create a TM. The first locale is the
// source locale.
type CreateTMRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Locales     []string `json:"locales"`
}

// GetTMRequest is a request to get a TM.
type GetTMRequest struct {
	TM string `path:"tm"`
}

// UpdateTMRequest renames a TM and/or changes its description.
type UpdateTMRequest struct {
	TM          string  `path:"tm"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// DeleteTMRequest is a request to delete a TM.
type DeleteTMRequest struct {
	TM string `path:"tm"`
}

// DeleteResponse is the empty response of deletions.
type DeleteResponse struct{}

// HistoryRequest is a request for the commits of a TM.
type HistoryRequest struct {
	TM string `path:"tm"`
	N  int    `query:"n"`
}

// HistoryResponse lists commits, most recent first.
type HistoryResponse struct {
	Commits []*history.Commit `json:"commits"`
}

// ListTMs returns every TM.
func (h *TMHandler) ListTMs(ctx context.Context, req ListTMsRequest) (*ListTMsResponse, error) {
	return &ListTMsResponse{TMs: h.repo.ListTMs()}, nil
}

// CreateTM creates an empty TM.
func (h *TMHandler) CreateTM(ctx context.Context, req CreateTMRequest) (*storage.TMInfo, error) {
	info, err := h.repo.CreateTM(ctx, req.Name, req.Description, req.Locales)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// GetTM describes a TM: UUID, description, locales and segment count.
func (h *TMHandler) GetTM(ctx context.Context, req GetTMRequest) (*storage.TMInfo, error) {
	info, err := h.repo.Info(req.TM)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// UpdateTM renames a TM then sets its description.
func (h *TMHandler) UpdateTM(ctx context.Context, req UpdateTMRequest) (*storage.TMInfo, error) {
	name := req.TM
	if req.Name != nil {
		if err := h.repo.Rename(ctx, name, *req.Name); err != nil {
			return nil, err
		}
		name = *req.Name
	}
	if req.Description != nil {
		if err := h.repo.SetDescription(ctx, name, *req.Description); err != nil {
			return nil, err
		}
	}
	info, err := h.repo.Info(name)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteTM deletes a TM.
func (h *TMHandler) DeleteTM(ctx context.Context, req DeleteTMRequest) (*DeleteResponse, error) {
	if err := h.repo.DeleteTM(ctx, req.TM); err != nil {
		return nil, err
	}
	return &DeleteResponse{}, nil
}

// History returns the commits touching a TM.
func (h *TMHandler) History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error) {
	commits, err := h.repo.History(ctx, req.TM, req.N)
	if err != nil {
		return nil, err
	}
	if commits == nil {
		commits = []*history.Commit{}
	}
	return &HistoryResponse{Commits: commits}, nil
}
