package handlers

import (
	"context"

	"github.com/maruel/tmdb/internal/storage"
	"github.com/maruel/tmdb/internal/tm"
)

// SchemaHandler handles locale and field HTTP requests
type SchemaHandler struct {
	repo *storage.Repository
}

// NewSchemaHandler creates a new schema handler
func NewSchemaHandler(repo *storage.Repository) *SchemaHandler {
	return &SchemaHandler{repo: repo}
}

// ListLocalesRequest is a request for the locales of a TM.
type ListLocalesRequest struct {
	TM string `path:"tm"`
}

// LocalesResponse lists canonical locales, source locale first.
type LocalesResponse struct {
	Locales []string `json:"locales"`
}

// AddLocaleRequest adds a locale.
type AddLocaleRequest struct {
	TM     string `path:"tm"`
	Locale string `json:"locale"`
}

// DeleteLocaleRequest deletes a locale and its fields.
type DeleteLocaleRequest struct {
	TM     string `path:"tm"`
	Locale string `path:"locale"`
}

// RenameLocaleRequest renames a locale.
type RenameLocaleRequest struct {
	TM        string `path:"tm"`
	Locale    string `path:"locale"`
	NewLocale string `json:"newLocale"`
}

// ListFieldsRequest is a request for the schema of a TM.
type ListFieldsRequest struct {
	TM string `path:"tm"`
}

// FieldsResponse lists the fields in schema order, as names and as
// descriptors.
type FieldsResponse struct {
	Names  []string             `json:"names"`
	Fields []tm.FieldDescriptor `json:"fields"`
}

// AddFieldRequest adds a TU-level field or a locale attribute (Name~LOC).
type AddFieldRequest struct {
	TM    string `path:"tm"`
	Field string `json:"field"`
}

// DeleteFieldRequest deletes a field and its values.
type DeleteFieldRequest struct {
	TM    string `path:"tm"`
	Field string `path:"field"`
}

// RenameFieldRequest renames a field.
type RenameFieldRequest struct {
	TM      string `path:"tm"`
	Field   string `path:"field"`
	NewName string `json:"newName"`
}

// ListLocales returns the locales of a TM.
func (h *SchemaHandler) ListLocales(ctx context.Context, req ListLocalesRequest) (*LocalesResponse, error) {
	return h.locales(req.TM)
}

// AddLocale adds a locale.
func (h *SchemaHandler) AddLocale(ctx context.Context, req AddLocaleRequest) (*LocalesResponse, error) {
	if err := h.repo.AddLocale(ctx, req.TM, req.Locale); err != nil {
		return nil, err
	}
	return h.locales(req.TM)
}

// DeleteLocale deletes a locale.
func (h *SchemaHandler) DeleteLocale(ctx context.Context, req DeleteLocaleRequest) (*LocalesResponse, error) {
	if err := h.repo.DeleteLocale(ctx, req.TM, req.Locale); err != nil {
		return nil, err
	}
	return h.locales(req.TM)
}

// RenameLocale renames a locale.
func (h *SchemaHandler) RenameLocale(ctx context.Context, req RenameLocaleRequest) (*LocalesResponse, error) {
	if err := h.repo.RenameLocale(ctx, req.TM, req.Locale, req.NewLocale); err != nil {
		return nil, err
	}
	return h.locales(req.TM)
}

func (h *SchemaHandler) locales(name string) (*LocalesResponse, error) {
	l, err := h.repo.Locales(name)
	if err != nil {
		return nil, err
	}
	return &LocalesResponse{Locales: l}, nil
}

// ListFields returns the schema of a TM.
func (h *SchemaHandler) ListFields(ctx context.Context, req ListFieldsRequest) (*FieldsResponse, error) {
	return h.fields(req.TM)
}

// AddField adds a field.
func (h *SchemaHandler) AddField(ctx context.Context, req AddFieldRequest) (*FieldsResponse, error) {
	if err := h.repo.AddField(ctx, req.TM, req.Field); err != nil {
		return nil, err
	}
	return h.fields(req.TM)
}

// DeleteField deletes a field.
func (h *SchemaHandler) DeleteField(ctx context.Context, req DeleteFieldRequest) (*FieldsResponse, error) {
	if err := h.repo.DeleteField(ctx, req.TM, req.Field); err != nil {
		return nil, err
	}
	return h.fields(req.TM)
}

// RenameField renames a field.
func (h *SchemaHandler) RenameField(ctx context.Context, req RenameFieldRequest) (*FieldsResponse, error) {
	if err := h.repo.RenameField(ctx, req.TM, req.Field, req.NewName); err != nil {
		return nil, err
	}
	return h.fields(req.TM)
}

func (h *SchemaHandler) fields(name string) (*FieldsResponse, error) {
	names, err := h.repo.Fields(name)
	if err != nil {
		return nil, err
	}
	f, err := h.repo.Schema(name)
	if err != nil {
		return nil, err
	}
	return &FieldsResponse{Names: names, Fields: f}, nil
}
