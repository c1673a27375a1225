package handlers

import (
	"context"

	"github.com/maruel/tmdb/internal/filter"
	"github.com/maruel/tmdb/internal/storage"
	"github.com/maruel/tmdb/internal/tm"
)

// RecordHandler handles record, page and diff HTTP requests
type RecordHandler struct {
	repo *storage.Repository
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(repo *storage.Repository) *RecordHandler {
	return &RecordHandler{repo: repo}
}

// AddRecordRequest adds a record. TUKey joins an existing translation unit;
// it starts a new one when absent.
type AddRecordRequest struct {
	TM      string              `path:"tm"`
	TUKey   *int64              `json:"tuKey,omitempty"`
	TU      map[string]tm.Value `json:"tu,omitempty"`
	Segment map[string]tm.Value `json:"segment,omitempty"`
}

// RecordResponse is a record with every field rendered as a string.
type RecordResponse struct {
	Key    int64             `json:"key"`
	Fields map[string]string `json:"fields"`
}

// GetRecordRequest is a request to get a record.
type GetRecordRequest struct {
	TM  string `path:"tm"`
	Key int64  `path:"key"`
}

// UpdateRecordRequest merges values into a record and its translation unit.
type UpdateRecordRequest struct {
	TM      string              `path:"tm"`
	Key     int64               `path:"key"`
	TU      map[string]tm.Value `json:"tu,omitempty"`
	Segment map[string]tm.Value `json:"segment,omitempty"`
}

// DeleteRecordRequest is a request to delete a record.
type DeleteRecordRequest struct {
	TM  string `path:"tm"`
	Key int64  `path:"key"`
}

// DeleteRecordsRequest deletes several records at once, or none when a key
// is unknown.
type DeleteRecordsRequest struct {
	TM   string  `path:"tm"`
	Keys []int64 `json:"keys"`
}

// GetPageRequest is a request for one page of records. Index is 0-based;
// Mode is "editor" (default) or "iterator".
type GetPageRequest struct {
	TM     string       `path:"tm"`
	Index  int          `json:"index"`
	Size   int          `json:"size,omitempty"`
	Mode   string       `json:"mode,omitempty"`
	Filter *filter.Node `json:"filter,omitempty"`
}

// GetPageResponse holds the rows of a page. Rows is empty past the last
// page.
type GetPageResponse struct {
	Index     int                 `json:"index"`
	PageCount int                 `json:"pageCount"`
	Size      int                 `json:"size"`
	Mode      string              `json:"mode"`
	Fields    []string            `json:"fields"`
	Keys      []int64             `json:"keys"`
	Rows      []map[string]string `json:"rows"`
}

// DiffRequest compares field FieldA of record A with field FieldB of
// record B.
type DiffRequest struct {
	TM     string `path:"tm"`
	A      int64  `query:"a"`
	FieldA string `query:"fieldA"`
	B      int64  `query:"b"`
	FieldB string `query:"fieldB"`
}

// DiffResponse holds the rendered differences.
type DiffResponse struct {
	HTML string `json:"html"`
}

// AddRecord adds a record.
func (h *RecordHandler) AddRecord(ctx context.Context, req AddRecordRequest) (*RecordResponse, error) {
	tuKey := int64(-1)
	if req.TUKey != nil {
		tuKey = *req.TUKey
	}
	key, err := h.repo.AddRecord(ctx, req.TM, tuKey, req.TU, req.Segment)
	if err != nil {
		return nil, err
	}
	return h.record(req.TM, key)
}

// GetRecord returns a record.
func (h *RecordHandler) GetRecord(ctx context.Context, req GetRecordRequest) (*RecordResponse, error) {
	return h.record(req.TM, req.Key)
}

// UpdateRecord updates a record.
func (h *RecordHandler) UpdateRecord(ctx context.Context, req UpdateRecordRequest) (*RecordResponse, error) {
	if err := h.repo.UpdateRecord(ctx, req.TM, req.Key, req.TU, req.Segment); err != nil {
		return nil, err
	}
	return h.record(req.TM, req.Key)
}

// DeleteRecord deletes a record.
func (h *RecordHandler) DeleteRecord(ctx context.Context, req DeleteRecordRequest) (*DeleteResponse, error) {
	if err := h.repo.DeleteRecord(ctx, req.TM, req.Key); err != nil {
		return nil, err
	}
	return &DeleteResponse{}, nil
}

// DeleteRecords deletes several records.
func (h *RecordHandler) DeleteRecords(ctx context.Context, req DeleteRecordsRequest) (*DeleteResponse, error) {
	if err := h.repo.DeleteRecord(ctx, req.TM, req.Keys...); err != nil {
		return nil, err
	}
	return &DeleteResponse{}, nil
}

func (h *RecordHandler) record(name string, key int64) (*RecordResponse, error) {
	fields, err := h.repo.GetRecord(name, key)
	if err != nil {
		return nil, err
	}
	return &RecordResponse{Key: key, Fields: fields}, nil
}

// GetPage returns a page of records.
func (h *RecordHandler) GetPage(ctx context.Context, req GetPageRequest) (*GetPageResponse, error) {
	mode, err := tm.ParsePageMode(req.Mode)
	if err != nil {
		return nil, err
	}
	size := req.Size
	if size == 0 {
		size = tm.DefaultPageSize
	}
	count, err := h.repo.GetPageCount(req.TM, size, mode, req.Filter)
	if err != nil {
		return nil, err
	}
	pg, err := h.repo.GetPage(req.TM, req.Index, size, mode, req.Filter)
	if err != nil {
		return nil, err
	}
	resp := &GetPageResponse{
		Index:     req.Index,
		PageCount: count,
		Size:      size,
		Mode:      mode.String(),
		Fields:    []string{},
		Keys:      []int64{},
		Rows:      []map[string]string{},
	}
	if pg == nil {
		return resp, nil
	}
	for i := 1; i <= pg.FieldCount(); i++ {
		name, err := pg.FieldName(i)
		if err != nil {
			return nil, err
		}
		resp.Fields = append(resp.Fields, name)
	}
	resp.Keys = pg.Keys()
	resp.Rows = pg.Maps()
	return resp, nil
}

// Diff renders the differences between two field values.
func (h *RecordHandler) Diff(ctx context.Context, req DiffRequest) (*DiffResponse, error) {
	html, err := h.repo.Diff(req.TM, req.A, req.FieldA, req.B, req.FieldB)
	if err != nil {
		return nil, err
	}
	return &DiffResponse{HTML: html}, nil
}
