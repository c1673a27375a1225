package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/maruel/tmdb/internal/storage"
)

// maxTMXBytes limits uploaded TMX documents.
const maxTMXBytes = 512 << 20

// tmxHandler streams TMX documents in and out of a TM. It does not go
// through Wrap since neither body is JSON.
type tmxHandler struct {
	repo *storage.Repository
}

// Export writes the TM as a TMX document.
func (h *tmxHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("tm")
	// Fail before the headers are written when the TM is unknown.
	if _, err := h.repo.Info(name); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-tmx+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="export.tmx"`)
	if err := h.repo.ExportTMX(ctx, name, w); err != nil {
		slog.ErrorContext(ctx, "Failed to export TMX", "tm", name, "err", err)
	}
}

// Import adds the records of the uploaded TMX document to the TM.
func (h *tmxHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("tm")
	st, err := h.repo.ImportTMX(ctx, name, http.MaxBytesReader(w, r.Body, maxTMXBytes))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(st); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}
