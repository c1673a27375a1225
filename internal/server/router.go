// Package server implements the HTTP server and routing logic.
package server

import (
	"net/http"

	"github.com/maruel/tmdb/internal/server/handlers"
	"github.com/maruel/tmdb/internal/server/ratelimit"
	"github.com/maruel/tmdb/internal/storage"
)

// NewRouter creates and configures the HTTP router serving the API at
// /api/*. limits may be nil.
func NewRouter(repo *storage.Repository, limits *ratelimit.Config) http.Handler {
	mux := &http.ServeMux{}
	hh := handlers.NewHealthHandler(repo)
	th := handlers.NewTMHandler(repo)
	sch := handlers.NewSchemaHandler(repo)
	rh := handlers.NewRecordHandler(repo)
	sh := handlers.NewSearchHandler(repo)
	xh := &tmxHandler{repo: repo}

	// Health check
	mux.Handle("GET /api/health", Wrap(hh.Health))

	// TM endpoints
	mux.Handle("GET /api/tms", Wrap(th.ListTMs))
	mux.Handle("POST /api/tms", Wrap(th.CreateTM))
	mux.Handle("GET /api/tms/{tm}", Wrap(th.GetTM))
	mux.Handle("PUT /api/tms/{tm}", Wrap(th.UpdateTM))
	mux.Handle("DELETE /api/tms/{tm}", Wrap(th.DeleteTM))
	mux.Handle("GET /api/tms/{tm}/history", Wrap(th.History))

	// Schema endpoints
	mux.Handle("GET /api/tms/{tm}/locales", Wrap(sch.ListLocales))
	mux.Handle("POST /api/tms/{tm}/locales", Wrap(sch.AddLocale))
	mux.Handle("PUT /api/tms/{tm}/locales/{locale}", Wrap(sch.RenameLocale))
	mux.Handle("DELETE /api/tms/{tm}/locales/{locale}", Wrap(sch.DeleteLocale))
	mux.Handle("GET /api/tms/{tm}/fields", Wrap(sch.ListFields))
	mux.Handle("POST /api/tms/{tm}/fields", Wrap(sch.AddField))
	mux.Handle("PUT /api/tms/{tm}/fields/{field}", Wrap(sch.RenameField))
	mux.Handle("DELETE /api/tms/{tm}/fields/{field}", Wrap(sch.DeleteField))

	// Records endpoints
	mux.Handle("POST /api/tms/{tm}/records", Wrap(rh.AddRecord))
	mux.Handle("GET /api/tms/{tm}/records/{key}", Wrap(rh.GetRecord))
	mux.Handle("PUT /api/tms/{tm}/records/{key}", Wrap(rh.UpdateRecord))
	mux.Handle("DELETE /api/tms/{tm}/records/{key}", Wrap(rh.DeleteRecord))
	mux.Handle("POST /api/tms/{tm}/records/delete", Wrap(rh.DeleteRecords))
	mux.Handle("POST /api/tms/{tm}/pages", Wrap(rh.GetPage))
	mux.Handle("GET /api/tms/{tm}/diff", Wrap(rh.Diff))

	// TMX endpoints
	mux.HandleFunc("GET /api/tms/{tm}/tmx", xh.Export)
	mux.HandleFunc("POST /api/tms/{tm}/tmx", xh.Import)

	// Search endpoint
	mux.Handle("POST /api/search", Wrap(sh.Search))

	var h http.Handler = mux
	if limits != nil {
		h = RateLimit(limits)(h)
	}
	return LogRequests(h)
}
