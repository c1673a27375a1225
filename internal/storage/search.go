package storage

import (
	"context"
	"io"

	apierrors "github.com/maruel/tmdb/internal/errors"
	"github.com/maruel/tmdb/internal/fulltext"
	"github.com/maruel/tmdb/internal/tm"
	"github.com/maruel/tmdb/internal/tmx"
)

// SearchRequest is a fuzzy search over one or more TMs.
type SearchRequest struct {
	Text   string `json:"text"`
	Codes  string `json:"codes,omitempty"`
	Locale string `json:"locale"`
	// TMs restricts the search to these TM names; empty searches every TM.
	TMs []string `json:"tms,omitempty"`
	// Threshold and MaxResults default to the configured search defaults.
	Threshold  *float64          `json:"threshold,omitempty"`
	MaxResults *int              `json:"maxResults,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SearchHit is one search result.
type SearchHit struct {
	TM    string  `json:"tm"`
	Key   int64   `json:"key"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
	Codes string  `json:"codes,omitempty"`
	// Variants maps each locale of the record to its text.
	Variants   map[string]string `json:"variants"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Search returns the records whose text in req.Locale is similar to
// req.Text, best first.
func (r *Repository) Search(ctx context.Context, req *SearchRequest) ([]SearchHit, error) {
	loc := tm.CanonicalLocale(req.Locale)
	if loc == "" {
		return nil, apierrors.BadRequest("locale is required")
	}
	var attrs map[string]string
	if len(req.Attributes) != 0 {
		// Indexed attributes carry canonical field names.
		attrs = make(map[string]string, len(req.Attributes))
		for k, v := range req.Attributes {
			f, err := tm.ParseField(k)
			if err != nil {
				return nil, err
			}
			attrs[f.Name] = v
		}
	}
	def := r.SearchDefaults()
	q := fulltext.Query{
		Text:       req.Text,
		Codes:      req.Codes,
		Locale:     loc,
		Threshold:  def.Threshold,
		MaxResults: def.MaxResults,
		Attributes: attrs,
	}
	if req.Threshold != nil {
		q.Threshold = *req.Threshold
	}
	if req.MaxResults != nil {
		q.MaxResults = *req.MaxResults
	}
	names := map[string]string{}
	r.mu.RLock()
	for name, h := range r.tms {
		names[h.tm.UUID().String()] = name
	}
	for _, name := range req.TMs {
		h, ok := r.tms[name]
		if !ok {
			r.mu.RUnlock()
			return nil, apierrors.NotFound("TM %q", name)
		}
		q.TMIDs = append(q.TMIDs, h.tm.UUID().String())
	}
	r.mu.RUnlock()

	s := r.idx.Seeker()
	defer s.Close()
	hits, err := s.SearchFuzzy(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		name, ok := names[hit.ID.TMID]
		if !ok {
			// Deleted since.
			continue
		}
		sh := SearchHit{
			TM:         name,
			Key:        hit.ID.SegKey,
			Score:      hit.Score,
			Text:       hit.Text,
			Codes:      hit.Codes,
			Variants:   make(map[string]string, len(hit.Entry.Variants)),
			Attributes: hit.Entry.Attributes,
		}
		for _, v := range hit.Entry.Variants {
			sh.Variants[v.Locale] = v.Text
		}
		out = append(out, sh)
	}
	r.log.DebugContext(ctx, "storage: search", "locale", loc, "tms", len(q.TMIDs), "hits", len(out))
	return out, nil
}

// ExportTMX writes every record of a TM as a TMX document.
func (r *Repository) ExportTMX(ctx context.Context, name string, w io.Writer) error {
	h, err := r.get(name)
	if err != nil {
		return err
	}
	return tmx.Export(ctx, w, h.tm.Snapshot(), &tmx.ExportOptions{Tool: "tmdb", Version: r.version, Logger: r.log})
}

// ImportTMX adds the records of a TMX document to a TM in a single import.
// Nothing is added when the document is invalid.
func (r *Repository) ImportTMX(ctx context.Context, name string, rd io.Reader) (tmx.Stats, error) {
	var st tmx.Stats
	_, err := r.update(ctx, name, "import TMX", func(imp *tm.Import) error {
		var err error
		st, err = tmx.Import(ctx, rd, imp)
		return err
	})
	return st, err
}
