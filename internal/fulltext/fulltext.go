// Package fulltext is a fuzzy full-text index over translation segments.
//
// Entries are persisted in a SQLite database, one row per segment with a
// zstd compressed JSON payload. The postings live in memory as roaring
// bitmaps keyed by locale trigram, TM and attribute. A Writer buffers
// changes until Commit, which persists them in one transaction and then
// publishes a new immutable snapshot. A Seeker pins the snapshot that was
// current when it was opened.
package fulltext

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/maruel/ksid"

	apierrors "github.com/maruel/tmdb/internal/errors"
)

// ID identifies an entry: one segment of one TM.
type ID struct {
	TMID   string `json:"tm"`
	SegKey int64  `json:"seg"`
}

// Variant is the text of an entry in one locale.
type Variant struct {
	Locale  string `json:"locale"`
	Text    string `json:"text"`
	Codes   string `json:"codes,omitempty"`
	Generic string `json:"generic"`
}

// Entry is one indexed segment.
type Entry struct {
	ID            ID                `json:"id"`
	SourceLocale  string            `json:"sourceLocale"`
	SourceGeneric string            `json:"sourceGeneric"`
	Variants      []Variant         `json:"variants"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// Variant returns the variant for locale.
func (e *Entry) Variant(locale string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.Locale == locale {
			return v, true
		}
	}
	return Variant{}, false
}

// fill computes the generic forms that were left empty.
func (e *Entry) fill() {
	for i := range e.Variants {
		if e.Variants[i].Generic == "" {
			e.Variants[i].Generic = Generic(e.Variants[i].Text)
		}
	}
	if e.SourceGeneric == "" {
		if v, ok := e.Variant(e.SourceLocale); ok {
			e.SourceGeneric = v.Generic
		}
	}
}

// Options configures Open.
type Options struct {
	Logger *slog.Logger
}

// ErrWriterBusy is returned by Index.Writer when the context ends before the
// current writer is closed.
var ErrWriterBusy = errors.New("fulltext: writer busy")

// Index is an open full-text index.
type Index struct {
	st   *store
	log  *slog.Logger
	sem  chan struct{}
	snap atomic.Pointer[snapshot]
}

// Open opens or creates the index stored at path. ":memory:" keeps it in
// memory.
func Open(ctx context.Context, path string, opts *Options) (*Index, error) {
	log := slog.Default()
	if opts != nil && opts.Logger != nil {
		log = opts.Logger
	}
	st, err := openStore(ctx, path)
	if err != nil {
		return nil, apierrors.IndexUnavailable("failed to open index", err)
	}
	entries, gen, err := st.load(ctx)
	if err != nil {
		_ = st.close()
		return nil, apierrors.IndexUnavailable("failed to load index", err)
	}
	b := newBuilder(emptySnapshot())
	for i := range entries {
		b.put(&entries[i])
	}
	idx := &Index{st: st, log: log, sem: make(chan struct{}, 1)}
	idx.snap.Store(b.finish(gen))
	log.InfoContext(ctx, "fulltext: opened", "path", path, "entries", len(entries), "generation", gen)
	return idx, nil
}

// Close releases the storage handle. Pending writes of an unclosed Writer
// are lost.
func (idx *Index) Close() error {
	return idx.st.close()
}

// Len returns the number of committed entries.
func (idx *Index) Len() int {
	return len(idx.snap.Load().ids)
}

// TMIDs returns the sorted identifiers of the TMs having entries.
func (idx *Index) TMIDs() []string {
	return slices.Sorted(maps.Keys(idx.snap.Load().tms))
}

// Count returns the number of committed entries of a TM.
func (idx *Index) Count(tmID string) int {
	bm := idx.snap.Load().tms[tmID]
	if bm == nil {
		return 0
	}
	return int(bm.GetCardinality())
}

// Generation identifies the last commit; zero before the first one.
func (idx *Index) Generation() ksid.ID {
	return idx.snap.Load().gen
}

// Writer returns the index writer, waiting for the previous one to be
// closed.
func (idx *Index) Writer(ctx context.Context) (*Writer, error) {
	select {
	case idx.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Join(ErrWriterBusy, ctx.Err())
	}
	return &Writer{idx: idx}, nil
}

// Seeker returns a reader over the most recent commit.
func (idx *Index) Seeker() *Seeker {
	return &Seeker{snap: idx.snap.Load()}
}
