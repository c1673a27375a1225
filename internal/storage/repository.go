// Package storage exposes every translation memory of a data directory
// through a single Repository handle.
//
// Layout of the data directory:
//
//	config.yaml   server configuration
//	index.db      full-text index (configurable)
//	tms/          one directory per TM, named by a ksid, under git when
//	              history is enabled
//
// Every mutation runs inside the TM's import bracket. Once the import is
// finished, the affected records are mirrored into the full-text index and
// the TM directory is committed to the history.
package storage

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/maruel/ksid"

	apierrors "github.com/maruel/tmdb/internal/errors"
	"github.com/maruel/tmdb/internal/fulltext"
	"github.com/maruel/tmdb/internal/history"
	"github.com/maruel/tmdb/internal/tm"
)

const (
	tmsDir      = "tms"
	trashPrefix = ".trash-"
	maxNameLen  = 256
)

// Options configures Open.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Version is written in exported documents.
	Version string
}

// TMInfo describes a TM.
type TMInfo struct {
	Name        string    `json:"name"`
	UUID        uuid.UUID `json:"uuid"`
	Description string    `json:"description,omitempty"`
	Locales     []string  `json:"locales"`
	Segments    int       `json:"segments"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

// handle is an open TM and its directory name under tms/.
type handle struct {
	dir string
	tm  *tm.TM
}

// Repository is the handle over all the TMs of a data directory.
type Repository struct {
	root    string
	log     *slog.Logger
	version string
	idx     *fulltext.Index
	hist    *history.Repo
	author  history.Author

	mu       sync.RWMutex
	tms      map[string]*handle
	reserved map[string]struct{}
	search   SearchDefaults
}

// Open loads every TM of dataDir and opens the full-text index, rebuilding
// the entries of the TMs it is out of sync with.
func Open(ctx context.Context, dataDir string, cfg *Config, opts *Options) (*Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apierrors.BadRequest("invalid configuration: %v", err)
	}
	r := &Repository{
		root:     filepath.Join(dataDir, tmsDir),
		log:      slog.Default(),
		version:  "devel",
		tms:      map[string]*handle{},
		reserved: map[string]struct{}{},
		search:   cfg.Search,
	}
	if opts != nil {
		if opts.Logger != nil {
			r.log = opts.Logger
		}
		if opts.Version != "" {
			r.version = opts.Version
		}
	}
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return nil, apierrors.Storage("failed to create TM directory", err)
	}
	if err := r.load(ctx); err != nil {
		r.closeTMs()
		return nil, err
	}
	path := cfg.IndexPath
	if path != ":memory:" && !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}
	idx, err := fulltext.Open(ctx, path, &fulltext.Options{Logger: r.log})
	if err != nil {
		r.closeTMs()
		return nil, err
	}
	r.idx = idx
	if err := r.syncIndex(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	if cfg.History.Enabled {
		r.author = history.Author{Name: cfg.History.AuthorName, Email: cfg.History.AuthorEmail}
		if r.hist, err = history.Open(r.root, r.author); err != nil {
			_ = r.Close()
			return nil, apierrors.Storage("failed to open history", err)
		}
		r.commit(ctx, "", "sync working tree")
	}
	return r, nil
}

// load opens the TM directories and removes the leftovers of interrupted
// deletions.
func (r *Repository) load(ctx context.Context) error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return apierrors.Storage("failed to list TMs", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(name, trashPrefix) {
			if err := os.RemoveAll(filepath.Join(r.root, name)); err != nil {
				r.log.WarnContext(ctx, "failed to remove deleted TM", "dir", name, "err", err)
			}
			continue
		}
		if strings.HasPrefix(name, ".") {
			continue
		}
		t, err := tm.Open(filepath.Join(r.root, name), &tm.Options{Logger: r.log})
		if apierrors.IsNotFound(err) {
			r.log.WarnContext(ctx, "ignoring directory without TM", "dir", name)
			continue
		}
		if err != nil {
			return err
		}
		if prev, ok := r.tms[t.Name()]; ok {
			r.log.WarnContext(ctx, "ignoring TM with duplicate name", "tm", t.Name(), "dir", name, "kept", prev.dir)
			_ = t.Close()
			continue
		}
		r.tms[t.Name()] = &handle{dir: name, tm: t}
	}
	r.log.InfoContext(ctx, "storage: loaded", "tms", len(r.tms))
	return nil
}

// syncIndex drops the entries of unknown TMs and rebuilds the TMs whose
// entry count differs from their segment count.
func (r *Repository) syncIndex(ctx context.Context) error {
	known := map[string]*handle{}
	for _, h := range r.tms {
		known[h.tm.UUID().String()] = h
	}
	w, err := r.idx.Writer(ctx)
	if err != nil {
		return apierrors.IndexUnavailable("failed to open index writer", err)
	}
	for _, id := range r.idx.TMIDs() {
		if _, ok := known[id]; !ok {
			_ = w.DeleteTM(id)
		}
	}
	for id, h := range known {
		snap := h.tm.Snapshot()
		if r.idx.Count(id) == snap.Len() {
			continue
		}
		r.log.InfoContext(ctx, "storage: reindexing", "tm", snap.Metadata().Name, "segments", snap.Len())
		if err := reindex(w, snap); err != nil {
			_ = w.Close(ctx)
			return err
		}
	}
	return w.Close(ctx)
}

// Close releases every TM and the index.
func (r *Repository) Close() error {
	r.closeTMs()
	if r.idx != nil {
		return r.idx.Close()
	}
	return nil
}

func (r *Repository) closeTMs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, h := range r.tms {
		if err := h.tm.Close(); err != nil {
			r.log.Warn("failed to close TM", "tm", name, "err", err)
		}
	}
	clear(r.tms)
}

// SearchDefaults returns the defaults applied by Search.
func (r *Repository) SearchDefaults() SearchDefaults {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.search
}

// SetSearchDefaults replaces the defaults applied by Search.
func (r *Repository) SetSearchDefaults(s SearchDefaults) error {
	if err := s.Validate(); err != nil {
		return apierrors.BadRequest("invalid search defaults: %v", err)
	}
	r.mu.Lock()
	r.search = s
	r.mu.Unlock()
	return nil
}

func (r *Repository) get(name string) (*handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tms[name]
	if !ok {
		return nil, apierrors.NotFound("TM %q", name)
	}
	return h, nil
}

// reserve claims a name for a TM being created or renamed.
func (r *Repository) reserve(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tms[name]; ok {
		return apierrors.Conflict("TM %q already exists", name)
	}
	if _, ok := r.reserved[name]; ok {
		return apierrors.Conflict("TM %q already exists", name)
	}
	r.reserved[name] = struct{}{}
	return nil
}

func validateName(name string) error {
	if name == "" || strings.TrimSpace(name) != name {
		return apierrors.BadRequest("invalid TM name %q", name)
	}
	if len(name) > maxNameLen {
		return apierrors.BadRequest("TM name is longer than %d bytes", maxNameLen)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return apierrors.BadRequest("TM name contains control characters")
	}
	return nil
}

func info(t *tm.TM) TMInfo {
	snap := t.Snapshot()
	m := snap.Metadata()
	return TMInfo{
		Name:        m.Name,
		UUID:        m.UUID,
		Description: m.Description,
		Locales:     snap.Schema().Locales(),
		Segments:    snap.Len(),
		Created:     m.Created,
		Modified:    m.Modified,
	}
}

// CreateTM creates an empty TM. The first locale is the source locale.
func (r *Repository) CreateTM(ctx context.Context, name, description string, locales []string) (TMInfo, error) {
	if err := validateName(name); err != nil {
		return TMInfo{}, err
	}
	if err := r.reserve(name); err != nil {
		return TMInfo{}, err
	}
	defer func() {
		r.mu.Lock()
		delete(r.reserved, name)
		r.mu.Unlock()
	}()
	dir := ksid.NewID().String()
	t, err := tm.Create(filepath.Join(r.root, dir), name, locales, &tm.Options{Logger: r.log})
	if err != nil {
		return TMInfo{}, err
	}
	if description != "" {
		if _, err := t.Update(ctx, func(imp *tm.Import) error {
			imp.SetDescription(description)
			return nil
		}); err != nil {
			_ = t.Close()
			_ = os.RemoveAll(filepath.Join(r.root, dir))
			return TMInfo{}, err
		}
	}
	h := &handle{dir: dir, tm: t}
	r.mu.Lock()
	r.tms[name] = h
	r.mu.Unlock()
	r.log.InfoContext(ctx, "storage: TM created", "tm", name, "dir", dir, "locales", t.Locales())
	r.commit(ctx, dir, fmt.Sprintf("%s: create", name))
	return info(t), nil
}

// DeleteTM removes a TM, its index entries and its directory. It waits for
// the running import of the TM to end.
func (r *Repository) DeleteTM(ctx context.Context, name string) error {
	r.mu.Lock()
	h, ok := r.tms[name]
	if !ok {
		r.mu.Unlock()
		return apierrors.NotFound("TM %q", name)
	}
	delete(r.tms, name)
	r.mu.Unlock()
	restore := func() {
		r.mu.Lock()
		r.tms[name] = h
		r.mu.Unlock()
	}

	imp, err := h.tm.StartImport(ctx)
	if err != nil {
		restore()
		return err
	}
	id := h.tm.UUID().String()
	dir := filepath.Join(r.root, h.dir)
	trash := filepath.Join(r.root, trashPrefix+h.dir)
	if err := os.Rename(dir, trash); err != nil {
		imp.Abort()
		restore()
		return apierrors.Storage("failed to delete TM", err)
	}
	imp.AbortAndClose()
	if err := os.RemoveAll(trash); err != nil {
		// Removed at the next Open.
		r.log.WarnContext(ctx, "failed to remove deleted TM", "tm", name, "err", err)
	}
	r.log.InfoContext(ctx, "storage: TM deleted", "tm", name, "dir", h.dir)

	var errIdx error
	w, err := r.idx.Writer(ctx)
	if err == nil {
		_ = w.DeleteTM(id)
		err = w.Close(ctx)
	}
	if err != nil {
		errIdx = apierrors.IndexUnavailable("failed to remove TM from the index", err)
		r.log.ErrorContext(ctx, "storage: index update failed", "tm", name, "err", err)
	}
	r.commit(ctx, h.dir, fmt.Sprintf("%s: delete", name))
	return errIdx
}

// ListTMs returns every TM sorted by name.
func (r *Repository) ListTMs() []TMInfo {
	r.mu.RLock()
	out := make([]TMInfo, 0, len(r.tms))
	for _, h := range r.tms {
		out = append(out, info(h.tm))
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b TMInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Info describes a TM.
func (r *Repository) Info(name string) (TMInfo, error) {
	h, err := r.get(name)
	if err != nil {
		return TMInfo{}, err
	}
	return info(h.tm), nil
}

// UUID returns the identifier of a TM.
func (r *Repository) UUID(name string) (uuid.UUID, error) {
	h, err := r.get(name)
	if err != nil {
		return uuid.Nil, err
	}
	return h.tm.UUID(), nil
}

// Description returns the description of a TM.
func (r *Repository) Description(name string) (string, error) {
	h, err := r.get(name)
	if err != nil {
		return "", err
	}
	return h.tm.Description(), nil
}

// SetDescription changes the description of a TM.
func (r *Repository) SetDescription(ctx context.Context, name, description string) error {
	_, err := r.update(ctx, name, "set description", func(imp *tm.Import) error {
		imp.SetDescription(description)
		return nil
	})
	return err
}

// Rename changes the name of a TM. Renaming to the current name is a no-op.
func (r *Repository) Rename(ctx context.Context, name, newName string) error {
	if name == newName {
		_, err := r.get(name)
		return err
	}
	if err := validateName(newName); err != nil {
		return err
	}
	h, err := r.get(name)
	if err != nil {
		return err
	}
	if err := r.reserve(newName); err != nil {
		return err
	}
	defer func() {
		r.mu.Lock()
		delete(r.reserved, newName)
		r.mu.Unlock()
	}()
	if _, err := h.tm.Update(ctx, func(imp *tm.Import) error { return imp.Rename(newName) }); err != nil {
		return err
	}
	// Key the handle by the name it ended up with, unless it was deleted in
	// between.
	r.mu.Lock()
	found := false
	for k, v := range r.tms {
		if v == h {
			delete(r.tms, k)
			found = true
		}
	}
	if found {
		r.tms[h.tm.Name()] = h
	}
	r.mu.Unlock()
	r.log.InfoContext(ctx, "storage: TM renamed", "from", name, "to", newName)
	r.commit(ctx, h.dir, fmt.Sprintf("%s: rename from %s", newName, name))
	return nil
}

// update runs fn inside an import of the named TM, then mirrors the changes
// into the index and commits them to the history. An index failure is
// returned but does not undo the committed import.
func (r *Repository) update(ctx context.Context, name, msg string, fn func(*tm.Import) error) (tm.Changes, error) {
	h, err := r.get(name)
	if err != nil {
		return tm.Changes{}, err
	}
	ch, err := h.tm.Update(ctx, fn)
	if err != nil || ch.Empty() {
		return ch, err
	}
	errIdx := r.mirror(ctx, h.tm, &ch)
	if errIdx != nil {
		r.log.ErrorContext(ctx, "storage: index update failed", "tm", name, "err", errIdx)
	}
	r.commit(ctx, h.dir, fmt.Sprintf("%s: %s", name, msg))
	return ch, errIdx
}

// mirror applies the changes of a finished import to the index.
func (r *Repository) mirror(ctx context.Context, t *tm.TM, ch *tm.Changes) error {
	if !ch.Reindex && len(ch.Added) == 0 && len(ch.Updated) == 0 && len(ch.Deleted) == 0 {
		return nil
	}
	w, err := r.idx.Writer(ctx)
	if err != nil {
		return apierrors.IndexUnavailable("failed to open index writer", err)
	}
	// The snapshot may already include later imports; they mirror themselves
	// afterwards with the same or newer rows.
	snap := t.Snapshot()
	if ch.Reindex {
		err = reindex(w, snap)
	} else {
		err = apply(w, snap, ch)
	}
	if err != nil {
		_ = w.Close(ctx)
		return err
	}
	return w.Close(ctx)
}

func reindex(w *fulltext.Writer, snap *tm.Snapshot) error {
	id := snap.Metadata().UUID.String()
	if err := w.DeleteTM(id); err != nil {
		return err
	}
	schema := snap.Schema()
	for _, row := range snap.Rows() {
		if err := w.Index(entryOf(id, schema, row)); err != nil {
			return err
		}
	}
	return nil
}

func apply(w *fulltext.Writer, snap *tm.Snapshot, ch *tm.Changes) error {
	id := snap.Metadata().UUID.String()
	for _, k := range ch.Deleted {
		if err := w.Delete(fulltext.ID{TMID: id, SegKey: k}); err != nil {
			return err
		}
	}
	schema := snap.Schema()
	for _, k := range slices.Concat(ch.Added, ch.Updated) {
		row, err := snap.Record(k)
		if apierrors.IsNotFound(err) {
			// Deleted by a later import.
			continue
		}
		if err != nil {
			return err
		}
		if err := w.Index(entryOf(id, schema, row)); err != nil {
			return err
		}
	}
	return nil
}

// entryOf converts a record to its index entry: one variant per locale with
// text, and the attribute and flag values.
func entryOf(tmID string, schema *tm.Schema, row tm.Row) fulltext.Entry {
	e := fulltext.Entry{
		ID:           fulltext.ID{TMID: tmID, SegKey: row.Key()},
		SourceLocale: schema.SourceLocale(),
		Attributes:   row.Attributes(),
	}
	for _, loc := range schema.Locales() {
		text, codes := row.Text(loc)
		if text == "" && codes == "" {
			continue
		}
		e.Variants = append(e.Variants, fulltext.Variant{Locale: loc, Text: text, Codes: codes})
	}
	return e
}

// commit records the working tree in the history. Failures are logged: the
// TM files are already persisted.
func (r *Repository) commit(ctx context.Context, dir, msg string) {
	if r.hist == nil {
		return
	}
	hash, err := r.hist.Commit(ctx, r.author, msg)
	if err != nil {
		r.log.WarnContext(ctx, "storage: history commit failed", "dir", dir, "err", err)
		return
	}
	if hash != "" {
		r.log.DebugContext(ctx, "storage: history committed", "dir", dir, "hash", hash, "msg", msg)
	}
}

// History returns up to n commits touching a TM, most recent first. It is
// empty when history is disabled.
func (r *Repository) History(ctx context.Context, name string, n int) ([]*history.Commit, error) {
	h, err := r.get(name)
	if err != nil {
		return nil, err
	}
	if r.hist == nil {
		return nil, nil
	}
	log, err := r.hist.Log(ctx, h.dir, n)
	if err != nil {
		return nil, apierrors.Storage("failed to read history", err)
	}
	return log, nil
}
