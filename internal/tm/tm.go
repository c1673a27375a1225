// Package tm implements a translation memory: a per-TM dynamic field schema,
// segment records grouped in translation units, an exclusive import bracket
// for mutations and a pager over the committed records.
//
// # Storage layout
//
// Each TM lives in its own directory:
//
//	tm.json         metadata, locales, field schema and key counters
//	segments.jsonl  one segment per line, values keyed by field ID
//	units.jsonl     one translation unit per line, TU-level values
//
// # Concurrency
//
// Readers load the last published [Snapshot] without locking. Mutations go
// through an [Import]; only one can be open per TM at a time. Finishing an
// import persists the draft then publishes it in a single pointer swap.
package tm

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/maruel/tmdb/internal/errors"
	"github.com/maruel/tmdb/internal/jsonldb"
)

const (
	metaFile     = "tm.json"
	segmentsFile = "segments.jsonl"
	unitsFile    = "units.jsonl"

	metaVersion = 1
)

var (
	// ErrImportOpen is returned by Close when an import was still open. The
	// import's changes are discarded.
	ErrImportOpen = errors.New("import still open")
	// ErrClosed is returned when starting an import on a closed TM.
	ErrClosed = errors.New("translation memory is closed")
)

// Options configures a TM.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// TM is a translation memory stored in a directory.
type TM struct {
	dir   string
	log   *slog.Logger
	sem   chan struct{}
	cur   atomic.Pointer[Snapshot]
	open  atomic.Pointer[Import]
	segs  *jsonldb.Table[*segment]
	units *jsonldb.Table[*unit]
	// stale is set when the tables could not be restored after a failed
	// import; the next import rewrites them. Guarded by sem.
	stale bool

	closed atomic.Bool
}

// metaRecord is the content of tm.json. It is written last by an import and
// rows with keys at or past NextKey and NextTU are not committed.
type metaRecord struct {
	Version int `json:"version"`
	Metadata
	Locales     []string          `json:"locales"`
	Fields      []FieldDescriptor `json:"fields"`
	NextFieldID uint32            `json:"next_field_id"`
	NextKey     int64             `json:"next_key"`
	NextTU      int64             `json:"next_tu"`
}

// Create initializes a new TM in dir. At least one locale is required; the
// first one is the source locale.
func Create(dir, name string, locales []string, opts *Options) (*TM, error) {
	if name == "" {
		return nil, apierrors.BadRequest("TM name is required")
	}
	var canon []string
	for _, l := range locales {
		if c := CanonicalLocale(l); c != "" && !slices.Contains(canon, c) {
			canon = append(canon, c)
		}
	}
	if len(canon) == 0 {
		return nil, apierrors.BadRequest("at least one locale is required")
	}
	if _, err := os.Stat(filepath.Join(dir, metaFile)); err == nil {
		return nil, apierrors.Conflict("TM directory %s already exists", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierrors.Storage("failed to create TM directory", err)
	}
	now := time.Now().UTC()
	snap := &Snapshot{
		meta:    Metadata{Name: name, UUID: uuid.New(), Created: now, Modified: now},
		schema:  newSchema(canon),
		units:   map[int64]*unit{},
		nextKey: 1,
		nextTU:  1,
	}
	if err := writeMeta(dir, snap); err != nil {
		return nil, err
	}
	t, err := newTM(dir, opts)
	if err != nil {
		return nil, err
	}
	t.cur.Store(snap)
	return t, nil
}

// Open loads an existing TM from dir.
func Open(dir string, opts *Options) (*TM, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apierrors.NotFound("TM in %s", dir)
		}
		return nil, apierrors.Storage("failed to read TM metadata", err)
	}
	var m metaRecord
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apierrors.Storage("failed to parse TM metadata", err)
	}
	if m.Version != metaVersion {
		return nil, apierrors.Storage(fmt.Sprintf("unsupported TM metadata version %d", m.Version), nil)
	}
	t, err := newTM(dir, opts)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		meta:    m.Metadata,
		schema:  loadSchema(m.Locales, m.Fields, m.NextFieldID),
		units:   map[int64]*unit{},
		nextKey: max(m.NextKey, 1),
		nextTU:  max(m.NextTU, 1),
	}
	dropped := 0
	for s := range t.segs.All() {
		if s.Key >= snap.nextKey {
			dropped++
			continue
		}
		snap.segs = append(snap.segs, s)
	}
	// Rows are expected in key order; manual edits may break it.
	slices.SortFunc(snap.segs, func(a, b *segment) int { return cmp.Compare(a.Key, b.Key) })
	for u := range t.units.All() {
		if u.Key >= snap.nextTU {
			dropped++
			continue
		}
		snap.units[u.Key] = u
	}
	if dropped != 0 {
		// Leftovers of an import that failed before writing tm.json.
		t.log.Warn("tm has uncommitted rows, dropping them", "tm", m.Name, "dir", dir, "rows", dropped)
		t.stale = true
	}
	t.cur.Store(snap)
	t.log.Debug("tm opened", "tm", m.Name, "dir", dir, "segments", len(snap.segs), "rows", t.segs.Len())
	return t, nil
}

func newTM(dir string, opts *Options) (*TM, error) {
	segs, err := jsonldb.NewTable[*segment](filepath.Join(dir, segmentsFile))
	if err != nil {
		return nil, apierrors.Storage("failed to open segments", err)
	}
	units, err := jsonldb.NewTable[*unit](filepath.Join(dir, unitsFile))
	if err != nil {
		return nil, apierrors.Storage("failed to open translation units", err)
	}
	return &TM{
		dir:   dir,
		log:   opts.logger(),
		sem:   make(chan struct{}, 1),
		segs:  segs,
		units: units,
	}, nil
}

func writeMeta(dir string, s *Snapshot) error {
	m := metaRecord{
		Version:     metaVersion,
		Metadata:    s.meta,
		Locales:     s.schema.locales,
		Fields:      s.schema.fields,
		NextFieldID: s.schema.nextID,
		NextKey:     s.nextKey,
		NextTU:      s.nextTU,
	}
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return apierrors.Storage("failed to encode TM metadata", err)
	}
	if err := jsonldb.WriteFileAtomic(filepath.Join(dir, metaFile), append(data, '\n')); err != nil {
		return apierrors.Storage("failed to write TM metadata", err)
	}
	return nil
}

// Dir returns the TM directory.
func (t *TM) Dir() string { return t.dir }

// Snapshot returns the last published state.
func (t *TM) Snapshot() *Snapshot { return t.cur.Load() }

// Name returns the TM name.
func (t *TM) Name() string { return t.Snapshot().meta.Name }

// UUID returns the stable TM identifier.
func (t *TM) UUID() uuid.UUID { return t.Snapshot().meta.UUID }

// Description returns the TM description.
func (t *TM) Description() string { return t.Snapshot().meta.Description }

// Locales returns the ordered locale set.
func (t *TM) Locales() []string { return t.Snapshot().schema.Locales() }

// Fields returns the field names in schema order.
func (t *TM) Fields() []string { return t.Snapshot().schema.Names() }

// SegmentCount returns the number of segments.
func (t *TM) SegmentCount() int { return t.Snapshot().Len() }

// Record returns a committed record.
func (t *TM) Record(key int64) (Row, error) { return t.Snapshot().Record(key) }

// Update runs fn inside an import and finishes it. fn's error aborts the
// import.
func (t *TM) Update(ctx context.Context, fn func(*Import) error) (Changes, error) {
	imp, err := t.StartImport(ctx)
	if err != nil {
		return Changes{}, err
	}
	if err := fn(imp); err != nil {
		imp.Abort()
		return Changes{}, err
	}
	return imp.Finish(ctx)
}

// Close releases the TM. An import still open is rolled back and
// ErrImportOpen is returned.
func (t *TM) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if imp := t.open.Load(); imp != nil {
		t.log.Warn("closing TM with an open import, rolling back", "tm", t.Name(), "import", imp.id)
		imp.Abort()
		return ErrImportOpen
	}
	return nil
}
