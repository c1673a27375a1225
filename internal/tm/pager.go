package tm

import (
	"cmp"
	"slices"

	apierrors "github.com/maruel/tmdb/internal/errors"
	"github.com/maruel/tmdb/internal/filter"
)

// PageMode selects how consecutive pages relate.
type PageMode uint8

const (
	// ModeEditor pages overlap by one row: the last row of a page is the
	// first row of the next one.
	ModeEditor PageMode = iota
	// ModeIterator pages partition the records.
	ModeIterator
)

func (m PageMode) String() string {
	if m == ModeIterator {
		return "iterator"
	}
	return "editor"
}

// ParsePageMode parses "editor" or "iterator".
func ParsePageMode(s string) (PageMode, error) {
	switch s {
	case "", "editor", "EDITOR":
		return ModeEditor, nil
	case "iterator", "ITERATOR":
		return ModeIterator, nil
	}
	return 0, apierrors.BadRequest("unknown page mode %q", s)
}

// DefaultPageSize is the page size of a new Pager.
const DefaultPageSize = 50

// Pager walks the committed records of a TM in key order, optionally
// narrowed by a filter and projected on a subset of fields.
//
// The pager holds only its configuration and an anchor, the keys of the first
// and last rows of the last returned page. Next and previous pages are built
// from the anchor outward so that EDITOR pages share exactly one row with
// their neighbour and ITERATOR pages never share any; pages at either end may
// be short. Each navigation call reads the TM's current snapshot, so records
// added or removed between calls are taken into account. Changing the
// configuration drops the anchor.
type Pager struct {
	tm     *TM
	size   int
	mode   PageMode
	fields []string
	filter *filter.Node

	first, last int64
	hasAnchor   bool
}

// NewPager returns a pager over t.
func NewPager(t *TM) *Pager {
	return &Pager{tm: t, size: DefaultPageSize}
}

// SetPageSize sets the number of rows per page.
func (p *Pager) SetPageSize(n int) error {
	if n < 1 {
		return apierrors.BadRequest("page size must be positive, got %d", n)
	}
	p.size = n
	p.hasAnchor = false
	return nil
}

// SetPageMode sets the page mode.
func (p *Pager) SetPageMode(m PageMode) {
	p.mode = m
	p.hasAnchor = false
}

// SetRecordFields selects the fields materialized per row, in order. An
// empty list selects every field of the schema at page time.
func (p *Pager) SetRecordFields(names []string) error {
	schema := p.tm.Snapshot().schema
	out := make([]string, 0, len(names))
	for _, n := range names {
		f, ok := schema.Field(n)
		if !ok {
			return apierrors.NotFound("field %q", n)
		}
		out = append(out, f.Name)
	}
	p.fields = out
	p.hasAnchor = false
	return nil
}

// SetFilter narrows the rows; nil removes the filter.
func (p *Pager) SetFilter(n *filter.Node) {
	p.filter = n
	p.hasAnchor = false
}

// FirstPage returns the first page, or nil when there are no rows.
func (p *Pager) FirstPage() (*Page, error) {
	v, err := p.view()
	if err != nil {
		return nil, err
	}
	return p.pageAt(v, 0, p.size), nil
}

// LastPage returns the page holding the last rows, or nil when there are no
// rows.
func (p *Pager) LastPage() (*Page, error) {
	v, err := p.view()
	if err != nil {
		return nil, err
	}
	n := len(v.rows)
	return p.pageAt(v, max(n-p.size, 0), n), nil
}

// NextPage returns the page after the last returned one, or nil when the
// last returned page reached the end. Without a previous page it returns the
// first page.
func (p *Pager) NextPage() (*Page, error) {
	if !p.hasAnchor {
		return p.FirstPage()
	}
	v, err := p.view()
	if err != nil {
		return nil, err
	}
	i, found := v.search(p.last)
	after := i
	if found {
		after++
	}
	if after >= len(v.rows) {
		return nil, nil
	}
	start := after
	if found && p.overlap() {
		start = i
	}
	return p.pageAt(v, start, start+p.size), nil
}

// PreviousPage returns the page before the last returned one, or nil when
// the last returned page was the first. Without a previous page it returns
// the last page.
func (p *Pager) PreviousPage() (*Page, error) {
	if !p.hasAnchor {
		return p.LastPage()
	}
	v, err := p.view()
	if err != nil {
		return nil, err
	}
	// Rows [0, i) come before the anchor.
	i, found := v.search(p.first)
	if i == 0 {
		return nil, nil
	}
	end := i
	if found && p.overlap() {
		end++
	}
	return p.pageAt(v, max(end-p.size, 0), end), nil
}

// PageAt returns the page with the given 0-based index, or nil when out of
// range. Page i starts at row i*step where step is the page size in
// ITERATOR mode and the page size minus the overlapping row in EDITOR mode.
func (p *Pager) PageAt(index int) (*Page, error) {
	v, err := p.view()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= pageCount(len(v.rows), p.size, p.step()) {
		return nil, nil
	}
	start := index * p.step()
	return p.pageAt(v, start, start+p.size), nil
}

// PageCount returns the number of pages PageAt serves.
func (p *Pager) PageCount() (int, error) {
	v, err := p.view()
	if err != nil {
		return 0, err
	}
	return pageCount(len(v.rows), p.size, p.step()), nil
}

// overlap reports whether consecutive pages share a row. A single row
// EDITOR page cannot share its only row and still advance.
func (p *Pager) overlap() bool {
	return p.mode == ModeEditor && p.size > 1
}

func (p *Pager) step() int {
	if p.overlap() {
		return p.size - 1
	}
	return p.size
}

func pageCount(n, size, step int) int {
	switch {
	case n == 0:
		return 0
	case n <= size:
		return 1
	}
	return 1 + (n-size+step-1)/step
}

// view is the filtered row list of one snapshot.
type view struct {
	schema *Schema
	rows   []Row
}

// search returns the index of the row with key, or of the first row after
// it when it was removed since or filtered out.
func (v *view) search(key int64) (int, bool) {
	return slices.BinarySearchFunc(v.rows, key, func(r Row, k int64) int {
		return cmp.Compare(r.Key(), k)
	})
}

func (p *Pager) view() (*view, error) {
	snap := p.tm.Snapshot()
	rows := snap.Rows()
	if p.filter != nil {
		out := rows[:0]
		for _, r := range rows {
			ok, err := p.filter.Eval(r)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, r)
			}
		}
		rows = out
	}
	return &view{schema: snap.schema, rows: rows}, nil
}

// pageAt builds the page of rows [start, end) and moves the anchor to it.
func (p *Pager) pageAt(v *view, start, end int) *Page {
	end = min(end, len(v.rows))
	if start >= end {
		return nil
	}
	fields := p.fields
	if len(fields) == 0 {
		fields = v.schema.Names()
	}
	pg := &Page{size: p.size, mode: p.mode, fields: slices.Clone(fields)}
	for _, r := range v.rows[start:end] {
		vals := make([]Value, len(fields))
		for i, name := range fields {
			// Fields removed since SetRecordFields read as null.
			vals[i], _ = r.Value(name)
		}
		pg.keys = append(pg.keys, r.Key())
		pg.rows = append(pg.rows, vals)
	}
	p.first = pg.keys[0]
	p.last = pg.keys[len(pg.keys)-1]
	p.hasAnchor = true
	return pg
}
