package tm

import (
	"slices"

	apierrors "github.com/maruel/tmdb/internal/errors"
)

// Page is an immutable window of rows. Field indexes are 1-based.
type Page struct {
	size   int
	mode   PageMode
	fields []string
	keys   []int64
	rows   [][]Value
}

// Size returns the page size in effect when the page was produced.
func (pg *Page) Size() int { return pg.size }

// Mode returns the page mode in effect when the page was produced.
func (pg *Page) Mode() PageMode { return pg.mode }

// Len returns the number of rows.
func (pg *Page) Len() int { return len(pg.rows) }

// Keys returns the segment keys of the rows.
func (pg *Page) Keys() []int64 { return slices.Clone(pg.keys) }

// FieldCount returns the number of projected fields.
func (pg *Page) FieldCount() int { return len(pg.fields) }

// FieldName returns the name of the i-th field, starting at 1.
func (pg *Page) FieldName(i int) (string, error) {
	if i < 1 || i > len(pg.fields) {
		return "", apierrors.BadRequest("field index %d out of range [1, %d]", i, len(pg.fields))
	}
	return pg.fields[i-1], nil
}

// Maps returns each row as a field name to string mapping.
func (pg *Page) Maps() []map[string]string {
	out := make([]map[string]string, len(pg.rows))
	for i, row := range pg.rows {
		m := make(map[string]string, len(pg.fields))
		for j, name := range pg.fields {
			m[name] = row[j].String()
		}
		out[i] = m
	}
	return out
}

// Cursor returns a cursor positioned before the first row.
func (pg *Page) Cursor() *Cursor {
	return &Cursor{page: pg, pos: -1}
}

// Cursor reads the rows of a Page.
type Cursor struct {
	page *Page
	pos  int
}

// Next advances to the next row and reports whether there is one.
func (c *Cursor) Next() bool {
	if c.pos+1 >= len(c.page.rows) {
		c.pos = len(c.page.rows)
		return false
	}
	c.pos++
	return true
}

// Last jumps to the last row and reports whether the page has rows.
func (c *Cursor) Last() bool {
	c.pos = len(c.page.rows) - 1
	return c.pos >= 0
}

// Key returns the segment key of the current row.
func (c *Cursor) Key() (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.page.keys[c.pos], nil
}

// Value returns the i-th field of the current row, starting at 1.
func (c *Cursor) Value(i int) (Value, error) {
	if err := c.check(); err != nil {
		return Null, err
	}
	if i < 1 || i > len(c.page.fields) {
		return Null, apierrors.BadRequest("field index %d out of range [1, %d]", i, len(c.page.fields))
	}
	return c.page.rows[c.pos][i-1], nil
}

// ValueByName returns a field of the current row.
func (c *Cursor) ValueByName(name string) (Value, error) {
	i := slices.Index(c.page.fields, name)
	if i < 0 {
		if f, err := ParseField(name); err == nil {
			i = slices.Index(c.page.fields, f.Name)
		}
	}
	if i < 0 {
		return Null, apierrors.NotFound("field %q", name)
	}
	return c.Value(i + 1)
}

func (c *Cursor) check() error {
	if c.pos < 0 || c.pos >= len(c.page.rows) {
		return apierrors.BadRequest("cursor is not on a row")
	}
	return nil
}
