package storage

import (
	"context"
	"fmt"
	"unicode/utf8"

	apierrors "github.com/maruel/tmdb/internal/errors"
	"github.com/maruel/tmdb/internal/filter"
	"github.com/maruel/tmdb/internal/strdiff"
	"github.com/maruel/tmdb/internal/tm"
)

// AddRecord adds a segment record and returns its key. tuKey < 0 starts a
// new translation unit; otherwise the record joins the given unit.
func (r *Repository) AddRecord(ctx context.Context, name string, tuKey int64, tuFields, segFields map[string]tm.Value) (int64, error) {
	var key int64
	_, err := r.update(ctx, name, "add record", func(imp *tm.Import) error {
		var err error
		key, err = imp.AddRecord(tuKey, tuFields, segFields)
		return err
	})
	return key, err
}

// GetRecord returns every field of a record rendered as a string.
func (r *Repository) GetRecord(name string, key int64) (map[string]string, error) {
	h, err := r.get(name)
	if err != nil {
		return nil, err
	}
	row, err := h.tm.Record(key)
	if err != nil {
		return nil, err
	}
	return row.Strings(), nil
}

// UpdateRecord merges values into a record and its translation unit.
func (r *Repository) UpdateRecord(ctx context.Context, name string, key int64, tuFields, segFields map[string]tm.Value) error {
	_, err := r.update(ctx, name, fmt.Sprintf("update record %d", key), func(imp *tm.Import) error {
		return imp.UpdateRecord(key, tuFields, segFields)
	})
	return err
}

// DeleteRecord removes records. Nothing is removed when a key is unknown.
func (r *Repository) DeleteRecord(ctx context.Context, name string, keys ...int64) error {
	_, err := r.update(ctx, name, fmt.Sprintf("delete %d records", len(keys)), func(imp *tm.Import) error {
		return imp.DeleteSegments(keys)
	})
	return err
}

// AddLocale adds a locale to a TM.
func (r *Repository) AddLocale(ctx context.Context, name, locale string) error {
	_, err := r.update(ctx, name, "add locale "+tm.CanonicalLocale(locale), func(imp *tm.Import) error {
		return imp.AddLocale(locale)
	})
	return err
}

// DeleteLocale removes a locale and its fields.
func (r *Repository) DeleteLocale(ctx context.Context, name, locale string) error {
	_, err := r.update(ctx, name, "delete locale "+tm.CanonicalLocale(locale), func(imp *tm.Import) error {
		return imp.DeleteLocale(locale)
	})
	return err
}

// RenameLocale renames a locale and its fields.
func (r *Repository) RenameLocale(ctx context.Context, name, from, to string) error {
	msg := fmt.Sprintf("rename locale %s to %s", tm.CanonicalLocale(from), tm.CanonicalLocale(to))
	_, err := r.update(ctx, name, msg, func(imp *tm.Import) error {
		return imp.RenameLocale(from, to)
	})
	return err
}

// Locales returns the canonical locales of a TM, source locale first.
func (r *Repository) Locales(name string) ([]string, error) {
	h, err := r.get(name)
	if err != nil {
		return nil, err
	}
	return h.tm.Locales(), nil
}

// Fields returns the field names of a TM in schema order.
func (r *Repository) Fields(name string) ([]string, error) {
	h, err := r.get(name)
	if err != nil {
		return nil, err
	}
	return h.tm.Fields(), nil
}

// Schema returns the field descriptors of a TM.
func (r *Repository) Schema(name string) ([]tm.FieldDescriptor, error) {
	h, err := r.get(name)
	if err != nil {
		return nil, err
	}
	return h.tm.Snapshot().Schema().Fields(), nil
}

// AddField adds a TU-level field or a locale attribute.
func (r *Repository) AddField(ctx context.Context, name, field string) error {
	_, err := r.update(ctx, name, "add field "+field, func(imp *tm.Import) error {
		return imp.AddField(field)
	})
	return err
}

// DeleteField removes a field and its values.
func (r *Repository) DeleteField(ctx context.Context, name, field string) error {
	_, err := r.update(ctx, name, "delete field "+field, func(imp *tm.Import) error {
		return imp.DeleteField(field)
	})
	return err
}

// RenameField renames a field.
func (r *Repository) RenameField(ctx context.Context, name, from, to string) error {
	_, err := r.update(ctx, name, fmt.Sprintf("rename field %s to %s", from, to), func(imp *tm.Import) error {
		return imp.RenameField(from, to)
	})
	return err
}

func (r *Repository) pager(name string, size int, mode tm.PageMode, f *filter.Node) (*tm.Pager, error) {
	h, err := r.get(name)
	if err != nil {
		return nil, err
	}
	p := tm.NewPager(h.tm)
	if err := p.SetPageSize(size); err != nil {
		return nil, err
	}
	p.SetPageMode(mode)
	p.SetFilter(f)
	return p, nil
}

// GetPage returns the page at index, 0-based, of the records matching f, or
// nil past the last page.
func (r *Repository) GetPage(name string, index, size int, mode tm.PageMode, f *filter.Node) (*tm.Page, error) {
	p, err := r.pager(name, size, mode, f)
	if err != nil {
		return nil, err
	}
	return p.PageAt(index)
}

// GetPageCount returns the number of pages GetPage serves.
func (r *Repository) GetPageCount(name string, size int, mode tm.PageMode, f *filter.Node) (int, error) {
	p, err := r.pager(name, size, mode, f)
	if err != nil {
		return 0, err
	}
	return p.PageCount()
}

// GetSegmentCount returns the number of records of a TM.
func (r *Repository) GetSegmentCount(name string) (int, error) {
	h, err := r.get(name)
	if err != nil {
		return 0, err
	}
	return h.tm.SegmentCount(), nil
}

// maxDiffRunes bounds each side of a diff; the edit script costs
// len(a)*len(b) memory.
const maxDiffRunes = 4000

// Diff renders the differences between field fieldA of record keyA and
// field fieldB of record keyB with <ins> and <del> markup. The text is HTML
// escaped.
func (r *Repository) Diff(name string, keyA int64, fieldA string, keyB int64, fieldB string) (string, error) {
	h, err := r.get(name)
	if err != nil {
		return "", err
	}
	snap := h.tm.Snapshot()
	a, err := fieldValue(snap, keyA, fieldA)
	if err != nil {
		return "", err
	}
	b, err := fieldValue(snap, keyB, fieldB)
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(a) > maxDiffRunes || utf8.RuneCountInString(b) > maxDiffRunes {
		return "", apierrors.BadRequest("values are too long to diff, limit is %d characters", maxDiffRunes)
	}
	return strdiff.RenderHTML(a, b), nil
}

func fieldValue(snap *tm.Snapshot, key int64, field string) (string, error) {
	row, err := snap.Record(key)
	if err != nil {
		return "", err
	}
	v, err := row.Value(field)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}
