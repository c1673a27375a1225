package tm

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/maruel/tmdb/internal/codec"
	apierrors "github.com/maruel/tmdb/internal/errors"
	"github.com/maruel/tmdb/internal/filter"
)

// segment is one stored record. Values are keyed by field ID.
type segment struct {
	Key    int64            `json:"key" jsonschema:"description=Segment key, strictly increasing and never reused"`
	TU     int64            `json:"tu" jsonschema:"description=Translation unit the segment belongs to"`
	Values map[uint32]Value `json:"values,omitempty" jsonschema:"description=Field values keyed by field ID"`
}

func (s *segment) Clone() *segment {
	c := *s
	c.Values = maps.Clone(s.Values)
	return &c
}

// unit is a translation unit group holding the TU-level field values. It
// survives the deletion of all its segments.
type unit struct {
	Key    int64            `json:"key" jsonschema:"description=Translation unit key"`
	Values map[uint32]Value `json:"values,omitempty" jsonschema:"description=TU-level field values keyed by field ID"`
}

func (u *unit) Clone() *unit {
	c := *u
	c.Values = maps.Clone(u.Values)
	return &c
}

// Metadata describes a TM.
type Metadata struct {
	Name        string    `json:"name"`
	UUID        uuid.UUID `json:"uuid"`
	Description string    `json:"description,omitempty"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

// Snapshot is an immutable view of a TM: metadata, schema and records as of
// the last finished import.
type Snapshot struct {
	meta    Metadata
	schema  *Schema
	segs    []*segment // Sorted by key.
	units   map[int64]*unit
	nextKey int64
	nextTU  int64
}

func (s *Snapshot) clone() *Snapshot {
	c := *s
	c.schema = s.schema.clone()
	c.segs = slices.Clone(s.segs)
	c.units = maps.Clone(s.units)
	return &c
}

// Metadata returns the TM metadata.
func (s *Snapshot) Metadata() Metadata { return s.meta }

// Schema returns the field registry.
func (s *Snapshot) Schema() *Schema { return s.schema }

// Len returns the number of segments.
func (s *Snapshot) Len() int { return len(s.segs) }

// Keys returns all segment keys in ascending order.
func (s *Snapshot) Keys() []int64 {
	out := make([]int64, len(s.segs))
	for i, seg := range s.segs {
		out[i] = seg.Key
	}
	return out
}

// Rows returns every record in key order.
func (s *Snapshot) Rows() []Row {
	out := make([]Row, len(s.segs))
	for i := range s.segs {
		out[i] = s.row(i)
	}
	return out
}

// Record returns the record with the given key.
func (s *Snapshot) Record(key int64) (Row, error) {
	i, ok := s.find(key)
	if !ok {
		return Row{}, apierrors.NotFound("segment %d", key)
	}
	return s.row(i), nil
}

func (s *Snapshot) row(i int) Row {
	seg := s.segs[i]
	return Row{schema: s.schema, seg: seg, unit: s.units[seg.TU]}
}

func (s *Snapshot) find(key int64) (int, bool) {
	return slices.BinarySearchFunc(s.segs, key, func(seg *segment, k int64) int {
		return cmp.Compare(seg.Key, k)
	})
}

// Row is a read-only record bound to the schema it was read with.
type Row struct {
	schema *Schema
	seg    *segment
	unit   *unit
}

// Key returns the segment key.
func (r Row) Key() int64 { return r.seg.Key }

// TUKey returns the translation unit key.
func (r Row) TUKey() int64 { return r.seg.TU }

// Value returns the value of a field. Unknown fields fail with NotFound.
func (r Row) Value(name string) (Value, error) {
	f, ok := r.schema.Field(name)
	if !ok {
		return Null, apierrors.NotFound("field %q", name)
	}
	return r.valueOf(f), nil
}

func (r Row) valueOf(f FieldDescriptor) Value {
	switch {
	case f.Kind == FieldKey:
		return NumberValue(float64(r.seg.Key))
	case f.Kind == FieldXRef:
		return NumberValue(float64(r.seg.TU))
	case f.TULevel():
		if r.unit == nil {
			return Null
		}
		return r.unit.Values[f.ID]
	default:
		return r.seg.Values[f.ID]
	}
}

// Lookup implements filter.Row.
func (r Row) Lookup(name string) (filter.Value, bool) {
	f, ok := r.schema.Field(name)
	if !ok {
		return filter.Null, false
	}
	return r.valueOf(f).filterValue(), true
}

// Values returns every field value in schema order.
func (r Row) Values() map[string]Value {
	out := make(map[string]Value, len(r.schema.fields))
	for _, f := range r.schema.fields {
		out[f.Name] = r.valueOf(f)
	}
	return out
}

// Strings returns every field rendered as a string; null values are empty.
func (r Row) Strings() map[string]string {
	out := make(map[string]string, len(r.schema.fields))
	for _, f := range r.schema.fields {
		out[f.Name] = r.valueOf(f).String()
	}
	return out
}

// Text returns the text and codes fields of a locale.
func (r Row) Text(locale string) (text, codes string) {
	if f, ok := r.schema.Field(TextField(locale)); ok {
		text = r.valueOf(f).s
	}
	if f, ok := r.schema.Field(CodesField(locale)); ok {
		codes = r.valueOf(f).s
	}
	return text, codes
}

// RichText decodes the text of a locale with its inline codes.
func (r Row) RichText(locale string) (codec.RichText, error) {
	return codec.Decode(r.Text(locale))
}

// Attributes returns the non-null attribute and flag values rendered as
// strings.
func (r Row) Attributes() map[string]string {
	out := map[string]string{}
	for _, f := range r.schema.fields {
		if f.Kind != FieldAttribute && f.Kind != FieldFlagKind {
			continue
		}
		if v := r.valueOf(f); !v.IsNull() {
			out[f.Name] = v.String()
		}
	}
	return out
}
