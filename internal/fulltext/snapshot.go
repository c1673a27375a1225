package fulltext

import (
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/maruel/ksid"
)

// doc is an entry with its internal number and posting keys.
type doc struct {
	entry Entry
	grams []string
	attrs []string
}

// snapshot is an immutable view of the index. Bitmaps are never modified
// once the snapshot is published.
type snapshot struct {
	gen   ksid.ID
	docs  []*doc // by internal number; nil when removed
	ids   map[ID]uint32
	grams map[string]*roaring.Bitmap // locale + "\x00" + trigram
	tms   map[string]*roaring.Bitmap
	attrs map[string]*roaring.Bitmap // name + "\x00" + value
}

func emptySnapshot() *snapshot {
	return &snapshot{
		ids:   map[ID]uint32{},
		grams: map[string]*roaring.Bitmap{},
		tms:   map[string]*roaring.Bitmap{},
		attrs: map[string]*roaring.Bitmap{},
	}
}

func gramKey(locale, gram string) string { return locale + "\x00" + gram }

func attrKey(name, value string) string { return name + "\x00" + value }

// builder derives a new snapshot from a base one, cloning each bitmap the
// first time it is modified.
type builder struct {
	s     *snapshot
	owned map[*roaring.Bitmap]struct{}
}

func newBuilder(base *snapshot) *builder {
	return &builder{
		s: &snapshot{
			gen:   base.gen,
			docs:  slices.Clone(base.docs),
			ids:   maps.Clone(base.ids),
			grams: maps.Clone(base.grams),
			tms:   maps.Clone(base.tms),
			attrs: maps.Clone(base.attrs),
		},
		owned: map[*roaring.Bitmap]struct{}{},
	}
}

// bitmap returns a bitmap of m that the builder may modify.
func (b *builder) bitmap(m map[string]*roaring.Bitmap, key string) *roaring.Bitmap {
	bm := m[key]
	if bm == nil {
		bm = roaring.New()
	} else if _, ok := b.owned[bm]; ok {
		return bm
	} else {
		bm = bm.Clone()
	}
	b.owned[bm] = struct{}{}
	m[key] = bm
	return bm
}

func (b *builder) unset(m map[string]*roaring.Bitmap, key string, n uint32) {
	if m[key] == nil {
		return
	}
	bm := b.bitmap(m, key)
	bm.Remove(n)
	if bm.IsEmpty() {
		delete(m, key)
	}
}

// put adds or replaces an entry.
func (b *builder) put(e *Entry) {
	b.remove(e.ID)
	d := &doc{entry: cloneEntry(e)}
	d.entry.fill()
	for _, v := range d.entry.Variants {
		for _, t := range trigrams(v.Generic) {
			d.grams = append(d.grams, gramKey(v.Locale, t))
		}
	}
	for k, v := range d.entry.Attributes {
		d.attrs = append(d.attrs, attrKey(k, v))
	}
	n := uint32(len(b.s.docs))
	b.s.docs = append(b.s.docs, d)
	b.s.ids[e.ID] = n
	for _, k := range d.grams {
		b.bitmap(b.s.grams, k).Add(n)
	}
	for _, k := range d.attrs {
		b.bitmap(b.s.attrs, k).Add(n)
	}
	b.bitmap(b.s.tms, e.ID.TMID).Add(n)
}

// remove drops an entry and reports whether it existed.
func (b *builder) remove(id ID) bool {
	n, ok := b.s.ids[id]
	if !ok {
		return false
	}
	d := b.s.docs[n]
	for _, k := range d.grams {
		b.unset(b.s.grams, k, n)
	}
	for _, k := range d.attrs {
		b.unset(b.s.attrs, k, n)
	}
	b.unset(b.s.tms, id.TMID, n)
	b.s.docs[n] = nil
	delete(b.s.ids, id)
	return true
}

// removeTM drops every entry of a TM and returns how many there were.
func (b *builder) removeTM(tmID string) int {
	bm := b.s.tms[tmID]
	if bm == nil {
		return 0
	}
	nums := bm.ToArray()
	for _, n := range nums {
		b.remove(b.s.docs[n].entry.ID)
	}
	return len(nums)
}

// compactMin is the number of removed slots tolerated regardless of the
// index size.
const compactMin = 64

func (b *builder) finish(gen ksid.ID) *snapshot {
	s := b.s
	if holes := len(s.docs) - len(s.ids); holes > compactMin && holes > len(s.ids) {
		s = compact(s)
	}
	s.gen = gen
	b.s = nil
	return s
}

// compact renumbers the live documents densely and rebuilds the bitmaps.
// Once more than half of the slots are removed, rebuilding is cheaper than
// carrying them.
func compact(old *snapshot) *snapshot {
	s := emptySnapshot()
	s.docs = make([]*doc, 0, len(old.ids))
	for _, d := range old.docs {
		if d == nil {
			continue
		}
		n := uint32(len(s.docs))
		s.docs = append(s.docs, d)
		s.ids[d.entry.ID] = n
		for _, k := range d.grams {
			add(s.grams, k, n)
		}
		for _, k := range d.attrs {
			add(s.attrs, k, n)
		}
		add(s.tms, d.entry.ID.TMID, n)
	}
	for _, m := range []map[string]*roaring.Bitmap{s.grams, s.attrs, s.tms} {
		for _, bm := range m {
			bm.RunOptimize()
		}
	}
	return s
}

func add(m map[string]*roaring.Bitmap, key string, n uint32) {
	bm := m[key]
	if bm == nil {
		bm = roaring.New()
		m[key] = bm
	}
	bm.Add(n)
}

func cloneEntry(e *Entry) Entry {
	c := *e
	c.Variants = slices.Clone(e.Variants)
	c.Attributes = maps.Clone(e.Attributes)
	return c
}
