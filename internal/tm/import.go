package tm

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"time"

	"github.com/maruel/ksid"

	"github.com/maruel/tmdb/internal/codec"
	apierrors "github.com/maruel/tmdb/internal/errors"
)

// Changes summarizes what a finished import changed. Keys are sorted.
type Changes struct {
	Added   []int64
	Updated []int64
	Deleted []int64
	// Schema is set when locales or fields changed.
	Schema bool
	// Reindex is set when a locale or field was renamed or removed, which
	// affects every record.
	Reindex bool
	// Meta is set when the name or description changed.
	Meta bool
}

// Empty reports whether nothing changed.
func (c *Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0 && !c.Schema && !c.Meta
}

// Import is the exclusive write bracket of a TM. Mutations apply to a draft
// that only the import sees until Finish publishes it.
//
// An Import is not safe for concurrent use.
type Import struct {
	id    ksid.ID
	tm    *TM
	draft *Snapshot
	done  bool

	added, updated, deleted map[int64]struct{}
	touchedTU               map[int64]struct{}
	newUnits                map[int64]struct{}
	rewriteSegs             bool
	rewriteUnits            bool
	changes                 Changes
}

// StartImport opens the import bracket, waiting for the previous one to end.
func (t *TM) StartImport(ctx context.Context) (*Import, error) {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if t.closed.Load() {
		<-t.sem
		return nil, ErrClosed
	}
	imp := &Import{
		id:        ksid.NewID(),
		tm:        t,
		draft:     t.cur.Load().clone(),
		added:     map[int64]struct{}{},
		updated:   map[int64]struct{}{},
		deleted:   map[int64]struct{}{},
		touchedTU: map[int64]struct{}{},
		newUnits:  map[int64]struct{}{},
	}
	t.open.Store(imp)
	t.log.DebugContext(ctx, "import started", "tm", imp.draft.meta.Name, "import", imp.id)
	return imp, nil
}

// ID identifies the import in logs and history.
func (imp *Import) ID() ksid.ID { return imp.id }

// Snapshot returns the draft state, including the import's own changes.
func (imp *Import) Snapshot() *Snapshot { return imp.draft }

// Changes returns the summary computed by Finish.
func (imp *Import) Changes() Changes { return imp.changes }

// Abort discards the draft and releases the bracket. It is a no-op after
// Finish or a previous Abort.
func (imp *Import) Abort() {
	if imp.done {
		return
	}
	imp.done = true
	imp.release()
}

// AbortAndClose discards the draft and closes the TM before releasing the
// bracket, so no import waiting in StartImport can get in.
func (imp *Import) AbortAndClose() {
	imp.tm.closed.Store(true)
	imp.Abort()
}

func (imp *Import) release() {
	imp.tm.open.CompareAndSwap(imp, nil)
	<-imp.tm.sem
}

// Finish persists the draft and publishes it to readers. On failure the
// draft is discarded and the published state is unchanged.
func (imp *Import) Finish(ctx context.Context) (Changes, error) {
	if imp.done {
		return Changes{}, apierrors.BadRequest("import %s already ended", imp.id)
	}
	imp.done = true
	defer imp.release()
	if err := ctx.Err(); err != nil {
		return Changes{}, err
	}
	imp.changes.Added = sortedKeys(imp.added)
	imp.changes.Deleted = sortedKeys(imp.deleted)
	if len(imp.touchedTU) != 0 {
		for _, s := range imp.draft.segs {
			if _, ok := imp.touchedTU[s.TU]; ok {
				imp.updated[s.Key] = struct{}{}
			}
		}
	}
	for k := range imp.added {
		delete(imp.updated, k)
	}
	imp.changes.Updated = sortedKeys(imp.updated)
	// Keys allocated by records added then deleted in this import are retired
	// too, so the counters are persisted even without visible changes.
	if imp.changes.Empty() && len(imp.newUnits) == 0 && imp.draft.nextKey == imp.tm.cur.Load().nextKey {
		return imp.changes, nil
	}
	imp.draft.meta.Modified = time.Now().UTC()
	if err := imp.persist(); err != nil {
		imp.tm.log.ErrorContext(ctx, "import failed", "tm", imp.draft.meta.Name, "import", imp.id, "err", err)
		imp.rollback(ctx)
		return Changes{}, err
	}
	imp.tm.stale = false
	imp.tm.cur.Store(imp.draft)
	imp.tm.log.InfoContext(ctx, "import finished",
		"tm", imp.draft.meta.Name, "import", imp.id,
		"added", len(imp.changes.Added), "updated", len(imp.changes.Updated), "deleted", len(imp.changes.Deleted),
		"schema", imp.changes.Schema)
	return imp.changes, nil
}

func (imp *Import) persist() error {
	d, t := imp.draft, imp.tm
	if imp.rewriteSegs || t.stale {
		if err := t.segs.Replace(slices.Clone(d.segs)); err != nil {
			return apierrors.Storage("failed to write segments", err)
		}
	} else {
		for _, k := range imp.changes.Added {
			i, _ := d.find(k)
			if err := t.segs.Append(d.segs[i]); err != nil {
				return apierrors.Storage("failed to append segment", err)
			}
		}
	}
	if imp.rewriteUnits || t.stale {
		if err := t.units.Replace(sortedUnits(d.units)); err != nil {
			return apierrors.Storage("failed to write translation units", err)
		}
	} else {
		for _, k := range sortedKeys(imp.newUnits) {
			if err := t.units.Append(d.units[k]); err != nil {
				return apierrors.Storage("failed to append translation unit", err)
			}
		}
	}
	return writeMeta(t.dir, d)
}

// rollback puts the tables back to the published rows after a failed
// persist. When that fails too, the allocated keys are retired so they are
// never handed out again and the next import rewrites both tables.
func (imp *Import) rollback(ctx context.Context) {
	t, cur := imp.tm, imp.tm.cur.Load()
	err := t.segs.Replace(slices.Clone(cur.segs))
	if err == nil {
		err = t.units.Replace(sortedUnits(cur.units))
	}
	if err == nil {
		return
	}
	t.log.ErrorContext(ctx, "failed to restore tables", "tm", cur.meta.Name, "import", imp.id, "err", err)
	t.stale = true
	next := *cur
	next.nextKey = max(cur.nextKey, imp.draft.nextKey)
	next.nextTU = max(cur.nextTU, imp.draft.nextTU)
	t.cur.Store(&next)
}

func sortedUnits(m map[int64]*unit) []*unit {
	return slices.SortedFunc(maps.Values(m), func(a, b *unit) int { return cmp.Compare(a.Key, b.Key) })
}

func sortedKeys(m map[int64]struct{}) []int64 {
	return slices.Sorted(maps.Keys(m))
}

// Record returns a record from the draft.
func (imp *Import) Record(key int64) (Row, error) { return imp.draft.Record(key) }

// AddRecord adds a segment. A negative tuKey creates a new translation unit;
// otherwise the segment joins the existing unit. Unknown field names extend
// the schema, adding the locale of a text or codes field when needed.
// Returns the new segment key.
func (imp *Import) AddRecord(tuKey int64, tuFields, segFields map[string]Value) (int64, error) {
	d := imp.draft
	if tuKey >= 0 {
		if _, ok := d.units[tuKey]; !ok {
			return 0, apierrors.NotFound("translation unit %d", tuKey)
		}
	}
	w, err := imp.resolve(tuFields, segFields)
	if err != nil {
		return 0, err
	}
	seg := &segment{Key: d.nextKey, Values: map[uint32]Value{}}
	if err := w.check(seg); err != nil {
		return 0, err
	}
	if tuKey < 0 {
		tuKey = d.nextTU
		d.nextTU++
		d.units[tuKey] = &unit{Key: tuKey}
		imp.newUnits[tuKey] = struct{}{}
	}
	seg.TU = tuKey
	d.nextKey++
	w.apply(seg)
	d.segs = append(d.segs, seg)
	imp.added[seg.Key] = struct{}{}
	imp.writeUnit(tuKey, w)
	imp.commitSchema(w)
	return seg.Key, nil
}

// UpdateRecord merges the given values into a segment and its unit. Fields
// not listed keep their value; a null value clears the field.
func (imp *Import) UpdateRecord(key int64, tuFields, segFields map[string]Value) error {
	d := imp.draft
	i, ok := d.find(key)
	if !ok {
		return apierrors.NotFound("segment %d", key)
	}
	w, err := imp.resolve(tuFields, segFields)
	if err != nil {
		return err
	}
	seg := d.segs[i].Clone()
	if err := w.check(seg); err != nil {
		return err
	}
	w.apply(seg)
	d.segs[i] = seg
	if _, ok := imp.added[key]; !ok {
		imp.updated[key] = struct{}{}
		imp.rewriteSegs = true
	}
	imp.writeUnit(seg.TU, w)
	imp.commitSchema(w)
	return nil
}

// DeleteSegments removes segments. Nothing is removed when any key is
// unknown. Keys are never reused and translation units are kept.
func (imp *Import) DeleteSegments(keys []int64) error {
	d := imp.draft
	drop := make(map[int64]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := d.find(k); !ok {
			return apierrors.NotFound("segment %d", k)
		}
		drop[k] = struct{}{}
	}
	d.segs = slices.DeleteFunc(d.segs, func(s *segment) bool {
		_, ok := drop[s.Key]
		return ok
	})
	for k := range drop {
		delete(imp.updated, k)
		if _, ok := imp.added[k]; ok {
			delete(imp.added, k)
			continue
		}
		imp.deleted[k] = struct{}{}
		imp.rewriteSegs = true
	}
	return nil
}

// AddLocale adds a locale and its text/codes pair. Adding a present locale is
// a no-op.
func (imp *Import) AddLocale(code string) error {
	loc := CanonicalLocale(code)
	if loc == "" {
		return apierrors.BadRequest("empty locale")
	}
	if imp.draft.schema.addLocale(loc) {
		imp.changes.Schema = true
	}
	return nil
}

// DeleteLocale removes a locale and every field scoped to it. Deleting a
// missing locale or the last one is a no-op.
func (imp *Import) DeleteLocale(code string) error {
	loc := CanonicalLocale(code)
	s := imp.draft.schema
	var ids []uint32
	for _, f := range s.fields {
		if f.Locale == loc {
			ids = append(ids, f.ID)
		}
	}
	if !s.deleteLocale(loc) {
		return nil
	}
	imp.dropValues(ids)
	imp.changes.Schema = true
	imp.changes.Reindex = true
	return nil
}

// RenameLocale renames a locale with its text, codes and attribute fields.
// Renaming a missing locale or onto an existing one is a no-op.
func (imp *Import) RenameLocale(from, to string) error {
	src, dst := CanonicalLocale(from), CanonicalLocale(to)
	if dst == "" {
		return apierrors.BadRequest("empty locale")
	}
	if imp.draft.schema.renameLocale(src, dst) {
		imp.changes.Schema = true
		imp.changes.Reindex = true
	}
	return nil
}

// AddField adds a TU-level field or a locale attribute (Name~LOC). Adding an
// existing field is a no-op; reserved and text/codes names fail with
// SchemaConflict.
func (imp *Import) AddField(name string) error {
	changed, err := imp.draft.schema.addField(name)
	if changed {
		imp.changes.Schema = true
	}
	return err
}

// DeleteField removes a TU-level field or a locale attribute with its
// values. Deleting a missing field is a no-op.
func (imp *Import) DeleteField(name string) error {
	s := imp.draft.schema
	f, ok := s.Field(name)
	changed, err := s.deleteField(name)
	if err != nil || !changed {
		return err
	}
	if ok {
		imp.dropValues([]uint32{f.ID})
	}
	imp.changes.Schema = true
	imp.changes.Reindex = true
	return nil
}

// RenameField renames a TU-level field or a locale attribute. Renaming a
// missing field or onto an existing name is a no-op.
func (imp *Import) RenameField(from, to string) error {
	changed, err := imp.draft.schema.renameField(from, to)
	if changed {
		imp.changes.Schema = true
		imp.changes.Reindex = true
	}
	return err
}

// Rename changes the TM name.
func (imp *Import) Rename(name string) error {
	if name == "" {
		return apierrors.BadRequest("TM name is required")
	}
	if imp.draft.meta.Name != name {
		imp.draft.meta.Name = name
		imp.changes.Meta = true
	}
	return nil
}

// SetDescription changes the TM description.
func (imp *Import) SetDescription(desc string) {
	if imp.draft.meta.Description != desc {
		imp.draft.meta.Description = desc
		imp.changes.Meta = true
	}
}

// dropValues removes the values of deleted fields from every record.
func (imp *Import) dropValues(ids []uint32) {
	d := imp.draft
	has := func(vals map[uint32]Value) bool {
		for _, id := range ids {
			if _, ok := vals[id]; ok {
				return true
			}
		}
		return false
	}
	for i, s := range d.segs {
		if !has(s.Values) {
			continue
		}
		c := s.Clone()
		for _, id := range ids {
			delete(c.Values, id)
		}
		d.segs[i] = c
		imp.rewriteSegs = true
	}
	for k, u := range d.units {
		if !has(u.Values) {
			continue
		}
		c := u.Clone()
		for _, id := range ids {
			delete(c.Values, id)
		}
		d.units[k] = c
		imp.rewriteUnits = true
	}
}

// write is a resolved record mutation: values keyed by field ID, split by
// level, with the schema they were resolved against.
type write struct {
	schema  *Schema
	changed bool
	seg     map[uint32]Value
	tu      map[uint32]Value
}

// resolve maps field names to descriptors and checks value kinds. New fields
// are added to a copy of the draft schema so a failing mutation leaves the
// schema untouched.
func (imp *Import) resolve(tuFields, segFields map[string]Value) (*write, error) {
	w := &write{schema: imp.draft.schema, seg: map[uint32]Value{}, tu: map[uint32]Value{}}
	for _, m := range []map[string]Value{tuFields, segFields} {
		for _, name := range slices.Sorted(maps.Keys(m)) {
			if _, ok := w.schema.Field(name); !ok && !w.changed {
				w.schema = w.schema.clone()
				w.changed = true
			}
			f, _, err := w.schema.ensure(name)
			if err != nil {
				return nil, err
			}
			v := m[name]
			if err := checkKind(f, v); err != nil {
				return nil, err
			}
			// Values go where the field lives, whichever map they came in.
			if f.TULevel() {
				w.tu[f.ID] = v
			} else {
				w.seg[f.ID] = v
			}
		}
	}
	return w, nil
}

func checkKind(f FieldDescriptor, v Value) error {
	if v.IsNull() {
		return nil
	}
	switch f.Kind {
	case FieldText, FieldCodes:
		if v.Kind() != KindString {
			return apierrors.TypeMismatch(KindString.String(), v.Kind().String()).WithDetail("field", f.Name)
		}
	case FieldFlagKind:
		if v.Kind() != KindBool {
			return apierrors.TypeMismatch(KindBool.String(), v.Kind().String()).WithDetail("field", f.Name)
		}
	}
	return nil
}

// check verifies that every locale whose text or codes change still decodes
// once merged with seg's current values.
func (w *write) check(seg *segment) error {
	for _, loc := range w.schema.locales {
		tf, _ := w.schema.Field(TextField(loc))
		cf, _ := w.schema.Field(CodesField(loc))
		tv, tok := w.seg[tf.ID]
		cv, cok := w.seg[cf.ID]
		if !tok && !cok {
			continue
		}
		if !tok {
			tv = seg.Values[tf.ID]
		}
		if !cok {
			cv = seg.Values[cf.ID]
		}
		if _, err := codec.Decode(tv.s, cv.s); err != nil {
			return err
		}
	}
	return nil
}

func (w *write) apply(seg *segment) {
	mergeValues(seg.Values, w.seg)
}

func mergeValues(dst, src map[uint32]Value) {
	for id, v := range src {
		if v.IsNull() {
			delete(dst, id)
		} else {
			dst[id] = v
		}
	}
}

func (imp *Import) writeUnit(key int64, w *write) {
	if len(w.tu) == 0 {
		return
	}
	d := imp.draft
	u := d.units[key].Clone()
	if u.Values == nil {
		u.Values = map[uint32]Value{}
	}
	mergeValues(u.Values, w.tu)
	d.units[key] = u
	if _, ok := imp.newUnits[key]; !ok {
		imp.rewriteUnits = true
		imp.touchedTU[key] = struct{}{}
	}
}

func (imp *Import) commitSchema(w *write) {
	if w.changed {
		imp.draft.schema = w.schema
		imp.changes.Schema = true
	}
}
