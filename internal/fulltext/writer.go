package fulltext

import (
	"context"

	"github.com/maruel/ksid"

	apierrors "github.com/maruel/tmdb/internal/errors"
)

type opKind uint8

const (
	opPut opKind = iota + 1
	opDelete
	opDeleteTM
)

type op struct {
	kind  opKind
	id    ID
	entry *Entry
}

// Writer buffers index changes until Commit. Only one Writer is open at a
// time per Index; it is not safe for concurrent use.
type Writer struct {
	idx    *Index
	ops    []op
	closed bool
}

// Index adds an entry, replacing the one with the same ID.
func (w *Writer) Index(e Entry) error {
	if w.closed {
		return apierrors.IndexUnavailable("writer is closed", nil)
	}
	if e.ID.TMID == "" {
		return apierrors.BadRequest("entry has no TM identifier")
	}
	c := cloneEntry(&e)
	w.ops = append(w.ops, op{kind: opPut, id: e.ID, entry: &c})
	return nil
}

// Update replaces an entry. It is Index under another name: an entry that
// was not indexed yet is added.
func (w *Writer) Update(e Entry) error {
	return w.Index(e)
}

// Delete removes an entry. Unknown IDs are ignored.
func (w *Writer) Delete(id ID) error {
	if w.closed {
		return apierrors.IndexUnavailable("writer is closed", nil)
	}
	w.ops = append(w.ops, op{kind: opDelete, id: id})
	return nil
}

// DeleteTM removes every entry of a TM.
func (w *Writer) DeleteTM(tmID string) error {
	if w.closed {
		return apierrors.IndexUnavailable("writer is closed", nil)
	}
	w.ops = append(w.ops, op{kind: opDeleteTM, id: ID{TMID: tmID}})
	return nil
}

// Pending returns the number of buffered changes.
func (w *Writer) Pending() int {
	return len(w.ops)
}

// Commit persists the buffered changes and makes them visible to the
// Seekers opened afterwards. On failure the changes stay buffered.
func (w *Writer) Commit(ctx context.Context) error {
	if w.closed {
		return apierrors.IndexUnavailable("writer is closed", nil)
	}
	if len(w.ops) == 0 {
		return nil
	}
	gen := ksid.NewID()
	if err := w.idx.st.apply(ctx, gen, w.ops); err != nil {
		return apierrors.IndexUnavailable("failed to commit index", err)
	}
	b := newBuilder(w.idx.snap.Load())
	for _, o := range w.ops {
		switch o.kind {
		case opPut:
			b.put(o.entry)
		case opDelete:
			b.remove(o.id)
		case opDeleteTM:
			b.removeTM(o.id.TMID)
		}
	}
	s := b.finish(gen)
	w.idx.snap.Store(s)
	w.idx.log.DebugContext(ctx, "fulltext: committed", "generation", gen, "ops", len(w.ops), "entries", len(s.ids))
	w.ops = nil
	return nil
}

// Close commits the pending changes and releases the writer. The writer is
// released even when the commit fails.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	err := w.Commit(ctx)
	w.closed = true
	w.ops = nil
	<-w.idx.sem
	return err
}
