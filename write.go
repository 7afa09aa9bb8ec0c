package gqlcache

import (
	"github.com/unkn0wn-root/gqlcache/layer"
	"github.com/unkn0wn-root/gqlcache/record"
)

type fieldState struct {
	v  record.Value
	ok bool
}

type undoEntry struct {
	ref  record.FieldRef
	prev fieldState
}

// writeOp is one coordinator operation. Every (id, field) it may move is
// captured before the first mutation; the change-set is the captured pairs
// whose effective value differs afterwards.
type writeOp struct {
	c      *cache
	before map[record.FieldRef]fieldState
	order  []record.FieldRef
	undo   []undoEntry

	// settled are pairs read by subscribers that were defined by a removed
	// layer; they are notified even when the effective value did not move.
	settled []record.FieldRef
	after   []func()
}

func (w *writeOp) touch(refs ...record.FieldRef) {
	v := w.c.view()
	for _, r := range refs {
		if _, seen := w.before[r]; seen {
			continue
		}
		val, ok, _ := v.field(r.ID, r.Field)
		w.before[r] = fieldState{v: val, ok: ok}
		w.order = append(w.order, r)
	}
}

func (w *writeOp) changes() ChangeSet {
	v := w.c.view()
	var out []record.FieldRef
	for _, r := range w.order {
		prev := w.before[r]
		val, ok, _ := v.field(r.ID, r.Field)
		if ok != prev.ok || (ok && !val.Equal(prev.v)) {
			out = append(out, r)
		}
	}
	return newChangeSet(out)
}

// writeStore merges patch into the canonical store, keeping an undo log.
func (w *writeOp) writeStore(patch map[record.ID]record.Object) {
	refs := patchRefs(patch)
	w.touch(refs...)
	for _, r := range refs {
		prev, ok := w.c.store.Field(r.ID, r.Field)
		w.undo = append(w.undo, undoEntry{ref: r, prev: fieldState{v: prev, ok: ok}})
	}
	for _, id := range record.Snapshot(patch).IDs() {
		w.c.store.Write(id, patch[id])
	}
}

func (w *writeOp) evictStore(id record.ID, fields []string) {
	if len(fields) == 0 {
		rec, ok := w.c.store.Read(id)
		if !ok {
			return
		}
		fields = rec.Fields()
	}
	for _, f := range fields {
		r := record.FieldRef{ID: id, Field: f}
		w.touch(r)
		prev, ok := w.c.store.Field(id, f)
		if ok {
			w.undo = append(w.undo, undoEntry{ref: r, prev: fieldState{v: prev, ok: true}})
		}
	}
	w.c.store.Delete(id, fields...)
}

func (w *writeOp) rollback() {
	for i := len(w.undo) - 1; i >= 0; i-- {
		u := w.undo[i]
		if u.prev.ok {
			w.c.store.Write(u.ref.ID, record.Object{u.ref.Field: u.prev.v})
		} else {
			w.c.store.Delete(u.ref.ID, u.ref.Field)
		}
	}
	w.undo = nil
}

// removeLayer drops tx's layer. Only fields not masked by a newer layer can
// change, so only those are captured and reported as settled.
func (w *writeOp) removeLayer(tx TxID, reason string) error {
	l, ok := w.c.stack.Get(tx)
	if !ok {
		return &layer.UnknownTransactionError{TxID: tx}
	}
	above := w.c.stack.Above(tx)
	var exposed []record.FieldRef
	for _, r := range l.Refs() {
		if !maskedBy(above, r) {
			exposed = append(exposed, r)
		}
	}
	w.touch(exposed...)
	if _, err := w.c.stack.Remove(tx); err != nil {
		return err
	}
	w.settled = append(w.settled, exposed...)
	w.after = append(w.after, func() { w.c.hooks.LayerRemoved(tx, reason) })
	w.c.log.Debug("optimistic layer removed", Fields{"tx": tx, "reason": reason, "fields": len(exposed)})
	return nil
}

func maskedBy(layers []*layer.Layer, r record.FieldRef) bool {
	for _, l := range layers {
		if _, ok := l.Field(r.ID, r.Field); ok {
			return true
		}
	}
	return false
}

// write runs fn as one serialized operation, then notifies outside the lock.
func (c *cache) write(op string, fn func(w *writeOp) error) (ChangeSet, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	w := &writeOp{c: c, before: make(map[record.FieldRef]fieldState)}
	if err := fn(w); err != nil {
		w.rollback()
		c.mu.Unlock()
		return nil, err
	}
	cs := w.changes()
	c.mu.Unlock()

	for _, f := range w.after {
		f()
	}
	c.hooks.WriteApplied(op, len(cs))
	c.notify(cs, w.settled)
	return cs, nil
}

func (c *cache) WriteCanonical(id record.ID, rec record.Object) (ChangeSet, error) {
	patch, _, err := normalizeAll(c.identify, []Entity{{ID: id, Fields: rec}})
	if err != nil {
		return nil, err
	}
	return c.write("canonical", func(w *writeOp) error {
		w.writeStore(patch)
		return nil
	})
}

func (c *cache) WriteEntity(rec record.Object) (record.ID, ChangeSet, error) {
	patch, ids, err := normalizeAll(c.identify, []Entity{{Fields: rec}})
	if err != nil {
		return "", nil, err
	}
	cs, err := c.write("canonical", func(w *writeOp) error {
		w.writeStore(patch)
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return ids[0], cs, nil
}

func (c *cache) Evict(id record.ID, fields ...string) (ChangeSet, error) {
	return c.write("evict", func(w *writeOp) error {
		w.evictStore(id, fields)
		return nil
	})
}

// BeginOptimistic pushes one layer holding every given entity (nested
// identifiable objects included). It fails if tx already has a live layer.
func (c *cache) BeginOptimistic(tx TxID, entities ...Entity) (ChangeSet, error) {
	patch, _, err := normalizeAll(c.identify, entities)
	if err != nil {
		return nil, err
	}
	return c.write("optimistic", func(w *writeOp) error {
		return w.pushLayer(tx, patch)
	})
}

// ApplyOptimistic pushes a layer for tx, or when tx is live replaces its
// layer with one extended by rec, keeping its stack position.
func (c *cache) ApplyOptimistic(tx TxID, id record.ID, rec record.Object) (ChangeSet, error) {
	patch, _, err := normalizeAll(c.identify, []Entity{{ID: id, Fields: rec}})
	if err != nil {
		return nil, err
	}
	return c.write("optimistic", func(w *writeOp) error {
		cur, ok := c.stack.Get(tx)
		if !ok {
			return w.pushLayer(tx, patch)
		}
		merged := cur.Patch()
		for eid, o := range patch {
			dst, ok := merged[eid]
			if !ok {
				merged[eid] = o
				continue
			}
			for f, v := range o {
				dst[f] = v
			}
		}
		w.touch(patchRefs(patch)...)
		if _, err := c.stack.Replace(tx, merged); err != nil {
			return err
		}
		c.log.Debug("optimistic layer extended", Fields{"tx": tx, "entities": len(merged)})
		return nil
	})
}

func (w *writeOp) pushLayer(tx TxID, patch map[record.ID]record.Object) error {
	if _, ok := w.c.stack.Get(tx); ok {
		return &layer.DuplicateTransactionError{TxID: tx}
	}
	w.touch(patchRefs(patch)...)
	l, err := w.c.stack.Push(tx, patch)
	if err != nil {
		return err
	}
	n := len(l.IDs())
	w.after = append(w.after, func() { w.c.hooks.LayerPushed(tx, n) })
	w.c.log.Debug("optimistic layer pushed", Fields{"tx": tx, "entities": n, "depth": w.c.stack.Len()})
	return nil
}

// Commit removes tx's layer and writes the authoritative entities in one
// step: readers never observe the gap between the two.
func (c *cache) Commit(tx TxID, entities ...Entity) (ChangeSet, error) {
	patch, _, err := normalizeAll(c.identify, entities)
	if err != nil {
		return nil, err
	}
	return c.write("commit", func(w *writeOp) error {
		if err := w.removeLayer(tx, "commit"); err != nil {
			return err
		}
		w.writeStore(patch)
		return nil
	})
}

// Abort removes tx's layer without canonical data.
func (c *cache) Abort(tx TxID) (ChangeSet, error) {
	return c.write("abort", func(w *writeOp) error {
		return w.removeLayer(tx, "abort")
	})
}

// Restore replaces the canonical store with snap. Optimistic layers stay.
func (c *cache) Restore(snap record.Snapshot) (ChangeSet, error) {
	return c.write("restore", func(w *writeOp) error {
		for _, id := range c.store.IDs() {
			rec, _ := c.store.Read(id)
			for _, f := range rec.Fields() {
				w.touch(record.FieldRef{ID: id, Field: f})
			}
		}
		for id, rec := range snap {
			for f := range rec {
				w.touch(record.FieldRef{ID: id, Field: f})
			}
		}
		c.store.Replace(snap)
		return nil
	})
}

// Reset clears the store and every optimistic layer. All subscriptions are
// notified.
func (c *cache) Reset() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	removed := c.stack.Clear()
	n := c.store.Len()
	c.store.Clear()
	c.mu.Unlock()

	for _, tx := range removed {
		c.hooks.LayerRemoved(tx, "reset")
	}
	c.hooks.WriteApplied("reset", n)
	c.log.Info("cache reset", Fields{"entities": n, "layers": len(removed)})
	c.notifyAll()
	return nil
}
