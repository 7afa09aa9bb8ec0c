package gqlcache

import (
	"github.com/unkn0wn-root/gqlcache/record"
)

// Tx is the handle given to a Batch function. It is only valid while that
// function runs. Reads through Tx observe the batch's own writes.
type Tx struct {
	w *writeOp
}

// Write merges rec into the canonical record for id.
func (t *Tx) Write(id record.ID, rec record.Object) error {
	patch, _, err := normalizeAll(t.w.c.identify, []Entity{{ID: id, Fields: rec}})
	if err != nil {
		return err
	}
	t.w.writeStore(patch)
	return nil
}

// WriteEntity identifies rec, writes it and returns its identifier.
func (t *Tx) WriteEntity(rec record.Object) (record.ID, error) {
	patch, ids, err := normalizeAll(t.w.c.identify, []Entity{{Fields: rec}})
	if err != nil {
		return "", err
	}
	t.w.writeStore(patch)
	return ids[0], nil
}

func (t *Tx) Evict(id record.ID, fields ...string) {
	t.w.evictStore(id, fields)
}

func (t *Tx) Resolve(id record.ID, path ...string) (record.Value, error) {
	return t.w.c.view().resolve(id, path)
}

// Batch applies several canonical writes as one operation: one change-set,
// one notify pass. If fn returns an error every write it made is undone and
// nobody is notified.
func (c *cache) Batch(fn func(tx *Tx) error) (ChangeSet, error) {
	return c.write("batch", func(w *writeOp) error {
		return fn(&Tx{w: w})
	})
}
