// Package entitystore holds canonical normalized records.
//
// The store is ground truth: it never sees optimistic data. Writes merge at
// field level; fields missing from a patch are left untouched.
//
// Store is not safe for concurrent use. The owning cache serializes access.
package entitystore

import (
	"sort"

	"github.com/unkn0wn-root/gqlcache/record"
)

type Store struct {
	entities map[record.ID]record.Object
}

func New() *Store {
	return &Store{entities: make(map[record.ID]record.Object)}
}

// Write merges rec into the record stored for id, creating it if absent.
// An empty rec creates nothing.
func (s *Store) Write(id record.ID, rec record.Object) {
	if len(rec) == 0 {
		return
	}
	cur, ok := s.entities[id]
	if !ok {
		cur = make(record.Object, len(rec))
		s.entities[id] = cur
	}
	for f, v := range rec {
		cur[f] = v.Clone()
	}
}

// Read returns a copy of the record stored for id.
func (s *Store) Read(id record.ID) (record.Object, bool) {
	cur, ok := s.entities[id]
	if !ok {
		return nil, false
	}
	return cur.Clone(), true
}

// Field returns one stored field. The value is shared; callers must not
// mutate embedded objects or lists.
func (s *Store) Field(id record.ID, field string) (record.Value, bool) {
	cur, ok := s.entities[id]
	if !ok {
		return record.Value{}, false
	}
	v, ok := cur[field]
	return v, ok
}

// Has reports whether a record exists for id.
func (s *Store) Has(id record.ID) bool {
	_, ok := s.entities[id]
	return ok
}

// Delete removes the named fields of id, or the whole record when no field
// is given. A record left without fields is dropped. It returns the fields
// that were actually removed.
func (s *Store) Delete(id record.ID, fields ...string) []string {
	cur, ok := s.entities[id]
	if !ok {
		return nil
	}
	if len(fields) == 0 {
		delete(s.entities, id)
		return cur.Fields()
	}
	var removed []string
	for _, f := range fields {
		if _, ok := cur[f]; ok {
			delete(cur, f)
			removed = append(removed, f)
		}
	}
	if len(cur) == 0 {
		delete(s.entities, id)
	}
	return removed
}

// IDs returns every stored identifier, sorted.
func (s *Store) IDs() []record.ID {
	out := make([]record.ID, 0, len(s.entities))
	for id := range s.entities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Store) Len() int { return len(s.entities) }

// Clear drops every record.
func (s *Store) Clear() {
	s.entities = make(map[record.ID]record.Object)
}

// Snapshot returns a deep copy of all records.
func (s *Store) Snapshot() record.Snapshot {
	return record.Snapshot(s.entities).Clone()
}

// Replace swaps the store contents for a copy of snap.
func (s *Store) Replace(snap record.Snapshot) {
	s.entities = make(map[record.ID]record.Object, len(snap))
	for id, o := range snap {
		if len(o) == 0 {
			continue
		}
		s.entities[id] = o.Clone()
	}
}
