// Package layer implements the stack of optimistic overlays.
//
// Each Layer is a sparse, immutable patch keyed by the transaction that
// produced it. The Stack keeps layers in an arena keyed by transaction id and
// a separate order list (oldest first), so layers can be removed by identity
// in any order without disturbing the relative order of the others.
//
// Stack is not safe for concurrent use. The owning cache serializes access.
package layer

import (
	"slices"

	"github.com/unkn0wn-root/gqlcache/record"
)

// TxID correlates an optimistic layer with its eventual commit or abort.
type TxID string

// Layer is one optimistic patch. It is never edited after construction.
type Layer struct {
	tx    TxID
	patch map[record.ID]record.Object
}

// NewLayer copies patch into an immutable layer. Empty entity patches are
// dropped.
func NewLayer(tx TxID, patch map[record.ID]record.Object) *Layer {
	cp := make(map[record.ID]record.Object, len(patch))
	for id, o := range patch {
		if len(o) == 0 {
			continue
		}
		cp[id] = o.Clone()
	}
	return &Layer{tx: tx, patch: cp}
}

func (l *Layer) TxID() TxID { return l.tx }

// Field returns the value this layer defines for (id, field).
func (l *Layer) Field(id record.ID, field string) (record.Value, bool) {
	o, ok := l.patch[id]
	if !ok {
		return record.Value{}, false
	}
	v, ok := o[field]
	return v, ok
}

// Entity returns a copy of the partial record this layer defines for id.
func (l *Layer) Entity(id record.ID) (record.Object, bool) {
	o, ok := l.patch[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// IDs returns the identifiers the layer touches, sorted.
func (l *Layer) IDs() []record.ID {
	return record.Snapshot(l.patch).IDs()
}

// Refs returns every (id, field) the layer defines, sorted.
func (l *Layer) Refs() []record.FieldRef {
	var out []record.FieldRef
	for id, o := range l.patch {
		for f := range o {
			out = append(out, record.FieldRef{ID: id, Field: f})
		}
	}
	record.SortRefs(out)
	return out
}

// Patch returns a deep copy of the layer's patch.
func (l *Layer) Patch() map[record.ID]record.Object {
	return record.Snapshot(l.patch).Clone()
}

// Stack orders live layers; the last pushed layer is on top.
type Stack struct {
	arena map[TxID]*Layer
	order []TxID // bottom (oldest) -> top (newest)
}

func NewStack() *Stack {
	return &Stack{arena: make(map[TxID]*Layer)}
}

// Push places a new layer on top.
func (s *Stack) Push(tx TxID, patch map[record.ID]record.Object) (*Layer, error) {
	if _, ok := s.arena[tx]; ok {
		return nil, &DuplicateTransactionError{TxID: tx}
	}
	l := NewLayer(tx, patch)
	s.arena[tx] = l
	s.order = append(s.order, tx)
	return l, nil
}

// Replace swaps tx's layer for a new one built from patch, at the same stack
// position. The previous layer value is not modified.
func (s *Stack) Replace(tx TxID, patch map[record.ID]record.Object) (*Layer, error) {
	if _, ok := s.arena[tx]; !ok {
		return nil, &UnknownTransactionError{TxID: tx}
	}
	l := NewLayer(tx, patch)
	s.arena[tx] = l
	return l, nil
}

// Remove deletes tx's layer wherever it sits in the stack.
func (s *Stack) Remove(tx TxID) (*Layer, error) {
	l, ok := s.arena[tx]
	if !ok {
		return nil, &UnknownTransactionError{TxID: tx}
	}
	delete(s.arena, tx)
	if i := slices.Index(s.order, tx); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return l, nil
}

// Get returns the live layer for tx.
func (s *Stack) Get(tx TxID) (*Layer, bool) {
	l, ok := s.arena[tx]
	return l, ok
}

func (s *Stack) Len() int { return len(s.order) }

// TxIDs returns live transaction ids from bottom to top.
func (s *Stack) TxIDs() []TxID {
	return slices.Clone(s.order)
}

// Each calls fn for every layer from top to bottom until fn returns false.
func (s *Stack) Each(fn func(*Layer) bool) {
	for i := len(s.order) - 1; i >= 0; i-- {
		if !fn(s.arena[s.order[i]]) {
			return
		}
	}
}

// Above returns the layers pushed after tx, nearest first.
func (s *Stack) Above(tx TxID) []*Layer {
	i := slices.Index(s.order, tx)
	if i < 0 {
		return nil
	}
	out := make([]*Layer, 0, len(s.order)-i-1)
	for _, id := range s.order[i+1:] {
		out = append(out, s.arena[id])
	}
	return out
}

// Below returns the layers pushed before tx, nearest first.
func (s *Stack) Below(tx TxID) []*Layer {
	i := slices.Index(s.order, tx)
	if i < 0 {
		return nil
	}
	out := make([]*Layer, 0, i)
	for j := i - 1; j >= 0; j-- {
		out = append(out, s.arena[s.order[j]])
	}
	return out
}

// Clear removes every layer and returns their transaction ids, bottom first.
func (s *Stack) Clear() []TxID {
	ids := s.order
	s.arena = make(map[TxID]*Layer)
	s.order = nil
	return ids
}
