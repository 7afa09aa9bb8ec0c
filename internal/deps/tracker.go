// Package deps records which (identifier, field) pairs each live
// subscription read during its last resolution.
//
// Matching is existence based: a subscription is affected when any changed
// pair is in its dependency set. Value comparison happens earlier, when the
// writer builds the change-set.
package deps

import (
	"sort"
	"sync"

	"github.com/unkn0wn-root/gqlcache/record"
)

type entry struct {
	seq  uint64
	refs map[record.FieldRef]struct{}
}

// Tracker is safe for concurrent use.
type Tracker[S comparable] struct {
	mu    sync.Mutex
	seq   uint64
	subs  map[S]*entry
	index map[record.FieldRef]map[S]struct{}
}

func New[S comparable]() *Tracker[S] {
	return &Tracker[S]{
		subs:  make(map[S]*entry),
		index: make(map[record.FieldRef]map[S]struct{}),
	}
}

// Record replaces sub's dependency set with exactly refs.
func (t *Tracker[S]) Record(sub S, refs []record.FieldRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.subs[sub]
	if !ok {
		t.seq++
		e = &entry{seq: t.seq}
		t.subs[sub] = e
	}
	t.unindex(sub, e)

	e.refs = make(map[record.FieldRef]struct{}, len(refs))
	for _, r := range refs {
		e.refs[r] = struct{}{}
		set, ok := t.index[r]
		if !ok {
			set = make(map[S]struct{})
			t.index[r] = set
		}
		set[sub] = struct{}{}
	}
}

// Remove forgets sub entirely.
func (t *Tracker[S]) Remove(sub S) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.subs[sub]
	if !ok {
		return false
	}
	t.unindex(sub, e)
	delete(t.subs, sub)
	return true
}

func (t *Tracker[S]) unindex(sub S, e *entry) {
	for r := range e.refs {
		set := t.index[r]
		delete(set, sub)
		if len(set) == 0 {
			delete(t.index, r)
		}
	}
}

// AffectedBy returns each subscription whose dependencies intersect changed,
// once, in registration order.
func (t *Tracker[S]) AffectedBy(changed []record.FieldRef) []S {
	t.mu.Lock()
	defer t.mu.Unlock()

	hit := make(map[S]struct{})
	for _, r := range changed {
		for sub := range t.index[r] {
			hit[sub] = struct{}{}
		}
	}
	return t.ordered(hit)
}

// All returns every tracked subscription in registration order.
func (t *Tracker[S]) All() []S {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := make(map[S]struct{}, len(t.subs))
	for sub := range t.subs {
		all[sub] = struct{}{}
	}
	return t.ordered(all)
}

func (t *Tracker[S]) ordered(set map[S]struct{}) []S {
	out := make([]S, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		return t.subs[out[i]].seq < t.subs[out[j]].seq
	})
	return out
}

// Deps returns sub's current dependency set, sorted.
func (t *Tracker[S]) Deps(sub S) []record.FieldRef {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.subs[sub]
	if !ok {
		return nil
	}
	out := make([]record.FieldRef, 0, len(e.refs))
	for r := range e.refs {
		out = append(out, r)
	}
	record.SortRefs(out)
	return out
}

// Len returns the number of tracked subscriptions.
func (t *Tracker[S]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
