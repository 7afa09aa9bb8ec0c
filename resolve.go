package gqlcache

import (
	"strings"

	"github.com/unkn0wn-root/gqlcache/entitystore"
	"github.com/unkn0wn-root/gqlcache/layer"
	"github.com/unkn0wn-root/gqlcache/record"
)

// view resolves effective values over (store, stack). Callers hold the
// cache lock.
type view struct {
	store *entitystore.Store
	stack *layer.Stack
}

// field returns the effective value of (id, field): the top-most layer that
// defines it wins, then the store. optimistic reports a layer hit.
func (v view) field(id record.ID, field string) (val record.Value, ok, optimistic bool) {
	v.stack.Each(func(l *layer.Layer) bool {
		val, ok = l.Field(id, field)
		return !ok
	})
	if ok {
		return val, true, true
	}
	val, ok = v.store.Field(id, field)
	return val, ok, false
}

// resolve follows path from id. References jump to the referenced entity;
// embedded objects are entered in place.
func (v view) resolve(id record.ID, path []string) (record.Value, error) {
	if len(path) == 0 {
		return record.Value{}, &PathError{ID: id}
	}
	cur := id
	var embedded record.Object
	var prefix []string
	for i, name := range path {
		var val record.Value
		var ok bool
		if embedded != nil {
			val, ok = embedded[name]
			if !ok {
				return record.Value{}, &MissingFieldError{ID: cur, Field: strings.Join(append(prefix, name), ".")}
			}
			prefix = append(prefix, name)
		} else {
			val, ok, _ = v.field(cur, name)
			if !ok {
				return record.Value{}, &MissingFieldError{ID: cur, Field: name}
			}
			prefix = []string{name}
		}
		if i == len(path)-1 {
			return val, nil
		}
		switch val.Kind() {
		case record.KindRef:
			cur, _ = val.AsRef()
			embedded = nil
		case record.KindObject:
			embedded, _ = val.AsObject()
		default:
			return record.Value{}, &PathError{ID: id, Path: path, Step: i, Kind: val.Kind()}
		}
	}
	return record.Value{}, &PathError{ID: id, Path: path}
}

// reader tracks every (id, field) read through it.
type reader struct {
	v          view
	touched    map[record.FieldRef]struct{}
	refs       []record.FieldRef
	missing    []*MissingFieldError
	optimistic bool
}

func newReader(v view) *reader {
	return &reader{v: v, touched: make(map[record.FieldRef]struct{})}
}

func (r *reader) Field(id record.ID, field string) (record.Value, error) {
	ref := record.FieldRef{ID: id, Field: field}
	if _, ok := r.touched[ref]; !ok {
		r.touched[ref] = struct{}{}
		r.refs = append(r.refs, ref)
	}
	val, ok, opt := r.v.field(id, field)
	if !ok {
		err := &MissingFieldError{ID: id, Field: field}
		r.Missing(err)
		return record.Value{}, err
	}
	if opt {
		r.optimistic = true
	}
	return val, nil
}

func (r *reader) Missing(err *MissingFieldError) {
	for _, m := range r.missing {
		if m.ID == err.ID && m.Field == err.Field {
			return
		}
	}
	r.missing = append(r.missing, err)
}

func (r *reader) result(data any, err error) Result {
	res := Result{
		Data:       data,
		Optimistic: r.optimistic,
		Missing:    r.missing,
	}
	if err != nil && !IsMissingField(err) {
		res.Err = err
	}
	res.Complete = res.Err == nil && len(res.Missing) == 0
	return res
}
