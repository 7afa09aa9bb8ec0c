package gqlcache

import (
	"strings"

	"github.com/unkn0wn-root/gqlcache/record"
)

// Reader is the read handle given to a Query. Every Field call, hit or
// miss, becomes part of the running subscription's dependency set.
type Reader interface {
	// Field returns the effective value of (id, field) or a
	// *MissingFieldError.
	Field(id record.ID, field string) (record.Value, error)
	// Missing records a missing value found without a Field call, such as
	// a field absent from an embedded object.
	Missing(err *MissingFieldError)
}

// Query is executed against the cache through a Reader. Run must only read
// through r; it runs under the cache's read lock and must not write.
type Query interface {
	Run(r Reader) (any, error)
}

// QueryFunc adapts a function to Query.
type QueryFunc func(r Reader) (any, error)

func (f QueryFunc) Run(r Reader) (any, error) { return f(r) }

// Result is the outcome of one query run. Missing fields make the result
// incomplete but are not errors: partial data is still returned.
type Result struct {
	Data       any
	Complete   bool
	Optimistic bool // at least one field came from an optimistic layer
	Missing    []*MissingFieldError
	Err        error
}

// Notification is delivered to a subscription callback after a write that
// affected it.
type Notification struct {
	Subscription SubscriptionID
	// Changes holds the changed pairs the subscription depended on. It is
	// empty when the subscription is told that optimistic data it read has
	// settled without changing value.
	Changes ChangeSet
	Result  Result
}

// Callback receives notifications synchronously, after the write that
// triggered them has released the cache lock.
type Callback func(Notification)

// Field selects one field; a non-empty Selection descends into references,
// embedded objects and lists of them.
type Field struct {
	Name      string
	Alias     string
	Selection []Field
}

// F is shorthand for a Field.
func F(name string, sub ...Field) Field { return Field{Name: name, Selection: sub} }

// Selection is a minimal query: a root entity and the fields to read from it.
// Data is returned as plain maps; unselected references come back as
// {"__ref": id}.
type Selection struct {
	Root   record.ID
	Fields []Field
}

func (s Selection) Run(r Reader) (any, error) {
	return selectFields(r, s.Root, nil, nil, s.Fields), nil
}

// selectFields reads fields from entity id, or from an embedded object of
// that entity when embedded is non-nil (path names the embedding field).
func selectFields(r Reader, id record.ID, embedded record.Object, path []string, fields []Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		key := f.Name
		if f.Alias != "" {
			key = f.Alias
		}
		var v record.Value
		if embedded != nil {
			var ok bool
			v, ok = embedded[f.Name]
			if !ok {
				r.Missing(&MissingFieldError{ID: id, Field: strings.Join(append(append([]string(nil), path...), f.Name), ".")})
				continue
			}
		} else {
			var err error
			v, err = r.Field(id, f.Name)
			if err != nil {
				continue
			}
		}
		out[key] = project(r, id, append(append([]string(nil), path...), f.Name), v, f.Selection)
	}
	return out
}

func project(r Reader, owner record.ID, path []string, v record.Value, sub []Field) any {
	if len(sub) == 0 {
		return v.ToAny()
	}
	switch v.Kind() {
	case record.KindRef:
		id, _ := v.AsRef()
		return selectFields(r, id, nil, nil, sub)
	case record.KindObject:
		o, _ := v.AsObject()
		return selectFields(r, owner, o, path, sub)
	case record.KindList:
		items := v.Items()
		out := make([]any, len(items))
		for i := range items {
			out[i] = project(r, owner, path, items[i], sub)
		}
		return out
	default:
		return v.ToAny()
	}
}
