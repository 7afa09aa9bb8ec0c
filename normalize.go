package gqlcache

import (
	"github.com/unkn0wn-root/gqlcache/record"
)

// normalizer flattens nested objects into per-entity patches. Identifiable
// objects become references to their own records; the rest stay embedded.
type normalizer struct {
	identify IdentifyFunc
	out      map[record.ID]record.Object
}

func newNormalizer(identify IdentifyFunc) *normalizer {
	return &normalizer{identify: identify, out: make(map[record.ID]record.Object)}
}

// add normalizes one top-level entity. Missing IDs are resolved through the
// identifier policy.
func (n *normalizer) add(e Entity) (record.ID, error) {
	id := e.ID
	if id == "" {
		var ok bool
		id, ok = n.identify(e.Fields.Typename(), e.Fields)
		if !ok {
			return "", ErrUnidentified
		}
	}
	n.entity(id, e.Fields)
	return id, nil
}

func (n *normalizer) entity(id record.ID, rec record.Object) {
	fields := make(record.Object, len(rec))
	for _, f := range rec.Fields() {
		fields[f] = n.value(rec[f])
	}
	cur, ok := n.out[id]
	if !ok {
		n.out[id] = fields
		return
	}
	for f, v := range fields {
		cur[f] = v
	}
}

func (n *normalizer) value(v record.Value) record.Value {
	switch v.Kind() {
	case record.KindObject:
		o, _ := v.AsObject()
		if id, ok := n.identify(o.Typename(), o); ok {
			n.entity(id, o)
			return record.Ref(id)
		}
		fields := make(record.Object, len(o))
		for _, f := range o.Fields() {
			fields[f] = n.value(o[f])
		}
		return record.Embedded(fields)
	case record.KindList:
		items := v.Items()
		out := make([]record.Value, len(items))
		for i := range items {
			out[i] = n.value(items[i])
		}
		return record.List(out...)
	default:
		return v
	}
}

// patch returns the accumulated per-entity patches.
func (n *normalizer) patch() map[record.ID]record.Object { return n.out }

func normalizeAll(identify IdentifyFunc, entities []Entity) (map[record.ID]record.Object, []record.ID, error) {
	n := newNormalizer(identify)
	ids := make([]record.ID, 0, len(entities))
	for _, e := range entities {
		id, err := n.add(e)
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
	}
	return n.patch(), ids, nil
}

func patchRefs(p map[record.ID]record.Object) []record.FieldRef {
	var out []record.FieldRef
	for id, o := range p {
		for f := range o {
			out = append(out, record.FieldRef{ID: id, Field: f})
		}
	}
	record.SortRefs(out)
	return out
}
