package record

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RefKey is the plain-form marker for a reference: {"__ref": "<id>"}.
const RefKey = "__ref"

// FieldRef addresses one field of one entity.
type FieldRef struct {
	ID    ID
	Field string
}

func (r FieldRef) String() string { return string(r.ID) + "." + r.Field }

// SortRefs orders refs by ID, then field.
func SortRefs(refs []FieldRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].ID != refs[j].ID {
			return refs[i].ID < refs[j].ID
		}
		return refs[i].Field < refs[j].Field
	})
}

// Snapshot is a full set of records keyed by ID.
type Snapshot map[ID]Object

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, o := range s {
		out[id] = o.Clone()
	}
	return out
}

// IDs returns the snapshot's identifiers sorted.
func (s Snapshot) IDs() []ID {
	out := make([]ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ToPlain converts the snapshot into JSON-shaped Go values.
func (s Snapshot) ToPlain() map[string]any {
	out := make(map[string]any, len(s))
	for id, o := range s {
		out[string(id)] = o.ToPlain()
	}
	return out
}

// SnapshotFromPlain is the inverse of Snapshot.ToPlain.
func SnapshotFromPlain(m map[string]any) (Snapshot, error) {
	out := make(Snapshot, len(m))
	for id, raw := range m {
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record: entity %q: expected object, got %T", id, raw)
		}
		o, err := ObjectFromPlain(fields)
		if err != nil {
			return nil, fmt.Errorf("record: entity %q: %w", id, err)
		}
		out[ID(id)] = o
	}
	return out, nil
}

// ToPlain converts the record into a map of JSON-shaped values.
func (o Object) ToPlain() map[string]any {
	out := make(map[string]any, len(o))
	for k, v := range o {
		out[k] = v.ToAny()
	}
	return out
}

// ObjectFromPlain converts a plain map into a record. Nested maps become
// embedded objects unless they are reference markers.
func ObjectFromPlain(m map[string]any) (Object, error) {
	out := make(Object, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// ToAny returns the plain form of v. References become {"__ref": id}.
func (v Value) ToAny() any {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindRef:
		return map[string]any{RefKey: string(v.ref)}
	case KindList:
		items := make([]any, len(v.list))
		for i := range v.list {
			items[i] = v.list[i].ToAny()
		}
		return items
	case KindObject:
		return v.obj.ToPlain()
	default:
		return nil
	}
}

// FromAny converts a plain value (as produced by ToAny, encoding/json,
// yaml.v3, msgpack or cbor decoding) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("record: bad number %q: %w", t.String(), err)
		}
		return Float(f), nil
	case map[string]any:
		if len(t) == 1 {
			if id, ok := t[RefKey].(string); ok {
				return Ref(ID(id)), nil
			}
		}
		o, err := ObjectFromPlain(t)
		if err != nil {
			return Value{}, err
		}
		return Embedded(o), nil
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, v := range t {
			ks, ok := k.(string)
			if !ok {
				return Value{}, fmt.Errorf("record: non-string key %v (%T)", k, k)
			}
			m[ks] = v
		}
		return FromAny(m)
	case []any:
		items := make([]Value, len(t))
		for i := range t {
			v, err := FromAny(t[i])
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = v
		}
		return List(items...), nil
	default:
		return Scalar(x)
	}
}
