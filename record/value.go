// Package record defines the normalized data model shared by every layer of
// the cache: cache identifiers, tagged field values and entity records.
//
// A Value is one of:
//
//	Null    - explicit GraphQL null
//	Scalar  - string, bool, int64 or float64
//	Ref     - reference to another normalized entity by ID
//	List    - ordered values of any kind
//	Object  - embedded (un-normalized) record
//
// Records are plain maps from field name to Value. Values are treated as
// immutable once built; Clone is used wherever a record crosses an ownership
// boundary (store, layer, caller).
package record

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ID names one normalized entity, e.g. "Comment:5".
type ID string

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindScalar
	KindRef
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindRef:
		return "ref"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a tagged field value. The zero Value is Null.
type Value struct {
	kind   Kind
	scalar any
	ref    ID
	list   []Value
	obj    Object
}

// Object is an entity record or sparse patch: field name -> value.
type Object map[string]Value

func Null() Value               { return Value{} }
func String(s string) Value     { return Value{kind: KindScalar, scalar: s} }
func Bool(b bool) Value         { return Value{kind: KindScalar, scalar: b} }
func Int(i int64) Value         { return Value{kind: KindScalar, scalar: i} }
func Float(f float64) Value     { return Value{kind: KindScalar, scalar: f} }
func Ref(id ID) Value           { return Value{kind: KindRef, ref: id} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Embedded wraps an un-normalized object stored inline in its parent field.
func Embedded(o Object) Value {
	if o == nil {
		o = Object{}
	}
	return Value{kind: KindObject, obj: o}
}

// Scalar builds a scalar from a Go primitive, normalizing integer kinds to
// int64 and float32 to float64. Unsupported types return an error.
func Scalar(v any) (Value, error) {
	switch x := v.(type) {
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return uintScalar(uint64(x)), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return uintScalar(x), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	default:
		return Value{}, fmt.Errorf("record: unsupported scalar type %T", v)
	}
}

func uintScalar(u uint64) Value {
	if u > math.MaxInt64 {
		return Float(float64(u))
	}
	return Int(int64(u))
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Scalar() any    { return v.scalar }
func (v Value) Items() []Value { return v.list }

// AsRef returns the referenced ID when v is a reference.
func (v Value) AsRef() (ID, bool) {
	if v.kind != KindRef {
		return "", false
	}
	return v.ref, true
}

// AsObject returns the embedded object when v is one.
func (v Value) AsObject() (Object, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// AsString returns the scalar string when v holds one.
func (v Value) AsString() (string, bool) {
	s, ok := v.scalar.(string)
	return s, ok && v.kind == KindScalar
}

// Equal reports value equality. Numbers compare numerically so a value that
// went through a JSON round-trip (int64 -> float64) still matches. NaN
// equals NaN.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindScalar:
		return scalarEqual(v.scalar, o.scalar)
	case KindRef:
		return v.ref == o.ref
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(o.obj)
	}
	return false
}

func scalarEqual(a, b any) bool {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return intEqualsFloat(x, y)
		}
		return false
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y || (math.IsNaN(x) && math.IsNaN(y))
		case int64:
			return intEqualsFloat(y, x)
		}
		return false
	}
	switch b.(type) {
	case int64, float64:
		return false
	}
	return a == b
}

// intEqualsFloat is exact above 2^53: f must be integral, inside the int64
// range and convert back to i.
func intEqualsFloat(i int64, f float64) bool {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return false
	}
	return int64(f) == i
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.list))
		for i := range v.list {
			items[i] = v.list[i].Clone()
		}
		return Value{kind: KindList, list: items}
	case KindObject:
		return Value{kind: KindObject, obj: v.obj.Clone()}
	default:
		return v
	}
}

func (v Value) String() string {
	var b strings.Builder
	v.write(&b)
	return b.String()
}

func (v Value) write(b *strings.Builder) {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindScalar:
		if s, ok := v.scalar.(string); ok {
			b.WriteString(strconv.Quote(s))
			return
		}
		fmt.Fprint(b, v.scalar)
	case KindRef:
		b.WriteString("@")
		b.WriteString(string(v.ref))
	case KindList:
		b.WriteByte('[')
		for i, it := range v.list {
			if i > 0 {
				b.WriteByte(',')
			}
			it.write(b)
		}
		b.WriteByte(']')
	case KindObject:
		v.obj.write(b)
	}
}

// Equal reports field-wise equality.
func (o Object) Equal(p Object) bool {
	if len(o) != len(p) {
		return false
	}
	for k, v := range o {
		pv, ok := p[k]
		if !ok || !v.Equal(pv) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy; nil stays nil.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v.Clone()
	}
	return out
}

// Typename returns the "__typename" field when it is a string scalar.
func (o Object) Typename() string {
	s, _ := o["__typename"].AsString()
	return s
}

// Fields returns the field names in sorted order.
func (o Object) Fields() []string {
	out := make([]string, 0, len(o))
	for k := range o {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (o Object) String() string {
	var b strings.Builder
	o.write(&b)
	return b.String()
}

func (o Object) write(b *strings.Builder) {
	b.WriteByte('{')
	for i, k := range o.Fields() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		v := o[k]
		v.write(b)
	}
	b.WriteByte('}')
}
