package gqlcache

import (
	"strconv"
	"strings"

	"github.com/unkn0wn-root/gqlcache/record"
)

// IdentifyFunc maps an object to its cache identifier. Returning false is a
// normal outcome: the object is stored embedded in its parent field.
type IdentifyFunc func(typename string, fields record.Object) (record.ID, bool)

// DefaultIdentify yields "<__typename>:<id>" using the "id" field, falling
// back to "_id".
func DefaultIdentify(typename string, fields record.Object) (record.ID, bool) {
	return KeyFields("id")(typename, fields)
}

// KeyFields returns a policy joining the given key fields after the typename,
// e.g. KeyFields("isbn") -> "Book:978...". For a single key field, "_id" is
// accepted when the field itself is absent. Every key field must be a
// non-null scalar.
func KeyFields(keys ...string) IdentifyFunc {
	return func(typename string, fields record.Object) (record.ID, bool) {
		if typename == "" || len(keys) == 0 {
			return "", false
		}
		var b strings.Builder
		b.WriteString(typename)
		for _, k := range keys {
			v, ok := fields[k]
			if !ok && len(keys) == 1 && k == "id" {
				v, ok = fields["_id"]
			}
			if !ok {
				return "", false
			}
			s, ok := keyString(v)
			if !ok {
				return "", false
			}
			b.WriteByte(':')
			b.WriteString(s)
		}
		return record.ID(b.String()), true
	}
}

func keyString(v record.Value) (string, bool) {
	if v.Kind() != record.KindScalar {
		return "", false
	}
	switch x := v.Scalar().(type) {
	case string:
		return x, x != ""
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// ByType picks a policy per typename; other types use fallback
// (DefaultIdentify when nil).
func ByType(policies map[string]IdentifyFunc, fallback IdentifyFunc) IdentifyFunc {
	if fallback == nil {
		fallback = DefaultIdentify
	}
	return func(typename string, fields record.Object) (record.ID, bool) {
		if p, ok := policies[typename]; ok {
			return p(typename, fields)
		}
		return fallback(typename, fields)
	}
}
