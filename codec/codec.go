// Package codec turns persisted entity records into bytes and back.
//
// A Codec works on any V; the persistence layer uses Codec[map[string]any]
// over the plain form of a record (see record.Object.ToPlain), so every
// codec here must round-trip JSON-shaped values: strings, numbers, bools,
// nil, []any and map[string]any. References travel as {"__ref": id}.
package codec

import (
	"fmt"

	"github.com/unkn0wn-root/gqlcache/record"
)

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Plain is the codec shape used for entity records.
type Plain = Codec[map[string]any]

// EncodeObject encodes one entity record through c.
func EncodeObject(c Plain, o record.Object) ([]byte, error) {
	return c.Encode(o.ToPlain())
}

// DecodeObject decodes one entity record and converts it back into tagged
// values.
func DecodeObject(c Plain, b []byte) (record.Object, error) {
	m, err := c.Decode(b)
	if err != nil {
		return nil, err
	}
	o, err := record.ObjectFromPlain(m)
	if err != nil {
		return nil, fmt.Errorf("codec: decoded record: %w", err)
	}
	return o, nil
}
