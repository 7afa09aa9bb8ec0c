package wire

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math"
	"strings"
	"testing"
)

func mustEncode(t *testing.T, gen uint64, entries []Entry) []byte {
	t.Helper()
	b, err := Encode(gen, entries)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return b
}

// reseal recomputes the checksum after a test edits the body on purpose.
func reseal(b []byte) []byte {
	body := b[:len(b)-trailer]
	binary.BigEndian.PutUint32(b[len(b)-trailer:], crc32.Checksum(body, castagnoli))
	return b
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		gen     uint64
		entries []Entry
	}{
		{0, nil},
		{42, []Entry{{ID: "Comment:5", Payload: []byte(`{"content":"old"}`)}}},
		{math.MaxUint64, []Entry{
			{ID: "User:1", Payload: []byte{0, 1, 2}},
			{ID: "ROOT_QUERY", Payload: nil},
		}},
	}
	for _, tc := range cases {
		enc := mustEncode(t, tc.gen, tc.entries)
		gen, got, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if gen != tc.gen {
			t.Fatalf("gen=%d want %d", gen, tc.gen)
		}
		if len(got) != len(tc.entries) {
			t.Fatalf("entries=%d want %d", len(got), len(tc.entries))
		}
		for i := range got {
			if got[i].ID != tc.entries[i].ID || !bytes.Equal(got[i].Payload, tc.entries[i].Payload) {
				t.Fatalf("entry %d: got %+v want %+v", i, got[i], tc.entries[i])
			}
		}
		if g, err := Gen(enc); err != nil || g != tc.gen {
			t.Fatalf("Gen=%d err=%v", g, err)
		}
	}
}

func TestEncodeRejectsBadIDs(t *testing.T) {
	if _, err := Encode(1, []Entry{{ID: ""}}); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if _, err := Encode(1, []Entry{{ID: strings.Repeat("x", maxIDLen+1)}}); err == nil {
		t.Fatalf("expected error for oversized id")
	}
	if _, err := Encode(1, []Entry{{ID: strings.Repeat("x", maxIDLen)}}); err != nil {
		t.Fatalf("max id length rejected: %v", err)
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	enc := mustEncode(t, 7, []Entry{{ID: "Comment:5", Payload: []byte("abc")}})

	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), enc...))
	}
	cases := map[string][]byte{
		"bad magic":   mutate(func(b []byte) []byte { b[0] = 'X'; return b }),
		"bad version": mutate(func(b []byte) []byte { b[4] = version + 1; return b }),
		"flipped bit": mutate(func(b []byte) []byte { b[len(b)-6] ^= 0x01; return b }),
		"trailing":    reseal(append(append(enc[:len(enc)-trailer:len(enc)-trailer], 0xDE, 0xAD), 0, 0, 0, 0)),
		"truncated":   enc[:len(enc)-3],
		"short":       enc[:header],
		"huge count": mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[13:17], math.MaxUint32)
			return reseal(b)
		}),
		"payload overrun": mutate(func(b []byte) []byte {
			off := header + 2 + len("Comment:5")
			binary.BigEndian.PutUint32(b[off:off+4], 1000)
			return reseal(b)
		}),
		"zero id length": mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint16(b[header:header+2], 0)
			return reseal(b)
		}),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := Decode(b); err != ErrCorrupt {
				t.Fatalf("err=%v want ErrCorrupt", err)
			}
		})
	}
}
