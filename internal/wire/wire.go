// Package wire frames a persisted snapshot.
//
//	magic(4) | ver(1) | gen(u64 be) | n(u32 be)
//	idLen(u16 be) | id(idLen) | plen(u32 be) | payload(plen)   * n
//	crc32c(u32 be) over everything before it
//
// Each payload is one codec-encoded entity record.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	version byte = 1
	header       = 4 + 1 + 8 + 4
	trailer      = 4
	maxIDLen     = 0xFFFF
)

var (
	ErrCorrupt = errors.New("gqlcache: corrupt snapshot frame")
	magic4     = [...]byte{'G', 'Q', 'L', 'S'}
	castagnoli = crc32.MakeTable(crc32.Castagnoli)
)

type Entry struct {
	ID      string
	Payload []byte
}

func Encode(gen uint64, entries []Entry) ([]byte, error) {
	total := header + trailer
	for _, e := range entries {
		if l := len(e.ID); l == 0 || l > maxIDLen {
			return nil, fmt.Errorf("gqlcache: invalid entity id length %d", l)
		}
		total += 2 + len(e.ID) + 4 + len(e.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	buf.Write(magic4[:])
	buf.WriteByte(version)
	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])
	binary.BigEndian.PutUint32(u4[:], uint32(len(entries)))
	buf.Write(u4[:])

	for _, e := range entries {
		binary.BigEndian.PutUint16(u2[:], uint16(len(e.ID)))
		buf.Write(u2[:])
		buf.WriteString(e.ID)
		binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
		buf.Write(u4[:])
		buf.Write(e.Payload)
	}

	binary.BigEndian.PutUint32(u4[:], crc32.Checksum(buf.Bytes(), castagnoli))
	buf.Write(u4[:])
	return buf.Bytes(), nil
}

// Gen reads only the generation, without validating the body.
func Gen(b []byte) (uint64, error) {
	if len(b) < header+trailer || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return 0, ErrCorrupt
	}
	return binary.BigEndian.Uint64(b[5:13]), nil
}

// Decode validates and splits a frame. Payloads alias b.
func Decode(b []byte) (gen uint64, entries []Entry, err error) {
	gen, err = Gen(b)
	if err != nil {
		return 0, nil, err
	}
	body := b[:len(b)-trailer]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[len(b)-trailer:]) {
		return 0, nil, ErrCorrupt
	}

	off := 13
	n := int(binary.BigEndian.Uint32(body[off : off+4]))
	off += 4
	// each entry needs at least 2+1+4 bytes; reject absurd counts before
	// allocating
	if n > (len(body)-off)/7 {
		return 0, nil, ErrCorrupt
	}

	entries = make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(body) {
			return 0, nil, ErrCorrupt
		}
		idLen := int(binary.BigEndian.Uint16(body[off : off+2]))
		off += 2
		if idLen == 0 || idLen > len(body)-off {
			return 0, nil, ErrCorrupt
		}
		id := string(body[off : off+idLen])
		off += idLen

		if off+4 > len(body) {
			return 0, nil, ErrCorrupt
		}
		plen := int(binary.BigEndian.Uint32(body[off : off+4]))
		off += 4
		if plen < 0 || plen > len(body)-off {
			return 0, nil, ErrCorrupt
		}
		entries = append(entries, Entry{ID: id, Payload: body[off : off+plen]})
		off += plen
	}
	if off != len(body) {
		return 0, nil, ErrCorrupt
	}
	return gen, entries, nil
}
