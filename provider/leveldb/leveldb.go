// Package leveldb persists snapshots on local disk with syndtr/goleveldb.
//
// LevelDB has no expiry, so each stored value carries an 8-byte expiry
// header (unix nanoseconds, 0 = never) that Get strips again. Expired
// entries are deleted lazily on read.
package leveldb

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	pr "github.com/unkn0wn-root/gqlcache/provider"
)

const headerLen = 8

type Provider struct {
	db  *leveldb.DB
	now func() time.Time
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	// Path of the database directory. Empty keeps everything in memory.
	Path string
	// NoSync skips fsync on writes.
	NoSync bool
}

func Open(cfg Config) (*Provider, error) {
	var (
		db  *leveldb.DB
		err error
	)
	o := &opt.Options{NoSync: cfg.NoSync}
	if cfg.Path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), o)
	} else {
		db, err = leveldb.OpenFile(cfg.Path, o)
	}
	if err != nil {
		return nil, err
	}
	return &Provider{db: db, now: time.Now}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := p.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(raw) < headerLen {
		_ = p.db.Delete([]byte(key), nil)
		return nil, false, nil
	}
	if exp := int64(binary.BigEndian.Uint64(raw[:headerLen])); exp != 0 && p.now().UnixNano() >= exp {
		_ = p.db.Delete([]byte(key), nil)
		return nil, false, nil
	}
	return raw[headerLen:], true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	buf := make([]byte, headerLen+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(buf[:headerLen], uint64(p.now().Add(ttl).UnixNano()))
	}
	copy(buf[headerLen:], value)
	if err := p.db.Put([]byte(key), buf, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	return p.db.Delete([]byte(key), nil)
}

func (p *Provider) Close(_ context.Context) error {
	err := p.db.Close()
	if errors.Is(err, leveldb.ErrClosed) {
		return nil
	}
	return err
}
