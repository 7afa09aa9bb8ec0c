// Package gocache stores snapshots in a patrickmn/go-cache map. It is the
// simplest in-process provider and honors per-entry TTLs.
package gocache

import (
	"context"
	"time"

	gc "github.com/patrickmn/go-cache"

	pr "github.com/unkn0wn-root/gqlcache/provider"
)

type Provider struct {
	c *gc.Cache
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	// CleanupInterval for expired entries; 0 disables the janitor.
	CleanupInterval time.Duration
}

func New(cfg Config) *Provider {
	return &Provider{c: gc.New(gc.NoExpiration, cfg.CleanupInterval)}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		p.c.Delete(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	d := gc.NoExpiration
	if ttl > 0 {
		d = ttl
	}
	p.c.Set(key, append([]byte(nil), value...), d)
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Delete(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Flush()
	return nil
}
