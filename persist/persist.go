// Package persist saves the canonical part of a cache to a provider and
// loads it back.
//
// A snapshot is stored under "snapshot:<namespace>" as one wire frame whose
// entries are codec-encoded entity records, stamped with the namespace's
// generation. Invalidate bumps the generation; frames carrying an older
// generation, corrupt frames and undecodable records are deleted on load and
// reported as a miss. Optimistic layers are never persisted.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/gqlcache"
	"github.com/unkn0wn-root/gqlcache/codec"
	"github.com/unkn0wn-root/gqlcache/genstore"
	"github.com/unkn0wn-root/gqlcache/internal/wire"
	"github.com/unkn0wn-root/gqlcache/provider"
	"github.com/unkn0wn-root/gqlcache/record"
)

// Source is what Save reads from; gqlcache.Cache satisfies it.
type Source interface {
	Extract(optimistic bool) record.Snapshot
}

// Target is what Load writes into; gqlcache.Cache satisfies it.
type Target interface {
	Restore(snap record.Snapshot) (gqlcache.ChangeSet, error)
}

type Options struct {
	Namespace string            // required
	Provider  provider.Provider // required
	Codec     codec.Plain       // nil => codec.JSON
	GenStore  genstore.GenStore // nil => in-process
	TTL       time.Duration     // 0 => no expiry
	Logger    gqlcache.Logger
}

type Persistor struct {
	ns       string
	key      string
	provider provider.Provider
	codec    codec.Plain
	gen      genstore.GenStore
	ttl      time.Duration
	log      gqlcache.Logger
}

func New(opts Options) (*Persistor, error) {
	if opts.Namespace == "" {
		return nil, errors.New("persist: Namespace is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("persist: Provider is required")
	}
	p := &Persistor{
		ns:       opts.Namespace,
		key:      "snapshot:" + opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		gen:      opts.GenStore,
		ttl:      opts.TTL,
		log:      opts.Logger,
	}
	if p.codec == nil {
		p.codec = codec.JSON[map[string]any]{}
	}
	if p.gen == nil {
		p.gen = genstore.NewLocalGenStore(0, 0)
	}
	if p.log == nil {
		p.log = gqlcache.NopLogger{}
	}
	return p, nil
}

// Key is the provider key holding the snapshot.
func (p *Persistor) Key() string { return p.key }

// Gen returns the current generation. Pass it to SaveWithGen to skip a save
// that raced with an Invalidate.
func (p *Persistor) Gen(ctx context.Context) (uint64, error) {
	return p.gen.Current(ctx, p.key)
}

// Save stores src's canonical records at the current generation and returns
// the number of entities written.
func (p *Persistor) Save(ctx context.Context, src Source) (int, error) {
	gen, err := p.Gen(ctx)
	if err != nil {
		return 0, fmt.Errorf("persist: read generation: %w", err)
	}
	return p.SaveWithGen(ctx, src, gen)
}

// SaveWithGen stores src only if the generation is still observedGen.
// A moved generation is not an error: the save is skipped and 0 returned.
func (p *Persistor) SaveWithGen(ctx context.Context, src Source, observedGen uint64) (int, error) {
	snap := src.Extract(false)
	ids := snap.IDs()
	entries := make([]wire.Entry, 0, len(ids))
	for _, id := range ids {
		b, err := codec.EncodeObject(p.codec, snap[id])
		if err != nil {
			return 0, fmt.Errorf("persist: encode %q: %w", id, err)
		}
		entries = append(entries, wire.Entry{ID: string(id), Payload: b})
	}
	frame, err := wire.Encode(observedGen, entries)
	if err != nil {
		return 0, fmt.Errorf("persist: %w", err)
	}

	cur, err := p.Gen(ctx)
	if err != nil {
		return 0, fmt.Errorf("persist: read generation: %w", err)
	}
	if cur != observedGen {
		p.log.Debug("snapshot save skipped (gen moved)", gqlcache.Fields{"ns": p.ns, "obs": observedGen, "gen": cur})
		return 0, nil
	}
	ok, err := p.provider.Set(ctx, p.key, frame, int64(len(frame)), p.ttl)
	if err != nil {
		return 0, fmt.Errorf("persist: store snapshot: %w", err)
	}
	if !ok {
		p.log.Warn("snapshot rejected by provider", gqlcache.Fields{"ns": p.ns, "bytes": len(frame)})
		return 0, nil
	}
	p.log.Debug("snapshot saved", gqlcache.Fields{"ns": p.ns, "entities": len(entries), "bytes": len(frame), "gen": observedGen})
	return len(entries), nil
}

// Load restores the stored snapshot into dst. It reports false, with no
// error, when nothing valid is stored.
func (p *Persistor) Load(ctx context.Context, dst Target) (bool, gqlcache.ChangeSet, error) {
	snap, ok, err := p.Read(ctx)
	if err != nil || !ok {
		return false, nil, err
	}
	cs, err := dst.Restore(snap)
	if err != nil {
		return false, nil, err
	}
	p.log.Info("snapshot loaded", gqlcache.Fields{"ns": p.ns, "entities": len(snap), "changed": len(cs)})
	return true, cs, nil
}

// Read returns the stored snapshot without restoring it.
func (p *Persistor) Read(ctx context.Context) (record.Snapshot, bool, error) {
	raw, ok, err := p.provider.Get(ctx, p.key)
	if err != nil {
		return nil, false, fmt.Errorf("persist: fetch snapshot: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	gen, entries, err := wire.Decode(raw)
	if err != nil {
		p.heal(ctx, "corrupt frame")
		return nil, false, nil
	}
	cur, err := p.Gen(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("persist: read generation: %w", err)
	}
	if gen != cur {
		p.heal(ctx, "stale generation")
		return nil, false, nil
	}

	snap := make(record.Snapshot, len(entries))
	for _, e := range entries {
		o, err := codec.DecodeObject(p.codec, e.Payload)
		if err != nil {
			p.heal(ctx, "undecodable record")
			return nil, false, nil
		}
		snap[record.ID(e.ID)] = o
	}
	return snap, true, nil
}

func (p *Persistor) heal(ctx context.Context, why string) {
	_ = p.provider.Del(ctx, p.key)
	p.log.Warn("dropped persisted snapshot", gqlcache.Fields{"ns": p.ns, "reason": why})
}

// Invalidate makes any stored or in-flight snapshot stale. It fails only
// when neither the generation bump nor the delete succeeded; either one
// alone keeps stale data from loading.
func (p *Persistor) Invalidate(ctx context.Context) error {
	gen, bumpErr := p.gen.Bump(ctx, p.key)
	delErr := p.provider.Del(ctx, p.key)
	switch {
	case bumpErr != nil && delErr != nil:
		return &InvalidateError{Namespace: p.ns, BumpErr: bumpErr, DelErr: delErr}
	case bumpErr != nil:
		p.log.Warn("generation bump failed; snapshot deleted", gqlcache.Fields{"ns": p.ns, "err": bumpErr})
	case delErr != nil:
		p.log.Warn("snapshot delete failed; generation bumped", gqlcache.Fields{"ns": p.ns, "err": delErr, "gen": gen})
	default:
		p.log.Debug("snapshot invalidated", gqlcache.Fields{"ns": p.ns, "gen": gen})
	}
	return nil
}

// Close closes the generation store, then the provider.
func (p *Persistor) Close(ctx context.Context) error {
	_ = p.gen.Close(ctx)
	return p.provider.Close(ctx)
}
