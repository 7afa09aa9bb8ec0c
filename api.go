package gqlcache

import (
	"context"

	"github.com/unkn0wn-root/gqlcache/layer"
	"github.com/unkn0wn-root/gqlcache/record"
)

type (
	TxID = layer.TxID
	ID   = record.ID
)

// SubscriptionID names one live query subscription.
type SubscriptionID string

// Entity is one record to write. When ID is empty it is derived from Fields
// by the identifier policy.
type Entity struct {
	ID     record.ID
	Fields record.Object
}

// Cache is the normalized cache with optimistic layers.
//
// Writes are serialized; reads run concurrently and always observe a
// consistent (store, layers) pair. Every write returns its change-set: the
// (id, field) pairs whose effective value moved.
type Cache interface {
	// Identify applies the identifier policy to a record.
	Identify(rec record.Object) (record.ID, bool)

	// Read path
	Resolve(id record.ID, path ...string) (record.Value, error)
	Read(q Query) Result
	Subscribe(q Query, cb Callback) (SubscriptionID, Result)
	Unsubscribe(id SubscriptionID) bool

	// Canonical writes
	WriteCanonical(id record.ID, rec record.Object) (ChangeSet, error)
	WriteEntity(rec record.Object) (record.ID, ChangeSet, error)
	Batch(fn func(tx *Tx) error) (ChangeSet, error)
	Evict(id record.ID, fields ...string) (ChangeSet, error)

	// Optimistic layers
	BeginOptimistic(tx TxID, entities ...Entity) (ChangeSet, error)
	ApplyOptimistic(tx TxID, id record.ID, rec record.Object) (ChangeSet, error)
	Commit(tx TxID, entities ...Entity) (ChangeSet, error)
	Abort(tx TxID) (ChangeSet, error)
	Layers() []TxID

	// Whole-cache
	Extract(optimistic bool) record.Snapshot
	Restore(snap record.Snapshot) (ChangeSet, error)
	Reset() error
	Close(context.Context) error
}

// Options tune the cache. All fields are optional.
type Options struct {
	Identify          IdentifyFunc          // nil => DefaultIdentify
	Logger            Logger                // nil => NopLogger
	Hooks             Hooks                 // nil => NopHooks
	NewSubscriptionID func() SubscriptionID // nil => random UUID
}

func New(opts Options) Cache {
	return newCache(opts)
}
