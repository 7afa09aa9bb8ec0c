package gqlcache

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/gqlcache/entitystore"
	"github.com/unkn0wn-root/gqlcache/internal/deps"
	"github.com/unkn0wn-root/gqlcache/layer"
	"github.com/unkn0wn-root/gqlcache/record"
)

type subscription struct {
	q  Query
	cb Callback
}

type cache struct {
	identify IdentifyFunc
	log      Logger
	hooks    Hooks
	newSubID func() SubscriptionID

	// mu guards store, stack and closed. Writers hold it exclusively for the
	// whole mutate+diff step; readers share it.
	mu     sync.RWMutex
	store  *entitystore.Store
	stack  *layer.Stack
	closed bool

	// subMu guards subs. Lock order: mu before subMu.
	subMu sync.Mutex
	subs  map[SubscriptionID]*subscription
	deps  *deps.Tracker[SubscriptionID]
}

func newCache(opts Options) *cache {
	c := &cache{
		identify: opts.Identify,
		newSubID: opts.NewSubscriptionID,
		store:    entitystore.New(),
		stack:    layer.NewStack(),
		subs:     make(map[SubscriptionID]*subscription),
		deps:     deps.New[SubscriptionID](),
	}
	if c.identify == nil {
		c.identify = DefaultIdentify
	}
	if c.newSubID == nil {
		c.newSubID = func() SubscriptionID { return SubscriptionID(uuid.NewString()) }
	}
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	return c
}

func (c *cache) view() view { return view{store: c.store, stack: c.stack} }

func (c *cache) Identify(rec record.Object) (record.ID, bool) {
	return c.identify(rec.Typename(), rec)
}

func (c *cache) Resolve(id record.ID, path ...string) (record.Value, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return record.Value{}, ErrClosed
	}
	return c.view().resolve(id, path)
}

func (c *cache) Read(q Query) Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Result{Err: ErrClosed}
	}
	res, _ := c.runLocked(q)
	return res
}

// runLocked executes q with c.mu held (read or write) and returns the result
// and the dependency set it read.
func (c *cache) runLocked(q Query) (Result, []record.FieldRef) {
	r := newReader(c.view())
	data, err := q.Run(r)
	return r.result(data, err), r.refs
}

// Subscribe runs q once, registers cb and returns the initial result.
// Registration happens under the read lock so no write can slip between the
// first run and dependency recording.
func (c *cache) Subscribe(q Query, cb Callback) (SubscriptionID, Result) {
	id := c.newSubID()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", Result{Err: ErrClosed}
	}
	res, refs := c.runLocked(q)

	c.subMu.Lock()
	c.subs[id] = &subscription{q: q, cb: cb}
	c.deps.Record(id, refs)
	c.subMu.Unlock()

	c.log.Debug("subscription registered", Fields{"sub": id, "deps": len(refs), "complete": res.Complete})
	return id, res
}

func (c *cache) Unsubscribe(id SubscriptionID) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subs[id]; !ok {
		return false
	}
	delete(c.subs, id)
	c.deps.Remove(id)
	return true
}

func (c *cache) Layers() []TxID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stack.TxIDs()
}

// Extract returns the canonical records, or with optimistic=true the
// records as readers currently see them (layers applied bottom to top).
func (c *cache) Extract(optimistic bool) record.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := c.store.Snapshot()
	if !optimistic {
		return snap
	}
	for _, tx := range c.stack.TxIDs() {
		l, _ := c.stack.Get(tx)
		for id, patch := range l.Patch() {
			cur, ok := snap[id]
			if !ok {
				snap[id] = patch
				continue
			}
			for f, v := range patch {
				cur[f] = v
			}
		}
	}
	return snap
}

// Close drops all data, layers and subscriptions. Later calls fail with
// ErrClosed.
func (c *cache) Close(context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	removed := c.stack.Clear()
	c.store.Clear()
	c.mu.Unlock()

	c.subMu.Lock()
	for id := range c.subs {
		c.deps.Remove(id)
	}
	c.subs = make(map[SubscriptionID]*subscription)
	c.subMu.Unlock()

	for _, tx := range removed {
		c.hooks.LayerRemoved(tx, "close")
	}
	c.log.Debug("cache closed", Fields{"layers_dropped": len(removed)})
	return nil
}
