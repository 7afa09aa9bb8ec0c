package gqlcache

import (
	"fmt"

	"github.com/unkn0wn-root/gqlcache/record"
)

// notify runs one pass for a finished write: every subscription whose
// dependencies intersect cs or settled is re-run and called back once.
func (c *cache) notify(cs ChangeSet, settled []record.FieldRef) {
	if len(cs) == 0 && len(settled) == 0 {
		return
	}
	hit := make([]record.FieldRef, 0, len(cs)+len(settled))
	hit = append(hit, cs...)
	hit = append(hit, settled...)
	c.deliver(c.deps.AffectedBy(hit), cs)
}

// notifyAll re-runs every subscription, used after a reset.
func (c *cache) notifyAll() {
	c.deliver(c.deps.All(), nil)
}

func (c *cache) deliver(ids []SubscriptionID, cs ChangeSet) {
	n := 0
	for _, id := range ids {
		if c.deliverOne(id, cs) {
			n++
		}
	}
	if n == 0 {
		return
	}
	c.hooks.Notified(n)
	c.log.Debug("subscriptions notified", Fields{"subs": n, "changed": len(cs)})
}

// deliverOne re-resolves one subscription, replaces its dependency set and
// invokes its callback. It reports false when the subscription is gone.
func (c *cache) deliverOne(id SubscriptionID, cs ChangeSet) bool {
	prev := c.deps.Deps(id)

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	c.subMu.Lock()
	sub, ok := c.subs[id]
	c.subMu.Unlock()
	if !ok {
		c.mu.RUnlock()
		return false
	}
	res, refs := c.runLocked(sub.q)
	c.subMu.Lock()
	_, ok = c.subs[id]
	if ok {
		c.deps.Record(id, refs)
	}
	c.subMu.Unlock()
	c.mu.RUnlock()
	if !ok {
		return false
	}

	c.invoke(id, sub.cb, Notification{
		Subscription: id,
		Changes:      cs.Intersect(prev),
		Result:       res,
	})
	return true
}

func (c *cache) invoke(id SubscriptionID, cb Callback, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.hooks.CallbackPanicked(id, r)
			c.log.Error("subscription callback panicked", Fields{"sub": id, "panic": fmt.Sprint(r)})
		}
	}()
	cb(n)
}
