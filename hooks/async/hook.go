// Package asynchook moves gqlcache hook calls off the writer's goroutine.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{WriteEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	c := gqlcache.New(gqlcache.Options{Hooks: hooks})
//
// Events are dropped when the queue is full; Dropped reports how many.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/gqlcache"
)

type Hooks struct {
	inner   gqlcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ gqlcache.Hooks = (*Hooks)(nil)

func New(inner gqlcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) LayerPushed(tx gqlcache.TxID, n int) {
	h.try(func() { h.inner.LayerPushed(tx, n) })
}
func (h *Hooks) LayerRemoved(tx gqlcache.TxID, reason string) {
	h.try(func() { h.inner.LayerRemoved(tx, reason) })
}
func (h *Hooks) WriteApplied(op string, changed int) {
	h.try(func() { h.inner.WriteApplied(op, changed) })
}
func (h *Hooks) Notified(n int) { h.try(func() { h.inner.Notified(n) }) }
func (h *Hooks) CallbackPanicked(sub gqlcache.SubscriptionID, r any) {
	h.try(func() { h.inner.CallbackPanicked(sub, r) })
}
