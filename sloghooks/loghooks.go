package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/gqlcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	WriteEvery  uint64
	NotifyEvery uint64
	// Optional transaction id redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
	// Log transaction ids as given.
	PlainTxIDs bool
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	writeCtr  atomic.Uint64
	notifyCtr atomic.Uint64
}

var _ gqlcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(tx gqlcache.TxID) string {
	if h.opts.PlainTxIDs {
		return string(tx)
	}
	if h.opts.Redact != nil {
		return h.opts.Redact(string(tx))
	}
	sum := sha256.Sum256([]byte(tx))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) LayerPushed(tx gqlcache.TxID, entities int) {
	if h.l == nil {
		return
	}
	h.l.Debug("gqlcache.layer_pushed",
		"tx", h.redact(tx),
		"entities", entities)
}

func (h *Hooks) LayerRemoved(tx gqlcache.TxID, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("gqlcache.layer_removed",
		"tx", h.redact(tx),
		"reason", reason)
}

func (h *Hooks) WriteApplied(op string, changed int) {
	if h.l == nil || !sample(h.opts.WriteEvery, &h.writeCtr) {
		return
	}
	h.l.Debug("gqlcache.write_applied",
		"op", op,
		"changed", changed)
}

func (h *Hooks) Notified(n int) {
	if h.l == nil || !sample(h.opts.NotifyEvery, &h.notifyCtr) {
		return
	}
	h.l.Debug("gqlcache.notified", "subscriptions", n)
}

func (h *Hooks) CallbackPanicked(sub gqlcache.SubscriptionID, recovered any) {
	if h.l == nil {
		return
	}
	h.l.Error("gqlcache.callback_panicked",
		"sub", string(sub),
		"panic", recovered)
}
