package gqlcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them after every write, outside its locks.
type Hooks interface {
	// An optimistic layer was pushed. entities is the number of identifiers
	// the layer patches.
	LayerPushed(tx TxID, entities int)

	// An optimistic layer was removed.
	// reason ∈ {"commit", "abort", "reset", "close"}
	LayerRemoved(tx TxID, reason string)

	// A write operation finished. changed is the size of its change-set.
	// op ∈ {"canonical", "batch", "evict", "optimistic", "commit", "abort", "restore", "reset"}
	WriteApplied(op string, changed int)

	// A notify pass delivered to n subscriptions.
	Notified(n int)

	// A subscription callback panicked; the panic was recovered.
	CallbackPanicked(sub SubscriptionID, recovered any)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) LayerPushed(TxID, int)                {}
func (NopHooks) LayerRemoved(TxID, string)            {}
func (NopHooks) WriteApplied(string, int)             {}
func (NopHooks) Notified(int)                         {}
func (NopHooks) CallbackPanicked(SubscriptionID, any) {}
