// Package gqlcache implements a client-side normalized cache for GraphQL data
// with optimistic overlays and precise change notification.
//
// Components:
//   - Entity Store (package entitystore): canonical records keyed by cache ID.
//   - Layer Stack (package layer): named, immutable optimistic patches stacked
//     over the store; removable by transaction id in any order.
//   - Read Resolver: resolves (id, field) top-most layer first, then the store.
//   - Dependency Tracker (internal/deps): the (id, field) pairs each live
//     subscription read on its last run.
//   - Write Coordinator: applies canonical or optimistic writes under one
//     writer lock and diffs effective values into a change-set.
//   - Notifier: one pass per write, one callback per affected subscription.
//
// Optimistic flow:
//
//	cs, err := cache.BeginOptimistic("t1", gqlcache.Entity{ID: "Comment:5", Fields: patch})
//	resp := callServer()
//	cs, err  = cache.Commit("t1", resp.Entities...) // or cache.Abort("t1")
//
// Canonical writes never clear optimistic layers; a layer keeps masking the
// store until its transaction is committed or aborted.
package gqlcache
