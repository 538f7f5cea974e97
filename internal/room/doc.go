// Package room owns the shared connection table and broadcast routing.
//
// Ownership boundary:
// - connection handles (identity, serialized writes, idempotent close)
// - fixed-capacity registry with stale-slot reclaim
// - broadcast fan-out from a registry snapshot
//
// The registry never holds its lock across network I/O; routing always works
// on a copied snapshot.
package room
