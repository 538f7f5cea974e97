// Package session owns per-connection transport policy.
//
// Ownership boundary:
// - session timing defaults (poll interval, read/write/connect timeouts)
// - retry backoff
// - peer liveness probing
//
// Liveness is probed with a non-consuming peek and is never cached; callers
// re-check whenever they need an answer. The peek never contends with a
// goroutine blocked reading the same connection.
//
// Only unix builds can peek. Elsewhere every peer reports alive, so a full
// registry never reclaims stale slots and new connections are rejected until
// a dispatch loop evicts its own peer.
package session
