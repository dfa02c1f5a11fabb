// Package lock implements a lease-based distributed mutual exclusion
// primitive over durable lease records. Every acquisition attempt writes its
// own record; ownership is resolved at read time by a deterministic winner
// selection, or at write time when the backend supports conditional inserts.
// Losing contenders never block: they return immediately and rely on the next
// scheduled invocation to retry. Lease expiry is a safety net for crashed
// holders, either native to the backend or enforced by an explicit sweep.
package lock
