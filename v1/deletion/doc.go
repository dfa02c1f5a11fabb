// Package deletion implements the asynchronous mark-for-delete workflow:
// durable deletion requests, per-object-type cascade handlers, the
// orchestrator that claims one request per cycle under a per-request lease,
// and the maintenance sweeps that recover stalled work and purge completed
// records. Handlers must be idempotent; a failed dispatch leaves the request
// started and the 24h stall-recovery sweep returns it for another attempt.
package deletion
