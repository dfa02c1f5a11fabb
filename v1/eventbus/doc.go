// Package eventbus provides pub/sub distribution of deletion lifecycle
// events with in-memory, Redis, NATS and Kafka implementations. Delivery is
// best-effort: subscribers with full channels miss events, and consumers
// must not treat the bus as a source of truth — the deletion record store
// is authoritative.
package eventbus
