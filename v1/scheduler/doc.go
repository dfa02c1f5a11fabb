// Package scheduler runs named jobs on fixed cadences. The driver gives no
// overlap or exactly-once guarantees across processes; jobs that mutate
// shared state must guard themselves with a lock-manager lease.
package scheduler
