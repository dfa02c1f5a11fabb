// Package search defines the object search index contract consumed by the
// deletion workflow, an in-memory index for tests and single-process use,
// and the relationship cleaner: a fire-and-forget, throttled bulk delete of
// relationship documents referencing a removed object. The real index
// backend is an external collaborator; only its contract lives here.
package search
