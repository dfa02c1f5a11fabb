package deletion

// ObjectType identifies which cascade handler a deletion request needs. The
// set is open: unknown types are skipped by the orchestrator so old servers
// tolerate requests written by newer ones.
type ObjectType string

const (
	TypeClient              ObjectType = "Client"
	TypeAuthenticationGroup ObjectType = "AuthenticationGroup"
	TypeAuthorizationGroup  ObjectType = "AuthorizationGroup"
)

// Request is a durable mark-for-delete record.
//
// Lifecycle: submitted (StartedAt nil) -> started (StartedAt set) ->
// completed (CompletedAt set, eligible for purge). A request started more
// than the stall threshold ago without completing is returned to submitted
// by the stall-recovery sweep. Requests are created by the upstream deletion
// API, mutated only by the orchestrator and the sweeps, and physically
// removed only by the completed-record purge.
type Request struct {
	MarkForDeleteID string     `json:"markForDeleteId"`
	ObjectID        string     `json:"objectId"`
	ObjectType      ObjectType `json:"objectType"`
	// SubmittedAt is the request creation time in Unix milliseconds.
	SubmittedAt int64 `json:"submittedDate"`
	// StartedAt is set when an orchestrator claims the request.
	StartedAt *int64 `json:"startedDate,omitempty"`
	// CompletedAt is set when the cascade handler finishes successfully.
	CompletedAt *int64 `json:"completedDate,omitempty"`
}

// Submitted reports whether the request is eligible to be claimed.
func (r Request) Submitted() bool {
	return r.StartedAt == nil
}

// StalledSince reports whether the request was claimed at or before the
// given cutoff (Unix milliseconds) and never completed.
func (r Request) StalledSince(cutoff int64) bool {
	return r.StartedAt != nil && r.CompletedAt == nil && *r.StartedAt <= cutoff
}

// LockName derives the per-request lock name: one lock per in-flight
// deletion, so independent deletions proceed concurrently across processes
// while the same deletion never runs twice.
func (r Request) LockName() string {
	return "mark-for-delete-" + r.MarkForDeleteID
}
