package eventbus

// SubjectDeletions is the subject on which deletion lifecycle events are
// published.
const SubjectDeletions = "warden.deletions"

// Kind identifies a deletion lifecycle transition.
type Kind string

const (
	// KindStarted is published when an orchestrator claims a request.
	KindStarted Kind = "started"
	// KindCompleted is published when a dispatch finishes successfully.
	KindCompleted Kind = "completed"
	// KindFailed is published when a dispatch fails; the request stays
	// started until the stall-recovery sweep returns it to submitted.
	KindFailed Kind = "failed"
	// KindRecovered is published when the sweep un-claims a stalled request.
	KindRecovered Kind = "recovered"
)

// Event is the envelope carried on the bus.
type Event struct {
	Kind            Kind   `json:"kind"`
	MarkForDeleteID string `json:"markForDeleteId"`
	ObjectID        string `json:"objectId"`
	ObjectType      string `json:"objectType"`
	// At is the transition time in Unix milliseconds.
	At int64 `json:"at"`
}
