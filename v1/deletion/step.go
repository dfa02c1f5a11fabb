package deletion

import (
	"context"
	"sync"
)

// Step names one stage of a cascade.
type Step string

const (
	// StepRelational is the object DAO cascade over relational records.
	StepRelational Step = "relational"
	// StepObjectIndex is the synchronous object-document index delete.
	StepObjectIndex Step = "object-index"
	// StepRelationshipIndex is the asynchronous relationship-index cleanup.
	StepRelationshipIndex Step = "relationship-index"
)

// StepStatus is the progress of one step.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepRecord gives per-step progress visibility for multi-step cascades.
type StepRecord struct {
	MarkForDeleteID string     `json:"markForDeleteId"`
	Step            Step       `json:"step"`
	Status          StepStatus `json:"status"`
}

// StepStore records per-step progress. It is an optional extension: the
// orchestrator writes step records only when a StepStore is configured, and
// nothing in the workflow depends on them.
type StepStore interface {
	SetStep(ctx context.Context, rec StepRecord) error
	Steps(ctx context.Context, markForDeleteID string) ([]StepRecord, error)
}

// InMemoryStepStore implements StepStore using local memory.
type InMemoryStepStore struct {
	mu    sync.Mutex
	steps map[string][]StepRecord
}

// NewInMemoryStepStore returns a new empty InMemoryStepStore.
func NewInMemoryStepStore() *InMemoryStepStore {
	return &InMemoryStepStore{steps: make(map[string][]StepRecord)}
}

// SetStep implements StepStore.SetStep, replacing any record for the same
// step.
func (s *InMemoryStepStore) SetStep(ctx context.Context, rec StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.steps[rec.MarkForDeleteID]
	for i, r := range recs {
		if r.Step == rec.Step {
			recs[i] = rec
			return nil
		}
	}
	s.steps[rec.MarkForDeleteID] = append(recs, rec)
	return nil
}

// Steps implements StepStore.Steps.
func (s *InMemoryStepStore) Steps(ctx context.Context, id string) ([]StepRecord, error) {
	s.mu.Lock()
	out := append([]StepRecord(nil), s.steps[id]...)
	s.mu.Unlock()
	return out, nil
}
