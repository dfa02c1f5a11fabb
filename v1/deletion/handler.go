package deletion

import (
	"context"
	"fmt"
	"sync"

	"github.com/wardenid/warden/v1/search"
)

// DAO is the object-type-specific deletion contract: Delete removes the
// object and every row or edge that references it by id. Implementations
// live with the owning domain packages and must be idempotent.
type DAO interface {
	Delete(ctx context.Context, objectID string) error
}

// DAOFunc adapts a function to the DAO interface.
type DAOFunc func(ctx context.Context, objectID string) error

// Delete implements DAO.
func (f DAOFunc) Delete(ctx context.Context, objectID string) error {
	return f(ctx, objectID)
}

// Handler performs the cascade for one object type. Handlers must be
// idempotent: a stalled request is retried from the top and will re-delete
// already-deleted objects and documents.
type Handler interface {
	Delete(ctx context.Context, req Request) error
}

// Registry maps object types to their cascade handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[ObjectType]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[ObjectType]Handler)}
}

// Register binds a handler to an object type, replacing any previous one.
func (r *Registry) Register(t ObjectType, h Handler) {
	r.mu.Lock()
	r.handlers[t] = h
	r.mu.Unlock()
}

// Lookup returns the handler for an object type.
func (r *Registry) Lookup(t ObjectType) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[t]
	r.mu.RUnlock()
	return h, ok
}

// ObjectHandler is the standard cascade: the object DAO first, then the
// synchronous object-document index delete, then the fire-and-forget
// relationship cleanup. A failure in the first two steps fails the dispatch;
// the third is launched and never awaited.
type ObjectHandler struct {
	dao         DAO
	index       search.Client
	objectIndex string
	cleaner     *search.RelationshipCleaner
	steps       StepStore
}

// HandlerOption configures an ObjectHandler.
type HandlerOption func(*ObjectHandler)

// WithStepStore makes the handler record per-step progress.
func WithStepStore(steps StepStore) HandlerOption {
	return func(h *ObjectHandler) {
		h.steps = steps
	}
}

// NewObjectHandler builds the standard cascade handler for one object type.
// cleaner may be nil when no relationship index exists for the type.
func NewObjectHandler(dao DAO, index search.Client, objectIndex string, cleaner *search.RelationshipCleaner, opts ...HandlerOption) *ObjectHandler {
	h := &ObjectHandler{
		dao:         dao,
		index:       index,
		objectIndex: objectIndex,
		cleaner:     cleaner,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Delete implements Handler.
func (h *ObjectHandler) Delete(ctx context.Context, req Request) error {
	if err := h.runStep(ctx, req, StepRelational, func() error {
		return h.dao.Delete(ctx, req.ObjectID)
	}); err != nil {
		return fmt.Errorf("dao delete %s: %w", req.ObjectID, err)
	}

	if err := h.runStep(ctx, req, StepObjectIndex, func() error {
		return h.index.DeleteDocument(ctx, h.objectIndex, req.ObjectID)
	}); err != nil {
		return fmt.Errorf("delete object document %s: %w", req.ObjectID, err)
	}

	if h.cleaner != nil {
		h.setStep(ctx, req, StepRelationshipIndex, StepStarted)
		h.cleaner.Launch(req.ObjectID)
	}
	return nil
}

func (h *ObjectHandler) runStep(ctx context.Context, req Request, step Step, fn func() error) error {
	h.setStep(ctx, req, step, StepStarted)
	if err := fn(); err != nil {
		h.setStep(ctx, req, step, StepFailed)
		return err
	}
	h.setStep(ctx, req, step, StepCompleted)
	return nil
}

func (h *ObjectHandler) setStep(ctx context.Context, req Request, step Step, status StepStatus) {
	if h.steps == nil {
		return
	}
	_ = h.steps.SetStep(ctx, StepRecord{
		MarkForDeleteID: req.MarkForDeleteID,
		Step:            step,
		Status:          status,
	})
}
