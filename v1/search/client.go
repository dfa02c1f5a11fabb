package search

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// FieldMatch matches documents whose field equals the given value.
type FieldMatch struct {
	Field string
	Value string
}

// Query selects documents matching any of its field matches (an OR query).
type Query struct {
	Any []FieldMatch
}

// RelationshipQuery selects every relationship document that references
// objectID as either endpoint.
func RelationshipQuery(objectID string) Query {
	return Query{Any: []FieldMatch{
		{Field: "parentid", Value: objectID},
		{Field: "childid", Value: objectID},
	}}
}

// DeleteByQueryOptions controls bulk deletes.
type DeleteByQueryOptions struct {
	// Throttle caps deletions per second. Zero means unthrottled.
	Throttle rate.Limit
	// TolerateConflicts skips documents whose version changed mid-delete
	// instead of failing the whole operation.
	TolerateConflicts bool
	// Budget bounds the whole operation. Zero means no budget.
	Budget time.Duration
}

// Client is the search index collaborator contract.
type Client interface {
	// IndexDocument creates or replaces a document.
	IndexDocument(ctx context.Context, index, id string, body map[string]any) error
	// DeleteDocument removes a document. Deleting an absent document is a
	// no-op so deletion handlers stay idempotent.
	DeleteDocument(ctx context.Context, index, id string) error
	// DeleteByQuery removes every document matching q and returns how many
	// were deleted.
	DeleteByQuery(ctx context.Context, index string, q Query, opts DeleteByQueryOptions) (int, error)
}
