// Package ranking mirrors write-side counters into the read-side ranking tree.
//
// The write side is sharded by entity so that many clients can increment
// counters concurrently:
//
//	countries/{country}                          {count}
//	countries/{country}/products/{productId}     {count}
//	places/{placeId}/products/{productId}        {count}
//
// The read side is owned by this package alone and flattened for ranked reads:
//
//	ranking_countries/{country}                       {totalCount}
//	ranking_countries/{country}/products/{productId}  {count}
//	ranking_places/{placeId}/products/{productId}     {count}
//
// A read-side document exists iff its write-side counter is positive, once all
// change events have been processed. SyncHandler keeps that true incrementally;
// Backfiller re-establishes it from a full scan.
package ranking

import (
	"context"

	"github.com/tripcart/rankingsync/internal/change"
)

// Document is one document returned by a collection scan.
type Document struct {
	ID     string
	Fields change.Fields
}

// Tx is a read-then-write transaction. Reads must precede writes.
type Tx interface {
	// Get returns the document fields and whether the document exists.
	Get(path string) (change.Fields, bool, error)
	// MergeSet writes fields without touching the document's other fields.
	MergeSet(path string, fields change.Fields) error
	Delete(path string) error
}

// Store is the document database as seen by the sync engine.
type Store interface {
	// RunTransaction runs fn atomically. fn may be invoked more than once on
	// contention and must not have side effects outside tx.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Documents lists the existing documents of a collection.
	Documents(ctx context.Context, collection string) ([]Document, error)
	// DocumentIDs lists the IDs under a collection, including documents that
	// exist only as parents of subcollections.
	DocumentIDs(ctx context.Context, collection string) ([]string, error)
}
