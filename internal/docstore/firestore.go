// Package docstore implements the engine's store contracts on Cloud Firestore.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tripcart/rankingsync/internal/change"
	"github.com/tripcart/rankingsync/internal/ranking"
)

// DefaultDatabase is the ID of a project's default Firestore database.
const DefaultDatabase = "(default)"

// Store wraps a Firestore client. The emulator is used when
// FIRESTORE_EMULATOR_HOST is set.
type Store struct {
	client *firestore.Client
	logger *zap.Logger
}

// Open creates a client for the given project and database.
func Open(ctx context.Context, projectID, databaseID string, logger *zap.Logger) (*Store, error) {
	if databaseID == "" {
		databaseID = DefaultDatabase
	}
	logger = logger.Named("firestore")
	logger.Info("initializing client", zap.String("project", projectID), zap.String("database", databaseID))

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client for database %s: %w", databaseID, err)
	}
	return &Store{client: client, logger: logger}, nil
}

// RunTransaction runs fn in a Firestore transaction. The client retries fn on
// contention; when retries are exhausted the error is returned.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx ranking.Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &transaction{client: s.client, tx: tx})
	})
}

// Documents lists the existing documents of collection.
func (s *Store) Documents(ctx context.Context, collection string) ([]ranking.Document, error) {
	coll := s.client.Collection(collection)
	if coll == nil {
		return nil, fmt.Errorf("invalid collection path %q", collection)
	}
	iter := coll.Documents(ctx)
	defer iter.Stop()

	var out []ranking.Document
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", collection, err)
		}
		out = append(out, ranking.Document{ID: doc.Ref.ID, Fields: doc.Data()})
	}
	s.logger.Debug("listed documents", zap.String("collection", collection), zap.Int("count", len(out)))
	return out, nil
}

// DocumentIDs lists every document reference under collection, including
// missing documents that only hold subcollections.
func (s *Store) DocumentIDs(ctx context.Context, collection string) ([]string, error) {
	coll := s.client.Collection(collection)
	if coll == nil {
		return nil, fmt.Errorf("invalid collection path %q", collection)
	}
	iter := coll.DocumentRefs(ctx)

	var out []string
	for {
		ref, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", collection, err)
		}
		out = append(out, ref.ID)
	}
	return out, nil
}

// Get reads one document. A missing document is not an error.
func (s *Store) Get(ctx context.Context, path string) (change.Fields, bool, error) {
	ref := s.client.Doc(path)
	if ref == nil {
		return nil, false, fmt.Errorf("invalid document path %q", path)
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get %s: %w", path, err)
	}
	if !snap.Exists() {
		return nil, false, nil
	}
	return snap.Data(), true, nil
}

func (s *Store) Close() error {
	s.logger.Info("closing client")
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Error("failed to close client", zap.Error(err))
			return err
		}
	}
	return nil
}

type transaction struct {
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *transaction) ref(path string) (*firestore.DocumentRef, error) {
	ref := t.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("invalid document path %q", path)
	}
	return ref, nil
}

func (t *transaction) Get(path string) (change.Fields, bool, error) {
	ref, err := t.ref(path)
	if err != nil {
		return nil, false, err
	}
	snap, err := t.tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !snap.Exists() {
		return nil, false, nil
	}
	return snap.Data(), true, nil
}

func (t *transaction) MergeSet(path string, fields change.Fields) error {
	ref, err := t.ref(path)
	if err != nil {
		return err
	}
	return t.tx.Set(ref, map[string]interface{}(fields), firestore.MergeAll)
}

func (t *transaction) Delete(path string) error {
	ref, err := t.ref(path)
	if err != nil {
		return err
	}
	return t.tx.Delete(ref)
}
