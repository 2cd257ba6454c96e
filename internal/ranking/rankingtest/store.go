// Package rankingtest provides an in-memory ranking.Store for tests.
package rankingtest

import (
	"context"
	"errors"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/tripcart/rankingsync/internal/change"
	"github.com/tripcart/rankingsync/internal/ranking"
)

var _ ranking.Store = (*Store)(nil)

// ErrReadAfterWrite mirrors Firestore's rule that transaction reads precede writes.
var ErrReadAfterWrite = errors.New("read after write in transaction")

// Store keeps documents in a map keyed by path. Transactions are serialized
// and their writes applied only when fn succeeds.
type Store struct {
	mu   sync.Mutex
	docs map[string]change.Fields

	txFailures int
	txErr      error
	scanErrs   map[string]error
	txCount    int
}

func New() *Store {
	return &Store{
		docs:     make(map[string]change.Fields),
		scanErrs: make(map[string]error),
	}
}

// Put replaces the document at p.
func (s *Store) Put(p string, fields change.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[p] = maps.Clone(fields)
}

// Remove deletes the document at p.
func (s *Store) Remove(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, p)
}

// Doc returns a copy of the document at p.
func (s *Store) Doc(p string) (change.Fields, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.docs[p]
	return maps.Clone(f), ok
}

// Paths returns all document paths with the given prefix, sorted.
func (s *Store) Paths(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.docs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a deep-enough copy of every document with the given prefix.
func (s *Store) Snapshot(prefix string) map[string]change.Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]change.Fields)
	for p, f := range s.docs {
		if strings.HasPrefix(p, prefix) {
			out[p] = maps.Clone(f)
		}
	}
	return out
}

// FailTransactions makes the next n transactions fail with err before fn runs.
func (s *Store) FailTransactions(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txFailures = n
	s.txErr = err
}

// FailScan makes scans of collection fail with err.
func (s *Store) FailScan(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanErrs[collection] = err
}

// Transactions returns how many transactions were attempted.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx ranking.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.txFailures > 0 {
		s.txFailures--
		return s.txErr
	}
	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, w := range tx.writes {
		switch {
		case w.delete:
			delete(s.docs, w.path)
		default:
			merged := maps.Clone(s.docs[w.path])
			if merged == nil {
				merged = change.Fields{}
			}
			maps.Copy(merged, w.fields)
			s.docs[w.path] = merged
		}
	}
	return nil
}

func (s *Store) Documents(ctx context.Context, collection string) ([]ranking.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.scanErrs[collection]; err != nil {
		return nil, err
	}
	prefix := strings.Trim(collection, "/") + "/"
	var out []ranking.Document
	for p, f := range s.docs {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		out = append(out, ranking.Document{ID: rest, Fields: maps.Clone(f)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DocumentIDs(ctx context.Context, collection string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.scanErrs[collection]; err != nil {
		return nil, err
	}
	prefix := strings.Trim(collection, "/") + "/"
	seen := make(map[string]bool)
	var out []string
	for p := range s.docs {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		id, _, _ := strings.Cut(rest, "/")
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

type write struct {
	path   string
	fields change.Fields
	delete bool
}

type memTx struct {
	store  *Store
	writes []write
}

func (t *memTx) Get(p string) (change.Fields, bool, error) {
	if len(t.writes) > 0 {
		return nil, false, ErrReadAfterWrite
	}
	f, ok := t.store.docs[p]
	return maps.Clone(f), ok, nil
}

func (t *memTx) MergeSet(p string, fields change.Fields) error {
	t.writes = append(t.writes, write{path: p, fields: maps.Clone(fields)})
	return nil
}

func (t *memTx) Delete(p string) error {
	t.writes = append(t.writes, write{path: p, delete: true})
	return nil
}
