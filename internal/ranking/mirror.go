package ranking

import (
	"context"
	"fmt"

	"github.com/tripcart/rankingsync/internal/change"
)

// Outcome is what a mirror transaction did to its target.
type Outcome string

const (
	Written   Outcome = "written"
	Deleted   Outcome = "deleted"
	Unchanged Outcome = "unchanged"
)

// Mirror sets target.field to count inside a single transaction. A count of
// zero or less removes the target document instead, so the ranking tree never
// holds zero-valued leaves. Sibling fields on the target are preserved.
func Mirror(ctx context.Context, store Store, target, field string, count int64) (Outcome, error) {
	var outcome Outcome
	err := store.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		outcome, err = apply(tx, target, field, count)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("mirror %s: %w", target, err)
	}
	mirrorOutcomes.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

// MirrorFrom is Mirror with the count read from source.count in the same
// transaction. The result reflects the counter's value at commit time, so a
// late or redelivered event cannot leave an older value behind.
func MirrorFrom(ctx context.Context, store Store, source, target, field string) (Outcome, int64, error) {
	var (
		outcome Outcome
		count   int64
	)
	err := store.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		fields, _, err := tx.Get(source)
		if err != nil {
			return fmt.Errorf("read %s: %w", source, err)
		}
		count = fields.Int(CountField)
		outcome, err = apply(tx, target, field, count)
		return err
	})
	if err != nil {
		return "", 0, fmt.Errorf("mirror %s: %w", target, err)
	}
	mirrorOutcomes.WithLabelValues(string(outcome)).Inc()
	return outcome, count, nil
}

// apply performs the read-decide-write step against target. All reads happen
// before the single write.
func apply(tx Tx, target, field string, count int64) (Outcome, error) {
	current, exists, err := tx.Get(target)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", target, err)
	}
	if count <= 0 {
		if !exists {
			return Unchanged, nil
		}
		return Deleted, tx.Delete(target)
	}
	if exists {
		if _, ok := current[field]; ok && current.Int(field) == count {
			return Unchanged, nil
		}
	}
	return Written, tx.MergeSet(target, change.Fields{field: count})
}
