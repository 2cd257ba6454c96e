package ranking_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tripcart/rankingsync/internal/change"
	"github.com/tripcart/rankingsync/internal/ranking"
	"github.com/tripcart/rankingsync/internal/ranking/rankingtest"
)

var errContention = errors.New("aborted: too much contention")

// write applies a client mutation to the write side and returns the
// notification the change feed would emit for it.
func write(store *rankingtest.Store, path string, after change.Fields) change.Notification {
	before, ok := store.Doc(path)
	if !ok {
		before = nil
	}
	if after == nil {
		store.Remove(path)
	} else {
		store.Put(path, after)
	}
	return change.Notification{Document: path, Before: before, After: after}
}

func deliver(t *testing.T, h *ranking.SyncHandler, n change.Notification) error {
	t.Helper()
	ev, ok := change.Decode(h.Pattern(), n)
	require.True(t, ok, "%s does not match %s", n.Document, h.Pattern())
	return h.Handle(context.Background(), ev)
}

func TestCountryProductTrajectory(t *testing.T) {
	store := rankingtest.New()
	h := ranking.SyncCountryProduct(store, zaptest.NewLogger(t))
	const src, dst = "countries/KR/products/p1", "ranking_countries/KR/products/p1"

	_, ok := store.Doc(dst)
	require.False(t, ok)

	require.NoError(t, deliver(t, h, write(store, src, change.Fields{"count": int64(1)})))
	doc, ok := store.Doc(dst)
	require.True(t, ok)
	require.Equal(t, change.Fields{"count": int64(1)}, doc)

	require.NoError(t, deliver(t, h, write(store, src, change.Fields{"count": int64(2)})))
	doc, _ = store.Doc(dst)
	require.Equal(t, change.Fields{"count": int64(2)}, doc)

	require.NoError(t, deliver(t, h, write(store, src, change.Fields{"count": int64(0)})))
	_, ok = store.Doc(dst)
	require.False(t, ok, "zero count must delete the ranking document")
}

func TestCountryTotalMirrorsTotalCount(t *testing.T) {
	store := rankingtest.New()
	h := ranking.SyncCountryTotal(store, zaptest.NewLogger(t))

	require.NoError(t, deliver(t, h, write(store, "countries/US", change.Fields{"count": int64(42)})))
	doc, ok := store.Doc("ranking_countries/US")
	require.True(t, ok)
	require.Equal(t, change.Fields{"totalCount": int64(42)}, doc)
}

func TestPlaceProductDeleteEvent(t *testing.T) {
	store := rankingtest.New()
	h := ranking.SyncPlaceProduct(store, zaptest.NewLogger(t))
	const src, dst = "places/pl-1/products/milk", "ranking_places/pl-1/products/milk"

	require.NoError(t, deliver(t, h, write(store, src, change.Fields{"count": int64(4)})))
	_, ok := store.Doc(dst)
	require.True(t, ok)

	require.NoError(t, deliver(t, h, write(store, src, nil)))
	_, ok = store.Doc(dst)
	require.False(t, ok)
}

func TestNoOpIssuesNoTransaction(t *testing.T) {
	store := rankingtest.New()
	h := ranking.SyncCountryProduct(store, zaptest.NewLogger(t))
	store.Put("countries/KR/products/p1", change.Fields{"count": int64(5)})

	err := deliver(t, h, change.Notification{
		Document: "countries/KR/products/p1",
		Before:   change.Fields{"count": int64(5)},
		After:    change.Fields{"count": int64(5), "updatedBy": "u1"},
	})
	require.NoError(t, err)
	require.Zero(t, store.Transactions())
	require.Empty(t, store.Paths("ranking_"))
}

func TestIdempotentRedelivery(t *testing.T) {
	store := rankingtest.New()
	h := ranking.SyncCountryProduct(store, zaptest.NewLogger(t))

	n := write(store, "countries/JP/products/p2", change.Fields{"count": int64(3)})
	require.NoError(t, deliver(t, h, n))
	once := store.Snapshot("ranking_")
	require.NoError(t, deliver(t, h, n))
	require.Equal(t, once, store.Snapshot("ranking_"))
}

func TestOutOfOrderDeliveryConverges(t *testing.T) {
	store := rankingtest.New()
	h := ranking.SyncCountryProduct(store, zaptest.NewLogger(t))
	const src, dst = "countries/KR/products/p1", "ranking_countries/KR/products/p1"

	first := write(store, src, change.Fields{"count": int64(1)})
	second := write(store, src, change.Fields{"count": int64(2)})
	third := write(store, src, change.Fields{"count": int64(3)})

	for _, n := range []change.Notification{third, first, second, first} {
		require.NoError(t, deliver(t, h, n))
	}
	doc, ok := store.Doc(dst)
	require.True(t, ok)
	require.Equal(t, int64(3), doc.Int("count"))

	drop := write(store, src, change.Fields{"count": int64(0)})
	require.NoError(t, deliver(t, h, drop))
	require.NoError(t, deliver(t, h, second))
	_, ok = store.Doc(dst)
	require.False(t, ok, "stale redelivery must not resurrect a deleted ranking")
}

func TestMergePreservesSiblingFields(t *testing.T) {
	store := rankingtest.New()
	h := ranking.SyncCountryProduct(store, zaptest.NewLogger(t))
	store.Put("ranking_countries/KR/products/p1", change.Fields{"count": int64(1), "name": "milk"})

	require.NoError(t, deliver(t, h, write(store, "countries/KR/products/p1", change.Fields{"count": int64(7)})))
	doc, _ := store.Doc("ranking_countries/KR/products/p1")
	require.Equal(t, change.Fields{"count": int64(7), "name": "milk"}, doc)
}

func TestTransactionFailurePropagates(t *testing.T) {
	store := rankingtest.New()
	h := ranking.SyncCountryProduct(store, zaptest.NewLogger(t))
	n := write(store, "countries/KR/products/p1", change.Fields{"count": int64(2)})

	store.FailTransactions(1, errContention)
	err := deliver(t, h, n)
	require.ErrorIs(t, err, errContention)
	_, ok := store.Doc("ranking_countries/KR/products/p1")
	require.False(t, ok)

	// Redelivery after the transient failure heals the ranking.
	require.NoError(t, deliver(t, h, n))
	doc, ok := store.Doc("ranking_countries/KR/products/p1")
	require.True(t, ok)
	require.Equal(t, int64(2), doc.Int("count"))
}

func TestHandlersPatterns(t *testing.T) {
	hs := ranking.Handlers(rankingtest.New(), zaptest.NewLogger(t))
	require.Len(t, hs, 3)
	names := make([]string, 0, len(hs))
	for _, h := range hs {
		names = append(names, h.Name()+" "+h.Pattern().String())
	}
	require.Equal(t, []string{
		"syncCountryTotal countries/{country}",
		"syncCountryProduct countries/{country}/products/{productId}",
		"syncPlaceProduct places/{placeId}/products/{productId}",
	}, names)
}
