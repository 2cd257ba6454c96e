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

func seedWriteSide(store *rankingtest.Store) {
	store.Put("countries/JP", change.Fields{"count": int64(0)})
	store.Put("countries/US", change.Fields{"count": int64(42)})
	store.Put("countries/US/products/p1", change.Fields{"count": int64(40)})
	store.Put("countries/US/products/p2", change.Fields{"count": int64(2)})
	store.Put("countries/JP/products/p1", change.Fields{"count": int64(0)})
	// KR has product counters but no total document.
	store.Put("countries/KR/products/p3", change.Fields{"count": int64(5)})

	store.Put("places/pl-1/products/p1", change.Fields{"count": int64(3)})
	store.Put("places/pl-1/products/p2", change.Fields{})
	store.Put("places/pl-2/products/p1", change.Fields{"count": int64(0)})
	store.Put("places/pl-3", change.Fields{"name": "Mart"})
}

func TestBackfillCountryTotals(t *testing.T) {
	store := rankingtest.New()
	store.Put("countries/JP", change.Fields{"count": int64(0)})
	store.Put("countries/US", change.Fields{"count": int64(42)})

	sum, err := ranking.NewBackfiller(store, zaptest.NewLogger(t), 4).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), sum.CountriesMigrated)

	doc, ok := store.Doc("ranking_countries/US")
	require.True(t, ok)
	require.Equal(t, int64(42), doc.Int("totalCount"))
	_, ok = store.Doc("ranking_countries/JP")
	require.False(t, ok)
}

func TestBackfillFullTree(t *testing.T) {
	store := rankingtest.New()
	seedWriteSide(store)

	sum, err := ranking.NewBackfiller(store, zaptest.NewLogger(t), 2).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ranking.Summary{
		CountriesMigrated:       1,
		CountryProductsMigrated: 3,
		PlacesMigrated:          1,
		PlaceProductsMigrated:   1,
	}, sum)
	require.Equal(t, []string{
		"ranking_countries/KR/products/p3",
		"ranking_countries/US",
		"ranking_countries/US/products/p1",
		"ranking_countries/US/products/p2",
		"ranking_places/pl-1/products/p1",
	}, store.Paths("ranking_"))
}

func TestBackfillIdempotent(t *testing.T) {
	store := rankingtest.New()
	seedWriteSide(store)
	b := ranking.NewBackfiller(store, zaptest.NewLogger(t), 3)

	first, err := b.Run(context.Background())
	require.NoError(t, err)
	tree := store.Snapshot("ranking_")

	second, err := b.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, tree, store.Snapshot("ranking_"))
}

func TestBackfillIsAdditiveOnly(t *testing.T) {
	store := rankingtest.New()
	seedWriteSide(store)
	store.Put("ranking_countries/FR/products/p9", change.Fields{"count": int64(8)})
	store.Put("ranking_countries/US/products/p1", change.Fields{"count": int64(1), "name": "milk"})

	_, err := ranking.NewBackfiller(store, zaptest.NewLogger(t), 1).Run(context.Background())
	require.NoError(t, err)

	stale, ok := store.Doc("ranking_countries/FR/products/p9")
	require.True(t, ok, "stale ranking entries are kept")
	require.Equal(t, int64(8), stale.Int("count"))

	healed, _ := store.Doc("ranking_countries/US/products/p1")
	require.Equal(t, change.Fields{"count": int64(40), "name": "milk"}, healed)
}

func TestBackfillPartialFailure(t *testing.T) {
	store := rankingtest.New()
	seedWriteSide(store)
	errUnavailable := errors.New("unavailable")
	store.FailScan("places", errUnavailable)

	b := ranking.NewBackfiller(store, zaptest.NewLogger(t), 2)
	sum, err := b.Run(context.Background())
	require.ErrorIs(t, err, errUnavailable)
	require.Equal(t, int64(1), sum.CountriesMigrated)
	require.Equal(t, int64(3), sum.CountryProductsMigrated)
	require.Zero(t, sum.PlacesMigrated)

	// Country work committed before the failure stays.
	_, ok := store.Doc("ranking_countries/US")
	require.True(t, ok)

	store.FailScan("places", nil)
	sum, err = b.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), sum.PlacesMigrated)
}

func TestBackfillMirrorFailure(t *testing.T) {
	store := rankingtest.New()
	seedWriteSide(store)
	store.FailTransactions(1, errContention)

	_, err := ranking.NewBackfiller(store, zaptest.NewLogger(t), 2).Run(context.Background())
	require.ErrorIs(t, err, errContention)
}
