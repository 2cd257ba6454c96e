package ranking

import (
	"context"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Summary counts the entities written by one backfill run.
type Summary struct {
	CountriesMigrated       int64 `json:"countriesMigrated"`
	CountryProductsMigrated int64 `json:"countryProductsMigrated"`
	PlacesMigrated          int64 `json:"placesMigrated"`
	PlaceProductsMigrated   int64 `json:"placeProductsMigrated"`
}

// Backfiller rebuilds the ranking tree from a full scan of the write side.
//
// It is additive only: ranking documents without a live write-side counter
// are left in place. Deleting unmatched entries could race with live
// increments the scan has not reached yet.
type Backfiller struct {
	store       Store
	logger      *zap.Logger
	concurrency int
}

// NewBackfiller returns a Backfiller scanning up to concurrency countries or
// places at a time.
func NewBackfiller(store Store, logger *zap.Logger, concurrency int) *Backfiller {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Backfiller{
		store:       store,
		logger:      logger.Named("backfill"),
		concurrency: concurrency,
	}
}

// Run walks every write-side counter and merge-writes each positive count to
// its ranking document. It is not atomic as a whole; a failed run leaves the
// documents already written in place and is safe to repeat.
func (b *Backfiller) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	b.logger.Info("backfill started")

	var s counters
	if err := b.countries(ctx, &s); err != nil {
		backfillRuns.WithLabelValues("failure").Inc()
		b.logger.Error("backfill failed", zap.Error(err), zap.Any("partial", s.summary()))
		return s.summary(), err
	}
	if err := b.places(ctx, &s); err != nil {
		backfillRuns.WithLabelValues("failure").Inc()
		b.logger.Error("backfill failed", zap.Error(err), zap.Any("partial", s.summary()))
		return s.summary(), err
	}

	sum := s.summary()
	backfillRuns.WithLabelValues("success").Inc()
	backfillMigrated.WithLabelValues("countries").Set(float64(sum.CountriesMigrated))
	backfillMigrated.WithLabelValues("country_products").Set(float64(sum.CountryProductsMigrated))
	backfillMigrated.WithLabelValues("places").Set(float64(sum.PlacesMigrated))
	backfillMigrated.WithLabelValues("place_products").Set(float64(sum.PlaceProductsMigrated))
	b.logger.Info("backfill completed",
		zap.Int64("countries", sum.CountriesMigrated),
		zap.Int64("country_products", sum.CountryProductsMigrated),
		zap.Int64("places", sum.PlacesMigrated),
		zap.Int64("place_products", sum.PlaceProductsMigrated),
		zap.Duration("elapsed", time.Since(start)),
	)
	return sum, nil
}

type counters struct {
	countries       atomic.Int64
	countryProducts atomic.Int64
	places          atomic.Int64
	placeProducts   atomic.Int64
}

func (c *counters) summary() Summary {
	return Summary{
		CountriesMigrated:       c.countries.Load(),
		CountryProductsMigrated: c.countryProducts.Load(),
		PlacesMigrated:          c.places.Load(),
		PlaceProductsMigrated:   c.placeProducts.Load(),
	}
}

func (b *Backfiller) countries(ctx context.Context, s *counters) error {
	totals, err := b.store.Documents(ctx, CountriesCollection)
	if err != nil {
		return fmt.Errorf("list countries: %w", err)
	}
	for _, doc := range totals {
		count := doc.Fields.Int(CountField)
		if count <= 0 {
			continue
		}
		target := path.Join(RankingCountriesCollection, doc.ID)
		if _, err := Mirror(ctx, b.store, target, TotalCountField, count); err != nil {
			return err
		}
		s.countries.Add(1)
	}

	// Countries may carry product counters without a total document.
	ids, err := b.store.DocumentIDs(ctx, CountriesCollection)
	if err != nil {
		return fmt.Errorf("list country ids: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, country := range ids {
		g.Go(func() error {
			n, err := b.products(ctx,
				path.Join(CountriesCollection, country, ProductsCollection),
				path.Join(RankingCountriesCollection, country, ProductsCollection),
			)
			s.countryProducts.Add(n)
			return err
		})
	}
	return g.Wait()
}

func (b *Backfiller) places(ctx context.Context, s *counters) error {
	ids, err := b.store.DocumentIDs(ctx, PlacesCollection)
	if err != nil {
		return fmt.Errorf("list places: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, place := range ids {
		g.Go(func() error {
			n, err := b.products(ctx,
				path.Join(PlacesCollection, place, ProductsCollection),
				path.Join(RankingPlacesCollection, place, ProductsCollection),
			)
			s.placeProducts.Add(n)
			if n > 0 {
				s.places.Add(1)
			}
			return err
		})
	}
	return g.Wait()
}

// products mirrors every positive counter of one product collection and
// returns how many were written.
func (b *Backfiller) products(ctx context.Context, source, target string) (int64, error) {
	docs, err := b.store.Documents(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", source, err)
	}
	var n int64
	for _, doc := range docs {
		count := doc.Fields.Int(CountField)
		if count <= 0 {
			continue
		}
		if _, err := Mirror(ctx, b.store, path.Join(target, doc.ID), CountField, count); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
