package ranking

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tripcart/rankingsync/internal/change"
)

// Collection names on both sides of the sync.
const (
	CountriesCollection        = "countries"
	PlacesCollection           = "places"
	ProductsCollection         = "products"
	RankingCountriesCollection = "ranking_countries"
	RankingPlacesCollection    = "ranking_places"

	CountField      = "count"
	TotalCountField = "totalCount"
)

var (
	countryTotalPattern   = change.MustPattern("countries/{country}")
	countryProductPattern = change.MustPattern("countries/{country}/products/{productId}")
	placeProductPattern   = change.MustPattern("places/{placeId}/products/{productId}")

	rankingCountryPattern        = change.MustPattern("ranking_countries/{country}")
	rankingCountryProductPattern = change.MustPattern("ranking_countries/{country}/products/{productId}")
	rankingPlaceProductPattern   = change.MustPattern("ranking_places/{placeId}/products/{productId}")
)

// SyncHandler mirrors one family of write-side counters onto the ranking tree.
// It holds no state between invocations; the target document is read fresh
// inside every transaction.
type SyncHandler struct {
	name   string
	source *change.Pattern
	target *change.Pattern
	field  string
	store  Store
	logger *zap.Logger
}

// SyncCountryTotal mirrors countries/{country}.count to ranking_countries/{country}.totalCount.
func SyncCountryTotal(store Store, logger *zap.Logger) *SyncHandler {
	return newSyncHandler("syncCountryTotal", countryTotalPattern, rankingCountryPattern, TotalCountField, store, logger)
}

// SyncCountryProduct mirrors country-scoped product counts.
func SyncCountryProduct(store Store, logger *zap.Logger) *SyncHandler {
	return newSyncHandler("syncCountryProduct", countryProductPattern, rankingCountryProductPattern, CountField, store, logger)
}

// SyncPlaceProduct mirrors place-scoped product counts.
func SyncPlaceProduct(store Store, logger *zap.Logger) *SyncHandler {
	return newSyncHandler("syncPlaceProduct", placeProductPattern, rankingPlaceProductPattern, CountField, store, logger)
}

// Handlers returns the three sync handlers.
func Handlers(store Store, logger *zap.Logger) []*SyncHandler {
	return []*SyncHandler{
		SyncCountryTotal(store, logger),
		SyncCountryProduct(store, logger),
		SyncPlaceProduct(store, logger),
	}
}

func newSyncHandler(name string, source, target *change.Pattern, field string, store Store, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		name:   name,
		source: source,
		target: target,
		field:  field,
		store:  store,
		logger: logger.Named(name),
	}
}

func (h *SyncHandler) Name() string { return h.name }

func (h *SyncHandler) Pattern() *change.Pattern { return h.source }

// Handle mirrors the counter that ev reports as changed. The value written is
// the counter's current value, read in the mirror transaction. Store errors
// are returned so the change feed redelivers the event.
func (h *SyncHandler) Handle(ctx context.Context, ev change.Event) error {
	if !change.ShouldSync(ev.Before, ev.After, CountField) {
		skippedEvents.WithLabelValues(h.name).Inc()
		h.logger.Debug("no-op change skipped", zap.Stringer("keys", ev.Keys))
		return nil
	}

	source, err := h.source.Expand(ev.Keys)
	if err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}
	target, err := h.target.Expand(ev.Keys)
	if err != nil {
		return fmt.Errorf("%s: %w", h.name, err)
	}

	outcome, count, err := MirrorFrom(ctx, h.store, source, target, h.field)
	if err != nil {
		h.logger.Error("mirror failed",
			zap.String("target", target),
			zap.Int64("event_count", ev.After.Int(CountField)),
			zap.Error(err),
		)
		return err
	}
	h.logger.Debug("mirrored",
		zap.String("kind", string(ev.Kind)),
		zap.String("target", target),
		zap.Int64("count", count),
		zap.String("outcome", string(outcome)),
	)
	return nil
}
