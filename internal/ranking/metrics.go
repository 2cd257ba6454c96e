package ranking

import "github.com/tripcart/rankingsync/internal/metrics"

const subsystem = "ranking"

var (
	mirrorOutcomes = metrics.NewCounter(
		"mirror_total",
		subsystem,
		"Mirror transactions by outcome",
		[]string{"outcome"},
	)
	skippedEvents = metrics.NewCounter(
		"noop_events_total",
		subsystem,
		"Change events suppressed because the counter did not change",
		[]string{"handler"},
	)
	backfillRuns = metrics.NewCounter(
		"backfill_runs_total",
		subsystem,
		"Backfill runs by result",
		[]string{"result"},
	)
	backfillMigrated = metrics.NewGauge(
		"backfill_migrated",
		subsystem,
		"Entities written by the last backfill run",
		[]string{"kind"},
	)
)
