package trigger

import "github.com/tripcart/rankingsync/internal/metrics"

var (
	eventsTotal = metrics.NewCounter(
		"events_total",
		"trigger",
		"Change notifications handled, by handler and result",
		[]string{"handler", "result"},
	)
	handlerLatency = metrics.NewHistogram(
		"handler_duration_seconds",
		"trigger",
		"Handler invocation latency",
		[]string{"handler"},
	)
)
