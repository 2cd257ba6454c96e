package notify

import "github.com/tripcart/rankingsync/internal/metrics"

var pushes = metrics.NewCounter(
	"pushes_total",
	"notify",
	"Chat push notifications by result",
	[]string{"result"},
)
