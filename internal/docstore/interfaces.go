package docstore

import (
	"github.com/tripcart/rankingsync/internal/notify"
	"github.com/tripcart/rankingsync/internal/ranking"
)

// Ensure implementations conform to interfaces
var (
	_ ranking.Store         = (*Store)(nil)
	_ notify.DocumentReader = (*Store)(nil)
	_ ranking.Tx            = (*transaction)(nil)
)
