// Package trigger routes change notifications to the handlers registered for
// the document path they touch.
package trigger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tripcart/rankingsync/internal/change"
)

// Handler reacts to changes on documents matching its pattern.
type Handler interface {
	Name() string
	Pattern() *change.Pattern
	Handle(ctx context.Context, ev change.Event) error
}

// Router fans a notification out to every matching handler. It keeps no
// state between notifications.
type Router struct {
	handlers []Handler
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRouter returns a Router that bounds each handler invocation by timeout.
// A zero timeout leaves the caller's deadline in place.
func NewRouter(logger *zap.Logger, timeout time.Duration, handlers ...Handler) *Router {
	return &Router{
		handlers: handlers,
		timeout:  timeout,
		logger:   logger.Named("router"),
	}
}

// Register adds handlers after construction.
func (r *Router) Register(handlers ...Handler) {
	r.handlers = append(r.handlers, handlers...)
}

// Dispatch runs every handler whose pattern matches n.Document. It returns
// the first handler error after all matching handlers have run, so the
// transport can request redelivery. A notification no handler matches is not
// an error.
func (r *Router) Dispatch(ctx context.Context, n change.Notification) error {
	var (
		matched  int
		firstErr error
	)
	for _, h := range r.handlers {
		ev, ok := change.Decode(h.Pattern(), n)
		if !ok {
			continue
		}
		matched++
		if err := r.invoke(ctx, h, ev); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s %s: %w", h.Name(), n.Document, err)
		}
	}
	if matched == 0 {
		eventsTotal.WithLabelValues("none", "unrouted").Inc()
		r.logger.Debug("no handler for document", zap.String("document", n.Document))
	}
	return firstErr
}

func (r *Router) invoke(ctx context.Context, h Handler, ev change.Event) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	start := time.Now()
	err := h.Handle(ctx, ev)
	handlerLatency.WithLabelValues(h.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		eventsTotal.WithLabelValues(h.Name(), "error").Inc()
		r.logger.Warn("handler failed",
			zap.String("handler", h.Name()),
			zap.String("kind", string(ev.Kind)),
			zap.Stringer("keys", ev.Keys),
			zap.Error(err),
		)
		return err
	}
	eventsTotal.WithLabelValues(h.Name(), "ok").Inc()
	return nil
}
