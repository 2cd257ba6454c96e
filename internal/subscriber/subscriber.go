// Package subscriber consumes document change notifications from a Pub/Sub
// subscription with at-least-once delivery.
package subscriber

import (
	"context"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/tripcart/rankingsync/internal/change"
)

// Dispatcher handles one decoded notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n change.Notification) error
}

// Message is the part of a Pub/Sub message the subscriber needs.
type Message interface {
	Data() []byte
	Attributes() map[string]string
	ID() string
	Ack()
	Nack()
}

type Subscriber struct {
	subscription *pubsub.Subscription
	dispatcher   Dispatcher
	logger       *zap.Logger
	messageCount int64
	errorCount   int64
}

func New(subscription *pubsub.Subscription, dispatcher Dispatcher, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		subscription: subscription,
		dispatcher:   dispatcher,
		logger:       logger.Named("subscriber"),
	}
}

// Start receives messages until ctx is done.
func (s *Subscriber) Start(ctx context.Context, maxConcurrency int) error {
	s.logger.Info("starting pub/sub subscriber",
		zap.String("subscription", s.subscription.ID()),
		zap.Int("max_concurrency", maxConcurrency),
	)

	s.subscription.ReceiveSettings.MaxExtension = 10 * time.Minute
	s.subscription.ReceiveSettings.MaxOutstandingMessages = maxConcurrency
	s.subscription.ReceiveSettings.NumGoroutines = maxConcurrency

	go s.logStats(ctx)

	return s.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(ctx, pubsubMessage{msg})
	})
}

// handleMessage acks processed and poison messages and nacks messages whose
// handlers failed, so Pub/Sub redelivers them.
func (s *Subscriber) handleMessage(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in message handler", zap.Any("panic", r), zap.String("message_id", msg.ID()))
			atomic.AddInt64(&s.errorCount, 1)
			msg.Nack()
		}
	}()

	attrs := msg.Attributes()
	n, err := change.ParsePayload(msg.Data(), attrs[change.ContentTypeAttribute], attrs[change.DocumentAttribute])
	if err != nil {
		s.logger.Error("discarding malformed message", zap.String("message_id", msg.ID()), zap.Error(err))
		atomic.AddInt64(&s.errorCount, 1)
		msg.Ack()
		return
	}

	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.logger.Warn("dispatch failed, requesting redelivery",
			zap.String("message_id", msg.ID()),
			zap.String("document", n.Document),
			zap.Error(err),
		)
		atomic.AddInt64(&s.errorCount, 1)
		msg.Nack()
		return
	}

	atomic.AddInt64(&s.messageCount, 1)
	msg.Ack()
}

func (s *Subscriber) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgCount, errCount := s.Stats()
			s.logger.Info("stats", zap.Int64("messages", msgCount), zap.Int64("errors", errCount))
		}
	}
}

// Stats returns the number of processed messages and errors so far.
func (s *Subscriber) Stats() (messages, failures int64) {
	return atomic.LoadInt64(&s.messageCount), atomic.LoadInt64(&s.errorCount)
}

type pubsubMessage struct {
	msg *pubsub.Message
}

func (m pubsubMessage) Data() []byte                  { return m.msg.Data }
func (m pubsubMessage) Attributes() map[string]string { return m.msg.Attributes }
func (m pubsubMessage) ID() string                    { return m.msg.ID }
func (m pubsubMessage) Ack()                          { m.msg.Ack() }
func (m pubsubMessage) Nack()                         { m.msg.Nack() }
