// Package notify sends push messages for new chat notification records.
package notify

import (
	"context"
	"path"

	"go.uber.org/zap"

	"github.com/tripcart/rankingsync/internal/change"
)

const (
	UsersCollection = "users"
	TokenField      = "fcmToken"
	ChatType        = "chat"
)

var notificationPattern = change.MustPattern("users/{userId}/notifications/{notificationId}")

// DocumentReader reads single documents.
type DocumentReader interface {
	Get(ctx context.Context, path string) (change.Fields, bool, error)
}

// Message is one push message addressed to a device token.
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Sender delivers push messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher turns chat notification records into push messages.
type Dispatcher struct {
	profiles DocumentReader
	sender   Sender
	logger   *zap.Logger
}

func NewDispatcher(profiles DocumentReader, sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		profiles: profiles,
		sender:   sender,
		logger:   logger.Named("notify"),
	}
}

func (d *Dispatcher) Name() string { return "dispatchChatNotification" }

func (d *Dispatcher) Pattern() *change.Pattern { return notificationPattern }

// Handle sends one push for a newly created chat notification. Profile read
// failures are returned for redelivery; delivery failures are logged only, the
// push service owns retries.
func (d *Dispatcher) Handle(ctx context.Context, ev change.Event) error {
	if ev.Kind != change.KindCreate {
		return nil
	}
	record := ev.After
	if record.String("type") != ChatType {
		return nil
	}
	recipient := ev.Keys.Get("userId")
	sender := record.String("senderId")
	if sender == recipient {
		pushes.WithLabelValues("self").Inc()
		return nil
	}

	profile, ok, err := d.profiles.Get(ctx, path.Join(UsersCollection, recipient))
	if err != nil {
		return err
	}
	token := profile.String(TokenField)
	if !ok || token == "" {
		pushes.WithLabelValues("no_token").Inc()
		d.logger.Debug("recipient has no push token", zap.String("user", recipient))
		return nil
	}

	nickname := record.String("senderNickname")
	text := record.String("message")
	msg := Message{
		Token: token,
		Title: nickname,
		Body:  text,
		Data: map[string]string{
			"type":           ChatType,
			"listId":         record.String("listId"),
			"senderNickname": nickname,
			"message":        text,
			"screen":         "chat",
			"click_action":   "FLUTTER_NOTIFICATION_CLICK",
		},
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		pushes.WithLabelValues("failed").Inc()
		d.logger.Error("push failed",
			zap.String("user", recipient),
			zap.String("notification", ev.Keys.Get("notificationId")),
			zap.Error(err),
		)
		return nil
	}
	pushes.WithLabelValues("sent").Inc()
	d.logger.Info("push sent", zap.String("user", recipient), zap.String("list", record.String("listId")))
	return nil
}
