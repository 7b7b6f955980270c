package notification

import (
	"context"
	"fmt"

	"shutterbook/models"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// MessageSender is the part of the FCM client the push sink needs.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushNotifier sends FCM pushes to the per-user topic devices subscribe to.
type PushNotifier struct {
	client MessageSender
	logger *zap.Logger
}

func NewPushNotifier(client MessageSender, logger *zap.Logger) *PushNotifier {
	return &PushNotifier{client: client, logger: logger}
}

var _ Notifier = (*PushNotifier)(nil)

// UserTopic is the FCM topic a user's devices subscribe to.
func UserTopic(userID string) string {
	return "user-" + userID
}

func (p *PushNotifier) Notify(ctx context.Context, n models.Notification) error {
	item := n.Render()
	data := make(map[string]string, len(item.Data)+2)
	for k, v := range item.Data {
		data[k] = v
	}
	data["type"] = string(item.Type)
	data["notificationId"] = item.ID

	msg := &messaging.Message{
		Topic: UserTopic(n.UserID),
		Notification: &messaging.Notification{
			Title: item.Title,
			Body:  item.Message,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "high_priority",
				Sound:     "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	response, err := p.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send FCM message to %s: %w", n.UserID, err)
	}
	p.logger.Debug("Push sent", zap.String("userID", n.UserID), zap.String("response", response))
	return nil
}
