// Package domain holds the notification delivery handlers run by the worker.
package domain

import (
	"context"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// recipientView is the messaging read surface a delivery needs.
type recipientView interface {
	MessageVisible(ctx context.Context, userID, messageID string) (bool, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Digest is what a recipient is told about one new message.
type Digest struct {
	NotificationID string
	MessageID      string
	SenderID       string
	RecipientID    string
	UnreadCount    int
	CreatedAt      time.Time
	DeliveredAt    time.Time
}

// Deliverer hands a digest to the outside world.
type Deliverer interface {
	Deliver(ctx context.Context, digest Digest) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, digest Digest) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, digest Digest) error {
	return f(ctx, digest)
}

// LogDeliverer writes digests to the process log.
type LogDeliverer struct {
	logf func(format string, args ...any)
}

// NewLogDeliverer builds a deliverer around logf, defaulting to log.Printf.
func NewLogDeliverer(logf func(format string, args ...any)) *LogDeliverer {
	if logf == nil {
		logf = log.Printf
	}
	return &LogDeliverer{logf: logf}
}

// Deliver logs one digest line.
func (d *LogDeliverer) Deliver(_ context.Context, digest Digest) error {
	d.logf("notify recipient=%s message=%s sender=%s unread=%d", digest.RecipientID, digest.MessageID, digest.SenderID, digest.UnreadCount)
	return nil
}

// NotificationDeliveryHandler turns relayed notices into recipient digests.
type NotificationDeliveryHandler struct {
	view      recipientView
	deliverer Deliverer
	clock     func() time.Time
}

// NewNotificationDeliveryHandler creates a delivery handler.
func NewNotificationDeliveryHandler(view recipientView, deliverer Deliverer, clock func() time.Time) *NotificationDeliveryHandler {
	if clock == nil {
		clock = time.Now
	}
	return &NotificationDeliveryHandler{
		view:      view,
		deliverer: deliverer,
		clock:     clock,
	}
}

// Handle delivers one notice. Notices whose message the recipient can no
// longer see are dropped without error.
func (h *NotificationDeliveryHandler) Handle(ctx context.Context, data []byte) error {
	if h == nil || h.view == nil {
		return Permanent(fmt.Errorf("messaging client is not configured"))
	}
	if h.deliverer == nil {
		return Permanent(fmt.Errorf("deliverer is not configured"))
	}
	payload, err := decodeDeliveryPayload(data)
	if err != nil {
		return Permanent(err)
	}

	visible, err := h.view.MessageVisible(ctx, payload.RecipientID, payload.MessageID)
	if err != nil {
		return classifyMessagingError(err)
	}
	if !visible {
		return nil
	}

	unread, err := h.view.UnreadCount(ctx, payload.RecipientID)
	if err != nil {
		return classifyMessagingError(err)
	}

	return h.deliverer.Deliver(ctx, Digest{
		NotificationID: payload.NotificationID,
		MessageID:      payload.MessageID,
		SenderID:       payload.SenderID,
		RecipientID:    payload.RecipientID,
		UnreadCount:    unread,
		CreatedAt:      payload.CreatedAt,
		DeliveredAt:    h.clock().UTC(),
	})
}

func classifyMessagingError(err error) error {
	if isPermanentMessagingError(err) {
		return Permanent(err)
	}
	return err
}

func isPermanentMessagingError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.PermissionDenied, codes.NotFound, codes.FailedPrecondition, codes.Unauthenticated:
		return true
	default:
		return false
	}
}
