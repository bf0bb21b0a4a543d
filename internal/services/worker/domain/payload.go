package domain

import (
	"fmt"

	"github.com/louisbranch/threadline/internal/services/messaging/relay"
)

// decodeDeliveryPayload centralizes task parsing so every delivery handler
// enforces the same required fields and permanent-error semantics.
func decodeDeliveryPayload(data []byte) (relay.NotificationPayload, error) {
	if len(data) == 0 {
		return relay.NotificationPayload{}, fmt.Errorf("task payload is required")
	}
	payload, err := relay.DecodeNotificationPayload(data)
	if err != nil {
		return relay.NotificationPayload{}, err
	}
	if payload.SenderID != "" && payload.SenderID == payload.RecipientID {
		return relay.NotificationPayload{}, fmt.Errorf("notification %s is addressed to its sender", payload.NotificationID)
	}
	return payload, nil
}
