// Package notify delivers listing lifecycle notifications to owners. Every
// dispatcher sends the same JSON envelope; which transport is used is a
// deployment choice.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

// Envelope is the wire form of a notification.
type Envelope struct {
	ID      string                  `json:"id"`
	UserID  string                  `json:"userId"`
	Kind    domain.NotificationKind `json:"kind"`
	SentAt  time.Time               `json:"sentAt"`
	Listing domain.Notification     `json:"listing"`
}

func newEnvelope(userID string, kind domain.NotificationKind, payload domain.Notification) Envelope {
	return Envelope{
		ID:      uuid.NewString(),
		UserID:  userID,
		Kind:    kind,
		SentAt:  time.Now().UTC(),
		Listing: payload,
	}
}
