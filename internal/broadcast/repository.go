// Package broadcast resolves audiences, fans push notifications out to their
// devices and keeps an append-only history of every broadcast.
package broadcast

import (
	"context"

	"github.com/bissquit/push-garden/internal/domain"
)

// RecipientDirectory lists every recipient known to the platform.
type RecipientDirectory interface {
	ListRecipients(ctx context.Context) ([]domain.Recipient, error)
}

// SubscriptionStore gives access to push subscriptions.
// Implementations must be safe for concurrent use.
type SubscriptionStore interface {
	// GetSubscription returns ErrSubscriptionNotFound when the recipient has no active subscription.
	GetSubscription(ctx context.Context, recipientID string) (*domain.Subscription, error)
	DeactivateSubscription(ctx context.Context, recipientID string) error
}

// HistoryRepository persists broadcast log entries. Entries are never updated or deleted.
type HistoryRepository interface {
	RecordBroadcast(ctx context.Context, entry *domain.BroadcastLogEntry) error
	// ListBroadcasts returns entries newest first together with the total entry count.
	ListBroadcasts(ctx context.Context, limit, offset int) ([]domain.BroadcastLogEntry, int, error)
}

// PushTransport delivers one encrypted message to one subscription.
// Refusals by the push service are reported as *SendError.
type PushTransport interface {
	Send(ctx context.Context, sub domain.Subscription, payload []byte) error
}
