package domain

import "time"

// SubscriptionKeys holds the client keys of a Web Push subscription.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh" koanf:"p256dh"`
	Auth   string `json:"auth" koanf:"auth"`
}

// Subscription is the push endpoint credential registered by a recipient's device.
// A recipient has at most one active subscription.
type Subscription struct {
	RecipientID string           `json:"recipient_id" koanf:"recipient_id"`
	Endpoint    string           `json:"endpoint" koanf:"endpoint"`
	Keys        SubscriptionKeys `json:"keys" koanf:"keys"`
	CreatedAt   time.Time        `json:"created_at" koanf:"created_at"`
}
