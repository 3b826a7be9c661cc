package domain

import "time"

// AudienceKind names a rule selecting a subset of recipients.
type AudienceKind string

// Audience kinds.
const (
	AudienceAll         AudienceKind = "all"
	AudienceInactive24h AudienceKind = "inactive_24h"
	AudienceEnrolled    AudienceKind = "enrolled"
	AudienceFreeUsers   AudienceKind = "free_users"
)

// AudienceKinds lists every supported audience in display order.
var AudienceKinds = [...]AudienceKind{
	AudienceAll,
	AudienceInactive24h,
	AudienceEnrolled,
	AudienceFreeUsers,
}

// IsValid reports whether k is one of AudienceKinds.
func (k AudienceKind) IsValid() bool {
	for _, known := range AudienceKinds {
		if k == known {
			return true
		}
	}
	return false
}

// BroadcastRequest is a message to send to an audience.
type BroadcastRequest struct {
	Title    string
	Body     string
	URL      string
	Audience AudienceKind
}

// DeliveryStatus is the result of one delivery attempt.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryDelivered      DeliveryStatus = "delivered"
	DeliveryFailed         DeliveryStatus = "failed"
	DeliveryNoSubscription DeliveryStatus = "no_subscription"
)

// DeliveryOutcome is the per-recipient result of a broadcast.
type DeliveryOutcome struct {
	RecipientID string
	Status      DeliveryStatus
	ErrorDetail string
}

// BroadcastReport summarizes the outcomes of a broadcast.
// TotalRecipients always equals SentSuccessfully + Failed + NoSubscription.
type BroadcastReport struct {
	TotalRecipients  int
	SentSuccessfully int
	Failed           int
	NoSubscription   int
}

// BroadcastLogEntry is an immutable history record of a completed broadcast.
type BroadcastLogEntry struct {
	ID        string
	Title     string
	Body      string
	URL       string
	Audience  AudienceKind
	Report    BroadcastReport
	CreatedAt time.Time
}

// AudienceStat counts the recipients of an audience and how many of them can receive push.
type AudienceStat struct {
	Audience AudienceKind
	Total    int
	WithPush int
}
