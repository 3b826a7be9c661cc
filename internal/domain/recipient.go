package domain

import "time"

// PlanType is the billing plan of a recipient.
type PlanType string

// Plan types.
const (
	PlanFree PlanType = "free"
	PlanPaid PlanType = "paid"
)

// Recipient is an addressable user as seen by the broadcast engine.
// Subscription is nil when the recipient never registered a device.
type Recipient struct {
	ID           string        `koanf:"id"`
	Subscription *Subscription `koanf:"subscription"`
	LastActiveAt time.Time     `koanf:"last_active_at"`
	IsEnrolled   bool          `koanf:"is_enrolled"`
	PlanType     PlanType      `koanf:"plan_type"`
}

// HasPush reports whether the recipient can be reached by push.
func (r Recipient) HasPush() bool {
	return r.Subscription != nil
}
