package broadcast

import (
	"time"

	"github.com/bissquit/push-garden/internal/domain"
)

// InactivityThreshold is how long a recipient must be idle to be in the inactive_24h audience.
const InactivityThreshold = 24 * time.Hour

// handledAudienceKinds is the number of cases in matcherFor. Adding a kind to
// domain.AudienceKinds without handling it here fails to compile.
const handledAudienceKinds = 4

var _ = [1]struct{}{}[len(domain.AudienceKinds)-handledAudienceKinds]

type matcher func(r domain.Recipient) bool

func matcherFor(kind domain.AudienceKind, now time.Time) (matcher, bool) {
	switch kind {
	case domain.AudienceAll:
		return func(domain.Recipient) bool { return true }, true
	case domain.AudienceInactive24h:
		cutoff := now.Add(-InactivityThreshold)
		return func(r domain.Recipient) bool { return r.LastActiveAt.Before(cutoff) }, true
	case domain.AudienceEnrolled:
		return func(r domain.Recipient) bool { return r.IsEnrolled }, true
	case domain.AudienceFreeUsers:
		return func(r domain.Recipient) bool { return r.PlanType == domain.PlanFree }, true
	default:
		return nil, false
	}
}

// Resolve returns the ids of recipients that belong to the audience at instant now.
// Recipients with an empty id are skipped and duplicate ids are kept once, in input order.
// The result is never nil for a known kind.
func Resolve(kind domain.AudienceKind, recipients []domain.Recipient, now time.Time) ([]string, error) {
	match, ok := matcherFor(kind, now)
	if !ok {
		return nil, ErrInvalidAudience
	}

	ids := make([]string, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		if r.ID == "" || !match(r) {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// Stats counts each audience and how many of its members have a push subscription.
func Stats(recipients []domain.Recipient, now time.Time) []domain.AudienceStat {
	byID := make(map[string]domain.Recipient, len(recipients))
	for _, r := range recipients {
		if _, ok := byID[r.ID]; !ok {
			byID[r.ID] = r
		}
	}

	stats := make([]domain.AudienceStat, 0, len(domain.AudienceKinds))
	for _, kind := range domain.AudienceKinds {
		ids, err := Resolve(kind, recipients, now)
		if err != nil {
			continue
		}
		stat := domain.AudienceStat{Audience: kind, Total: len(ids)}
		for _, id := range ids {
			if byID[id].HasPush() {
				stat.WithPush++
			}
		}
		stats = append(stats, stat)
	}
	return stats
}
