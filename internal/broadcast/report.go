package broadcast

import "github.com/bissquit/push-garden/internal/domain"

// Aggregate tallies outcomes into a report. Every outcome lands in exactly one
// bucket; unknown statuses count as failed. Recipients of total without an
// outcome count as failed, and extra outcomes raise the total, so
// TotalRecipients == SentSuccessfully + Failed + NoSubscription always holds.
func Aggregate(total int, outcomes []domain.DeliveryOutcome) domain.BroadcastReport {
	var report domain.BroadcastReport
	for _, o := range outcomes {
		switch o.Status {
		case domain.DeliveryDelivered:
			report.SentSuccessfully++
		case domain.DeliveryNoSubscription:
			report.NoSubscription++
		default:
			report.Failed++
		}
	}

	counted := report.SentSuccessfully + report.Failed + report.NoSubscription
	if total > counted {
		report.Failed += total - counted
		counted = total
	}
	report.TotalRecipients = counted
	return report
}
