package broadcast

import (
	"testing"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/stretchr/testify/assert"
)

func outcome(id string, status domain.DeliveryStatus) domain.DeliveryOutcome {
	return domain.DeliveryOutcome{RecipientID: id, Status: status}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		outcomes []domain.DeliveryOutcome
		want     domain.BroadcastReport
	}{
		{
			name:  "mixed outcomes",
			total: 6,
			outcomes: []domain.DeliveryOutcome{
				outcome("1", domain.DeliveryDelivered),
				outcome("2", domain.DeliveryDelivered),
				outcome("3", domain.DeliveryDelivered),
				outcome("4", domain.DeliveryFailed),
				outcome("5", domain.DeliveryNoSubscription),
				outcome("6", domain.DeliveryFailed),
			},
			want: domain.BroadcastReport{TotalRecipients: 6, SentSuccessfully: 3, Failed: 2, NoSubscription: 1},
		},
		{
			name: "empty",
			want: domain.BroadcastReport{},
		},
		{
			name:     "unknown status counts as failed",
			total:    1,
			outcomes: []domain.DeliveryOutcome{outcome("1", "bounced")},
			want:     domain.BroadcastReport{TotalRecipients: 1, Failed: 1},
		},
		{
			name:     "missing outcomes count as failed",
			total:    3,
			outcomes: []domain.DeliveryOutcome{outcome("1", domain.DeliveryDelivered)},
			want:     domain.BroadcastReport{TotalRecipients: 3, SentSuccessfully: 1, Failed: 2},
		},
		{
			name:  "extra outcomes raise the total",
			total: 1,
			outcomes: []domain.DeliveryOutcome{
				outcome("1", domain.DeliveryDelivered),
				outcome("2", domain.DeliveryNoSubscription),
			},
			want: domain.BroadcastReport{TotalRecipients: 2, SentSuccessfully: 1, NoSubscription: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(tt.total, tt.outcomes)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got.TotalRecipients, got.SentSuccessfully+got.Failed+got.NoSubscription)
		})
	}
}

func TestAggregate_OrderIndependent(t *testing.T) {
	outcomes := []domain.DeliveryOutcome{
		outcome("1", domain.DeliveryFailed),
		outcome("2", domain.DeliveryDelivered),
		outcome("3", domain.DeliveryNoSubscription),
		outcome("4", domain.DeliveryDelivered),
	}
	reversed := []domain.DeliveryOutcome{outcomes[3], outcomes[2], outcomes[1], outcomes[0]}

	assert.Equal(t, Aggregate(4, outcomes), Aggregate(4, reversed))
}
