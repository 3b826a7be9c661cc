package broadcast

import (
	"testing"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testRecipients() []domain.Recipient {
	return []domain.Recipient{
		{ID: "active-paid-enrolled", LastActiveAt: testNow.Add(-time.Hour), IsEnrolled: true, PlanType: domain.PlanPaid},
		{ID: "idle-free", LastActiveAt: testNow.Add(-48 * time.Hour), PlanType: domain.PlanFree},
		{ID: "exactly-24h", LastActiveAt: testNow.Add(-24 * time.Hour), PlanType: domain.PlanFree},
		{ID: "24h-and-a-second", LastActiveAt: testNow.Add(-24*time.Hour - time.Second), IsEnrolled: true, PlanType: domain.PlanPaid},
	}
}

func TestResolve_EveryKindIsHandled(t *testing.T) {
	for _, kind := range domain.AudienceKinds {
		t.Run(string(kind), func(t *testing.T) {
			ids, err := Resolve(kind, testRecipients(), testNow)
			require.NoError(t, err)
			assert.NotNil(t, ids)
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		kind domain.AudienceKind
		want []string
	}{
		{
			kind: domain.AudienceAll,
			want: []string{"active-paid-enrolled", "idle-free", "exactly-24h", "24h-and-a-second"},
		},
		{
			kind: domain.AudienceInactive24h,
			want: []string{"idle-free", "24h-and-a-second"},
		},
		{
			kind: domain.AudienceEnrolled,
			want: []string{"active-paid-enrolled", "24h-and-a-second"},
		},
		{
			kind: domain.AudienceFreeUsers,
			want: []string{"idle-free", "exactly-24h"},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ids, err := Resolve(tt.kind, testRecipients(), testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestResolve_InactivityBoundary(t *testing.T) {
	recipients := []domain.Recipient{
		{ID: "exactly", LastActiveAt: testNow.Add(-24 * time.Hour)},
		{ID: "just-over", LastActiveAt: testNow.Add(-24*time.Hour - time.Second)},
		{ID: "just-under", LastActiveAt: testNow.Add(-24*time.Hour + time.Second)},
	}

	ids, err := Resolve(domain.AudienceInactive24h, recipients, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"just-over"}, ids)
}

func TestResolve_UnknownAudience(t *testing.T) {
	for _, kind := range []domain.AudienceKind{"everyone", "", "ALL"} {
		ids, err := Resolve(kind, testRecipients(), testNow)
		assert.ErrorIs(t, err, ErrInvalidAudience, "kind %q", kind)
		assert.Nil(t, ids)
	}
}

func TestResolve_SkipsEmptyAndDuplicateIDs(t *testing.T) {
	recipients := []domain.Recipient{
		{ID: "a", PlanType: domain.PlanFree},
		{ID: "", PlanType: domain.PlanFree},
		{ID: "b", PlanType: domain.PlanFree},
		{ID: "a", PlanType: domain.PlanPaid},
	}

	ids, err := Resolve(domain.AudienceAll, recipients, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestResolve_EmptyDirectory(t *testing.T) {
	ids, err := Resolve(domain.AudienceEnrolled, nil, testNow)
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestResolve_Idempotent(t *testing.T) {
	recipients := testRecipients()
	for _, kind := range domain.AudienceKinds {
		first, err := Resolve(kind, recipients, testNow)
		require.NoError(t, err)
		second, err := Resolve(kind, recipients, testNow)
		require.NoError(t, err)
		assert.Equal(t, first, second, "kind %s", kind)
	}
}

func TestStats(t *testing.T) {
	recipients := []domain.Recipient{
		subscribed("s1"),
		unsubscribed("u1"),
		{ID: "s2", IsEnrolled: true, PlanType: domain.PlanPaid, LastActiveAt: testNow.Add(-72 * time.Hour),
			Subscription: &domain.Subscription{Endpoint: "https://push.example/s2"}},
	}
	recipients[0].LastActiveAt = testNow
	recipients[1].LastActiveAt = testNow

	stats := Stats(recipients, testNow)

	assert.Equal(t, []domain.AudienceStat{
		{Audience: domain.AudienceAll, Total: 3, WithPush: 2},
		{Audience: domain.AudienceInactive24h, Total: 1, WithPush: 1},
		{Audience: domain.AudienceEnrolled, Total: 1, WithPush: 1},
		{Audience: domain.AudienceFreeUsers, Total: 2, WithPush: 1},
	}, stats)
}
