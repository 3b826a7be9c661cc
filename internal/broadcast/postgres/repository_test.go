//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/bissquit/push-garden/internal/broadcast"
	"github.com/bissquit/push-garden/internal/domain"
	pkgpostgres "github.com/bissquit/push-garden/internal/pkg/postgres"
	"github.com/bissquit/push-garden/internal/testutil"
	"github.com/bissquit/push-garden/migrations"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	if err := pkgpostgres.Migrate(container.ConnectionString, migrations.FS); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	testPool, err = pkgpostgres.Connect(ctx, pkgpostgres.Config{
		URL:             container.ConnectionString,
		MaxOpenConns:    4,
		ConnectAttempts: 3,
	})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	code := m.Run()

	testPool.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}
	os.Exit(code)
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `TRUNCATE broadcast_history, push_subscriptions, recipients`)
	require.NoError(t, err)
	return NewRepository(testPool)
}

func insertRecipient(t *testing.T, id string, lastActive time.Time, enrolled bool, plan domain.PlanType) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`INSERT INTO recipients (id, last_active_at, is_enrolled, plan_type) VALUES ($1, $2, $3, $4)`,
		id, lastActive, enrolled, plan)
	require.NoError(t, err)
}

func insertSubscription(t *testing.T, recipientID, endpoint string) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`INSERT INTO push_subscriptions (recipient_id, endpoint, p256dh, auth) VALUES ($1, $2, 'p256dh', 'auth')`,
		recipientID, endpoint)
	require.NoError(t, err)
}

func TestRepository_ListRecipients(t *testing.T) {
	repo := newTestRepository(t)
	lastActive := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	insertRecipient(t, "with-push", lastActive, true, domain.PlanPaid)
	insertRecipient(t, "without-push", lastActive, false, domain.PlanFree)
	insertSubscription(t, "with-push", "https://push.example/1")

	recipients, err := repo.ListRecipients(context.Background())
	require.NoError(t, err)
	require.Len(t, recipients, 2)

	byID := map[string]domain.Recipient{}
	for _, r := range recipients {
		byID[r.ID] = r
	}

	withPush := byID["with-push"]
	require.NotNil(t, withPush.Subscription)
	assert.Equal(t, "https://push.example/1", withPush.Subscription.Endpoint)
	assert.Equal(t, "with-push", withPush.Subscription.RecipientID)
	assert.True(t, withPush.IsEnrolled)
	assert.Equal(t, domain.PlanPaid, withPush.PlanType)
	assert.True(t, lastActive.Equal(withPush.LastActiveAt))

	assert.Nil(t, byID["without-push"].Subscription)
	assert.Equal(t, domain.PlanFree, byID["without-push"].PlanType)
}

func TestRepository_Subscriptions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	insertRecipient(t, "r1", time.Now(), false, domain.PlanFree)
	insertSubscription(t, "r1", "https://push.example/r1")

	sub, err := repo.GetSubscription(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "https://push.example/r1", sub.Endpoint)
	assert.Equal(t, "p256dh", sub.Keys.P256dh)
	assert.Equal(t, "auth", sub.Keys.Auth)

	require.NoError(t, repo.DeactivateSubscription(ctx, "r1"))

	_, err = repo.GetSubscription(ctx, "r1")
	assert.ErrorIs(t, err, broadcast.ErrSubscriptionNotFound)

	err = repo.DeactivateSubscription(ctx, "r1")
	assert.ErrorIs(t, err, broadcast.ErrSubscriptionNotFound)

	recipients, err := repo.ListRecipients(ctx)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Nil(t, recipients[0].Subscription, "deactivated subscription is not reachable")

	// A recipient may resubscribe after deactivation.
	insertSubscription(t, "r1", "https://push.example/r1-new")
	sub, err = repo.GetSubscription(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "https://push.example/r1-new", sub.Endpoint)
}

func TestRepository_GetSubscription_Unknown(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetSubscription(context.Background(), "ghost")
	assert.ErrorIs(t, err, broadcast.ErrSubscriptionNotFound)
}

func TestRepository_History(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i, title := range []string{"first", "second", "third"} {
		entry := &domain.BroadcastLogEntry{
			ID:        uuid.NewString(),
			Title:     title,
			Body:      "body",
			Audience:  domain.AudienceAll,
			Report:    domain.BroadcastReport{TotalRecipients: 3, SentSuccessfully: 1, Failed: 1, NoSubscription: 1},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if i == 0 {
			entry.URL = "/courses/1"
		}
		require.NoError(t, repo.RecordBroadcast(ctx, entry))
	}

	entries, total, err := repo.ListBroadcasts(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Title)
	assert.Equal(t, "second", entries[1].Title)
	assert.Empty(t, entries[0].URL)
	assert.Equal(t, domain.AudienceAll, entries[0].Audience)
	assert.Equal(t, domain.BroadcastReport{TotalRecipients: 3, SentSuccessfully: 1, Failed: 1, NoSubscription: 1}, entries[0].Report)

	entries, _, err = repo.ListBroadcasts(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/courses/1", entries[0].URL)
	assert.True(t, base.Equal(entries[0].CreatedAt))

	entries, total, err = repo.ListBroadcasts(ctx, 10, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, entries)
}

func TestRepository_History_SameTimestampNewestFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, title := range []string{"older", "newer"} {
		id, err := uuid.NewV7()
		require.NoError(t, err)
		require.NoError(t, repo.RecordBroadcast(ctx, &domain.BroadcastLogEntry{
			ID:        id.String(),
			Title:     title,
			Body:      "b",
			Audience:  domain.AudienceAll,
			CreatedAt: at,
		}))
	}

	entries, _, err := repo.ListBroadcasts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "newer", entries[0].Title)
	assert.Equal(t, "older", entries[1].Title)
}

func TestRepository_RecordBroadcast_RejectsInconsistentReport(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.RecordBroadcast(context.Background(), &domain.BroadcastLogEntry{
		ID:        uuid.NewString(),
		Title:     "t",
		Body:      "b",
		Audience:  domain.AudienceAll,
		Report:    domain.BroadcastReport{TotalRecipients: 5, SentSuccessfully: 1},
		CreatedAt: time.Now(),
	})
	assert.Error(t, err)
}
