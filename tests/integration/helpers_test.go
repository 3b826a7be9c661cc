//go:build integration

package integration

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/bissquit/push-garden/internal/testutil"
	"github.com/stretchr/testify/require"
)

// pushServiceURL is the base URL of the fake push service started in TestMain.
var pushServiceURL string

type recipientSeed struct {
	id           string
	lastActiveAt time.Time
	enrolled     bool
	plan         string
	// endpointPath is appended to the fake push service URL; empty means no subscription.
	endpointPath string
}

// resetState empties every table, the stats cache and the fake push log.
func resetState(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := testDB.Exec(ctx, `TRUNCATE broadcast_history, push_subscriptions, recipients`)
	require.NoError(t, err)
	require.NoError(t, testRedis.FlushDB(ctx).Err())
	testPushService.Reset()
}

func seedRecipients(t *testing.T, seeds ...recipientSeed) {
	t.Helper()
	ctx := context.Background()

	for _, s := range seeds {
		plan := s.plan
		if plan == "" {
			plan = "free"
		}
		lastActive := s.lastActiveAt
		if lastActive.IsZero() {
			lastActive = time.Now()
		}

		_, err := testDB.Exec(ctx,
			`INSERT INTO recipients (id, last_active_at, is_enrolled, plan_type) VALUES ($1, $2, $3, $4)`,
			s.id, lastActive, s.enrolled, plan)
		require.NoError(t, err)

		if s.endpointPath == "" {
			continue
		}
		p256dh, auth := newClientKeys(t)
		_, err = testDB.Exec(ctx,
			`INSERT INTO push_subscriptions (recipient_id, endpoint, p256dh, auth) VALUES ($1, $2, $3, $4)`,
			s.id, pushServiceURL+s.endpointPath, p256dh, auth)
		require.NoError(t, err)
	}
}

// newClientKeys returns a browser-style P-256 public key and auth secret.
func newClientKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(secret)
}

func activeSubscriptions(t *testing.T) int {
	t.Helper()
	var n int
	err := testDB.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM push_subscriptions WHERE is_active`).Scan(&n)
	require.NoError(t, err)
	return n
}

type reportBody struct {
	TotalUsers       int `json:"totalUsers"`
	SentSuccessfully int `json:"sentSuccessfully"`
	Failed           int `json:"failed"`
	NoSubscription   int `json:"noSubscription"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func sendBroadcast(t *testing.T, client *testutil.Client, payload map[string]interface{}) reportBody {
	t.Helper()

	resp, err := client.POST("/api/v1/broadcasts", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data reportBody `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)

	// Deactivations run in the background.
	testApp.Service().Wait()
	return result.Data
}
