package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bissquit/push-garden/internal/domain"
)

var errStorageDown = errors.New("connection refused")

type mockDirectory struct {
	recipients []domain.Recipient
	err        error
	calls      atomic.Int32
}

func (m *mockDirectory) ListRecipients(_ context.Context) ([]domain.Recipient, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Recipient, len(m.recipients))
	copy(out, m.recipients)
	return out, nil
}

type mockSubscriptions struct {
	mu            sync.Mutex
	subs          map[string]domain.Subscription
	lookupErr     map[string]error
	deactivateErr error
	deactivated   []string
}

func newMockSubscriptions(recipients ...domain.Recipient) *mockSubscriptions {
	m := &mockSubscriptions{
		subs:      make(map[string]domain.Subscription),
		lookupErr: make(map[string]error),
	}
	for _, r := range recipients {
		if r.Subscription != nil {
			m.subs[r.ID] = *r.Subscription
		}
	}
	return m
}

func (m *mockSubscriptions) GetSubscription(_ context.Context, recipientID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.lookupErr[recipientID]; ok {
		return nil, err
	}
	sub, ok := m.subs[recipientID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (m *mockSubscriptions) DeactivateSubscription(_ context.Context, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deactivateErr != nil {
		return m.deactivateErr
	}
	delete(m.subs, recipientID)
	m.deactivated = append(m.deactivated, recipientID)
	return nil
}

func (m *mockSubscriptions) Deactivated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deactivated...)
}

type mockHistory struct {
	mu      sync.Mutex
	entries []domain.BroadcastLogEntry
	err     error
	ctxErr  error
}

func (m *mockHistory) RecordBroadcast(ctx context.Context, entry *domain.BroadcastLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ctxErr = ctx.Err()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockHistory) ListBroadcasts(_ context.Context, limit, offset int) ([]domain.BroadcastLogEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, 0, m.err
	}
	newestFirst := make([]domain.BroadcastLogEntry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0; i-- {
		newestFirst = append(newestFirst, m.entries[i])
	}
	total := len(newestFirst)
	if offset >= total {
		return []domain.BroadcastLogEntry{}, total, nil
	}
	end := min(offset+limit, total)
	return newestFirst[offset:end], total, nil
}

func (m *mockHistory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// mockTransport delivers every message unless a per-endpoint error or hook is set.
type mockTransport struct {
	mu       sync.Mutex
	errs     map[string]error
	hook     func(ctx context.Context, sub domain.Subscription) error
	sent     []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newMockTransport() *mockTransport {
	return &mockTransport{errs: make(map[string]error)}
}

func (m *mockTransport) Send(ctx context.Context, sub domain.Subscription, _ []byte) error {
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		peak := m.peak.Load()
		if cur <= peak || m.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	m.mu.Lock()
	m.sent = append(m.sent, sub.RecipientID)
	err := m.errs[sub.Endpoint]
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, sub); err != nil {
			return err
		}
	}
	return err
}

func (m *mockTransport) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func subscribed(id string) domain.Recipient {
	return domain.Recipient{
		ID: id,
		Subscription: &domain.Subscription{
			RecipientID: id,
			Endpoint:    "https://push.example/" + id,
			Keys:        domain.SubscriptionKeys{P256dh: "p256dh-" + id, Auth: "auth-" + id},
		},
		PlanType: domain.PlanFree,
	}
}

func unsubscribed(id string) domain.Recipient {
	return domain.Recipient{ID: id, PlanType: domain.PlanFree}
}
