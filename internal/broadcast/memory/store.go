// Package memory provides an in-process implementation of the broadcast
// repositories for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/push-garden/internal/broadcast"
	"github.com/bissquit/push-garden/internal/domain"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Store keeps recipients, subscriptions and broadcast history in memory.
// Reads run concurrently; writes take an exclusive lock.
type Store struct {
	mu            sync.RWMutex
	order         []string
	recipients    map[string]domain.Recipient
	subscriptions map[string]domain.Subscription
	history       []domain.BroadcastLogEntry
	now           func() time.Time
}

var (
	_ broadcast.RecipientDirectory = (*Store)(nil)
	_ broadcast.SubscriptionStore  = (*Store)(nil)
	_ broadcast.HistoryRepository  = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		recipients:    make(map[string]domain.Recipient),
		subscriptions: make(map[string]domain.Subscription),
		now:           time.Now,
	}
}

// Seed is the layout of a seed file.
type Seed struct {
	Recipients []domain.Recipient `koanf:"recipients"`
}

// LoadSeedFile reads recipients and their subscriptions from a YAML file.
func LoadSeedFile(path string) (*Seed, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load seed file %s: %w", path, err)
	}

	var seed Seed
	if err := k.UnmarshalWithConf("", &seed, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// PutRecipient adds or replaces a recipient. A non-nil subscription becomes
// the recipient's active subscription.
func (s *Store) PutRecipient(r domain.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recipients[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	if r.Subscription != nil {
		sub := *r.Subscription
		sub.RecipientID = r.ID
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = s.now()
		}
		s.subscriptions[r.ID] = sub
	} else {
		delete(s.subscriptions, r.ID)
	}
	r.Subscription = nil
	s.recipients[r.ID] = r
}

// ListRecipients returns a snapshot of all recipients in insertion order.
func (s *Store) ListRecipients(_ context.Context) ([]domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Recipient, 0, len(s.order))
	for _, id := range s.order {
		r := s.recipients[id]
		if sub, ok := s.subscriptions[id]; ok {
			r.Subscription = &sub
		}
		result = append(result, r)
	}
	return result, nil
}

// GetSubscription returns a copy of the recipient's active subscription.
func (s *Store) GetSubscription(_ context.Context, recipientID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[recipientID]
	if !ok {
		return nil, broadcast.ErrSubscriptionNotFound
	}
	return &sub, nil
}

// DeactivateSubscription removes the recipient's active subscription.
func (s *Store) DeactivateSubscription(_ context.Context, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[recipientID]; !ok {
		return broadcast.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, recipientID)
	return nil
}

// RecordBroadcast appends a copy of entry to history.
func (s *Store) RecordBroadcast(_ context.Context, entry *domain.BroadcastLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, *entry)
	return nil
}

// ListBroadcasts returns copies of history entries, newest first.
func (s *Store) ListBroadcasts(_ context.Context, limit, offset int) ([]domain.BroadcastLogEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := make([]domain.BroadcastLogEntry, len(s.history))
	copy(sorted, s.history)
	// Ties on CreatedAt keep reverse insertion order.
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	total := len(sorted)
	if offset >= total {
		return []domain.BroadcastLogEntry{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return sorted[offset:end], total, nil
}
