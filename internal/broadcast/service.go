package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// History pagination limits.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Broadcast lifecycle states, logged at debug level.
const (
	stateValidating  = "validating"
	stateRejected    = "rejected"
	stateResolving   = "resolving"
	stateDispatching = "dispatching"
	stateAggregating = "aggregating"
	stateRecorded    = "recorded"
)

// Broadcast results used as metric labels.
const (
	resultRecorded = "recorded"
	resultRejected = "rejected"
	resultFailed   = "failed"
)

// Config contains service configuration.
type Config struct {
	// Timeout is the deadline of a whole broadcast, zero for none.
	Timeout time.Duration
	// RecordTimeout bounds the history write. It starts after dispatch and is
	// independent of Timeout so that timed-out broadcasts are still recorded.
	RecordTimeout time.Duration
}

// DefaultConfig returns default service configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       2 * time.Minute,
		RecordTimeout: 10 * time.Second,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithStatsCache caches audience stats in c.
func WithStatsCache(c StatsCache) Option {
	return func(s *Service) { s.statsCache = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service runs broadcasts end to end.
type Service struct {
	config     Config
	directory  RecipientDirectory
	dispatcher *Dispatcher
	history    HistoryRepository
	statsCache StatsCache
	validator  *validator.Validate
	now        func() time.Time

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewService creates a new broadcast service.
func NewService(config Config, directory RecipientDirectory, dispatcher *Dispatcher, history HistoryRepository, opts ...Option) *Service {
	if config.RecordTimeout <= 0 {
		config.RecordTimeout = DefaultConfig().RecordTimeout
	}
	s := &Service{
		config:     config,
		directory:  directory,
		dispatcher: dispatcher,
		history:    history,
		validator:  newRequestValidator(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Broadcast validates req, sends it to its audience and records the result.
// It returns a *ValidationError for bad requests and wraps ErrRecipientsUnavailable
// or ErrHistoryUnavailable when storage fails. Per-recipient failures are only
// reflected in the report.
func (s *Service) Broadcast(ctx context.Context, req domain.BroadcastRequest) (domain.BroadcastReport, error) {
	if !s.begin() {
		return domain.BroadcastReport{}, ErrShuttingDown
	}
	defer s.inflight.Done()

	start := time.Now()
	id, err := newEntryID()
	if err != nil {
		return domain.BroadcastReport{}, err
	}
	req = normalizeRequest(req)

	logger := ctxlog.FromContext(ctx).With("broadcast_id", id)
	ctx = ctxlog.WithLogger(ctx, logger)

	logger.Debug("broadcast state", "state", stateValidating)
	if err := s.validateRequest(req); err != nil {
		logger.Debug("broadcast state", "state", stateRejected)
		logger.Info("broadcast rejected", "audience", req.Audience, "error", err)
		recordBroadcast(audienceLabel(req.Audience), resultRejected, time.Since(start))
		return domain.BroadcastReport{}, err
	}

	runCtx := ctx
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	logger.Debug("broadcast state", "state", stateResolving)
	recipients, err := s.directory.ListRecipients(runCtx)
	if err != nil {
		recordBroadcast(req.Audience, resultFailed, time.Since(start))
		return domain.BroadcastReport{}, fmt.Errorf("%w: %w", ErrRecipientsUnavailable, err)
	}

	ids, err := Resolve(req.Audience, recipients, s.now())
	if err != nil {
		return domain.BroadcastReport{}, err
	}

	logger.Debug("broadcast state", "state", stateDispatching, "recipients", len(ids))
	outcomes := s.dispatcher.Dispatch(runCtx, req, ids)

	logger.Debug("broadcast state", "state", stateAggregating)
	report := Aggregate(len(ids), outcomes)

	if _, err := s.record(ctx, id, req, report, s.now()); err != nil {
		recordBroadcast(req.Audience, resultFailed, time.Since(start))
		logger.Error("broadcast not recorded",
			"audience", req.Audience,
			"total", report.TotalRecipients,
			"error", err,
		)
		return domain.BroadcastReport{}, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	logger.Debug("broadcast state", "state", stateRecorded)

	recordBroadcast(req.Audience, resultRecorded, time.Since(start))
	logger.Info("broadcast completed",
		"audience", req.Audience,
		"total", report.TotalRecipients,
		"sent", report.SentSuccessfully,
		"failed", report.Failed,
		"no_subscription", report.NoSubscription,
		"duration", time.Since(start),
	)
	return report, nil
}

// record appends the broadcast to history. The write is detached from the
// broadcast deadline so that a timed-out broadcast is still audited.
func (s *Service) record(ctx context.Context, id string, req domain.BroadcastRequest, report domain.BroadcastReport, at time.Time) (domain.BroadcastLogEntry, error) {
	entry := domain.BroadcastLogEntry{
		ID:        id,
		Title:     req.Title,
		Body:      req.Body,
		URL:       req.URL,
		Audience:  req.Audience,
		Report:    report,
		CreatedAt: at.UTC(),
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.RecordTimeout)
	defer cancel()

	if err := s.history.RecordBroadcast(recordCtx, &entry); err != nil {
		return domain.BroadcastLogEntry{}, err
	}
	return entry, nil
}

// HistoryPage is one page of broadcast history.
type HistoryPage struct {
	Entries []domain.BroadcastLogEntry
	Total   int
	Limit   int
	Offset  int
}

// ListHistory returns broadcast history newest first. Limit is clamped to
// [1, MaxHistoryLimit], defaulting to DefaultHistoryLimit.
func (s *Service) ListHistory(ctx context.Context, limit, offset int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	entries, total, err := s.history.ListBroadcasts(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	return &HistoryPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

// AudienceStats counts every audience and its reachable members. It has no side
// effects besides filling the optional stats cache.
func (s *Service) AudienceStats(ctx context.Context) ([]domain.AudienceStat, error) {
	logger := ctxlog.FromContext(ctx)

	if s.statsCache != nil {
		stats, ok, err := s.statsCache.Get(ctx)
		if err != nil {
			logger.Warn("audience stats cache read failed", "error", err)
		} else if ok {
			return stats, nil
		}
	}

	recipients, err := s.directory.ListRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecipientsUnavailable, err)
	}
	stats := Stats(recipients, s.now())

	if s.statsCache != nil {
		if err := s.statsCache.Set(ctx, stats); err != nil {
			logger.Warn("audience stats cache write failed", "error", err)
		}
	}
	return stats, nil
}

// Wait blocks until running broadcasts and their background work have finished.
// It must not race with new Broadcast calls; use Shutdown for that.
func (s *Service) Wait() {
	s.inflight.Wait()
	s.dispatcher.Wait()
}

// Shutdown rejects new broadcasts with ErrShuttingDown and waits for running
// ones, including their history writes and pending deactivations. It returns
// ctx.Err() if they do not finish in time.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running broadcasts: %w", ctx.Err())
	}
}

func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

// newEntryID returns a time-ordered UUIDv7 so that ids break created_at ties
// in insertion order.
func newEntryID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate broadcast id: %w", err)
	}
	return id.String(), nil
}

func audienceLabel(kind domain.AudienceKind) domain.AudienceKind {
	if kind.IsValid() {
		return kind
	}
	return "invalid"
}
