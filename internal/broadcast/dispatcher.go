package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
)

// Error details stored with failed outcomes.
const (
	DetailTimeout        = "timeout"
	DetailSendTimeout    = "send timeout"
	DetailLookupFailed   = "subscription lookup failed"
	DetailTransportError = "transport error"
	DetailPayloadError   = "payload encoding failed"
	DetailInternalError  = "internal error"
)

const (
	deactivationResultOK     = "success"
	deactivationResultFailed = "error"
)

// DispatcherConfig contains dispatcher configuration.
type DispatcherConfig struct {
	// Concurrency is the maximum number of sends in flight.
	Concurrency int
	// SendTimeout bounds a single push-send call.
	SendTimeout time.Duration
	// DeactivateTimeout bounds an out-of-band subscription deactivation.
	DeactivateTimeout time.Duration
}

// DefaultDispatcherConfig returns default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Concurrency:       16,
		SendTimeout:       10 * time.Second,
		DeactivateTimeout: 5 * time.Second,
	}
}

// Dispatcher sends one message per recipient through a bounded worker pool.
// It never retries: each recipient gets exactly one attempt and one outcome.
type Dispatcher struct {
	config        DispatcherConfig
	subscriptions SubscriptionStore
	transport     PushTransport

	pending sync.WaitGroup
}

// NewDispatcher creates a new dispatcher. Zero config values fall back to defaults.
func NewDispatcher(config DispatcherConfig, subscriptions SubscriptionStore, transport PushTransport) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	if config.DeactivateTimeout <= 0 {
		config.DeactivateTimeout = defaults.DeactivateTimeout
	}
	return &Dispatcher{
		config:        config,
		subscriptions: subscriptions,
		transport:     transport,
	}
}

// Dispatch delivers req to every recipient and returns one outcome per id, in the
// order of recipientIDs. When ctx is done, recipients not yet attempted are
// reported as failed with DetailTimeout.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.BroadcastRequest, recipientIDs []string) []domain.DeliveryOutcome {
	outcomes := make([]domain.DeliveryOutcome, len(recipientIDs))
	if len(recipientIDs) == 0 {
		return outcomes
	}

	payload, err := NewPayload(req)
	if err != nil {
		ctxlog.FromContext(ctx).Error("failed to build push payload", "error", err)
		for i, id := range recipientIDs {
			outcomes[i] = failedOutcome(id, DetailPayloadError)
		}
		return outcomes
	}

	workers := min(d.config.Concurrency, len(recipientIDs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				// Each worker owns the slots it receives, so no lock is needed.
				outcomes[i] = d.deliver(ctx, recipientIDs[i], payload)
			}
		}()
	}

	next := 0
feed:
	for ; next < len(recipientIDs); next++ {
		select {
		case jobs <- next:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)

	for i := next; i < len(recipientIDs); i++ {
		outcomes[i] = failedOutcome(recipientIDs[i], DetailTimeout)
	}

	wg.Wait()

	for _, o := range outcomes {
		recordDelivery(o.Status)
	}
	return outcomes
}

// Wait blocks until all pending subscription deactivations have finished.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, recipientID string, payload []byte) (outcome domain.DeliveryOutcome) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("panic during delivery", "recipient_id", recipientID, "panic", r)
			outcome = failedOutcome(recipientID, DetailInternalError)
		}
	}()

	if ctx.Err() != nil {
		return failedOutcome(recipientID, DetailTimeout)
	}

	sub, err := d.subscriptions.GetSubscription(ctx, recipientID)
	if errors.Is(err, ErrSubscriptionNotFound) || (err == nil && sub == nil) {
		return domain.DeliveryOutcome{RecipientID: recipientID, Status: domain.DeliveryNoSubscription}
	}
	if err != nil {
		if ctx.Err() != nil {
			return failedOutcome(recipientID, DetailTimeout)
		}
		ctxlog.FromContext(ctx).Warn("subscription lookup failed", "recipient_id", recipientID, "error", err)
		return failedOutcome(recipientID, DetailLookupFailed)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	start := time.Now()
	err = d.transport.Send(sendCtx, *sub, payload)
	recordSendDuration(time.Since(start))

	if err != nil {
		return d.classifyFailure(ctx, recipientID, err, broadcastDeadlineBinds(ctx, sendCtx))
	}
	return domain.DeliveryOutcome{RecipientID: recipientID, Status: domain.DeliveryDelivered}
}

// broadcastDeadlineBinds reports whether sendCtx expires because the whole
// broadcast does, rather than because of the per-send timeout.
func broadcastDeadlineBinds(ctx, sendCtx context.Context) bool {
	parent, ok := ctx.Deadline()
	if !ok {
		return false
	}
	send, _ := sendCtx.Deadline()
	return !parent.After(send)
}

func (d *Dispatcher) classifyFailure(ctx context.Context, recipientID string, err error, deadlineBinds bool) domain.DeliveryOutcome {
	logger := ctxlog.FromContext(ctx)

	var sendErr *SendError
	switch {
	case errors.As(err, &sendErr):
		logger.Warn("push rejected",
			"recipient_id", recipientID,
			"kind", sendErr.Kind,
			"status_code", sendErr.StatusCode,
		)
		if sendErr.Kind == SendErrorSubscriptionGone {
			d.deactivateAsync(ctx, recipientID)
		}
		return failedOutcome(recipientID, sendErr.Detail())
	case ctx.Err() != nil:
		return failedOutcome(recipientID, DetailTimeout)
	case errors.Is(err, context.DeadlineExceeded) && deadlineBinds:
		// Refused before the deadline passed, e.g. by a rate limiter that
		// would have waited beyond it. The message never went out.
		return failedOutcome(recipientID, DetailTimeout)
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("push send timed out", "recipient_id", recipientID)
		return failedOutcome(recipientID, DetailSendTimeout)
	default:
		logger.Warn("push send failed", "recipient_id", recipientID, "error", err)
		return failedOutcome(recipientID, DetailTransportError)
	}
}

// deactivateAsync removes a subscription the push service reported as gone.
// It runs detached from the broadcast so a slow or failing store never holds up
// delivery or changes the outcome already recorded.
func (d *Dispatcher) deactivateAsync(ctx context.Context, recipientID string) {
	logger := ctxlog.FromContext(ctx)
	detached := context.WithoutCancel(ctx)

	d.pending.Add(1)
	go func() {
		defer d.pending.Done()

		dctx, cancel := context.WithTimeout(detached, d.config.DeactivateTimeout)
		defer cancel()

		if err := d.subscriptions.DeactivateSubscription(dctx, recipientID); err != nil {
			recordDeactivation(deactivationResultFailed)
			logger.Error("failed to deactivate subscription", "recipient_id", recipientID, "error", err)
			return
		}
		recordDeactivation(deactivationResultOK)
		logger.Info("subscription deactivated", "recipient_id", recipientID)
	}()
}

func failedOutcome(recipientID, detail string) domain.DeliveryOutcome {
	return domain.DeliveryOutcome{
		RecipientID: recipientID,
		Status:      domain.DeliveryFailed,
		ErrorDetail: detail,
	}
}
