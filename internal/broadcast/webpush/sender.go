// Package webpush delivers broadcast payloads through the Web Push protocol
// with VAPID authentication.
package webpush

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/bissquit/push-garden/internal/broadcast"
	"github.com/bissquit/push-garden/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	defaultTTL     = 24 * time.Hour
	maxErrorBody   = 512
)

// Config holds Web Push sender configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string        // contact email or URL sent in the VAPID claims
	TTL             time.Duration // how long the push service keeps an undelivered message
	Urgency         string        // very-low, low, normal or high
	Topic           string        // optional collapse key
	Timeout         time.Duration // HTTP client timeout
	RateLimit       float64       // sends per second across all workers, 0 for unlimited
	RateBurst       int
}

// Sender implements broadcast.PushTransport.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ broadcast.PushTransport = (*Sender)(nil)

// NewSender creates a new Web Push sender.
func NewSender(config Config) *Sender {
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.Urgency == "" {
		config.Urgency = string(webpush.UrgencyNormal)
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 1
	}

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, config.RateBurst),
	}
}

// Send encrypts payload for sub and posts it to the subscription endpoint.
func (s *Sender) Send(ctx context.Context, sub domain.Subscription, payload []byte) error {
	if sub.Endpoint == "" {
		return &broadcast.SendError{Kind: broadcast.SendErrorRejected, Message: "subscription endpoint is empty"}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("wait for rate limiter: %w", ctxErr)
		}
		// The limiter refuses up front when the next token would arrive after the deadline.
		return fmt.Errorf("wait for rate limiter: %w: %w", context.DeadlineExceeded, err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.config.Subscriber,
		Topic:           s.config.Topic,
		TTL:             int(s.config.TTL.Seconds()),
		Urgency:         webpush.Urgency(s.config.Urgency),
		VAPIDPublicKey:  s.config.VAPIDPublicKey,
		VAPIDPrivateKey: s.config.VAPIDPrivateKey,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("send notification: %w", ctxErr)
		}
		if isEncryptionError(err) {
			return &broadcast.SendError{Kind: broadcast.SendErrorRejected, Message: fmt.Sprintf("encrypt payload: %v", err)}
		}
		return &broadcast.SendError{Kind: broadcast.SendErrorNetwork, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, sub.Endpoint)
}

func handleResponse(resp *http.Response, endpoint string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		slog.Debug("push message accepted", "endpoint", maskEndpoint(endpoint), "status", resp.StatusCode)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &broadcast.SendError{
			Kind:       broadcast.SendErrorSubscriptionGone,
			StatusCode: resp.StatusCode,
			Message:    "subscription expired or unsubscribed",
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &broadcast.SendError{
			Kind:       broadcast.SendErrorRateLimited,
			StatusCode: resp.StatusCode,
			Message:    "rate limited",
		}
	case resp.StatusCode >= 500:
		return &broadcast.SendError{
			Kind:       broadcast.SendErrorUnavailable,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("push service error: %s", body),
		}
	default:
		return &broadcast.SendError{
			Kind:       broadcast.SendErrorRejected,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("push rejected: %s", body),
		}
	}
}

// isEncryptionError reports errors raised while preparing the message, before
// any network traffic. Those come from malformed subscription keys.
func isEncryptionError(err error) bool {
	var urlErr *url.Error
	return !errors.As(err, &urlErr)
}

// maskEndpoint hides the subscription token part of the endpoint for logging.
func maskEndpoint(endpoint string) string {
	if len(endpoint) > 40 {
		return endpoint[:30] + "..."
	}
	return endpoint
}
