package webpush

import (
	"context"

	"github.com/bissquit/push-garden/internal/broadcast"
	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
)

// LogTransport accepts every message without contacting a push service.
// It is used when Web Push is disabled, e.g. in local development.
type LogTransport struct{}

var _ broadcast.PushTransport = LogTransport{}

// Send logs the message and reports success.
func (LogTransport) Send(ctx context.Context, sub domain.Subscription, payload []byte) error {
	ctxlog.FromContext(ctx).Debug("web push disabled, message dropped",
		"recipient_id", sub.RecipientID,
		"endpoint", maskEndpoint(sub.Endpoint),
		"payload_bytes", len(payload),
	)
	return nil
}
