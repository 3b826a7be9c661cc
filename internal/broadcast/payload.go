package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/bissquit/push-garden/internal/domain"
)

const payloadTag = "admin-broadcast"

// Payload is the JSON document the service worker receives.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag"`
}

// NewPayload encodes the push payload for a request.
func NewPayload(req domain.BroadcastRequest) ([]byte, error) {
	b, err := json.Marshal(Payload{
		Title: req.Title,
		Body:  req.Body,
		URL:   req.URL,
		Tag:   payloadTag,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}
