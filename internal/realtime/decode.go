package realtime

import (
	"encoding/json"
	"strings"

	"github.com/uplinq/uplinq/internal/errors"
	"github.com/uplinq/uplinq/internal/metrics"
	"github.com/uplinq/uplinq/internal/models"
)

// Decode boundary: feed payloads are untrusted and loosely shaped. They are
// narrowed into typed entities here, at the subscription edge, so nothing
// loosely-typed leaks inward. Malformed payloads are rejected with a DECODE
// error; callers log and drop them.

// DecodeMessage narrows an event payload into a chat message
func DecodeMessage(e Event) (*models.Message, error) {
	var m models.Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		metrics.Get().EventsDroppedTotal.WithLabelValues("decode").Inc()
		return nil, errors.Decode("malformed message payload", err)
	}
	if m.ID == "" || m.SenderID == "" || m.RecipientID == "" {
		metrics.Get().EventsDroppedTotal.WithLabelValues("decode").Inc()
		return nil, errors.Decode("message payload missing required fields", nil)
	}
	return &m, nil
}

// DecodeNotification narrows an event payload into a notification
func DecodeNotification(e Event) (*models.Notification, error) {
	var n models.Notification
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		metrics.Get().EventsDroppedTotal.WithLabelValues("decode").Inc()
		return nil, errors.Decode("malformed notification payload", err)
	}
	if n.ID == "" || n.UserID == "" {
		metrics.Get().EventsDroppedTotal.WithLabelValues("decode").Inc()
		return nil, errors.Decode("notification payload missing required fields", nil)
	}
	return &n, nil
}

// TypingPayload is the broadcast body for typing indicators. It travels on
// one shared channel, so the recipient id rides in the payload and consumers
// filter on it.
type TypingPayload struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Timestamp   int64  `json:"timestamp"`
}

// DecodeTyping narrows a broadcast payload into a typing signal
func DecodeTyping(e Event) (*TypingPayload, error) {
	var t TypingPayload
	if err := json.Unmarshal(e.Payload, &t); err != nil {
		metrics.Get().EventsDroppedTotal.WithLabelValues("decode").Inc()
		return nil, errors.Decode("malformed typing payload", err)
	}
	if t.SenderID == "" || t.RecipientID == "" {
		metrics.Get().EventsDroppedTotal.WithLabelValues("decode").Inc()
		return nil, errors.Decode("typing payload missing required fields", nil)
	}
	return &t, nil
}

// DeletedID extracts the row id from a delete-event payload, which carries
// only the old row's keys
func DeletedID(e Event) (string, error) {
	var row struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Payload, &row); err != nil || row.ID == "" {
		metrics.Get().EventsDroppedTotal.WithLabelValues("decode").Inc()
		return "", errors.Decode("delete payload missing id", err)
	}
	return row.ID, nil
}

// matchFilter applies a "column=eq.value" filter to a raw payload.
// Unparseable payloads fail the filter rather than erroring.
func matchFilter(filter string, payload json.RawMessage) bool {
	col, want, ok := splitFilter(filter)
	if !ok {
		return false
	}
	var row map[string]json.RawMessage
	if err := json.Unmarshal(payload, &row); err != nil {
		return false
	}
	raw, ok := row[col]
	if !ok {
		return false
	}
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		// non-string columns compare by raw text
		got = string(raw)
	}
	return got == want
}

func splitFilter(filter string) (col, value string, ok bool) {
	i := strings.Index(filter, "=eq.")
	if i <= 0 {
		return "", "", false
	}
	return filter[:i], filter[i+len("=eq."):], true
}
