package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/domain"
)

// EventType tags an outbound event.
type EventType string

const (
	// EventSystem carries join/leave and other server notices.
	EventSystem EventType = "system"
	// EventMessage carries a persisted chat message.
	EventMessage EventType = "message"
)

// timestampLayout is ISO-8601 with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// malformedFrameReply is sent as plain text, not as an Event, to the connection
// that sent a frame that is not a JSON object.
const malformedFrameReply = "Invalid JSON format. Please send proper JSON."

// persistFailureNotice is sent to the sender when its message could not be stored.
const persistFailureNotice = "Message could not be delivered"

// Event is the outbound frame format.
type Event struct {
	Type      EventType `json:"type"`
	UserID    int64     `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// SystemEvent builds a system notice.
func SystemEvent(content string) Event {
	return Event{Type: EventSystem, Content: content}
}

// MessageEvent builds the broadcast form of a persisted message.
func MessageEvent(author domain.Identity, msg domain.Message) Event {
	return Event{
		Type:      EventMessage,
		UserID:    author.UserID,
		Username:  author.Username,
		Content:   msg.Content,
		Timestamp: FormatTimestamp(msg.Timestamp),
	}
}

func marshalEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}

// FormatTimestamp renders t in UTC using the wire timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func joinedNotice(username string) string {
	return fmt.Sprintf("User %s has joined the chat", username)
}

func leftNotice(username string) string {
	return fmt.Sprintf("User %s has left the chat", username)
}

var (
	// ErrMalformedFrame marks an inbound frame that is not a JSON object.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrIncompleteFrame marks a JSON object without a non-empty string content.
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// parseInboundFrame extracts the content of a chat frame. Members other than
// content are ignored.
func parseInboundFrame(data []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	raw, ok := fields["content"]
	if !ok {
		return "", fmt.Errorf("%w: missing content", ErrIncompleteFrame)
	}
	var content string
	if err := json.Unmarshal(raw, &content); err != nil {
		return "", fmt.Errorf("%w: content is not a string", ErrIncompleteFrame)
	}
	if content == "" {
		return "", fmt.Errorf("%w: empty content", ErrIncompleteFrame)
	}
	return content, nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
