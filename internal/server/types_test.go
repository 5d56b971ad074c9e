package server

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/domain"
)

func TestParseInboundFrame(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "valid", input: `{"content":"hi"}`, want: "hi"},
		{name: "extra members ignored", input: `{"content":"hi","room_id":9}`, want: "hi"},
		{name: "not json", input: `hello`, wantErr: ErrMalformedFrame},
		{name: "json array", input: `["hi"]`, wantErr: ErrMalformedFrame},
		{name: "json string", input: `"hi"`, wantErr: ErrMalformedFrame},
		{name: "truncated", input: `{"content":`, wantErr: ErrMalformedFrame},
		{name: "null", input: `null`, wantErr: ErrIncompleteFrame},
		{name: "missing content", input: `{"text":"hi"}`, wantErr: ErrIncompleteFrame},
		{name: "empty content", input: `{"content":""}`, wantErr: ErrIncompleteFrame},
		{name: "numeric content", input: `{"content":5}`, wantErr: ErrIncompleteFrame},
		{name: "null content", input: `{"content":null}`, wantErr: ErrIncompleteFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInboundFrame([]byte(tt.input))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMessageEventShape(t *testing.T) {
	ts := time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.UTC)
	event := MessageEvent(
		domain.Identity{UserID: 3, Username: "alice"},
		domain.Message{ID: 11, RoomID: 7, UserID: 3, Content: "hi", Timestamp: ts},
	)

	raw, err := marshalEvent(event)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, map[string]any{
		"type":      "message",
		"user_id":   float64(3),
		"username":  "alice",
		"content":   "hi",
		"timestamp": "2025-03-04T05:06:07.890Z",
	}, fields)
}

func TestSystemEventCarriesOnlyText(t *testing.T) {
	raw, err := marshalEvent(SystemEvent(joinedNotice("bob")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"system","content":"User bob has joined the chat"}`, string(raw))
	assert.Equal(t, "User bob has left the chat", leftNotice("bob"))
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", SessionState(42).String())
}
