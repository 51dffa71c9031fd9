package models

import (
	"encoding/json"
	"errors"
)

// ErrMalformedEnvelope is returned when a log value is not a single-sender envelope.
var ErrMalformedEnvelope = errors.New("malformed message envelope")

// LogEntry is a raw member of a room log together with its score.
type LogEntry struct {
	Value string
	Score float64
}

// MessageEntry represents a chat message read back from a room log.
type MessageEntry struct {
	RoomID    string `json:"room_id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts"` // Unix seconds, server arrival time
}

// EncodeEnvelope serializes the {sender: body} envelope placed on the
// room channel and persisted verbatim in the log.
func EncodeEnvelope(from, body string) (string, error) {
	data, err := json.Marshal(map[string]string{from: body})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeEnvelope parses a persisted envelope back into its sender and body.
func DecodeEnvelope(value string) (from, body string, err error) {
	var env map[string]string
	if err := json.Unmarshal([]byte(value), &env); err != nil {
		return "", "", err
	}
	if len(env) != 1 {
		return "", "", ErrMalformedEnvelope
	}
	for k, v := range env {
		from, body = k, v
	}
	return from, body, nil
}

// NewMessageEntry decodes a log entry of the given room.
func NewMessageEntry(roomID string, e LogEntry) (MessageEntry, error) {
	from, body, err := DecodeEnvelope(e.Value)
	if err != nil {
		return MessageEntry{}, err
	}
	return MessageEntry{
		RoomID:    roomID,
		From:      from,
		Body:      body,
		Timestamp: int64(e.Score),
	}, nil
}
