package models

import "time"

// Transcript is the archived history of a closed room.
type Transcript struct {
	ID       string         `json:"id"` // ULID
	RoomID   string         `json:"room_id"`
	Analyst  string         `json:"analyst"`
	Client   string         `json:"client"`
	ClosedAt time.Time      `json:"closed_at"`
	Messages []MessageEntry `json:"messages"`
}
