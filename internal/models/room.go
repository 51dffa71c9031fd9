package models

import (
	"fmt"
	"strings"
)

const roomPrefix = "room"

// RoomID returns the deterministic id of the private room between an
// analyst and a client.
func RoomID(analyst, client string) string {
	return fmt.Sprintf("%s:%s:%s", roomPrefix, analyst, client)
}

// ParseRoomID splits a room id into its analyst and client nicknames.
func ParseRoomID(id string) (analyst, client string, ok bool) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] != roomPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// ClientRoomPattern matches every room a client takes part in.
func ClientRoomPattern(client string) string {
	return fmt.Sprintf("%s:*:%s", roomPrefix, client)
}

// AnalystRoomPattern matches every room an analyst takes part in.
func AnalystRoomPattern(analyst string) string {
	return fmt.Sprintf("%s:%s:*", roomPrefix, analyst)
}

// RoomPattern returns the room pattern for a participant of the given role.
func RoomPattern(role Role, nickname string) string {
	if role == RoleAnalyst {
		return AnalystRoomPattern(nickname)
	}
	return ClientRoomPattern(nickname)
}
