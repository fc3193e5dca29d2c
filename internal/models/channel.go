package models

import "strings"

// SourceChannel is a channel a user monitors for messages to relay.
// Unique per (user, channel ID).
type SourceChannel struct {
	UserID    int64       `db:"user_id"`
	ChannelID string      `db:"channel_id"`
	Title     string      `db:"title"`
	Mode      ForwardMode `db:"forward_mode"`
}

// Destination is the single channel a user's relayed messages are sent to.
type Destination struct {
	UserID    int64  `db:"user_id"`
	ChannelID string `db:"channel_id"`
	Title     string `db:"title"`
}

// NormalizeChannelID converts a channel ID to the canonical signed form used
// for matching and delivery. Bare positive IDs get the "-100" supergroup
// prefix; already-signed IDs pass through unchanged.
func NormalizeChannelID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "-") {
		return id
	}
	return "-100" + id
}

// ChannelIDsEqual compares two channel IDs after normalization.
func ChannelIDsEqual(a, b string) bool {
	return NormalizeChannelID(a) == NormalizeChannelID(b)
}
