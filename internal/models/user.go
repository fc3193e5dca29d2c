package models

import "time"

// User is a registered end-user of the relay.
type User struct {
	ID        int64     `db:"id"`
	Username  string    `db:"username"`
	CreatedAt time.Time `db:"created_at"`
}

// Session holds a user's persisted gateway credentials. The session string
// is stored encrypted at rest.
type Session struct {
	UserID        int64     `db:"user_id"`
	SessionString string    `db:"session_string"`
	Phone         string    `db:"phone"`
	CreatedAt     time.Time `db:"created_at"`
}

// BanRecord describes an active ban.
type BanRecord struct {
	UserID   int64     `db:"user_id"`
	Username string    `db:"username"`
	Reason   string    `db:"reason"`
	BannedAt time.Time `db:"banned_at"`
}

// Stats is the aggregate counters snapshot exposed by the store.
type Stats struct {
	TotalUsers    int64 `json:"totalUsers"`
	BannedUsers   int64 `json:"bannedUsers"`
	TotalForwards int64 `json:"totalForwards"`
	ActiveQueues  int   `json:"activeQueues"`
}
