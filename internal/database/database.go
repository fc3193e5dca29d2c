package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"chanrelay/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS source_channels (
	user_id INTEGER NOT NULL,
	channel_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	forward_mode TEXT NOT NULL DEFAULT 'copy',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, channel_id)
);

CREATE TABLE IF NOT EXISTS destinations (
	user_id INTEGER PRIMARY KEY,
	channel_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sessions (
	user_id INTEGER PRIMARY KEY,
	session_string TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bans (
	user_id INTEGER PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	banned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);

INSERT OR IGNORE INTO counters (name, value) VALUES ('total_forwards', 0);
`

// Database is the SQLite-backed store for users, channels, sessions, bans
// and counters. Session strings are encrypted at rest.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Users

func (d *Database) AddUser(ctx context.Context, userID int64, username string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, username) VALUES (?, ?)`, userID, username)
	if err != nil {
		return false, fmt.Errorf("failed to add user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

func (d *Database) GetAllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, username, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (d *Database) GetUserCount(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// Source channels

func (d *Database) AddSourceChannel(ctx context.Context, userID int64, channelID, title string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO source_channels (user_id, channel_id, title, forward_mode) VALUES (?, ?, ?, ?)`,
		userID, channelID, title, string(models.ForwardModeCopy))
	if err != nil {
		return false, fmt.Errorf("failed to add source channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

func (d *Database) RemoveSourceChannel(ctx context.Context, userID int64, channelID string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM source_channels WHERE user_id = ? AND channel_id = ?`, userID, channelID)
	if err != nil {
		return false, fmt.Errorf("failed to remove source channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

func (d *Database) GetUserSources(ctx context.Context, userID int64) ([]models.SourceChannel, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, channel_id, title, forward_mode FROM source_channels WHERE user_id = ? ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source channels: %w", err)
	}
	defer rows.Close()

	var sources []models.SourceChannel
	for rows.Next() {
		var s models.SourceChannel
		var mode string
		if err := rows.Scan(&s.UserID, &s.ChannelID, &s.Title, &mode); err != nil {
			return nil, fmt.Errorf("failed to scan source channel: %w", err)
		}
		s.Mode = models.ForwardMode(mode)
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

func (d *Database) SetForwardMode(ctx context.Context, userID int64, channelID string, mode models.ForwardMode) (bool, error) {
	if !mode.IsValid() {
		return false, fmt.Errorf("invalid forward mode: %s", mode)
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE source_channels SET forward_mode = ? WHERE user_id = ? AND channel_id = ?`,
		string(mode), userID, channelID)
	if err != nil {
		return false, fmt.Errorf("failed to set forward mode: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return n > 0, nil
}

// Destination

func (d *Database) SetUserDestination(ctx context.Context, userID int64, channelID, title string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO destinations (user_id, channel_id, title) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET channel_id = excluded.channel_id, title = excluded.title`,
		userID, channelID, title)
	if err != nil {
		return fmt.Errorf("failed to set destination: %w", err)
	}
	return nil
}

func (d *Database) GetUserDestination(ctx context.Context, userID int64) (*models.Destination, error) {
	var dest models.Destination
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, channel_id, title FROM destinations WHERE user_id = ?`, userID).
		Scan(&dest.UserID, &dest.ChannelID, &dest.Title)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get destination: %w", err)
	}
	return &dest, nil
}

// Sessions

func (d *Database) SaveSession(ctx context.Context, userID int64, sessionString, phone string) error {
	encrypted, err := d.encryptor.EncryptIfEnabled(sessionString)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, session_string, phone) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET session_string = excluded.session_string, phone = excluded.phone`,
		userID, encrypted, phone)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (d *Database) GetSession(ctx context.Context, userID int64) (*models.Session, error) {
	var s models.Session
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, session_string, phone, created_at FROM sessions WHERE user_id = ?`, userID).
		Scan(&s.UserID, &s.SessionString, &s.Phone, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	decrypted, err := d.encryptor.DecryptIfEnabled(s.SessionString)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}
	s.SessionString = decrypted
	return &s, nil
}

func (d *Database) DeleteSession(ctx context.Context, userID int64) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (d *Database) GetSessionCount(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// Bans

func (d *Database) BanUser(ctx context.Context, userID int64, username, reason string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO bans (user_id, username, reason) VALUES (?, ?, ?)`,
		userID, username, reason)
	if err != nil {
		return false, fmt.Errorf("failed to ban user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read ban result: %w", err)
	}
	return n > 0, nil
}

func (d *Database) UnbanUser(ctx context.Context, userID int64) (bool, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM bans WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to unban user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read unban result: %w", err)
	}
	return n > 0, nil
}

func (d *Database) IsUserBanned(ctx context.Context, userID int64) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bans WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check ban: %w", err)
	}
	return n > 0, nil
}

func (d *Database) GetBanInfo(ctx context.Context, userID int64) (*models.BanRecord, error) {
	var b models.BanRecord
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, username, reason, banned_at FROM bans WHERE user_id = ?`, userID).
		Scan(&b.UserID, &b.Username, &b.Reason, &b.BannedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ban info: %w", err)
	}
	return &b, nil
}

func (d *Database) GetBannedUsers(ctx context.Context) ([]models.BanRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, username, reason, banned_at FROM bans ORDER BY banned_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list banned users: %w", err)
	}
	defer rows.Close()

	var banned []models.BanRecord
	for rows.Next() {
		var b models.BanRecord
		if err := rows.Scan(&b.UserID, &b.Username, &b.Reason, &b.BannedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ban record: %w", err)
		}
		banned = append(banned, b)
	}
	return banned, rows.Err()
}

// Counters

// IncrementForwardCount bumps the global forwarded-message counter. The
// single UPDATE statement relies on SQLite's write serialization for
// atomicity; no application-level locking is layered on top.
func (d *Database) IncrementForwardCount(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = 'total_forwards'`)
	if err != nil {
		return fmt.Errorf("failed to increment forward count: %w", err)
	}
	return nil
}

func (d *Database) GetForwardCount(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE name = 'total_forwards'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to read forward count: %w", err)
	}
	return n, nil
}

// GetStats returns the aggregate counters snapshot.
func (d *Database) GetStats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}

	users, err := d.GetUserCount(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalUsers = users

	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bans`).Scan(&stats.BannedUsers); err != nil {
		return nil, fmt.Errorf("failed to count bans: %w", err)
	}

	forwards, err := d.GetForwardCount(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalForwards = forwards

	return stats, nil
}

// CleanupOldUsers removes registered users with no session and no activity
// for the retention window. Sessions, sources and bans are left untouched.
func (d *Database) CleanupOldUsers(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM users WHERE created_at < ?
		 AND id NOT IN (SELECT user_id FROM sessions)
		 AND id NOT IN (SELECT user_id FROM source_channels)`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old users: %w", err)
	}
	return nil
}
