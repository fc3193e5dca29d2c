package service

import (
	"context"

	"chanrelay/internal/models"
	"chanrelay/pkg/telegram/types"
)

// ConfigStore is the persistence surface the relay pipeline depends on.
// Implemented by internal/database.
type ConfigStore interface {
	AddUser(ctx context.Context, userID int64, username string) (bool, error)
	GetAllUsers(ctx context.Context) ([]models.User, error)
	GetUserCount(ctx context.Context) (int64, error)

	AddSourceChannel(ctx context.Context, userID int64, channelID, title string) (bool, error)
	RemoveSourceChannel(ctx context.Context, userID int64, channelID string) (bool, error)
	GetUserSources(ctx context.Context, userID int64) ([]models.SourceChannel, error)
	SetForwardMode(ctx context.Context, userID int64, channelID string, mode models.ForwardMode) (bool, error)

	SetUserDestination(ctx context.Context, userID int64, channelID, title string) error
	GetUserDestination(ctx context.Context, userID int64) (*models.Destination, error)

	SaveSession(ctx context.Context, userID int64, sessionString, phone string) error
	GetSession(ctx context.Context, userID int64) (*models.Session, error)
	DeleteSession(ctx context.Context, userID int64) error

	BanUser(ctx context.Context, userID int64, username, reason string) (bool, error)
	UnbanUser(ctx context.Context, userID int64) (bool, error)
	IsUserBanned(ctx context.Context, userID int64) (bool, error)
	GetBannedUsers(ctx context.Context) ([]models.BanRecord, error)

	IncrementForwardCount(ctx context.Context) error
	GetStats(ctx context.Context) (*models.Stats, error)
}

// Executor performs one queued transfer end to end. Implementations retry
// internally; a returned error means the job is abandoned.
type Executor interface {
	Execute(ctx context.Context, job *models.TransferJob) error
}

// ClientProvider resolves the authenticated gateway client for a user.
type ClientProvider interface {
	ClientFor(userID int64) (types.Client, error)
}

// ClientProviderFunc adapts a function to the ClientProvider interface,
// letting wiring code break the session-manager/executor cycle.
type ClientProviderFunc func(userID int64) (types.Client, error)

func (f ClientProviderFunc) ClientFor(userID int64) (types.Client, error) {
	return f(userID)
}
