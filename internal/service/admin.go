package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chanrelay/internal/constants"
	"chanrelay/internal/models"

	"github.com/sirupsen/logrus"
)

// ErrCannotBanOwner guards the owner account from being banned.
var ErrCannotBanOwner = errors.New("cannot ban the owner")

// AdminService implements the operator-facing operations: user registry,
// source and destination management, ban/unban, broadcast, bulk channel
// cleanup and stats.
type AdminService struct {
	store      ConfigStore
	sessions   *SessionManager
	supervisor *QueueSupervisor
	filter     *IngestFilter
	logger     *logrus.Logger
	ownerID    int64
}

func NewAdminService(store ConfigStore, sessions *SessionManager, supervisor *QueueSupervisor, filter *IngestFilter, logger *logrus.Logger, ownerID int64) *AdminService {
	return &AdminService{
		store:      store,
		sessions:   sessions,
		supervisor: supervisor,
		filter:     filter,
		logger:     logger,
		ownerID:    ownerID,
	}
}

// RegisterUser records a user on first contact. Returns true for new users.
func (a *AdminService) RegisterUser(ctx context.Context, userID int64, username string) (bool, error) {
	return a.store.AddUser(ctx, userID, username)
}

// AddSource adds a monitored channel for the user, defaulting to copy mode.
// Returns false if the channel is already configured.
func (a *AdminService) AddSource(ctx context.Context, userID int64, channelID, title string) (bool, error) {
	return a.store.AddSourceChannel(ctx, userID, models.NormalizeChannelID(channelID), title)
}

// RemoveSource drops a monitored channel and resets the user's ignored
// cooldowns so the removal takes observable effect immediately.
func (a *AdminService) RemoveSource(ctx context.Context, userID int64, channelID string) (bool, error) {
	removed, err := a.store.RemoveSourceChannel(ctx, userID, models.NormalizeChannelID(channelID))
	if err == nil && removed {
		a.filter.ClearCooldowns(userID)
	}
	return removed, err
}

// SetMode switches a source channel between copy and forward.
func (a *AdminService) SetMode(ctx context.Context, userID int64, channelID string, mode models.ForwardMode) (bool, error) {
	return a.store.SetForwardMode(ctx, userID, models.NormalizeChannelID(channelID), mode)
}

// SetDestination sets the single delivery channel for the user.
func (a *AdminService) SetDestination(ctx context.Context, userID int64, channelID, title string) error {
	return a.store.SetUserDestination(ctx, userID, models.NormalizeChannelID(channelID), title)
}

// Ban bans a user: the record is written, their pipeline is shut down and
// their gateway client disconnected. Banning an already-banned user is a
// no-op reported via the returned bool.
func (a *AdminService) Ban(ctx context.Context, userID int64, username, reason string) (bool, error) {
	if userID == a.ownerID {
		return false, ErrCannotBanOwner
	}

	banned, err := a.store.BanUser(ctx, userID, username, reason)
	if err != nil {
		return false, err
	}
	if !banned {
		return false, nil
	}

	a.sessions.Disconnect(ctx, userID)
	a.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"reason":  reason,
	}).Info("User banned")
	return true, nil
}

// Unban lifts a ban. Unbanning a user who is not banned is a no-op
// reported via the returned bool.
func (a *AdminService) Unban(ctx context.Context, userID int64) (bool, error) {
	unbanned, err := a.store.UnbanUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if unbanned {
		a.logger.WithField("user_id", userID).Info("User unbanned")
	}
	return unbanned, nil
}

// BannedUsers lists active bans.
func (a *AdminService) BannedUsers(ctx context.Context) ([]models.BanRecord, error) {
	return a.store.GetBannedUsers(ctx)
}

// Broadcast sends text to every registered user through the owner's
// session, pacing sends and tolerating per-user failures. Returns the
// number of successful deliveries.
func (a *AdminService) Broadcast(ctx context.Context, text string) (int, error) {
	client, err := a.sessions.ClientFor(a.ownerID)
	if err != nil {
		return 0, fmt.Errorf("owner session required for broadcast: %w", err)
	}

	users, err := a.store.GetAllUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	delivered := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		if err := client.SendText(ctx, fmt.Sprintf("%d", u.ID), text); err != nil {
			a.logger.WithField("user_id", u.ID).WithError(err).Warn("Broadcast delivery failed")
		} else {
			delivered++
		}

		time.Sleep(constants.BroadcastPerUserDelay)
	}

	a.logger.WithFields(logrus.Fields{
		"delivered": delivered,
		"total":     len(users),
	}).Info("Broadcast complete")
	return delivered, nil
}

// CleanupChannels leaves every channel the user's session has joined that
// is neither a configured source nor the destination. This is the explicit
// bulk counterpart to the ingest path never auto-leaving anything.
func (a *AdminService) CleanupChannels(ctx context.Context, userID int64) (int, error) {
	client, err := a.sessions.ClientFor(userID)
	if err != nil {
		return 0, err
	}

	sources, err := a.store.GetUserSources(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list sources: %w", err)
	}
	dest, err := a.store.GetUserDestination(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load destination: %w", err)
	}

	keep := make(map[string]bool, len(sources)+1)
	for _, s := range sources {
		keep[models.NormalizeChannelID(s.ChannelID)] = true
	}
	if dest != nil {
		keep[models.NormalizeChannelID(dest.ChannelID)] = true
	}

	joined, err := client.ListJoinedChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list joined channels: %w", err)
	}

	left := 0
	for _, ch := range joined {
		if keep[models.NormalizeChannelID(ch.ID)] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return left, err
		}

		if err := client.LeaveChannel(ctx, ch.ID); err != nil {
			a.logger.WithFields(logrus.Fields{
				"user_id": userID,
				"channel": ch.ID,
			}).WithError(err).Warn("Failed to leave channel")
		} else {
			left++
		}

		time.Sleep(constants.CleanupPerLeaveDelay)
	}

	a.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"left":    left,
	}).Info("Channel cleanup complete")
	return left, nil
}

// Stats returns the store counters plus the live queue count.
func (a *AdminService) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := a.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.ActiveQueues = a.supervisor.ActiveQueues()
	return stats, nil
}
