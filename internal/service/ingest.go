package service

import (
	"context"
	"sync"
	"time"

	"chanrelay/internal/constants"
	"chanrelay/internal/models"
	"chanrelay/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// IngestFilter matches inbound channel events against a user's configured
// source list and turns matches into transfer jobs. Unmatched channels are
// dropped; a warning is logged at most once per cooldown window so a noisy
// joined-but-unconfigured channel cannot flood the log.
type IngestFilter struct {
	store  ConfigStore
	logger *logrus.Logger

	mu        sync.Mutex
	cooldowns map[int64]map[string]time.Time

	// now is swappable for tests.
	now func() time.Time
}

func NewIngestFilter(store ConfigStore, logger *logrus.Logger) *IngestFilter {
	return &IngestFilter{
		store:     store,
		logger:    logger,
		cooldowns: make(map[int64]map[string]time.Time),
		now:       time.Now,
	}
}

// OnInboundEvent resolves ev against the user's configuration. It returns
// the job to enqueue and true on a match, or nil and false when the event
// should be dropped. Drops are silent: no destination and unknown channels
// are expected steady-state conditions, not faults.
func (f *IngestFilter) OnInboundEvent(ctx context.Context, ev types.InboundEvent) (*models.TransferJob, bool) {
	channelID := models.NormalizeChannelID(ev.ChannelID)

	sources, err := f.store.GetUserSources(ctx, ev.UserID)
	if err != nil {
		f.logger.WithFields(logrus.Fields{
			"user_id": ev.UserID,
			"channel": channelID,
		}).WithError(err).Error("Failed to load source channels, dropping event")
		return nil, false
	}

	var matched *models.SourceChannel
	for i := range sources {
		if models.ChannelIDsEqual(sources[i].ChannelID, channelID) {
			matched = &sources[i]
			break
		}
	}

	if matched == nil {
		if f.shouldWarnIgnored(ev.UserID, channelID) {
			f.logger.WithFields(logrus.Fields{
				"user_id": ev.UserID,
				"channel": channelID,
			}).Info("Ignoring message from channel not in source list")
		}
		return nil, false
	}

	dest, err := f.store.GetUserDestination(ctx, ev.UserID)
	if err != nil {
		f.logger.WithField("user_id", ev.UserID).WithError(err).Error("Failed to load destination, dropping event")
		return nil, false
	}
	if dest == nil {
		// No destination configured yet; nothing to deliver to.
		return nil, false
	}

	mode := matched.Mode
	if !mode.IsValid() {
		mode = models.ForwardModeCopy
	}

	return &models.TransferJob{
		UserID:             ev.UserID,
		SourceChannelID:    channelID,
		SourceChannelTitle: matched.Title,
		Mode:               mode,
		DestinationID:      models.NormalizeChannelID(dest.ChannelID),
		MessageRef:         ev.Ref,
		MessageID:          ev.MessageID,
		MessageDate:        ev.Date,
	}, true
}

// shouldWarnIgnored records the warning timestamp and reports whether the
// channel is outside its cooldown window. The map is in-memory only and
// rebuilt empty on restart.
func (f *IngestFilter) shouldWarnIgnored(userID int64, channelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	perUser, ok := f.cooldowns[userID]
	if !ok {
		perUser = make(map[string]time.Time)
		f.cooldowns[userID] = perUser
	}

	if last, warned := perUser[channelID]; warned && now.Sub(last) < constants.IgnoredChannelCooldown {
		return false
	}
	perUser[channelID] = now
	return true
}

// ClearCooldowns drops the per-user cooldown state, used when a user's
// configuration changes or their pipeline is torn down.
func (f *IngestFilter) ClearCooldowns(userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cooldowns, userID)
}
