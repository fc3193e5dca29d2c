package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"chanrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewInvalidPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestUsers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := db.AddUser(ctx, 1, "alice")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.AddUser(ctx, 1, "alice")
	require.NoError(t, err)
	assert.False(t, created, "re-registering is a no-op")

	_, err = db.AddUser(ctx, 2, "bob")
	require.NoError(t, err)

	count, err := db.GetUserCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	users, err := db.GetAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestSourceChannels(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	added, err := db.AddSourceChannel(ctx, 1, "-1001111", "News")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = db.AddSourceChannel(ctx, 1, "-1001111", "News")
	require.NoError(t, err)
	assert.False(t, added, "duplicate source is rejected")

	// Same channel for a different user is fine.
	added, err = db.AddSourceChannel(ctx, 2, "-1001111", "News")
	require.NoError(t, err)
	assert.True(t, added)

	sources, err := db.GetUserSources(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, models.ForwardModeCopy, sources[0].Mode, "new sources default to copy")

	updated, err := db.SetForwardMode(ctx, 1, "-1001111", models.ForwardModeForward)
	require.NoError(t, err)
	assert.True(t, updated)

	sources, err = db.GetUserSources(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ForwardModeForward, sources[0].Mode)

	updated, err = db.SetForwardMode(ctx, 1, "-1009999", models.ForwardModeForward)
	require.NoError(t, err)
	assert.False(t, updated, "unknown channel updates nothing")

	_, err = db.SetForwardMode(ctx, 1, "-1001111", models.ForwardMode("teleport"))
	assert.Error(t, err)

	removed, err := db.RemoveSourceChannel(ctx, 1, "-1001111")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = db.RemoveSourceChannel(ctx, 1, "-1001111")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDestination(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	dest, err := db.GetUserDestination(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, dest)

	require.NoError(t, db.SetUserDestination(ctx, 1, "-1002222", "Mine"))

	dest, err = db.GetUserDestination(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, dest)
	assert.Equal(t, "-1002222", dest.ChannelID)

	// Setting again replaces; a user has at most one destination.
	require.NoError(t, db.SetUserDestination(ctx, 1, "-1003333", "Other"))
	dest, err = db.GetUserDestination(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "-1003333", dest.ChannelID)
}

func TestSessions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	session, err := db.GetSession(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, session)

	require.NoError(t, db.SaveSession(ctx, 1, "1Apx...session", "+100200300"))

	session, err = db.GetSession(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "1Apx...session", session.SessionString)
	assert.Equal(t, "+100200300", session.Phone)

	// Overwrite on re-login.
	require.NoError(t, db.SaveSession(ctx, 1, "newer", "+100200300"))
	session, err = db.GetSession(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "newer", session.SessionString)

	count, err := db.GetSessionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, db.DeleteSession(ctx, 1))
	session, err = db.GetSession(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestBans(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	banned, err := db.IsUserBanned(ctx, 1)
	require.NoError(t, err)
	assert.False(t, banned)

	ok, err := db.BanUser(ctx, 1, "alice", "spam")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.BanUser(ctx, 1, "alice", "again")
	require.NoError(t, err)
	assert.False(t, ok, "double ban is a no-op")

	banned, err = db.IsUserBanned(ctx, 1)
	require.NoError(t, err)
	assert.True(t, banned)

	info, err := db.GetBanInfo(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "spam", info.Reason, "original ban reason survives a duplicate ban")

	list, err := db.GetBannedUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	ok, err = db.UnbanUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.UnbanUser(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "unban of a non-banned user is a no-op")
}

func TestForwardCounter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	count, err := db.GetForwardCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = db.IncrementForwardCount(ctx)
		}()
	}
	wg.Wait()

	count, err = db.GetForwardCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), count)
}

func TestGetStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.AddUser(ctx, 1, "alice")
	require.NoError(t, err)
	_, err = db.AddUser(ctx, 2, "bob")
	require.NoError(t, err)
	_, err = db.BanUser(ctx, 2, "bob", "spam")
	require.NoError(t, err)
	require.NoError(t, db.IncrementForwardCount(ctx))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.BannedUsers)
	assert.Equal(t, int64(1), stats.TotalForwards)
}
