package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPumpRoutesMatchedEvents(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	_, err := store.AddSourceChannel(ctx, 1, "-1001111", "News")
	require.NoError(t, err)
	require.NoError(t, store.SetUserDestination(ctx, 1, "-1002222", "Mine"))

	exec := newRecordingExecutor()
	supervisor := newTestSupervisor(exec)
	defer supervisor.ShutdownAll(ctx)

	filter := NewIngestFilter(store, testLogger())
	pump := NewEventPump(filter, supervisor, testLogger())
	defer pump.StopAll()

	client := newFakeClient()
	pump.Start(1, client)

	client.Emit(event(1, "-1001111", 1))
	client.Emit(event(1, "-1009999", 2)) // not a source, dropped
	client.Emit(event(1, "-1001111", 3))

	waitFor(t, 5*time.Second, func() bool { return len(exec.Jobs()) == 2 })

	jobs := exec.Jobs()
	assert.Equal(t, int64(1), jobs[0].MessageID)
	assert.Equal(t, int64(3), jobs[1].MessageID)
}

func TestEventPumpStartIsIdempotent(t *testing.T) {
	store := newFakeStore()
	exec := newRecordingExecutor()
	supervisor := newTestSupervisor(exec)
	defer supervisor.ShutdownAll(context.Background())

	pump := NewEventPump(NewIngestFilter(store, testLogger()), supervisor, testLogger())
	defer pump.StopAll()

	client := newFakeClient()
	pump.Start(1, client)
	pump.Start(1, client)

	pump.mu.Lock()
	running := len(pump.stops)
	pump.mu.Unlock()
	assert.Equal(t, 1, running)
}

func TestEventPumpStop(t *testing.T) {
	store := newFakeStore()
	supervisor := newTestSupervisor(newRecordingExecutor())
	defer supervisor.ShutdownAll(context.Background())

	pump := NewEventPump(NewIngestFilter(store, testLogger()), supervisor, testLogger())
	defer pump.StopAll()

	client := newFakeClient()
	pump.Start(1, client)
	pump.Stop(1)

	pump.mu.Lock()
	running := len(pump.stops)
	pump.mu.Unlock()
	assert.Equal(t, 0, running)

	// Stopping again is a no-op.
	pump.Stop(1)
}
