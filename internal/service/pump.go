package service

import (
	"context"
	"sync"
	"time"

	"chanrelay/internal/retry"
	"chanrelay/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// EventPump runs one goroutine per logged-in user that reads the gateway
// event stream and feeds matched events into the queue supervisor. A
// dropped stream is reopened with exponential backoff; the pump only exits
// when stopped.
type EventPump struct {
	filter     *IngestFilter
	supervisor *QueueSupervisor
	logger     *logrus.Logger
	backoff    retry.BackoffConfig

	mu     sync.Mutex
	stops  map[int64]context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func NewEventPump(filter *IngestFilter, supervisor *QueueSupervisor, logger *logrus.Logger) *EventPump {
	cfg := retry.DefaultBackoffConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Minute
	cfg.MaxAttempts = 1 << 30 // reopen until stopped

	return &EventPump{
		filter:     filter,
		supervisor: supervisor,
		logger:     logger,
		backoff:    cfg,
		stops:      make(map[int64]context.CancelFunc),
	}
}

// Start begins pumping events for a user. Starting an already-pumping user
// is a no-op.
func (p *EventPump) Start(userID int64, client types.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if _, running := p.stops[userID]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.stops[userID] = cancel
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.run(ctx, userID, client)
	}()
}

// Stop cancels a user's pump goroutine.
func (p *EventPump) Stop(userID int64) {
	p.mu.Lock()
	cancel, ok := p.stops[userID]
	delete(p.stops, userID)
	p.mu.Unlock()

	if ok {
		cancel()
	}
}

// StopAll cancels every pump and waits for the goroutines to exit.
func (p *EventPump) StopAll() {
	p.mu.Lock()
	p.closed = true
	for id, cancel := range p.stops {
		cancel()
		delete(p.stops, id)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *EventPump) run(ctx context.Context, userID int64, client types.Client) {
	log := p.logger.WithField("user_id", userID)
	b := retry.NewBackoff(p.backoff)

	err := b.Retry(ctx, func() error {
		events, err := client.StreamEvents(ctx)
		if err != nil {
			log.WithError(err).Warn("Failed to open event stream, retrying")
			return err
		}

		log.Info("Event stream open")
		for ev := range events {
			job, ok := p.filter.OnInboundEvent(ctx, ev)
			if !ok {
				continue
			}
			p.supervisor.Route(job)
		}

		if ctx.Err() != nil {
			return nil
		}

		log.Warn("Event stream closed, reopening")
		if !client.Connected() {
			if rcErr := client.Reconnect(ctx); rcErr != nil {
				log.WithError(rcErr).Warn("Reconnect failed")
			}
		}
		return types.ErrDisconnected
	})

	if err != nil && ctx.Err() == nil {
		log.WithError(err).Error("Event pump gave up")
	}
	log.Info("Event pump stopped")
}
