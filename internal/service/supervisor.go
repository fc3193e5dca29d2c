package service

import (
	"context"
	"sync"
	"time"

	"chanrelay/internal/constants"
	"chanrelay/internal/models"

	"github.com/sirupsen/logrus"
)

// QueueSupervisor owns all active user queues. It routes jobs to the right
// queue, lazily spawning exactly one worker per user, and tears pipelines
// down on logout or ban. The workers map is the only shared mutable
// structure between the ingest path and teardown; every mutation happens
// under one mutex so concurrent routes for the same user can never produce
// two workers.
type QueueSupervisor struct {
	executor Executor
	logger   *logrus.Logger

	interJobDelay  time.Duration
	respawnBackoff time.Duration

	mu      sync.Mutex
	workers map[int64]*workerHandle

	ctx    context.Context
	cancel context.CancelFunc
}

type workerHandle struct {
	queue *UserQueue
	done  chan struct{}

	// stopping is set once the stop sentinel has been pushed. The handle
	// stays in the map until the worker exits so a concurrent Route cannot
	// spawn a second worker while the old one is still draining.
	stopping bool
}

func NewQueueSupervisor(executor Executor, logger *logrus.Logger) *QueueSupervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &QueueSupervisor{
		executor:       executor,
		logger:         logger,
		interJobDelay:  constants.InterJobDelay,
		respawnBackoff: constants.WorkerRespawnBackoff,
		workers:        make(map[int64]*workerHandle),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Route enqueues job for its owning user, creating the queue and its single
// worker on first use. If the user's worker is mid-shutdown, Route waits for
// it to finish draining before spawning the replacement so at most one
// worker per user is ever running.
func (s *QueueSupervisor) Route(job *models.TransferJob) {
	for {
		s.mu.Lock()
		h, ok := s.workers[job.UserID]
		if !ok {
			h = &workerHandle{
				queue: NewUserQueue(job.UserID),
				done:  make(chan struct{}),
			}
			s.workers[job.UserID] = h
			go s.runWorker(h)
			s.mu.Unlock()
			s.logger.WithField("user_id", job.UserID).Info("Started transfer worker")
			h.queue.Push(job)
			return
		}
		if !h.stopping {
			s.mu.Unlock()
			h.queue.Push(job)
			return
		}
		s.mu.Unlock()

		select {
		case <-h.done:
		case <-s.ctx.Done():
			return
		}
		s.removeHandle(job.UserID, h)
	}
}

// Shutdown pushes the stop sentinel to the user's queue and waits up to the
// bounded timeout for the worker to drain. The handle stays registered, in
// stopping state, until the worker exits or the wait gives up, and is
// removed in both cases.
func (s *QueueSupervisor) Shutdown(ctx context.Context, userID int64) {
	s.mu.Lock()
	h, ok := s.workers[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	h.stopping = true
	s.mu.Unlock()

	h.queue.PushStop()

	select {
	case <-h.done:
		s.logger.WithField("user_id", userID).Info("Transfer worker stopped")
	case <-time.After(constants.ShutdownWaitTimeout):
		s.logger.WithField("user_id", userID).Warn("Transfer worker did not stop in time, abandoning")
	case <-ctx.Done():
		s.logger.WithField("user_id", userID).Warn("Shutdown wait cancelled, abandoning worker")
	}

	s.removeHandle(userID, h)
}

// removeHandle drops the handle from the map if it is still the registered
// one; a replacement worker registered in the meantime is left alone.
func (s *QueueSupervisor) removeHandle(userID int64, h *workerHandle) {
	s.mu.Lock()
	if cur, ok := s.workers[userID]; ok && cur == h {
		delete(s.workers, userID)
	}
	s.mu.Unlock()
}

// ShutdownAll tears down every active pipeline. Used at process exit.
func (s *QueueSupervisor) ShutdownAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Shutdown(ctx, id)
	}
	s.cancel()
}

// ActiveQueues reports how many user pipelines are currently live.
func (s *QueueSupervisor) ActiveQueues() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// QueueDepth reports the pending job count for a user, 0 when no pipeline
// exists.
func (s *QueueSupervisor) QueueDepth(userID int64) int {
	s.mu.Lock()
	h, ok := s.workers[userID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return h.queue.Len()
}

// runWorker keeps the drain loop alive for the lifetime of the queue. The
// loop isolates per-job failures itself; if it nevertheless dies, it is
// respawned after a backoff so jobs already enqueued are not orphaned.
func (s *QueueSupervisor) runWorker(h *workerHandle) {
	defer close(h.done)

	for {
		if stopped := s.drain(h); stopped {
			return
		}

		s.logger.WithField("user_id", h.queue.UserID()).Error("Drain loop died unexpectedly, respawning")
		select {
		case <-time.After(s.respawnBackoff):
		case <-s.ctx.Done():
			return
		}
	}
}

// drain is the worker state machine: block on the queue head, mark the
// queue processing, run the executor, pace, repeat. It returns true when
// the stop sentinel is observed and false if the loop itself panicked.
func (s *QueueSupervisor) drain(h *workerHandle) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			h.queue.setProcessing(false)
			s.logger.WithFields(logrus.Fields{
				"user_id": h.queue.UserID(),
				"panic":   r,
			}).Error("Drain loop panicked")
		}
	}()

	for {
		job, stop := h.queue.Pop()
		if stop {
			return true
		}

		h.queue.setProcessing(true)
		s.runJob(job)
		h.queue.setProcessing(false)

		// Pacing between jobs keeps us under provider rate limits; this is
		// deliberate throttling, not a correctness requirement.
		select {
		case <-time.After(s.interJobDelay):
		case <-s.ctx.Done():
			return true
		}
	}
}

// runJob executes one job with failures fully contained: an error or panic
// is logged and the job dropped, never re-enqueued, so one bad message
// cannot wedge the queue.
func (s *QueueSupervisor) runJob(job *models.TransferJob) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"user_id":    job.UserID,
				"message_id": job.MessageID,
				"panic":      r,
			}).Error("Transfer panicked, dropping job")
		}
	}()

	if err := s.executor.Execute(s.ctx, job); err != nil {
		s.logger.WithFields(logrus.Fields{
			"user_id":    job.UserID,
			"message_id": job.MessageID,
			"channel":    job.SourceChannelID,
		}).WithError(err).Error("Transfer failed, dropping job")
	}
}
