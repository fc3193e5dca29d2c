package service

import (
	"sync"

	"chanrelay/internal/models"
)

// UserQueue is the unbounded FIFO of pending transfer jobs for one user.
// Exactly one worker consumes it; producers push from the ingest path. A
// stop sentinel terminates the consumer without losing the FIFO discipline
// for jobs ahead of it.
type UserQueue struct {
	userID int64

	mu   sync.Mutex
	cond *sync.Cond

	jobs    []*models.TransferJob
	stopped bool

	processing bool
}

func NewUserQueue(userID int64) *UserQueue {
	q := &UserQueue{userID: userID}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *UserQueue) UserID() int64 {
	return q.userID
}

// Push appends a job at the tail. Pushes after the stop sentinel are
// discarded; the queue is being torn down.
func (q *UserQueue) Push(job *models.TransferJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.jobs = append(q.jobs, job)
	q.cond.Signal()
}

// PushStop appends the stop sentinel. Jobs already queued ahead of it are
// still delivered before Pop reports stop.
func (q *UserQueue) PushStop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	q.cond.Broadcast()
}

// Pop blocks until a job is available or the stop sentinel is reached.
// It returns stop=true only after all jobs queued before the sentinel have
// been handed out.
func (q *UserQueue) Pop() (job *models.TransferJob, stop bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) == 0 && !q.stopped {
		q.cond.Wait()
	}

	if len(q.jobs) > 0 {
		job = q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		return job, false
	}
	return nil, true
}

// Len reports the number of pending jobs.
func (q *UserQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Processing reports whether the worker currently has a job in flight.
func (q *UserQueue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

func (q *UserQueue) setProcessing(v bool) {
	q.mu.Lock()
	q.processing = v
	q.mu.Unlock()
}
