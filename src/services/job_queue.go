package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/username/tradeingest/src/logger"
	"github.com/username/tradeingest/src/models"
)

var (
	ErrQueueFull   = errors.New("ingestion queue is full")
	ErrQueueClosed = errors.New("ingestion queue is shut down")
	ErrJobNotFound = errors.New("ingestion job not found")
)

type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Job is the externally visible state of an asynchronous batch.
type Job struct {
	ID        string              `json:"id"`
	UserID    int64               `json:"user_id"`
	Source    models.DataSource   `json:"source"`
	State     JobState            `json:"state"`
	Report    *models.BatchReport `json:"report,omitempty"`
	Error     string              `json:"error,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type jobRequest struct {
	id          string
	userID      int64
	raws        []models.RawTrade
	source      models.DataSource
	autoResolve bool
}

// JobQueue runs ingestion batches off the request path on a fixed pool of
// workers fed by a bounded channel.
type JobQueue struct {
	service IngestService
	jobs    *cache.Cache
	queue   chan jobRequest

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewJobQueue(service IngestService, workers, size int, ttl time.Duration) *JobQueue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = workers
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &JobQueue{
		service: service,
		jobs:    cache.New(ttl, ttl*2),
		queue:   make(chan jobRequest, size),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	logger.L.Info("Ingestion job queue started", "workers", workers, "queueSize", size, "jobTTL", ttl)
	return q
}

// Submit enqueues a batch and returns its job id without waiting for it.
func (q *JobQueue) Submit(userID int64, raws []models.RawTrade, sourceLabel string, autoResolve bool) (string, error) {
	source, err := models.ParseDataSource(sourceLabel)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	now := time.Now().UTC()
	req := jobRequest{id: uuid.NewString(), userID: userID, raws: raws, source: source, autoResolve: autoResolve}
	q.jobs.SetDefault(req.id, Job{ID: req.id, UserID: userID, Source: source, State: JobQueued, CreatedAt: now, UpdatedAt: now})

	select {
	case q.queue <- req:
		logger.L.Info("Ingestion job queued", "jobID", req.id, "userID", userID, "count", len(raws))
		return req.id, nil
	default:
		q.jobs.Delete(req.id)
		return "", ErrQueueFull
	}
}

// Get returns the job with id if it belongs to userID.
func (q *JobQueue) Get(userID int64, id string) (Job, error) {
	v, found := q.jobs.Get(id)
	if !found {
		return Job{}, ErrJobNotFound
	}
	job := v.(Job)
	if job.UserID != userID {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

// Shutdown stops accepting jobs and waits for queued ones to finish. When ctx
// expires first, running batches are cancelled.
func (q *JobQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		logger.L.Info("Ingestion job queue drained")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *JobQueue) worker(n int) {
	defer q.wg.Done()
	for req := range q.queue {
		q.run(n, req)
	}
}

func (q *JobQueue) run(worker int, req jobRequest) {
	q.update(req, func(j *Job) { j.State = JobRunning })

	report, err := q.service.IngestBatch(q.ctx, req.userID, req.raws, string(req.source), req.autoResolve)

	q.update(req, func(j *Job) {
		j.Report = report
		switch {
		case err != nil:
			j.State = JobFailed
			j.Error = err.Error()
		case report.Failed:
			j.State = JobFailed
			j.Error = report.Error
		default:
			j.State = JobDone
		}
	})
	logger.L.Info("Ingestion job finished", "jobID", req.id, "worker", worker, "userID", req.userID, "error", err)
}

func (q *JobQueue) update(req jobRequest, mutate func(j *Job)) {
	var job Job
	if v, found := q.jobs.Get(req.id); found {
		job = v.(Job)
	} else {
		job = Job{ID: req.id, UserID: req.userID, Source: req.source, CreatedAt: time.Now().UTC()}
	}
	mutate(&job)
	job.UpdatedAt = time.Now().UTC()
	q.jobs.SetDefault(req.id, job)
}
