// Package enrichment runs the background job queue that the write
// ingestion pipeline hands off to after a durable write completes. The
// only Handler in this package is GraphExtractor, which extracts
// entities/edges for the knowledge graph; the queue does not re-embed
// text or retry pending vectors. It never blocks an ingest call — Enqueue
// either accepts a job onto a bounded channel or reports it full, and the
// caller (ingest.Pipeline) only logs a full queue, never fails the write.
package enrichment

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexusmemory/corestore/internal/ingest"
)

// ErrQueueFull is returned by Enqueue when the buffered channel has no
// room left. The caller is expected to treat this as non-fatal.
var ErrQueueFull = errors.New("ENRICHMENT_QUEUE_FULL")

// Handler processes one job. Queue calls Handle once per accepted job and
// does not retry: a job whose handler returns an error is logged and
// dropped.
type Handler interface {
	Handle(ctx context.Context, job ingest.Job) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, job ingest.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job ingest.Job) error { return f(ctx, job) }

// Config controls queue depth and worker concurrency.
type Config struct {
	QueueSize  int
	Workers    int
	JobTimeout time.Duration
}

// Queue is a bounded in-process job queue with a fixed worker pool. It
// satisfies ingest.Enqueuer.
type Queue struct {
	jobs    chan queuedJob
	handler Handler
	cfg     Config
	logger  *zap.Logger

	mu     sync.Mutex
	nextID int
	wg     sync.WaitGroup
}

type queuedJob struct {
	id  string
	job ingest.Job
}

// New creates a Queue. Workers are not started until Run is called.
func New(handler Handler, cfg Config, logger *zap.Logger) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		jobs:    make(chan queuedJob, cfg.QueueSize),
		handler: handler,
		cfg:     cfg,
		logger:  logger,
	}
}

// Enqueue implements ingest.Enqueuer. It never blocks: a full channel
// returns ErrQueueFull immediately.
func (q *Queue) Enqueue(_ context.Context, job ingest.Job) (string, error) {
	q.mu.Lock()
	q.nextID++
	id := formatJobID(q.nextID)
	q.mu.Unlock()

	select {
	case q.jobs <- queuedJob{id: id, job: job}:
		return id, nil
	default:
		return "", ErrQueueFull
	}
}

// Run starts the worker pool and blocks until ctx is cancelled, draining
// in-flight jobs before returning.
func (q *Queue) Run(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	<-ctx.Done()
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case qj := <-q.jobs:
			q.process(ctx, qj)
		case <-ctx.Done():
			q.drain()
			return
		}
	}
}

// drain processes whatever is still buffered without blocking, so a
// shutdown does not silently discard accepted jobs.
func (q *Queue) drain() {
	for {
		select {
		case qj := <-q.jobs:
			q.process(context.Background(), qj)
		default:
			return
		}
	}
}

func (q *Queue) process(ctx context.Context, qj queuedJob) {
	jobCtx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	defer cancel()

	if err := q.handler.Handle(jobCtx, qj.job); err != nil {
		q.logger.Warn("enrichment: job failed",
			zap.String("job_id", qj.id),
			zap.String("kind", string(qj.job.Kind)),
			zap.String("meta_id", qj.job.MetaID),
			zap.Error(err),
		)
		return
	}
	q.logger.Debug("enrichment: job completed",
		zap.String("job_id", qj.id),
		zap.String("kind", string(qj.job.Kind)),
	)
}

// Depth reports the number of jobs currently buffered, for health/metrics
// endpoints.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

func formatJobID(n int) string {
	return "job-" + strconv.Itoa(n)
}
