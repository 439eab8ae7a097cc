package enrichment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nexusmemory/corestore/internal/enrichment"
	"github.com/nexusmemory/corestore/internal/ingest"
)

type recordingHandler struct {
	mu   sync.Mutex
	jobs []ingest.Job
	fail bool
}

func (h *recordingHandler) Handle(_ context.Context, job ingest.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errors.New("handler failed")
	}
	h.jobs = append(h.jobs, job)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs)
}

func TestQueue_EnqueueProcessesJobViaWorker(t *testing.T) {
	handler := &recordingHandler{}
	q := enrichment.New(handler, enrichment.Config{Workers: 2, QueueSize: 4}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { q.Run(ctx); close(done) }()

	if _, err := q.Enqueue(context.Background(), ingest.Job{Kind: ingest.KindMemoryText, SourceRef: "journal:1"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for handler.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if handler.count() != 1 {
		t.Fatalf("expected 1 job processed, got %d", handler.count())
	}

	cancel()
	<-done
}

func TestQueue_EnqueueRejectsWhenFull(t *testing.T) {
	handler := &recordingHandler{}
	q := enrichment.New(handler, enrichment.Config{Workers: 0, QueueSize: 1}, nil)
	// No Run call: workers never drain, so the channel fills after one slot.

	if _, err := q.Enqueue(context.Background(), ingest.Job{Kind: ingest.KindMemoryText}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(context.Background(), ingest.Job{Kind: ingest.KindMemoryText}); !errors.Is(err, enrichment.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestQueue_DepthReflectsBufferedJobs(t *testing.T) {
	handler := &recordingHandler{}
	q := enrichment.New(handler, enrichment.Config{Workers: 0, QueueSize: 4}, nil)

	if _, err := q.Enqueue(context.Background(), ingest.Job{}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(context.Background(), ingest.Job{}); err != nil {
		t.Fatal(err)
	}
	if got := q.Depth(); got != 2 {
		t.Errorf("expected depth 2, got %d", got)
	}
}

func TestQueue_FailedJobDoesNotCrashWorker(t *testing.T) {
	handler := &recordingHandler{fail: true}
	q := enrichment.New(handler, enrichment.Config{Workers: 1, QueueSize: 4}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { q.Run(ctx); close(done) }()

	if _, err := q.Enqueue(context.Background(), ingest.Job{}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	// A second job after a failure must still be picked up: the worker
	// loop must not have died.
	handler.mu.Lock()
	handler.fail = false
	handler.mu.Unlock()
	if _, err := q.Enqueue(context.Background(), ingest.Job{}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for handler.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if handler.count() != 1 {
		t.Fatalf("expected 1 successful job recorded, got %d", handler.count())
	}

	cancel()
	<-done
}
