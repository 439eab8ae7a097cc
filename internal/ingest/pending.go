package ingest

import "context"

// PendingStore persists memory_text writes whose embedding call failed,
// so a background sweep can retry them against the embedding provider
// before falling them through to BacklogStore.
type PendingStore interface {
	Enqueue(ctx context.Context, collection, text string, metadata map[string]any) (id string, err error)
	// ListPending returns up to limit rows not yet retried successfully,
	// oldest first, for the background sweep.
	ListPending(ctx context.Context, limit int) ([]PendingVector, error)
	// MarkEmbedded removes id from the pending queue once it has been
	// turned into a real vector row or handed to BacklogStore.
	MarkEmbedded(ctx context.Context, id string) error
	// MarkFailed records one more failed retry attempt against id.
	MarkFailed(ctx context.Context, id string) error
}

// PendingVector is one row awaiting embedding.
type PendingVector struct {
	ID         string
	Collection string
	Text       string
	Metadata   map[string]any
	Attempts   int
}

// BacklogStore persists memory_text writes that exhausted the
// pending-vector retry budget, so the text is never lost even without a
// vector representation.
type BacklogStore interface {
	Enqueue(ctx context.Context, text string, metadata map[string]any) (id string, err error)
}

// maxPendingAttempts bounds how many times the sweep retries a pending
// row against the embedding provider before it is handed to BacklogStore.
const maxPendingAttempts = 5

// Sweeper retries PendingStore rows against an EmbeddingProvider and
// promotes successes into real vectors, falling exhausted rows through to
// BacklogStore.
type Sweeper struct {
	pending  PendingStore
	backlog  BacklogStore
	vectors  *vectorWriter
	embedder EmbeddingProvider
}

// vectorWriter is the minimal slice of *vectorstore.VectorStore the
// sweeper needs; declared narrowly so Sweeper tests can stub it.
type vectorWriter struct {
	Insert func(ctx context.Context, collection, text string, embedding []float32, metadata map[string]any, metaRef string) (string, error)
}

// NewSweeper creates a Sweeper.
func NewSweeper(pending PendingStore, backlog BacklogStore, insert func(ctx context.Context, collection, text string, embedding []float32, metadata map[string]any, metaRef string) (string, error), embedder EmbeddingProvider) *Sweeper {
	return &Sweeper{pending: pending, backlog: backlog, vectors: &vectorWriter{Insert: insert}, embedder: embedder}
}

// Run retries up to limit pending rows once. No command in this
// repository schedules it.
func (s *Sweeper) Run(ctx context.Context, limit int) (promoted, failed int, err error) {
	rows, err := s.pending.ListPending(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	for _, row := range rows {
		embedding, embedErr := s.embedder.Embed(ctx, row.Text)
		if embedErr != nil {
			if err := s.pending.MarkFailed(ctx, row.ID); err != nil {
				return promoted, failed, err
			}
			failed++
			if row.Attempts+1 >= maxPendingAttempts {
				if _, err := s.backlog.Enqueue(ctx, row.Text, row.Metadata); err != nil {
					return promoted, failed, err
				}
				if err := s.pending.MarkEmbedded(ctx, row.ID); err != nil {
					return promoted, failed, err
				}
			}
			continue
		}
		if _, err := s.vectors.Insert(ctx, row.Collection, row.Text, embedding, row.Metadata, ""); err != nil {
			return promoted, failed, err
		}
		if err := s.pending.MarkEmbedded(ctx, row.ID); err != nil {
			return promoted, failed, err
		}
		promoted++
	}
	return promoted, failed, nil
}
