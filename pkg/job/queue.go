package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const queueKey = "queue"

// prioritiesFile persists the queue order next to the job backups. The
// leading dot keeps Store.List from mistaking it for a job record.
const prioritiesFile = ".priorities.json"

// Queue tracks the order in which corpora are processed. The order lives in
// the cache with a file backup, so it survives both cache flushes and
// restarts.
type Queue struct {
	cache Cache
	store *Store
	dir   string
	log   *zap.Logger

	// mu serializes order mutations within this process.
	mu sync.Mutex
}

// NewQueue creates a queue persisting its order under the store's queue dir.
func NewQueue(cache Cache, store *Store, dir string, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{cache: cache, store: store, dir: dir, log: log}
}

// Init recovers the queue from disk: job backups are re-seeded into the
// cache and still-active jobs re-queued in their persisted priority order.
func (q *Queue) Init(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	order, err := q.loadPrioritiesFile()
	if err != nil {
		return err
	}

	records, err := q.store.List(ctx)
	if err != nil {
		return err
	}
	queued := make(map[string]bool, len(order))
	for _, id := range order {
		queued[id] = true
	}
	for _, rec := range records {
		// Re-save to refresh the cache copy.
		if err := q.store.Save(ctx, rec); err != nil {
			return err
		}
		if !queued[rec.CorpusID] && !rec.Status.IsInactive() && rec.Status != StatusNone {
			order = append(order, rec.CorpusID)
			queued[rec.CorpusID] = true
		}
	}

	q.log.Info("queue initialized", zap.Int("jobs", len(records)), zap.Strings("order", order))
	return q.saveOrder(ctx, order)
}

// Add queues a job, moving an already-queued corpus to the back. Queueing a
// corpus whose previous job is still active is refused.
func (q *Queue) Add(ctx context.Context, rec *Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	order, err := q.order(ctx)
	if err != nil {
		return err
	}
	for i, id := range order {
		if id != rec.CorpusID {
			continue
		}
		if rec.Status.IsActive() {
			return fmt.Errorf("there is an unfinished job for corpus %q", rec.CorpusID)
		}
		order = append(order[:i], order[i+1:]...)
		break
	}
	order = append(order, rec.CorpusID)
	if err := q.saveOrder(ctx, order); err != nil {
		return err
	}
	return q.store.Save(ctx, rec)
}

// Remove takes a corpus out of the queue, e.g. on abort or deletion.
func (q *Queue) Remove(ctx context.Context, corpusID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	order, err := q.order(ctx)
	if err != nil {
		return err
	}
	for i, id := range order {
		if id == corpusID {
			return q.saveOrder(ctx, append(order[:i], order[i+1:]...))
		}
	}
	return nil
}

// RunningWaiting splits the queued jobs into running and waiting, in queue
// order.
func (q *Queue) RunningWaiting(ctx context.Context) (running, waiting []*Record, err error) {
	order, err := q.orderLocked(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range order {
		rec, err := q.store.Get(ctx, id)
		if err != nil {
			q.log.Error("failed to load queued job", zap.String("corpus_id", id), zap.Error(err))
			continue
		}
		switch {
		case rec.Status.IsRunning():
			running = append(running, rec)
		case rec.Status.IsWaiting():
			waiting = append(waiting, rec)
		}
	}
	return running, waiting, nil
}

// UnqueueInactive drops jobs that are done, aborted or erroneous from the
// queue order.
func (q *Queue) UnqueueInactive(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	order, err := q.order(ctx)
	if err != nil {
		return err
	}
	kept := order[:0]
	for _, id := range order {
		rec, err := q.store.Get(ctx, id)
		if err != nil {
			q.log.Error("failed to load queued job", zap.String("corpus_id", id), zap.Error(err))
			kept = append(kept, id)
			continue
		}
		if rec.Status.IsInactive() {
			q.log.Info("unqueueing inactive job",
				zap.String("corpus_id", id), zap.String("status", string(rec.Status)))
			continue
		}
		kept = append(kept, id)
	}
	if len(kept) == len(order) {
		return nil
	}
	return q.saveOrder(ctx, kept)
}

// Priority returns the 1-based position of a corpus among the waiting jobs,
// or -1 if it is not waiting.
func (q *Queue) Priority(ctx context.Context, corpusID string) int {
	_, waiting, err := q.RunningWaiting(ctx)
	if err != nil {
		return -1
	}
	for i, rec := range waiting {
		if rec.CorpusID == corpusID {
			return i + 1
		}
	}
	return -1
}

// Jobs loads all known jobs, optionally filtered to the given corpora.
func (q *Queue) Jobs(ctx context.Context, corpora []string) ([]*Record, error) {
	records, err := q.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if corpora == nil {
		return records, nil
	}
	allowed := make(map[string]bool, len(corpora))
	for _, id := range corpora {
		allowed[id] = true
	}
	out := records[:0]
	for _, rec := range records {
		if allowed[rec.CorpusID] {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (q *Queue) orderLocked(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order(ctx)
}

// order returns the current queue order. Callers hold q.mu.
func (q *Queue) order(ctx context.Context) ([]string, error) {
	dump, err := q.cache.Get(ctx, queueKey)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return q.loadPrioritiesFile()
		}
		return nil, err
	}
	var order []string
	if err := json.Unmarshal([]byte(dump), &order); err != nil {
		q.log.Warn("discarding corrupt cached queue order", zap.Error(err))
		return q.loadPrioritiesFile()
	}
	return order, nil
}

func (q *Queue) loadPrioritiesFile() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(q.dir, prioritiesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue priorities: %w", err)
	}
	var order []string
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("parse queue priorities: %w", err)
	}
	return order, nil
}

func (q *Queue) saveOrder(ctx context.Context, order []string) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	if err := q.cache.Set(ctx, queueKey, string(data)); err != nil {
		q.log.Warn("failed to write queue order to cache", zap.Error(err))
	}
	if err := os.MkdirAll(q.dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(q.dir, prioritiesFile), data, 0644); err != nil {
		return fmt.Errorf("write queue priorities: %w", err)
	}
	return nil
}
