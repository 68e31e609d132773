package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ExecuteFunc performs the actual transfer for one item and returns the
// path of the produced artifact. The queue treats a returned error and a
// panic the same way: one failed attempt, fed to the retry policy.
type ExecuteFunc func(ctx context.Context, item Item) (string, error)

// ProgressFunc is invoked synchronously at each milestone (queued, attempt
// started, retry scheduled, succeeded, failed). It must not block for long
// or overall throughput degrades.
type ProgressFunc func(item Item, message string)

type Options struct {
	// BatchSize is an advisory grouping hint for callers; the queue does
	// not enforce it.
	BatchSize int
	// MaxConcurrent caps simultaneously active tasks. A permit is held for
	// a task's entire retry loop, not per attempt.
	MaxConcurrent int
	// MaxRetries is the per-task default number of retries after the first
	// failed attempt.
	MaxRetries int
	// BackoffUnit scales the exponential backoff: retry n waits 2^n units.
	// Defaults to one second.
	BackoffUnit time.Duration
	// OnProgress receives milestone notifications. Optional.
	OnProgress ProgressFunc
}

// Manager orchestrates batch downloads: it tracks each enqueued item
// through its lifecycle, runs them with bounded concurrency, and retries
// failures with exponential backoff.
type Manager struct {
	opts Options
	gate *semaphore.Weighted
	st   *store
}

func NewManager(opts Options) (*Manager, error) {
	if opts.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent must be positive, got %d", opts.MaxConcurrent)
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got %d", opts.MaxRetries)
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = time.Second
	}

	logrus.WithFields(logrus.Fields{
		"batch_size":     opts.BatchSize,
		"max_concurrent": opts.MaxConcurrent,
		"max_retries":    opts.MaxRetries,
	}).Info("Batch download manager initialized")

	return &Manager{
		opts: opts,
		gate: semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		st:   newStore(),
	}, nil
}

// Enqueue adds one item to the download queue and returns its task id.
// Enqueuing an item whose key already has a record overwrites that record;
// the collision is logged but not treated as an error.
func (m *Manager) Enqueue(item Item) string {
	id := item.Key()
	if id == "" {
		id = shortuuid.New()
	}

	t := &Task{
		ID:         id,
		Item:       item,
		Status:     StatusQueued,
		MaxRetries: m.opts.MaxRetries,
		CreatedAt:  time.Now(),
	}
	if m.st.enqueue(t) {
		logrus.WithField("task", id).Warn("Re-enqueued item overwrites its existing record")
	}

	m.progress(item, "Queued for download")
	logrus.WithFields(logrus.Fields{"task": id, "item": item.DisplayName()}).Debug("Added item to queue")
	return id
}

// EnqueueBatch enqueues items in order and returns their ids in the same
// order.
func (m *Manager) EnqueueBatch(items []Item) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, m.Enqueue(item))
	}
	logrus.WithField("count", len(items)).Info("Added batch to queue")
	return ids
}

// Status returns a copy of the record for id.
func (m *Manager) Status(id string) (Task, bool) {
	return m.st.get(id)
}

// Snapshot returns a copy of every record.
func (m *Manager) Snapshot() map[string]Task {
	return m.st.snapshot()
}

// Stats recomputes per-status counts from live records.
func (m *Manager) Stats() Stats {
	return m.st.stats()
}

// Counters returns the run-level totals.
func (m *Manager) Counters() Counters {
	return m.st.countersSnapshot()
}

// ClearPending discards ids still waiting for a worker. Their records stay
// queued; in-flight workers are unaffected.
func (m *Manager) ClearPending() int {
	n := m.st.clearPending()
	logrus.WithField("discarded", n).Info("Pending queue cleared")
	return n
}

// ResetCounters zeroes the run-level totals without touching records.
func (m *Manager) ResetCounters() {
	m.st.resetCounters()
	logrus.Debug("Counters reset")
}

// Run drains the identifiers pending at call time, processing each to a
// terminal state with at most MaxConcurrent active at once, and returns a
// result entry per launched task. One task failing never aborts the batch.
//
// A permit is held across a task's whole retry loop, so a retrying task is
// retried in place rather than re-queued; under saturation this favors
// started tasks over waiting ones. Items enqueued while Run is in flight
// are left for the next call; there is no live refill.
func (m *Manager) Run(ctx context.Context, execute ExecuteFunc) map[string]Result {
	ids := m.st.takePending()

	results := make(map[string]Result, len(ids))
	var (
		resMu sync.Mutex
		wg    sync.WaitGroup
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.process(ctx, id, execute)

			res, ok := m.st.result(id)
			if !ok {
				return
			}
			resMu.Lock()
			results[id] = res
			resMu.Unlock()
		}(id)
	}
	wg.Wait()

	c := m.st.countersSnapshot()
	logrus.WithFields(logrus.Fields{
		"completed": c.TotalCompleted,
		"failed":    c.TotalFailed,
		"retried":   c.TotalRetried,
	}).Info("Queue processing complete")

	return results
}

// process drives one task to a terminal state under the admission gate.
func (m *Manager) process(ctx context.Context, id string, execute ExecuteFunc) {
	defer func() {
		// A worker must never take the whole run down. By the time the
		// terminal-milestone callbacks run the record is already terminal,
		// so recovering here only loses the notification.
		if r := recover(); r != nil {
			logrus.WithField("task", id).Errorf("Worker aborted by panic: %v", r)
		}
	}()

	t, ok := m.st.get(id)
	if !ok {
		return
	}
	item := t.Item

	if err := m.gate.Acquire(ctx, 1); err != nil {
		m.st.fail(id, err.Error())
		m.progress(item, fmt.Sprintf("Failed: %s", err))
		return
	}
	defer m.gate.Release(1)

	for attempt := 1; ; attempt++ {
		path, err := m.attempt(ctx, id, item, attempt, execute)
		if err == nil {
			m.st.complete(id, path)
			m.progress(item, "Downloaded successfully")
			logrus.WithFields(logrus.Fields{"task": id, "item": item.DisplayName()}).Info("Successfully downloaded")
			return
		}

		retries, retry := m.st.failure(id, err.Error())
		if !retry {
			m.progress(item, fmt.Sprintf("Failed after %d retries: %s", retries, err))
			logrus.WithFields(logrus.Fields{"task": id, "retries": retries}).WithError(err).Error("Download failed permanently")
			return
		}

		delay := backoffDelay(retries, m.opts.BackoffUnit)
		m.progress(item, fmt.Sprintf("Retry %d/%d in %s: %s", retries, t.MaxRetries, delay, err))
		logrus.WithFields(logrus.Fields{
			"task":    id,
			"retry":   retries,
			"max":     t.MaxRetries,
			"backoff": delay.String(),
		}).WithError(err).Warning("Download failed, retrying")
		m.sleep(ctx, delay)
	}
}

// attempt runs a single execution. A panic out of the execute operation or
// the attempt-started callback is converted into a failed attempt whose
// message is the panic text.
func (m *Manager) attempt(ctx context.Context, id string, item Item, attempt int, execute ExecuteFunc) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	m.st.markDownloading(id)
	m.progress(item, "Downloading...")
	logrus.WithFields(logrus.Fields{"task": id, "attempt": attempt}).Debug("Starting download attempt")

	return execute(ctx, item)
}

// backoffDelay returns the wait before retry n: 2^n units, no jitter and
// no cap.
func backoffDelay(retryCount int, unit time.Duration) time.Duration {
	return time.Duration(1<<uint(retryCount)) * unit
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (m *Manager) progress(item Item, message string) {
	if m.opts.OnProgress != nil {
		m.opts.OnProgress(item, message)
	}
}
