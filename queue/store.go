package queue

import (
	"sync"
	"time"
)

// store owns every piece of shared mutable state for a run: the id->record
// map, the run counters, and the pending identifier list. A single mutex
// guards all of it, and counter updates happen in the same critical section
// as the status transition they accompany.
type store struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	counters Counters
	pending  []string
}

func newStore() *store {
	return &store{tasks: make(map[string]*Task)}
}

// enqueue inserts a record and appends its id to the pending list. It
// reports whether an existing record was overwritten.
func (s *store) enqueue(t *Task) (overwritten bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, overwritten = s.tasks[t.ID]
	s.tasks[t.ID] = t
	s.pending = append(s.pending, t.ID)
	s.counters.TotalQueued++
	return overwritten
}

// get returns a copy of the record so callers cannot mutate store state.
func (s *store) get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// snapshot returns a copy of the full mapping.
func (s *store) snapshot() map[string]Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Task, len(s.tasks))
	for id, t := range s.tasks {
		out[id] = *t
	}
	return out
}

// stats recomputes per-status counts by scanning current records. Linear,
// but always true to live state.
func (s *store) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, t := range s.tasks {
		switch t.Status {
		case StatusQueued:
			st.Queued++
		case StatusDownloading:
			st.Downloading++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		}
	}
	st.Total = len(s.tasks)
	return st
}

func (s *store) countersSnapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *store) resetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = Counters{}
}

// takePending consumes the whole pending list. Run calls this once, so ids
// enqueued afterwards wait for the next run.
func (s *store) takePending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.pending
	s.pending = nil
	return ids
}

// clearPending discards waiting ids without touching their records.
func (s *store) clearPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	s.pending = nil
	return n
}

// markDownloading records the start of an attempt. StartedAt is set only on
// the first attempt.
func (s *store) markDownloading(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	t.Status = StatusDownloading
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
}

func (s *store) complete(id, resultPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	t.Status = StatusCompleted
	t.ResultPath = resultPath
	t.CompletedAt = time.Now()
	s.counters.TotalCompleted++
}

// failure applies the retry policy for one failed attempt: if retries
// remain the record goes back to queued with an incremented retry count,
// otherwise it becomes terminally failed. It returns the retry count after
// the transition and whether another attempt should be made.
func (s *store) failure(id, errMsg string) (retries int, retry bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return 0, false
	}
	t.ErrorMessage = errMsg
	if t.RetryCount < t.MaxRetries {
		t.RetryCount++
		t.Status = StatusQueued
		s.counters.TotalRetried++
		return t.RetryCount, true
	}
	t.Status = StatusFailed
	t.CompletedAt = time.Now()
	s.counters.TotalFailed++
	return t.RetryCount, false
}

// fail marks a record terminally failed without consulting the retry
// policy. Used when a worker cannot start at all.
func (s *store) fail(id, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	t.Status = StatusFailed
	t.ErrorMessage = errMsg
	t.CompletedAt = time.Now()
	s.counters.TotalFailed++
}

func (s *store) result(id string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Result{}, false
	}
	return Result{
		Status:       t.Status,
		ResultPath:   t.ResultPath,
		ErrorMessage: t.ErrorMessage,
		Retries:      t.RetryCount,
	}, true
}
