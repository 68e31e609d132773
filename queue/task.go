package queue

import "time"

type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Item is one unit of work handed to the queue. The queue never interprets
// it beyond deriving a task identifier; the actual transfer is performed by
// the ExecuteFunc supplied to Run.
type Item interface {
	// Key returns the item's source reference, used as the task identifier.
	// Reusing a key within one run overwrites the prior record. An empty key
	// makes the queue generate an identifier.
	Key() string
	// DisplayName identifies the item in progress messages and logs.
	DisplayName() string
}

// Task tracks the state of one queued item. Records are created once per
// enqueue and mutated in place until the run ends; they are never removed.
type Task struct {
	ID           string    `json:"id"`
	Item         Item      `json:"-"`
	Status       Status    `json:"status"`
	RetryCount   int       `json:"retryCount"`
	MaxRetries   int       `json:"maxRetries"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ResultPath   string    `json:"resultPath,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	CompletedAt  time.Time `json:"completedAt,omitempty"`
}

// Result is one entry of the map returned by Run.
type Result struct {
	Status       Status `json:"status"`
	ResultPath   string `json:"resultPath,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Retries      int    `json:"retries"`
}

// Stats counts tasks per status. Counts are recomputed from live records at
// call time, never cached.
type Stats struct {
	Queued      int `json:"queued"`
	Downloading int `json:"downloading"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Total       int `json:"total"`
}

// Counters are run-level totals. They only grow until ResetCounters.
type Counters struct {
	TotalQueued    int `json:"totalQueued"`
	TotalCompleted int `json:"totalCompleted"`
	TotalFailed    int `json:"totalFailed"`
	TotalRetried   int `json:"totalRetried"`
}
