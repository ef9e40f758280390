package domain

import "time"

// IngestJob is a file picked up from a watched folder and waiting to be uploaded.
// JobID changes every time the path is queued again, so a worker can tell its job from a newer one.
type IngestJob struct {
	JobID      string    `json:"job_id"`
	Path       string    `json:"path"`
	Owner      string    `json:"owner"`
	ChunkSize  int64     `json:"chunk_size"`
	TotalBytes int64     `json:"total_bytes"`
	Status     string    `json:"status"`
	FileID     string    `json:"file_id,omitempty"`
	Attempts   int       `json:"attempts"`
	QueuedAt   time.Time `json:"queued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

const (
	IngestStatusQueued    = "queued"
	IngestStatusRunning   = "running"
	IngestStatusCompleted = "completed"
	IngestStatusFailed    = "failed"
)

// WatchedPath is a directory registered for automatic ingest.
type WatchedPath struct {
	Path      string `json:"path"`
	Owner     string `json:"owner"`
	ChunkSize int64  `json:"chunk_size"`
}
