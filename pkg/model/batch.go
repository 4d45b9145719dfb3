package model

import "time"

// EntryStatus is the run status of one project in a batch.
type EntryStatus string

const (
	EntryPending             EntryStatus = "pending"
	EntryRunning             EntryStatus = "running"
	EntryCompleted           EntryStatus = "completed"
	EntryCompletedWithErrors EntryStatus = "completed_with_errors"
	EntryError               EntryStatus = "error"
	EntrySkipped             EntryStatus = "skipped"
)

// Terminal reports whether the entry has finished.
func (s EntryStatus) Terminal() bool {
	return s != EntryPending && s != EntryRunning && s != ""
}

// BatchStatus is the status of a whole batch.
type BatchStatus string

const (
	BatchPending  BatchStatus = "pending"
	BatchRunning  BatchStatus = "running"
	BatchFinished BatchStatus = "finished"
	BatchStopped  BatchStatus = "stopped"
)

// BatchEntry is one project of a batch queue.
type BatchEntry struct {
	Position  int         `json:"position"`
	ProjectID string      `json:"project_id"`
	Status    EntryStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	RunID     string      `json:"run_id,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Batch is an ordered list of projects run one at a time.
type Batch struct {
	ID        string       `json:"id"`
	Status    BatchStatus  `json:"status"`
	Entries   []BatchEntry `json:"entries"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// EntryStatusFor maps a run outcome to a batch entry status.
func EntryStatusFor(o Outcome) EntryStatus {
	switch o {
	case OutcomeCompleted:
		return EntryCompleted
	case OutcomeCompletedWithErrors:
		return EntryCompletedWithErrors
	}
	return EntryError
}
