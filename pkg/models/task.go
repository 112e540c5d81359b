package models

import "time"

// TaskRun is the lifecycle record for one logical task within one iteration
// of a command-group submission. Rows are created lazily at the first
// task-start callback and never deleted within the life of the submission.
// A row with a start and no end is an abandoned task (e.g. killed by the
// scheduler), which is an observable state rather than an error.
type TaskRun struct {
	CGSubID   int64      `json:"cgs_id" db:"cgs_id"`
	TaskIdx   int        `json:"task_idx" db:"task_idx"`
	IterIdx   int        `json:"iter_idx" db:"iter_idx"`
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Archived  bool       `json:"archived" db:"archived"`
	Stats     string     `json:"stats,omitempty" db:"stats"` // Accounting key/values, JSON-encoded, set post-hoc
}
