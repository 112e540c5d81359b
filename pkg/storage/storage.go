package storage

import (
	"time"

	"github.com/aplowman/hpcflow-new/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotInitialized is returned when an operation that requires an existing
// store is pointed at a location with none. Operations that may create the
// store (workflow creation) open it with mustExist=false instead.
var ErrNotInitialized = errors.New("store not initialized")

// Store defines the persistence operations for hpcflow. The store is shared
// between the submitting process and the many task processes the scheduler
// launches, so every task-lifecycle write must be an atomic, independently
// keyed upsert or update.
type Store interface {
	// Workflow operations
	SaveWorkflow(w models.Workflow) (int64, error)
	GetWorkflow(id int64) (models.Workflow, error)
	ListWorkflows() ([]models.Workflow, error)

	// Submission operations
	SaveSubmission(s models.Submission) (int64, error)
	CountSubmissions(workflowID int64) (int, error)
	SaveCommandGroupSubmission(cs models.CommandGroupSubmission) (int64, error)
	GetSubmissionContext(cgsID int64) (models.SubmissionContext, error)
	SetSchedulerJobID(cgsID int64, jobID string) error

	// Task lifecycle operations, keyed by (cgsID, taskIdx, iterIdx).
	// UpsertTaskStart reports whether a row already existed for the key.
	UpsertTaskStart(cgsID int64, taskIdx, iterIdx int, t time.Time) (bool, error)
	SetTaskEnd(cgsID int64, taskIdx, iterIdx int, t time.Time) error
	SetTaskArchived(cgsID int64, taskIdx, iterIdx int) error
	SetTaskStats(cgsID int64, taskIdx, iterIdx int, stats string) error
	GetTaskRun(cgsID int64, taskIdx, iterIdx int) (models.TaskRun, error)
	ListTaskRuns(cgsID int64) ([]models.TaskRun, error)

	Close() error
}
