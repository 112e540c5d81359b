package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aplowman/hpcflow-new/internal/config"
	"github.com/aplowman/hpcflow-new/pkg/models"
	"github.com/aplowman/hpcflow-new/pkg/scheduler"
	"github.com/aplowman/hpcflow-new/pkg/storage"
	"github.com/pkg/errors"
)

// ErrTaskNotStarted reports an out-of-order lifecycle callback: an end or
// archive arrived for a task with no start record.
var ErrTaskNotStarted = errors.New("task has no start record")

// ErrTaskNotEnded reports an archive callback for a task whose end has not
// been recorded.
var ErrTaskNotEnded = errors.New("task has no end record")

// TaskService is the submission lifecycle tracker: it applies the per-task
// callbacks the generated scripts invoke against the shared store. Each
// operation is scoped to one (command-group-submission, task, iteration)
// key; tasks running concurrently on different nodes never touch each
// other's rows.
type TaskService struct {
	store  storage.Store
	cfg    *config.Config
	logger Logger
}

func NewTaskService(store storage.Store, cfg *config.Config, logger Logger) *TaskService {
	return &TaskService{store: store, cfg: cfg, logger: logger}
}

// SetTaskStart upserts the task's lifecycle row with the current time as
// start. A repeated start (a re-run after a transient failure) is a
// warning-worthy anomaly, not an error: the latest start wins and any
// recorded end is kept.
func (ts *TaskService) SetTaskStart(cgsID int64, taskIdx, iterIdx int) error {
	existed, err := ts.store.UpsertTaskStart(cgsID, taskIdx, iterIdx, time.Now())
	if err != nil {
		return err
	}
	if existed {
		ts.logger.Warnf("Task (cgs=%d task=%d iter=%d) already had a start record; start time reset",
			cgsID, taskIdx, iterIdx)
	}
	return nil
}

// SetTaskEnd records the task's end time. The task must have started.
func (ts *TaskService) SetTaskEnd(cgsID int64, taskIdx, iterIdx int) error {
	err := ts.store.SetTaskEnd(cgsID, taskIdx, iterIdx, time.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Wrapf(ErrTaskNotStarted,
			"cannot record end for task (cgs=%d task=%d iter=%d)", cgsID, taskIdx, iterIdx)
	}
	return err
}

// Archive compresses the task's working directory into the iteration
// directory and then marks the task archived. The flag is persisted only
// after the artifact exists, and requires the task's end to be recorded.
func (ts *TaskService) Archive(cgsID int64, taskIdx, iterIdx int) error {
	run, err := ts.store.GetTaskRun(cgsID, taskIdx, iterIdx)
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Wrapf(ErrTaskNotStarted,
			"cannot archive task (cgs=%d task=%d iter=%d)", cgsID, taskIdx, iterIdx)
	}
	if err != nil {
		return err
	}
	if run.EndedAt == nil {
		return errors.Wrapf(ErrTaskNotEnded,
			"cannot archive task (cgs=%d task=%d iter=%d)", cgsID, taskIdx, iterIdx)
	}

	ctx, err := ts.store.GetSubmissionContext(cgsID)
	if err != nil {
		return err
	}
	cg := ctx.CommandGroup
	workDir := filepath.Join(ctx.Workflow.Directory, cg.WorkingDir(taskIdx))
	iterDir := filepath.Join(ctx.Workflow.Directory,
		fmt.Sprintf("submit_%d", ctx.Submission.ID), fmt.Sprintf("iter_%d", iterIdx))
	dest := filepath.Join(iterDir, fmt.Sprintf("archive_%d_%d.tar.gz", cg.ExecOrder, taskIdx))

	if err := os.MkdirAll(iterDir, 0o755); err != nil {
		return errors.Wrapf(err, "create iteration dir %s", iterDir)
	}
	if err := archiveDir(workDir, dest); err != nil {
		return errors.Wrapf(err, "archive task (cgs=%d task=%d iter=%d)", cgsID, taskIdx, iterIdx)
	}
	ts.logger.Infof("Archived %s to %s", workDir, dest)

	return ts.store.SetTaskArchived(cgsID, taskIdx, iterIdx)
}

// CollectStats queries the backend's accounting system for the task and
// records whatever it returned. An empty record means the accounting data
// is not available yet; it is stored as such and can be refreshed by
// invoking the collection again later.
func (ts *TaskService) CollectStats(cgsID int64, taskIdx, iterIdx int) (map[string]string, error) {
	ctx, err := ts.store.GetSubmissionContext(cgsID)
	if err != nil {
		return nil, err
	}
	cg := ctx.CommandGroup
	backend, err := scheduler.New(cg.Scheduler, ts.cfg, cg.Options, cg.OutputDir, cg.ErrorDir)
	if err != nil {
		return nil, err
	}

	stats, err := backend.CollectStats(ctx.CGSub.SchedulerJobID, taskIdx)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		ts.logger.Infof("No accounting data yet for task (cgs=%d task=%d iter=%d)",
			cgsID, taskIdx, iterIdx)
	}

	encoded, err := json.Marshal(stats)
	if err != nil {
		return nil, errors.Wrap(err, "encode accounting stats")
	}
	if err := ts.store.SetTaskStats(cgsID, taskIdx, iterIdx, string(encoded)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return stats, errors.Wrapf(ErrTaskNotStarted,
				"cannot record stats for task (cgs=%d task=%d iter=%d)", cgsID, taskIdx, iterIdx)
		}
		return stats, err
	}
	return stats, nil
}

// ListTaskRuns returns the lifecycle rows of one command-group submission,
// e.g. to find abandoned tasks (started, never ended).
func (ts *TaskService) ListTaskRuns(cgsID int64) ([]models.TaskRun, error) {
	return ts.store.ListTaskRuns(cgsID)
}
