package storage

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aplowman/hpcflow-new/pkg/models"
	"github.com/aplowman/hpcflow-new/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// The store is a single SQLite file shared by the submitting process and
// every task process the scheduler launches, possibly on different nodes.
// WAL mode plus a busy timeout handles most concurrent writers; on top of
// that each lifecycle write retries with backoff when the database reports
// lock contention.
const (
	maxRetries   = 10
	retryBackoff = 25 * time.Millisecond
)

// SQLiteStore implements storage.Store against a SQLite file.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
}

// NewSQLiteStore opens the store file. The schema must already exist; use
// InitStore to create it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", path)
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrapf(err, "ping store %s", path)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// InitStore opens the store at path, distinguishing operations that may
// create it (mustExist=false: workflow creation) from those that require it
// to already exist (everything the generated scripts call back into). The
// schema migrations are applied in either case; reapplication is a no-op.
func InitStore(path string, mustExist bool) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat store %s", path)
		}
		if mustExist {
			return nil, errors.Wrapf(storage.ErrNotInitialized, "no store at %s", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create store dir for %s", path)
		}
	}
	if err := migrateUp(path); err != nil {
		return nil, err
	}
	return NewSQLiteStore(path)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isLocked(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

func (s *SQLiteStore) execRetry(query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err = s.db.Exec(query, args...)
		if err == nil || !isLocked(err) {
			return res, err
		}
		time.Sleep(time.Duration(attempt+1) * retryBackoff)
	}
	return res, err
}

// Row types mirror the schema; slice and map fields of the models are
// flattened to text columns.

type commandGroupRow struct {
	ID                  int64  `db:"id"`
	WorkflowID          int64  `db:"workflow_id"`
	ExecOrder           int    `db:"exec_order"`
	Name                string `db:"name"`
	Commands            string `db:"commands"`
	Environment         string `db:"environment"`
	WorkingDirs         string `db:"working_dirs"`
	Scheduler           string `db:"scheduler"`
	Options             string `db:"options"`
	MaxNumTasks         int    `db:"max_num_tasks"`
	TaskStepSize        int    `db:"task_step_size"`
	Archive             bool   `db:"archive"`
	AlternateScratchDir string `db:"alternate_scratch_dir"`
	ScratchExcludes     string `db:"scratch_excludes"`
	OutputDir           string `db:"output_dir"`
	ErrorDir            string `db:"error_dir"`
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func (r commandGroupRow) toModel() (models.CommandGroup, error) {
	opts := map[string]string{}
	if r.Options != "" {
		if err := json.Unmarshal([]byte(r.Options), &opts); err != nil {
			return models.CommandGroup{}, errors.Wrapf(err, "decode options for command group %d", r.ID)
		}
	}
	return models.CommandGroup{
		ID:                  r.ID,
		WorkflowID:          r.WorkflowID,
		ExecOrder:           r.ExecOrder,
		Name:                r.Name,
		Commands:            splitLines(r.Commands),
		Environment:         splitLines(r.Environment),
		WorkingDirs:         splitLines(r.WorkingDirs),
		Scheduler:           r.Scheduler,
		Options:             opts,
		MaxNumTasks:         r.MaxNumTasks,
		TaskStepSize:        r.TaskStepSize,
		Archive:             r.Archive,
		AlternateScratchDir: r.AlternateScratchDir,
		ScratchExcludes:     splitLines(r.ScratchExcludes),
		OutputDir:           r.OutputDir,
		ErrorDir:            r.ErrorDir,
	}, nil
}

// SaveWorkflow inserts the workflow and its command groups in one
// transaction and returns the workflow id.
func (s *SQLiteStore) SaveWorkflow(w models.Workflow) (int64, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, errors.Wrap(err, "begin save workflow")
	}
	defer tx.Rollback()

	res, err := tx.Exec("INSERT INTO workflows (directory, created_at) VALUES (?, ?)",
		w.Directory, w.CreatedAt)
	if err != nil {
		return 0, errors.Wrap(err, "save workflow")
	}
	wfID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, cg := range w.CommandGroups {
		opts, err := json.Marshal(cg.Options)
		if err != nil {
			return 0, errors.Wrapf(err, "encode options for command group %d", cg.ExecOrder)
		}
		_, err = tx.Exec(`
			INSERT INTO command_groups
			(workflow_id, exec_order, name, commands, environment, working_dirs,
			 scheduler, options, max_num_tasks, task_step_size, archive,
			 alternate_scratch_dir, scratch_excludes, output_dir, error_dir)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			wfID, cg.ExecOrder, cg.Name, joinLines(cg.Commands),
			joinLines(cg.Environment), joinLines(cg.WorkingDirs),
			cg.Scheduler, string(opts), cg.MaxNumTasks, cg.TaskStepSize,
			cg.Archive, cg.AlternateScratchDir, joinLines(cg.ScratchExcludes),
			cg.OutputDir, cg.ErrorDir)
		if err != nil {
			return 0, errors.Wrapf(err, "save command group %d", cg.ExecOrder)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit save workflow")
	}
	return wfID, nil
}

// GetWorkflow retrieves a workflow by id, including its command groups in
// execution order.
func (s *SQLiteStore) GetWorkflow(id int64) (models.Workflow, error) {
	var wf models.Workflow
	err := s.db.Get(&wf, "SELECT id, directory, created_at FROM workflows WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Workflow{}, errors.Wrapf(err, "get workflow %d", id)
	}

	var rows []commandGroupRow
	err = s.db.Select(&rows,
		"SELECT * FROM command_groups WHERE workflow_id = ? ORDER BY exec_order", id)
	if err != nil {
		return models.Workflow{}, errors.Wrapf(err, "get command groups for workflow %d", id)
	}
	for _, r := range rows {
		cg, err := r.toModel()
		if err != nil {
			return models.Workflow{}, err
		}
		wf.CommandGroups = append(wf.CommandGroups, cg)
	}
	return wf, nil
}

func (s *SQLiteStore) ListWorkflows() ([]models.Workflow, error) {
	workflows := []models.Workflow{}
	err := s.db.Select(&workflows,
		"SELECT id, directory, created_at FROM workflows ORDER BY created_at DESC")
	if err != nil {
		return nil, errors.Wrap(err, "list workflows")
	}
	return workflows, nil
}

func (s *SQLiteStore) SaveSubmission(sub models.Submission) (int64, error) {
	res, err := s.execRetry(
		"INSERT INTO submissions (workflow_id, iteration_idx, created_at) VALUES (?, ?, ?)",
		sub.WorkflowID, sub.IterationIdx, sub.CreatedAt)
	if err != nil {
		return 0, errors.Wrap(err, "save submission")
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) CountSubmissions(workflowID int64) (int, error) {
	var n int
	err := s.db.Get(&n, "SELECT COUNT(*) FROM submissions WHERE workflow_id = ?", workflowID)
	if err != nil {
		return 0, errors.Wrapf(err, "count submissions for workflow %d", workflowID)
	}
	return n, nil
}

func (s *SQLiteStore) SaveCommandGroupSubmission(cs models.CommandGroupSubmission) (int64, error) {
	res, err := s.execRetry(`
		INSERT INTO command_group_submissions
		(submission_id, command_group_id, command_group_order, max_num_tasks,
		 task_step_size, scheduler_job_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cs.SubmissionID, cs.CommandGroupID, cs.CommandGroupOrder,
		cs.MaxNumTasks, cs.TaskStepSize, cs.SchedulerJobID)
	if err != nil {
		return 0, errors.Wrap(err, "save command group submission")
	}
	return res.LastInsertId()
}

// GetSubmissionContext resolves a command-group-submission id to the full
// chain of owning rows: the workflow, the command group and the submission.
// The generated scripts carry only this one id, so every per-task callback
// starts here.
func (s *SQLiteStore) GetSubmissionContext(cgsID int64) (models.SubmissionContext, error) {
	var ctx models.SubmissionContext

	err := s.db.Get(&ctx.CGSub,
		"SELECT * FROM command_group_submissions WHERE id = ?", cgsID)
	if err == sql.ErrNoRows {
		return models.SubmissionContext{}, storage.ErrNotFound
	}
	if err != nil {
		return models.SubmissionContext{}, errors.Wrapf(err, "get command group submission %d", cgsID)
	}

	err = s.db.Get(&ctx.Submission,
		"SELECT * FROM submissions WHERE id = ?", ctx.CGSub.SubmissionID)
	if err != nil {
		return models.SubmissionContext{}, errors.Wrapf(err, "get submission %d", ctx.CGSub.SubmissionID)
	}

	var cgRow commandGroupRow
	err = s.db.Get(&cgRow,
		"SELECT * FROM command_groups WHERE id = ?", ctx.CGSub.CommandGroupID)
	if err != nil {
		return models.SubmissionContext{}, errors.Wrapf(err, "get command group %d", ctx.CGSub.CommandGroupID)
	}
	ctx.CommandGroup, err = cgRow.toModel()
	if err != nil {
		return models.SubmissionContext{}, err
	}

	err = s.db.Get(&ctx.Workflow,
		"SELECT id, directory, created_at FROM workflows WHERE id = ?", ctx.Submission.WorkflowID)
	if err != nil {
		return models.SubmissionContext{}, errors.Wrapf(err, "get workflow %d", ctx.Submission.WorkflowID)
	}

	return ctx, nil
}

func (s *SQLiteStore) SetSchedulerJobID(cgsID int64, jobID string) error {
	res, err := s.execRetry(
		"UPDATE command_group_submissions SET scheduler_job_id = ? WHERE id = ?", jobID, cgsID)
	if err != nil {
		return errors.Wrapf(err, "set scheduler job id for %d", cgsID)
	}
	return requireAffected(res)
}

// UpsertTaskStart records the start timestamp for one task, creating the
// lifecycle row on first call. The upsert is a single statement scoped to
// its own key, so concurrent task processes never contend on the same row.
// A repeated start overwrites the start time only; any recorded end
// survives.
func (s *SQLiteStore) UpsertTaskStart(cgsID int64, taskIdx, iterIdx int, t time.Time) (bool, error) {
	var existed bool
	err := s.db.Get(&existed, `
		SELECT COUNT(*) > 0 FROM task_runs
		WHERE cgs_id = ? AND task_idx = ? AND iter_idx = ?`,
		cgsID, taskIdx, iterIdx)
	if err != nil {
		return false, errors.Wrap(err, "check task run")
	}
	_, err = s.execRetry(`
		INSERT INTO task_runs (cgs_id, task_idx, iter_idx, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (cgs_id, task_idx, iter_idx)
		DO UPDATE SET started_at = excluded.started_at`,
		cgsID, taskIdx, iterIdx, t)
	if err != nil {
		return existed, errors.Wrap(err, "record task start")
	}
	return existed, nil
}

func (s *SQLiteStore) SetTaskEnd(cgsID int64, taskIdx, iterIdx int, t time.Time) error {
	res, err := s.execRetry(`
		UPDATE task_runs SET ended_at = ?
		WHERE cgs_id = ? AND task_idx = ? AND iter_idx = ?`,
		t, cgsID, taskIdx, iterIdx)
	if err != nil {
		return errors.Wrap(err, "record task end")
	}
	return requireAffected(res)
}

func (s *SQLiteStore) SetTaskArchived(cgsID int64, taskIdx, iterIdx int) error {
	res, err := s.execRetry(`
		UPDATE task_runs SET archived = 1
		WHERE cgs_id = ? AND task_idx = ? AND iter_idx = ?`,
		cgsID, taskIdx, iterIdx)
	if err != nil {
		return errors.Wrap(err, "record task archived")
	}
	return requireAffected(res)
}

func (s *SQLiteStore) SetTaskStats(cgsID int64, taskIdx, iterIdx int, stats string) error {
	res, err := s.execRetry(`
		UPDATE task_runs SET stats = ?
		WHERE cgs_id = ? AND task_idx = ? AND iter_idx = ?`,
		stats, cgsID, taskIdx, iterIdx)
	if err != nil {
		return errors.Wrap(err, "record task stats")
	}
	return requireAffected(res)
}

func (s *SQLiteStore) GetTaskRun(cgsID int64, taskIdx, iterIdx int) (models.TaskRun, error) {
	var run models.TaskRun
	err := s.db.Get(&run, `
		SELECT * FROM task_runs
		WHERE cgs_id = ? AND task_idx = ? AND iter_idx = ?`,
		cgsID, taskIdx, iterIdx)
	if err == sql.ErrNoRows {
		return models.TaskRun{}, storage.ErrNotFound
	}
	if err != nil {
		return models.TaskRun{}, errors.Wrap(err, "get task run")
	}
	return run, nil
}

func (s *SQLiteStore) ListTaskRuns(cgsID int64) ([]models.TaskRun, error) {
	runs := []models.TaskRun{}
	err := s.db.Select(&runs, `
		SELECT * FROM task_runs WHERE cgs_id = ?
		ORDER BY iter_idx, task_idx`, cgsID)
	if err != nil {
		return nil, errors.Wrap(err, "list task runs")
	}
	return runs, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
