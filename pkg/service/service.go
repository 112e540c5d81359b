package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aplowman/hpcflow-new/internal/config"
	"github.com/aplowman/hpcflow-new/internal/project"
	"github.com/aplowman/hpcflow-new/pkg/models"
	"github.com/aplowman/hpcflow-new/pkg/scheduler"
	"github.com/aplowman/hpcflow-new/pkg/storage"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for the services.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// WorkflowService creates workflows and turns them into scheduler
// submissions: one generated job script (and stats script) per command
// group.
type WorkflowService struct {
	store  storage.Store
	cfg    *config.Config
	logger Logger
}

func NewWorkflowService(store storage.Store, cfg *config.Config, logger Logger) *WorkflowService {
	return &WorkflowService{store: store, cfg: cfg, logger: logger}
}

// MakeWorkflow persists a new workflow with its command groups, assigned
// execution order from slice position. Group definitions are immutable once
// saved.
func (s *WorkflowService) MakeWorkflow(dir string, groups []models.CommandGroup) (int64, error) {
	if len(groups) == 0 {
		return 0, errors.New("a workflow needs at least one command group")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return 0, errors.Wrapf(err, "resolve workflow dir %s", dir)
	}
	for i := range groups {
		groups[i].ExecOrder = i
		if groups[i].MaxNumTasks < 1 || groups[i].TaskStepSize < 1 {
			return 0, errors.Errorf(
				"command group %d: max_num_tasks and task_step_size must be at least 1", i)
		}
		// Validate scheduler name and options now so a bad profile fails at
		// workflow creation, not at first submit.
		if _, err := scheduler.New(groups[i].Scheduler, s.cfg, groups[i].Options,
			groups[i].OutputDir, groups[i].ErrorDir); err != nil {
			return 0, err
		}
	}
	wfID, err := s.store.SaveWorkflow(models.Workflow{
		Directory:     abs,
		CreatedAt:     time.Now(),
		CommandGroups: groups,
	})
	if err != nil {
		return 0, err
	}
	s.logger.Infof("Created workflow %d in %s with %d command groups", wfID, abs, len(groups))
	return wfID, nil
}

func (s *WorkflowService) GetWorkflow(id int64) (models.Workflow, error) {
	return s.store.GetWorkflow(id)
}

func (s *WorkflowService) ListWorkflows() ([]models.Workflow, error) {
	return s.store.ListWorkflows()
}

// Submit dispatches the workflow's command groups (all of them when
// groupOrders is empty) as one submission: a submission row, one
// command-group-submission row per group, and the generated job and stats
// scripts under submit_<id>/. The iteration index is the count of prior
// submissions for the workflow, so each resubmission gets its own iter_<N>
// tree and lifecycle history.
func (s *WorkflowService) Submit(workflowID int64, groupOrders []int) (int64, error) {
	wf, err := s.store.GetWorkflow(workflowID)
	if err != nil {
		return 0, err
	}
	proj, err := project.New(wf.Directory)
	if err != nil {
		return 0, err
	}

	groups := wf.CommandGroups
	if len(groupOrders) > 0 {
		groups = nil
		for _, order := range groupOrders {
			found := false
			for _, cg := range wf.CommandGroups {
				if cg.ExecOrder == order {
					groups = append(groups, cg)
					found = true
					break
				}
			}
			if !found {
				return 0, errors.Errorf("workflow %d has no command group with order %d",
					workflowID, order)
			}
		}
	}

	// Backends are constructed (and user options validated) for every group
	// before anything is persisted or written, so a bad option never leaves
	// a partial submission behind.
	backends := make([]scheduler.Backend, len(groups))
	for i, cg := range groups {
		backend, err := scheduler.New(cg.Scheduler, s.cfg, cg.Options, cg.OutputDir, cg.ErrorDir)
		if err != nil {
			return 0, err
		}
		backends[i] = backend
	}

	iterIdx, err := s.store.CountSubmissions(workflowID)
	if err != nil {
		return 0, err
	}
	subID, err := s.store.SaveSubmission(models.Submission{
		WorkflowID:   workflowID,
		IterationIdx: iterIdx,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return 0, err
	}

	submitDir := proj.SubmitDir(subID)
	iterDir := proj.IterDir(subID, iterIdx)
	if err := os.MkdirAll(iterDir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "create iteration dir %s", iterDir)
	}
	if _, err := proj.OutputDir(s.cfg.DefaultOutputDir); err != nil {
		return 0, err
	}
	if _, err := proj.OutputDir(s.cfg.DefaultErrorDir); err != nil {
		return 0, err
	}

	for i, cg := range groups {
		cgsID, err := s.store.SaveCommandGroupSubmission(models.CommandGroupSubmission{
			SubmissionID:      subID,
			CommandGroupID:    cg.ID,
			CommandGroupOrder: cg.ExecOrder,
			MaxNumTasks:       cg.MaxNumTasks,
			TaskStepSize:      cg.TaskStepSize,
		})
		if err != nil {
			return 0, err
		}

		js := scheduler.JobScript{
			DirPath:                  submitDir,
			WorkflowDir:              wf.Directory,
			CommandGroupOrder:        cg.ExecOrder,
			IterationIdx:             iterIdx,
			MaxNumTasks:              cg.MaxNumTasks,
			TaskStepSize:             cg.TaskStepSize,
			Environment:              cg.Environment,
			Archive:                  cg.Archive,
			AlternateScratchDir:      cg.AlternateScratchDir,
			CommandGroupSubmissionID: cgsID,
			JobName:                  cg.Name,
		}
		jsPath, err := backends[i].WriteJobScript(js)
		if err != nil {
			return 0, err
		}
		stPath, err := backends[i].WriteStatsJobScript(js)
		if err != nil {
			return 0, err
		}
		s.logger.Infof("Wrote jobscript %s and stats jobscript %s for command group %d (%s)",
			jsPath, stPath, cg.ExecOrder, backends[i].Name())
	}

	return subID, nil
}

// RecordSchedulerJobID stores the native job id the external scheduler
// assigned when a generated script was enqueued; stats collection needs it
// later.
func (s *WorkflowService) RecordSchedulerJobID(cgsID int64, jobID string) error {
	if err := s.store.SetSchedulerJobID(cgsID, jobID); err != nil {
		return errors.Wrapf(err, "record scheduler job id for command group submission %d", cgsID)
	}
	return nil
}

// WriteRuntimeFiles materializes the files one array element needs at run
// time: the command file the jobscript sources, the per-iteration
// working-directories listing, and (when scratch staging is configured) the
// per-task exclusion file. Every array element invokes this at start, so
// the writes are atomic rename-into-place.
func (s *WorkflowService) WriteRuntimeFiles(cgsID int64, taskIdx, iterIdx int) error {
	ctx, err := s.store.GetSubmissionContext(cgsID)
	if err != nil {
		return err
	}
	cg := ctx.CommandGroup

	submitDir := filepath.Join(ctx.Workflow.Directory, fmt.Sprintf("submit_%d", ctx.Submission.ID))
	iterDir := filepath.Join(submitDir, fmt.Sprintf("iter_%d", iterIdx))
	if err := os.MkdirAll(iterDir, 0o755); err != nil {
		return errors.Wrapf(err, "create iteration dir %s", iterDir)
	}

	cmdPath := filepath.Join(submitDir, fmt.Sprintf("cmd_%d%s", cg.ExecOrder, s.cfg.JobscriptExt))
	if err := writeFileAtomic(cmdPath, joinedLines(cg.Commands)); err != nil {
		return err
	}

	// One line per native array element: the relative working dir of the
	// logical task owning that slot. The jobscript picks its line with
	// `sed -n ${SGE_TASK_ID}p`.
	wkDirs := make([]string, 0, cg.NumArrayElements())
	for nativeID := 1; nativeID <= cg.NumArrayElements(); nativeID++ {
		wkDirs = append(wkDirs, cg.WorkingDir(scheduler.TaskIndex(nativeID, cg.TaskStepSize)))
	}
	wkDirsPath := filepath.Join(iterDir,
		fmt.Sprintf("working_dirs_%d%s", cg.ExecOrder, s.cfg.WorkingDirsFileExt))
	if err := writeFileAtomic(wkDirsPath, joinedLines(wkDirs)); err != nil {
		return err
	}

	if cg.AlternateScratchDir != "" {
		excPath := filepath.Join(iterDir, fmt.Sprintf("%s_%d_%d%s",
			s.cfg.AltScratchExcFile, cg.ExecOrder, taskIdx, s.cfg.AltScratchExcFileExt))
		if err := writeFileAtomic(excPath, joinedLines(cg.ScratchExcludes)); err != nil {
			return err
		}
	}

	return nil
}

func joinedLines(lines []string) []byte {
	out := ""
	for _, ln := range lines {
		out += ln + "\n"
	}
	return []byte(out)
}

// writeFileAtomic writes via a temp file and rename, so concurrent array
// elements rewriting the same runtime file never expose a partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename into %s", path)
	}
	return nil
}
