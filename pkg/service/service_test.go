package service_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aplowman/hpcflow-new/internal/testutil"
	"github.com/aplowman/hpcflow-new/pkg/models"
	"github.com/aplowman/hpcflow-new/pkg/scheduler"
	"github.com/aplowman/hpcflow-new/pkg/service"
	"github.com/aplowman/hpcflow-new/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func TestMakeWorkflow(t *testing.T) {
	cfg := testutil.TestConfig(t)

	t.Run("EmptyWorkflowFails", func(t *testing.T) {
		svc := service.NewWorkflowService(storage.NewMockStore(), cfg, logger{})
		_, err := svc.MakeWorkflow(t.TempDir(), nil)
		assert.Error(t, err)
	})

	t.Run("BadOptionFailsAtCreation", func(t *testing.T) {
		svc := service.NewWorkflowService(storage.NewMockStore(), cfg, logger{})
		cg := defaultGroup()
		cg.Scheduler = "sge"
		cg.Options = map[string]string{"q": "all.q"}
		_, err := svc.MakeWorkflow(t.TempDir(), []models.CommandGroup{cg})
		var optErr *scheduler.OptionError
		assert.ErrorAs(t, err, &optErr)
	})

	t.Run("AssignsExecutionOrder", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewWorkflowService(store, cfg, logger{})
		wfID, err := svc.MakeWorkflow(t.TempDir(), []models.CommandGroup{
			defaultGroup(), defaultGroup(),
		})
		assert.NoError(t, err)
		wf, err := svc.GetWorkflow(wfID)
		assert.NoError(t, err)
		assert.Len(t, wf.CommandGroups, 2)
		assert.Equal(t, 0, wf.CommandGroups[0].ExecOrder)
		assert.Equal(t, 1, wf.CommandGroups[1].ExecOrder)
	})
}

func TestSubmit(t *testing.T) {
	cfg := testutil.TestConfig(t)

	makeAndSubmit := func(t *testing.T, groups []models.CommandGroup) (string, int64, *service.WorkflowService) {
		wfDir := t.TempDir()
		svc := service.NewWorkflowService(storage.NewMockStore(), cfg, logger{})
		wfID, err := svc.MakeWorkflow(wfDir, groups)
		assert.NoError(t, err)
		subID, err := svc.Submit(wfID, nil)
		assert.NoError(t, err)
		return wfDir, subID, svc
	}

	t.Run("WritesScriptsPerCommandGroup", func(t *testing.T) {
		first := defaultGroup()
		first.Scheduler = "sge"
		first.MaxNumTasks = 4
		second := defaultGroup()
		wfDir, subID, _ := makeAndSubmit(t, []models.CommandGroup{first, second})

		submitDir := filepath.Join(wfDir, "submit_"+itoa(subID))
		for _, name := range []string{"js_0.sh", "st_0.sh", "js_1.sh", "st_1.sh"} {
			_, err := os.Stat(filepath.Join(submitDir, name))
			assert.NoError(t, err, name)
		}

		data, err := os.ReadFile(filepath.Join(submitDir, "js_0.sh"))
		assert.NoError(t, err)
		assert.Contains(t, string(data), "#$ -t 1-4:1")

		// The iteration dir for the first run exists before any task needs
		// its log path.
		_, err = os.Stat(filepath.Join(submitDir, "iter_0"))
		assert.NoError(t, err)
	})

	t.Run("IterationIndexCountsSubmissions", func(t *testing.T) {
		wfDir := t.TempDir()
		svc := service.NewWorkflowService(storage.NewMockStore(), cfg, logger{})
		wfID, err := svc.MakeWorkflow(wfDir, []models.CommandGroup{defaultGroup()})
		assert.NoError(t, err)

		first, err := svc.Submit(wfID, nil)
		assert.NoError(t, err)
		second, err := svc.Submit(wfID, nil)
		assert.NoError(t, err)

		_, err = os.Stat(filepath.Join(wfDir, "submit_"+itoa(first), "iter_0"))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(wfDir, "submit_"+itoa(second), "iter_1"))
		assert.NoError(t, err)
	})

	t.Run("SubsetByOrder", func(t *testing.T) {
		first := defaultGroup()
		second := defaultGroup()
		wfDir := t.TempDir()
		svc := service.NewWorkflowService(storage.NewMockStore(), cfg, logger{})
		wfID, err := svc.MakeWorkflow(wfDir, []models.CommandGroup{first, second})
		assert.NoError(t, err)

		subID, err := svc.Submit(wfID, []int{1})
		assert.NoError(t, err)

		submitDir := filepath.Join(wfDir, "submit_"+itoa(subID))
		_, err = os.Stat(filepath.Join(submitDir, "js_1.sh"))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(submitDir, "js_0.sh"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("UnknownOrderFails", func(t *testing.T) {
		wfDir := t.TempDir()
		svc := service.NewWorkflowService(storage.NewMockStore(), cfg, logger{})
		wfID, err := svc.MakeWorkflow(wfDir, []models.CommandGroup{defaultGroup()})
		assert.NoError(t, err)
		_, err = svc.Submit(wfID, []int{3})
		assert.Error(t, err)
	})

	t.Run("BadOptionLeavesNoPartialSubmission", func(t *testing.T) {
		// MakeWorkflow validates too, so persist the bad group directly.
		store := storage.NewMockStore()
		wfDir := t.TempDir()
		cg := defaultGroup()
		cg.Scheduler = "sge"
		cg.Options = map[string]string{"bogus": "1"}
		wfID, err := store.SaveWorkflow(models.Workflow{
			Directory:     wfDir,
			CreatedAt:     time.Now(),
			CommandGroups: []models.CommandGroup{cg},
		})
		assert.NoError(t, err)

		svc := service.NewWorkflowService(store, cfg, logger{})
		_, err = svc.Submit(wfID, nil)
		var optErr *scheduler.OptionError
		assert.ErrorAs(t, err, &optErr)

		// No submission directory and no script may exist after the failure.
		matches, err := filepath.Glob(filepath.Join(wfDir, "submit_*"))
		assert.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestWriteRuntimeFiles(t *testing.T) {
	cfg := testutil.TestConfig(t)

	t.Run("CommandFileAndWorkingDirs", func(t *testing.T) {
		store := storage.NewMockStore()
		wfDir := t.TempDir()
		cg := defaultGroup()
		cg.Commands = []string{"echo one", "echo two"}
		cg.WorkingDirs = []string{"task_a", "task_b", "task_c", "task_d"}
		cg.MaxNumTasks = 4
		cg.TaskStepSize = 2
		cgsID := setupSubmission(t, store, wfDir, cg)

		svc := service.NewWorkflowService(store, cfg, logger{})
		assert.NoError(t, svc.WriteRuntimeFiles(cgsID, 0, 0))

		ctx, err := store.GetSubmissionContext(cgsID)
		assert.NoError(t, err)
		submitDir := filepath.Join(wfDir, "submit_"+itoa(ctx.Submission.ID))

		cmdData, err := os.ReadFile(filepath.Join(submitDir, "cmd_0.sh"))
		assert.NoError(t, err)
		assert.Equal(t, "echo one\necho two\n", string(cmdData))

		// One line per native array element: each task owns step-size
		// consecutive slots.
		wkData, err := os.ReadFile(filepath.Join(submitDir, "iter_0", "working_dirs_0.txt"))
		assert.NoError(t, err)
		lines := strings.Split(strings.TrimRight(string(wkData), "\n"), "\n")
		assert.Equal(t, []string{
			"task_a", "task_a", "task_b", "task_b",
			"task_c", "task_c", "task_d", "task_d",
		}, lines)
	})

	t.Run("ScratchExclusionFile", func(t *testing.T) {
		store := storage.NewMockStore()
		wfDir := t.TempDir()
		cg := defaultGroup()
		cg.AlternateScratchDir = "/scratch/me"
		cg.ScratchExcludes = []string{"*.bak", "raw/"}
		cgsID := setupSubmission(t, store, wfDir, cg)

		svc := service.NewWorkflowService(store, cfg, logger{})
		assert.NoError(t, svc.WriteRuntimeFiles(cgsID, 2, 1))

		ctx, err := store.GetSubmissionContext(cgsID)
		assert.NoError(t, err)
		excPath := filepath.Join(wfDir, "submit_"+itoa(ctx.Submission.ID),
			"iter_1", "alt_scratch_exc_0_2.txt")
		data, err := os.ReadFile(excPath)
		assert.NoError(t, err)
		assert.Equal(t, "*.bak\nraw/\n", string(data))
	})

	t.Run("IdempotentRewrite", func(t *testing.T) {
		store := storage.NewMockStore()
		wfDir := t.TempDir()
		cgsID := setupSubmission(t, store, wfDir, defaultGroup())

		svc := service.NewWorkflowService(store, cfg, logger{})
		assert.NoError(t, svc.WriteRuntimeFiles(cgsID, 0, 0))
		assert.NoError(t, svc.WriteRuntimeFiles(cgsID, 0, 0))
	})
}
