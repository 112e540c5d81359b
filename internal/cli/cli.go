package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aplowman/hpcflow-new/internal/config"
	"github.com/aplowman/hpcflow-new/internal/log"
	internal_storage "github.com/aplowman/hpcflow-new/internal/storage"
	"github.com/aplowman/hpcflow-new/internal/project"
	"github.com/aplowman/hpcflow-new/pkg/models"
	"github.com/aplowman/hpcflow-new/pkg/service"
	"github.com/spf13/cobra"
)

// SetupCLI registers every hpcflow command on the root command. The
// set-task-start/set-task-end/archive/write-runtime-files/get-scheduler-stats
// commands are the callback surface the generated jobscripts invoke from
// cluster nodes; they all take the same (cgs-id, task-idx, iter-idx)
// positional triple plus --directory and --config-dir.
func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("directory", "", "Workflow directory (default: current directory)")
	rootCmd.PersistentFlags().String("config-dir", "", "hpcflow settings directory (default: ~/.hpcflow)")

	makeCmd := &cobra.Command{
		Use:   "make [profile-file]",
		Short: "Create a new workflow from a YAML profile",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			proj, cfg := initProject(cmd)
			profilePath := filepath.Join(proj.Dir, "workflow.yaml")
			if len(args) == 1 {
				profilePath = args[0]
			}
			groups, err := models.LoadWorkflowProfile(profilePath)
			if err != nil {
				fail("load workflow profile", err)
			}
			store := initStore(proj, false)
			defer store.Close()
			svc := service.NewWorkflowService(store, cfg, log.GetLogger())
			wfID, err := svc.MakeWorkflow(proj.Dir, groups)
			if err != nil {
				fail("create workflow", err)
			}
			fmt.Fprintf(os.Stdout, "Created workflow with ID %d\n", wfID)
		},
	}

	submitCmd := &cobra.Command{
		Use:   "submit <workflow-id> [command-group-order...]",
		Short: "Generate jobscripts for (part of) a workflow",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			proj, cfg := initProject(cmd)
			wfID := parseID(args[0], "workflow-id")
			var orders []int
			for _, a := range args[1:] {
				orders = append(orders, int(parseID(a, "command-group-order")))
			}
			store := initStore(proj, true)
			defer store.Close()
			svc := service.NewWorkflowService(store, cfg, log.GetLogger())
			subID, err := svc.Submit(wfID, orders)
			if err != nil {
				fail("submit workflow", err)
			}
			fmt.Fprintf(os.Stdout, "Created submission %d; jobscripts are in %s\n",
				subID, proj.SubmitDir(subID))
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows in the local store",
		Run: func(cmd *cobra.Command, args []string) {
			proj, cfg := initProject(cmd)
			store := initStore(proj, true)
			defer store.Close()
			svc := service.NewWorkflowService(store, cfg, log.GetLogger())
			workflows, err := svc.ListWorkflows()
			if err != nil {
				fail("list workflows", err)
			}
			if len(workflows) == 0 {
				fmt.Fprintf(os.Stdout, "No workflows found.\n")
				return
			}
			for _, wf := range workflows {
				fmt.Fprintf(os.Stdout, "- ID: %d, Directory: %s, Created: %s\n",
					wf.ID, wf.Directory, wf.CreatedAt.Format(time.RFC3339))
			}
		},
	}

	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove all hpcflow-generated content from the workflow directory",
		Run: func(cmd *cobra.Command, args []string) {
			proj, _ := initProject(cmd)
			if err := proj.Clean(); err != nil {
				fail("clean project", err)
			}
			fmt.Fprintf(os.Stdout, "Cleaned %s\n", proj.Dir)
		},
	}

	setJobIDCmd := &cobra.Command{
		Use:   "set-job-id <cgs-id> <scheduler-job-id>",
		Short: "Record the native job id the scheduler assigned to a submission",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			proj, cfg := initProject(cmd)
			store := initStore(proj, true)
			defer store.Close()
			svc := service.NewWorkflowService(store, cfg, log.GetLogger())
			if err := svc.RecordSchedulerJobID(parseID(args[0], "cgs-id"), args[1]); err != nil {
				fail("set job id", err)
			}
		},
	}

	writeRuntimeFilesCmd := taskCallbackCmd("write-runtime-files",
		"Materialize the command file and working-dirs listing for a task",
		func(ts *service.TaskService, ws *service.WorkflowService, cgsID int64, taskIdx, iterIdx int) error {
			return ws.WriteRuntimeFiles(cgsID, taskIdx, iterIdx)
		})

	setTaskStartCmd := taskCallbackCmd("set-task-start",
		"Record the start time of a task",
		func(ts *service.TaskService, ws *service.WorkflowService, cgsID int64, taskIdx, iterIdx int) error {
			return ts.SetTaskStart(cgsID, taskIdx, iterIdx)
		})

	setTaskEndCmd := taskCallbackCmd("set-task-end",
		"Record the end time of a task",
		func(ts *service.TaskService, ws *service.WorkflowService, cgsID int64, taskIdx, iterIdx int) error {
			return ts.SetTaskEnd(cgsID, taskIdx, iterIdx)
		})

	archiveCmd := taskCallbackCmd("archive",
		"Archive the working directory of a task",
		func(ts *service.TaskService, ws *service.WorkflowService, cgsID int64, taskIdx, iterIdx int) error {
			return ts.Archive(cgsID, taskIdx, iterIdx)
		})

	statsCmd := taskCallbackCmd("get-scheduler-stats",
		"Fetch and record scheduler accounting stats for a task",
		func(ts *service.TaskService, ws *service.WorkflowService, cgsID int64, taskIdx, iterIdx int) error {
			stats, err := ts.CollectStats(cgsID, taskIdx, iterIdx)
			if err != nil {
				return err
			}
			for k, v := range stats {
				fmt.Fprintf(os.Stdout, "%s\t%s\n", k, v)
			}
			return nil
		})

	rootCmd.AddCommand(makeCmd, submitCmd, listCmd, cleanCmd, setJobIDCmd,
		writeRuntimeFilesCmd, setTaskStartCmd, setTaskEndCmd, archiveCmd, statsCmd)
}

// taskCallbackCmd builds one of the per-task callback commands, which share
// the positional (cgs-id, task-idx, iter-idx) contract.
func taskCallbackCmd(use, short string,
	run func(ts *service.TaskService, ws *service.WorkflowService, cgsID int64, taskIdx, iterIdx int) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <cgs-id> <task-idx> <iter-idx>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			proj, cfg := initProject(cmd)
			cgsID := parseID(args[0], "cgs-id")
			taskIdx := int(parseID(args[1], "task-idx"))
			iterIdx := int(parseID(args[2], "iter-idx"))
			store := initStore(proj, true)
			defer store.Close()
			ts := service.NewTaskService(store, cfg, log.GetLogger())
			ws := service.NewWorkflowService(store, cfg, log.GetLogger())
			if err := run(ts, ws, cgsID, taskIdx, iterIdx); err != nil {
				fail(use, err)
			}
		},
	}
}

func initProject(cmd *cobra.Command) (*project.Project, *config.Config) {
	dir, err := cmd.Flags().GetString("directory")
	if err != nil {
		fail("read directory flag", err)
	}
	proj, err := project.New(dir)
	if err != nil {
		fail("resolve project", err)
	}
	configDir, err := cmd.Flags().GetString("config-dir")
	if err != nil {
		fail("read config-dir flag", err)
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		fail("load config", err)
	}
	return proj, cfg
}

func initStore(proj *project.Project, mustExist bool) *internal_storage.SQLiteStore {
	store, err := internal_storage.InitStore(proj.StorePath(), mustExist)
	if err != nil {
		fail("initialize store", err)
	}
	return store
}

func parseID(s, name string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fail(fmt.Sprintf("parse %s %q", name, s), err)
	}
	return id
}

func fail(what string, err error) {
	log.GetLogger().Errorf("Failed to %s: %v", what, err)
	fmt.Fprintf(os.Stderr, "Error: failed to %s: %v\n", what, err)
	os.Exit(1)
}
