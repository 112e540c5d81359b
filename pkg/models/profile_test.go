package models_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aplowman/hpcflow-new/pkg/models"
	"github.com/stretchr/testify/assert"
)

func writeProfile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("Failed to write profile: %v", err)
	}
	return path
}

func TestLoadWorkflowProfile(t *testing.T) {
	t.Run("FullProfile", func(t *testing.T) {
		path := writeProfile(t, `
command_groups:
  - name: damask
    commands:
      - DAMASK_spectral -l load.load -g geom.geom
    environment:
      - module load damask
    working_dirs: [sim_1, sim_2]
    scheduler: sge
    options:
      pe: smp.pe 8
      l: short
    max_num_tasks: 2
    task_step_size: 2
    archive: true
    alternate_scratch_dir: /scratch/damask
    scratch_excludes: ["*.spectralOut"]
  - name: postprocess
    commands: [python post.py]
    scheduler: direct
`)
		groups, err := models.LoadWorkflowProfile(path)
		assert.NoError(t, err)
		assert.Len(t, groups, 2)

		first := groups[0]
		assert.Equal(t, 0, first.ExecOrder)
		assert.Equal(t, "damask", first.Name)
		assert.Equal(t, []string{"sim_1", "sim_2"}, first.WorkingDirs)
		assert.Equal(t, map[string]string{"pe": "smp.pe 8", "l": "short"}, first.Options)
		assert.Equal(t, 2, first.MaxNumTasks)
		assert.Equal(t, 2, first.TaskStepSize)
		assert.True(t, first.Archive)
		assert.Equal(t, "/scratch/damask", first.AlternateScratchDir)

		second := groups[1]
		assert.Equal(t, 1, second.ExecOrder)
		assert.Equal(t, "direct", second.Scheduler)
	})

	t.Run("Defaults", func(t *testing.T) {
		path := writeProfile(t, `
command_groups:
  - commands: [echo hi]
`)
		groups, err := models.LoadWorkflowProfile(path)
		assert.NoError(t, err)
		assert.Equal(t, "sge", groups[0].Scheduler)
		assert.Equal(t, 1, groups[0].MaxNumTasks)
		assert.Equal(t, 1, groups[0].TaskStepSize)
	})

	t.Run("NoCommandGroups", func(t *testing.T) {
		path := writeProfile(t, "command_groups: []\n")
		_, err := models.LoadWorkflowProfile(path)
		assert.Error(t, err)
	})

	t.Run("GroupWithoutCommands", func(t *testing.T) {
		path := writeProfile(t, `
command_groups:
  - name: empty
`)
		_, err := models.LoadWorkflowProfile(path)
		assert.Error(t, err)
	})

	t.Run("NegativeTaskCount", func(t *testing.T) {
		path := writeProfile(t, `
command_groups:
  - commands: [echo hi]
    max_num_tasks: -3
`)
		_, err := models.LoadWorkflowProfile(path)
		assert.Error(t, err)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := models.LoadWorkflowProfile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		path := writeProfile(t, "command_groups: [\n")
		_, err := models.LoadWorkflowProfile(path)
		assert.Error(t, err)
	})
}

func TestCommandGroupHelpers(t *testing.T) {
	cg := models.CommandGroup{MaxNumTasks: 4, TaskStepSize: 2}
	assert.Equal(t, 8, cg.NumArrayElements())

	t.Run("WorkingDirCycles", func(t *testing.T) {
		cg := models.CommandGroup{WorkingDirs: []string{"a", "b", "c"}}
		assert.Equal(t, "a", cg.WorkingDir(0))
		assert.Equal(t, "c", cg.WorkingDir(2))
		assert.Equal(t, "a", cg.WorkingDir(3))
		assert.Equal(t, "b", cg.WorkingDir(4))
	})

	t.Run("WorkingDirDefault", func(t *testing.T) {
		cg := models.CommandGroup{}
		assert.Equal(t, ".", cg.WorkingDir(0))
	})
}
