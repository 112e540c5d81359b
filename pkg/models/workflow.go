package models

import "time"

// Workflow is an ordered set of command groups bound to a working directory.
// Command groups are immutable once the workflow is saved; a workflow may
// accumulate any number of submissions over its life.
type Workflow struct {
	ID            int64          `json:"id" db:"id"`
	Directory     string         `json:"directory" db:"directory"` // Absolute path to the workflow root
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	CommandGroups []CommandGroup `json:"command_groups,omitempty"` // Ordered by ExecOrder (populated at load)
}

// CommandGroup is a shell-command sequence run once per task, plus the
// scheduling hints needed to submit it as a job array.
type CommandGroup struct {
	ID          int64    `json:"id" db:"id"`
	WorkflowID  int64    `json:"workflow_id" db:"workflow_id"`
	ExecOrder   int      `json:"exec_order" db:"exec_order"` // Position within the workflow; names generated scripts
	Name        string   `json:"name" db:"name"`
	Commands    []string `json:"commands"`              // Shell commands, one per line of the command file
	Environment []string `json:"environment,omitempty"` // Verbatim activation lines (e.g. module loads)
	WorkingDirs []string `json:"working_dirs,omitempty"`

	Scheduler string            `json:"scheduler" db:"scheduler"` // Backend name: "sge" or "direct"
	Options   map[string]string `json:"options,omitempty"`        // User scheduler options, validated per backend

	MaxNumTasks  int `json:"max_num_tasks" db:"max_num_tasks"`
	TaskStepSize int `json:"task_step_size" db:"task_step_size"` // Native array slots reserved per logical task

	Archive             bool     `json:"archive" db:"archive"`
	AlternateScratchDir string   `json:"alternate_scratch_dir,omitempty" db:"alternate_scratch_dir"`
	ScratchExcludes     []string `json:"scratch_excludes,omitempty"` // rsync exclude patterns for the stage-in

	OutputDir string `json:"output_dir,omitempty" db:"output_dir"` // Scheduler stdout dir; config default if empty
	ErrorDir  string `json:"error_dir,omitempty" db:"error_dir"`   // Scheduler stderr dir; config default if empty
}

// NumArrayElements is the number of scheduler-native array elements the group
// requests: MaxNumTasks slots of TaskStepSize each.
func (cg CommandGroup) NumArrayElements() int {
	return cg.MaxNumTasks * cg.TaskStepSize
}

// WorkingDir resolves the relative working directory for a logical task
// index. Groups with no explicit directories run every task in the workflow
// root; groups with fewer directories than tasks cycle through them.
func (cg CommandGroup) WorkingDir(taskIdx int) string {
	if len(cg.WorkingDirs) == 0 {
		return "."
	}
	return cg.WorkingDirs[taskIdx%len(cg.WorkingDirs)]
}
