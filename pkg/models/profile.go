package models

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// WorkflowProfile is the on-disk (YAML) definition of a workflow, as written
// by users in the workflow directory.
type WorkflowProfile struct {
	CommandGroups []CommandGroupProfile `yaml:"command_groups"`
}

// CommandGroupProfile is one command group entry in a workflow profile.
type CommandGroupProfile struct {
	Name                string            `yaml:"name"`
	Commands            []string          `yaml:"commands"`
	Environment         []string          `yaml:"environment"`
	WorkingDirs         []string          `yaml:"working_dirs"`
	Scheduler           string            `yaml:"scheduler"`
	Options             map[string]string `yaml:"options"`
	MaxNumTasks         int               `yaml:"max_num_tasks"`
	TaskStepSize        int               `yaml:"task_step_size"`
	Archive             bool              `yaml:"archive"`
	AlternateScratchDir string            `yaml:"alternate_scratch_dir"`
	ScratchExcludes     []string          `yaml:"scratch_excludes"`
	OutputDir           string            `yaml:"output_dir"`
	ErrorDir            string            `yaml:"error_dir"`
}

// LoadWorkflowProfile reads a workflow profile from a YAML file and converts
// it to command groups in file order. Omitted per-group fields get the usual
// defaults: scheduler "sge", one task, step size one.
func LoadWorkflowProfile(path string) ([]CommandGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read workflow profile %s", path)
	}
	var profile WorkflowProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, errors.Wrapf(err, "parse workflow profile %s", path)
	}
	if len(profile.CommandGroups) == 0 {
		return nil, errors.Errorf("workflow profile %s defines no command groups", path)
	}

	groups := make([]CommandGroup, 0, len(profile.CommandGroups))
	for i, p := range profile.CommandGroups {
		if len(p.Commands) == 0 {
			return nil, errors.Errorf("command group %d (%s) has no commands", i, p.Name)
		}
		cg := CommandGroup{
			ExecOrder:           i,
			Name:                p.Name,
			Commands:            p.Commands,
			Environment:         p.Environment,
			WorkingDirs:         p.WorkingDirs,
			Scheduler:           p.Scheduler,
			Options:             p.Options,
			MaxNumTasks:         p.MaxNumTasks,
			TaskStepSize:        p.TaskStepSize,
			Archive:             p.Archive,
			AlternateScratchDir: p.AlternateScratchDir,
			ScratchExcludes:     p.ScratchExcludes,
			OutputDir:           p.OutputDir,
			ErrorDir:            p.ErrorDir,
		}
		if cg.Scheduler == "" {
			cg.Scheduler = "sge"
		}
		if cg.MaxNumTasks == 0 {
			cg.MaxNumTasks = 1
		}
		if cg.TaskStepSize == 0 {
			cg.TaskStepSize = 1
		}
		if cg.MaxNumTasks < 1 || cg.TaskStepSize < 1 {
			return nil, errors.Errorf(
				"command group %d (%s): max_num_tasks and task_step_size must be positive", i, p.Name)
		}
		groups = append(groups, cg)
	}
	return groups, nil
}
