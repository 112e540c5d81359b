package scheduler

import (
	"fmt"
	"strings"

	"github.com/aplowman/hpcflow-new/internal/config"
	"github.com/pkg/errors"
)

// Backend is the capability a scheduler variant must provide: option
// formatting, control-script generation and post-hoc accounting collection.
// New backends implement this interface without touching callers.
type Backend interface {
	Name() string

	// FormatOptions renders the ordered directive lines for a submission:
	// required options, output/error directives, optional job name, the
	// sorted user options (if requested), then the array-range directive.
	FormatOptions(maxNumTasks, taskStepSize int, userOpts bool, jobName string) []string

	// WriteJobScript writes the control script for a command-group
	// submission and returns its path.
	WriteJobScript(js JobScript) (string, error)

	// WriteStatsJobScript writes the companion accounting-collection script
	// and returns its path.
	WriteStatsJobScript(js JobScript) (string, error)

	// CollectStats queries the backend's native accounting system for a
	// finished job and returns the key/value record for one logical task.
	// An empty map means the data is not available yet; it is not an error.
	CollectStats(jobID string, taskIdx int) (map[string]string, error)
}

// JobScript carries everything needed to generate the control scripts for
// one command-group submission.
type JobScript struct {
	DirPath                  string // Submission directory the scripts are written into
	WorkflowDir              string // Workflow root; scripts derive SUBMIT_DIR relative to it
	CommandGroupOrder        int
	IterationIdx             int
	MaxNumTasks              int
	TaskStepSize             int
	Environment              []string // Verbatim activation lines
	Archive                  bool
	AlternateScratchDir      string
	CommandGroupSubmissionID int64
	JobName                  string
}

// OptionError reports a user-supplied scheduler option outside the backend's
// allow-list. It is raised at backend construction, before any script file
// is written.
type OptionError struct {
	Scheduler string
	Key       string
	Allowed   []string
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("option %q is not allowed for scheduler %q; allowed options are: %s",
		e.Key, e.Scheduler, strings.Join(e.Allowed, ", "))
}

// TaskIndex maps a 1-based scheduler-native array element id onto the
// logical task index, where each logical task reserves taskStepSize
// consecutive native slots.
func TaskIndex(nativeID, taskStepSize int) int {
	return (nativeID - 1) / taskStepSize
}

// New builds the backend named by a command group's scheduler field.
func New(name string, cfg *config.Config, options map[string]string, outputDir, errorDir string) (Backend, error) {
	switch name {
	case GridEngineName:
		return NewGridEngine(cfg, options, outputDir, errorDir)
	case DirectName:
		return NewDirect(cfg, outputDir, errorDir), nil
	default:
		return nil, errors.Errorf("unknown scheduler %q", name)
	}
}
