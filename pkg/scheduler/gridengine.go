package scheduler

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/aplowman/hpcflow-new/internal/config"
)

// GridEngineName is the scheduler name command groups use to select the
// grid-engine job-array backend.
const GridEngineName = "sge"

// statsDelim separates the per-job blocks of qacct output.
const statsDelim = "==============================================================\n"

// Options that determine how to set the output/error directories:
const (
	stdoutOpt = "o"
	stderrOpt = "e"
)

// requiredOpts are always injected so the generated scripts work with
// hpcflow; they are not user-overridable.
var requiredOpts = []string{"cwd"}

// allowedUserOpts is the allow-list for user-supplied grid-engine options.
var allowedUserOpts = []string{
	"pe", // Parallel environment
	"l",  // Resource request
	"tc", // Max running tasks
	"P",  // Project name (e.g. to which account jobs are accounted against)
}

// CommandRunner executes an external command and returns its stdout. It is a
// field on GridEngine so tests can substitute canned qacct output.
type CommandRunner func(name string, args ...string) ([]byte, error)

func runCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// GridEngine targets a batch system with job-array support and 1-based
// native array element ids (SGE and derivatives).
type GridEngine struct {
	cfg       *config.Config
	options   map[string]string
	outputDir string
	errorDir  string

	// Now and Runner are overridable for deterministic tests.
	Now    func() time.Time
	Runner CommandRunner
}

// NewGridEngine validates the user options against the allow-list and
// returns the backend. Output/error directories fall back to the configured
// defaults. An option outside the allow-list fails with an *OptionError
// before any script is written.
func NewGridEngine(cfg *config.Config, options map[string]string, outputDir, errorDir string) (*GridEngine, error) {
	for key := range options {
		allowed := false
		for _, a := range allowedUserOpts {
			if key == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, &OptionError{
				Scheduler: GridEngineName,
				Key:       key,
				Allowed:   allowedUserOpts,
			}
		}
	}
	if outputDir == "" {
		outputDir = cfg.DefaultOutputDir
	}
	if errorDir == "" {
		errorDir = cfg.DefaultErrorDir
	}
	return &GridEngine{
		cfg:       cfg,
		options:   options,
		outputDir: outputDir,
		errorDir:  errorDir,
		Now:       time.Now,
		Runner:    runCommand,
	}, nil
}

func (g *GridEngine) Name() string {
	return GridEngineName
}

// FormatOptions renders the `#$` directive lines. User options are emitted
// sorted by key so the output is deterministic regardless of map order. The
// array directive covers native ids 1..maxNumTasks*taskStepSize stepped by
// taskStepSize.
func (g *GridEngine) FormatOptions(maxNumTasks, taskStepSize int, userOpts bool, jobName string) []string {
	opts := []string{}
	for _, o := range requiredOpts {
		opts = append(opts, fmt.Sprintf("#$ -%s", o))
	}
	opts = append(opts,
		fmt.Sprintf("#$ -%s %s/", stdoutOpt, g.outputDir),
		fmt.Sprintf("#$ -%s %s/", stderrOpt, g.errorDir),
	)

	if jobName != "" {
		opts = append(opts, fmt.Sprintf("#$ -N %s", jobName))
	}

	if userOpts {
		keys := make([]string, 0, len(g.options))
		for k := range g.options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			opts = append(opts, strings.TrimSpace(fmt.Sprintf("#$ -%s %s", k, g.options[k])))
		}
	}

	opts = append(opts, "", fmt.Sprintf("#$ -t 1-%d:%d", maxNumTasks*taskStepSize, taskStepSize))

	return opts
}

func (g *GridEngine) WriteJobScript(js JobScript) (string, error) {
	header := g.FormatOptions(js.MaxNumTasks, js.TaskStepSize, true, js.JobName)
	lines, err := jobScriptLines(g.cfg, js, header, false, g.Now())
	if err != nil {
		return "", err
	}
	return writeScript(js.DirPath, jobScriptName(js.CommandGroupOrder, g.cfg), lines)
}

func (g *GridEngine) WriteStatsJobScript(js JobScript) (string, error) {
	// A stats job is brief bookkeeping; request the short queue for it.
	header := g.FormatOptions(js.MaxNumTasks, js.TaskStepSize, false, "")
	header = append(header, "#$ -l short")
	lines, err := statsScriptLines(g.cfg, js, header, false, g.Now())
	if err != nil {
		return "", err
	}
	return writeScript(js.DirPath, statsScriptName(js.CommandGroupOrder, g.cfg), lines)
}

// CollectStats runs the accounting query for a finished job and returns the
// key/value block matching taskIdx. Accounting systems are eventually
// consistent: a failed query or absent block yields an empty record rather
// than an error, to be retried later by the caller.
func (g *GridEngine) CollectStats(jobID string, taskIdx int) (map[string]string, error) {
	out, err := g.Runner(g.cfg.QacctPath, "-j", jobID)
	if err != nil && len(out) == 0 {
		return map[string]string{}, nil
	}
	return ParseAccountingOutput(string(out), taskIdx), nil
}
