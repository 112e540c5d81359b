package scheduler

import (
	"time"

	"github.com/aplowman/hpcflow-new/internal/config"
)

// DirectName selects sequential local execution instead of an external
// batch system.
const DirectName = "direct"

// Direct runs the generated script directly rather than submitting it as a
// job array. It synthesizes a single native array element id of 1 so the
// index arithmetic and script shape stay backend-agnostic.
type Direct struct {
	cfg       *config.Config
	outputDir string
	errorDir  string

	// Now is overridable for deterministic tests.
	Now func() time.Time
}

// NewDirect returns the direct-execution backend. Direct execution accepts
// no scheduler options, so there is nothing to validate.
func NewDirect(cfg *config.Config, outputDir, errorDir string) *Direct {
	if outputDir == "" {
		outputDir = cfg.DefaultOutputDir
	}
	if errorDir == "" {
		errorDir = cfg.DefaultErrorDir
	}
	return &Direct{
		cfg:       cfg,
		outputDir: outputDir,
		errorDir:  errorDir,
		Now:       time.Now,
	}
}

func (d *Direct) Name() string {
	return DirectName
}

// FormatOptions is empty for direct execution: there is no scheduler to
// direct.
func (d *Direct) FormatOptions(maxNumTasks, taskStepSize int, userOpts bool, jobName string) []string {
	return nil
}

func (d *Direct) WriteJobScript(js JobScript) (string, error) {
	lines, err := jobScriptLines(d.cfg, js, nil, true, d.Now())
	if err != nil {
		return "", err
	}
	return writeScript(js.DirPath, jobScriptName(js.CommandGroupOrder, d.cfg), lines)
}

func (d *Direct) WriteStatsJobScript(js JobScript) (string, error) {
	lines, err := statsScriptLines(d.cfg, js, nil, true, d.Now())
	if err != nil {
		return "", err
	}
	return writeScript(js.DirPath, statsScriptName(js.CommandGroupOrder, d.cfg), lines)
}

// CollectStats has no accounting system to consult; the record is always
// empty.
func (d *Direct) CollectStats(jobID string, taskIdx int) (map[string]string, error) {
	return map[string]string{}, nil
}
