package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aplowman/hpcflow-new/internal/config"
	"github.com/aplowman/hpcflow-new/internal/version"
	"github.com/pkg/errors"
)

const shebang = "#!/bin/bash --login"

// Every derived variable (submit dir, iteration dir, log path, task index,
// input dir) is computed once in the script preamble from the single native
// array-element id, so the mapping between native id and logical task is
// reproducible outside the scheduler too: the lifecycle callbacks are
// separate process invocations that rely on the same arithmetic.

func provenanceLine(now time.Time) string {
	return fmt.Sprintf("# --- jobscript generated by `hpcflow` (version: %s) on %s ---",
		version.Version, now.Format("2006.01.02 at 15:04:05"))
}

func callbackArgs(cfg *config.Config, cgsID int64) string {
	return fmt.Sprintf("--directory $ROOT_DIR --config-dir %s %d $TASK_IDX $ITER_IDX",
		cfg.ConfigDir, cgsID)
}

func submitDirRelative(js JobScript) (string, error) {
	rel, err := filepath.Rel(js.WorkflowDir, js.DirPath)
	if err != nil {
		return "", errors.Wrapf(err, "submission dir %s is not under workflow dir %s",
			js.DirPath, js.WorkflowDir)
	}
	return filepath.ToSlash(rel), nil
}

// defineDirsA derives the submit, iteration and log locations plus the
// logical task index from the native array element id. For the direct
// backend a single native id of 1 is synthesized first so the rest of the
// script is backend-agnostic.
func defineDirsA(js JobScript, submitRel string, synthTaskID bool) []string {
	lines := []string{fmt.Sprintf("ITER_IDX=%d", js.IterationIdx)}
	if synthTaskID {
		lines = append(lines, "SGE_TASK_ID=1")
	}
	return append(lines,
		"ROOT_DIR=`pwd`",
		fmt.Sprintf("SUBMIT_DIR=$ROOT_DIR/%s", submitRel),
		"ITER_DIR=$SUBMIT_DIR/iter_$ITER_IDX",
		fmt.Sprintf("LOG_PATH=$ITER_DIR/log_%d.$SGE_TASK_ID", js.CommandGroupOrder),
		fmt.Sprintf("TASK_IDX=$((($SGE_TASK_ID - 1)/%d))", js.TaskStepSize),
	)
}

func logfmtLine(name string) string {
	return fmt.Sprintf(`printf "%s:\t ${%s}\n" >> $LOG_PATH 2>&1`, name, name)
}

// jobScriptLines assembles the full control script as ordered lines. header
// carries the backend directive block (empty for direct execution).
func jobScriptLines(cfg *config.Config, js JobScript, header []string, synthTaskID bool, now time.Time) ([]string, error) {
	submitRel, err := submitDirRelative(js)
	if err != nil {
		return nil, err
	}

	cmdFn := fmt.Sprintf("cmd_%d%s", js.CommandGroupOrder, cfg.JobscriptExt)
	wkDirsPath := fmt.Sprintf("${ITER_DIR}/working_dirs_%d%s",
		js.CommandGroupOrder, cfg.WorkingDirsFileExt)
	args := callbackArgs(cfg, js.CommandGroupSubmissionID)

	writeCmdExec := []string{
		fmt.Sprintf("hpcflow write-runtime-files %s > $LOG_PATH 2>&1", args),
	}

	defineDirsB := []string{
		fmt.Sprintf(`INPUTS_DIR_REL=`+"`"+`sed -n "${SGE_TASK_ID}p" %s`+"`", wkDirsPath),
		"INPUTS_DIR=$ROOT_DIR/$INPUTS_DIR_REL",
	}

	var copyToAlt, moveFromAlt []string
	if js.AlternateScratchDir != "" {
		excPath := fmt.Sprintf("$ITER_DIR/%s_%d_$TASK_IDX%s",
			cfg.AltScratchExcFile, js.CommandGroupOrder, cfg.AltScratchExcFileExt)
		defineDirsB = append(defineDirsB,
			"ALT_SCRATCH_EXC="+excPath,
			fmt.Sprintf("INPUTS_DIR_SCRATCH=%s/$INPUTS_DIR_REL", js.AlternateScratchDir),
		)
		copyToAlt = []string{
			`rsync -avviz --exclude-from="${ALT_SCRATCH_EXC}" $INPUTS_DIR/ $INPUTS_DIR_SCRATCH >> $LOG_PATH 2>&1`,
			"",
		}
		moveFromAlt = []string{
			"",
			"rsync -avviz $INPUTS_DIR_SCRATCH/ $INPUTS_DIR --remove-source-files >> $LOG_PATH 2>&1",
			"",
		}
	} else {
		defineDirsB = append(defineDirsB, "INPUTS_DIR_SCRATCH=$INPUTS_DIR")
	}

	logStuff := []string{`printf "Jobscript variables:\n" >> $LOG_PATH 2>&1`}
	for _, name := range []string{
		"ITER_IDX", "ROOT_DIR", "SUBMIT_DIR", "ITER_DIR", "LOG_PATH",
		"SGE_TASK_ID", "TASK_IDX", "INPUTS_DIR_REL", "INPUTS_DIR",
		"INPUTS_DIR_SCRATCH",
	} {
		logStuff = append(logStuff, logfmtLine(name))
	}
	if js.AlternateScratchDir != "" {
		logStuff = append(logStuff, logfmtLine("ALT_SCRATCH_EXC"))
	}
	logStuff = append(logStuff, `printf "\n" >> $LOG_PATH 2>&1`)

	var loads []string
	if len(js.Environment) > 0 {
		loads = append(append([]string{""}, js.Environment...), "")
	}

	cmdExec := []string{
		fmt.Sprintf("hpcflow set-task-start %s >> $LOG_PATH 2>&1", args),
		"",
		"cd $INPUTS_DIR_SCRATCH",
		fmt.Sprintf(". $SUBMIT_DIR/%s", cmdFn),
		"",
		fmt.Sprintf("hpcflow set-task-end %s >> $LOG_PATH 2>&1", args),
	}

	var archLns []string
	if js.Archive {
		archLns = []string{
			fmt.Sprintf("hpcflow archive %s >> $LOG_PATH 2>&1", args),
			"",
		}
	}

	lines := []string{shebang, "", provenanceLine(now), ""}
	if len(header) > 0 {
		lines = append(lines, header...)
		lines = append(lines, "")
	}
	lines = append(lines, defineDirsA(js, submitRel, synthTaskID)...)
	lines = append(lines, "")
	lines = append(lines, writeCmdExec...)
	lines = append(lines, "")
	lines = append(lines, defineDirsB...)
	lines = append(lines, "")
	lines = append(lines, logStuff...)
	lines = append(lines, "")
	lines = append(lines, loads...)
	lines = append(lines, "")
	lines = append(lines, copyToAlt...)
	lines = append(lines, cmdExec...)
	lines = append(lines, moveFromAlt...)
	lines = append(lines, archLns...)

	return lines, nil
}

// statsScriptLines assembles the companion accounting script: the same
// directory-resolution preamble without the scratch and callback machinery,
// then a single stats-collection callback.
func statsScriptLines(cfg *config.Config, js JobScript, header []string, synthTaskID bool, now time.Time) ([]string, error) {
	submitRel, err := submitDirRelative(js)
	if err != nil {
		return nil, err
	}

	logStuff := []string{`printf "Jobscript variables:\n" >> $LOG_PATH 2>&1`}
	for _, name := range []string{
		"ITER_IDX", "ROOT_DIR", "SUBMIT_DIR", "ITER_DIR", "LOG_PATH",
		"SGE_TASK_ID", "TASK_IDX",
	} {
		logStuff = append(logStuff, logfmtLine(name))
	}

	cmdExec := []string{
		fmt.Sprintf("hpcflow get-scheduler-stats %s >> $LOG_PATH 2>&1",
			callbackArgs(cfg, js.CommandGroupSubmissionID)),
	}

	lines := []string{shebang, "", provenanceLine(now), ""}
	if len(header) > 0 {
		lines = append(lines, header...)
		lines = append(lines, "")
	}
	lines = append(lines, defineDirsA(js, submitRel, synthTaskID)...)
	lines = append(lines, "")
	lines = append(lines, logStuff...)
	lines = append(lines, "")
	lines = append(lines, cmdExec...)

	return lines, nil
}

func writeScript(dirPath, fileName string, lines []string) (string, error) {
	path := filepath.Join(dirPath, fileName)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o755); err != nil {
		return "", errors.Wrapf(err, "write jobscript %s", path)
	}
	return path, nil
}

func jobScriptName(order int, cfg *config.Config) string {
	return fmt.Sprintf("js_%d%s", order, cfg.JobscriptExt)
}

func statsScriptName(order int, cfg *config.Config) string {
	return fmt.Sprintf("st_%d%s", order, cfg.JobscriptExt)
}
