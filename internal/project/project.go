package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DataDirName is the directory created under a workflow root to hold
// hpcflow's own data (the store file).
const DataDirName = ".hpcflow"

// StoreFileName is the SQLite store file within the data directory.
const StoreFileName = "workflows.db"

// Project locates hpcflow's files within one workflow directory.
type Project struct {
	Dir string // Absolute workflow root
}

// New resolves dir (the invoking directory when empty) to an absolute
// project root.
func New(dir string) (*Project, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve project dir %s", dir)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, errors.Wrapf(err, "project dir %s", abs)
	} else if !info.IsDir() {
		return nil, errors.Errorf("project path %s is not a directory", abs)
	}
	return &Project{Dir: abs}, nil
}

// StorePath is where the shared store file lives.
func (p *Project) StorePath() string {
	return filepath.Join(p.Dir, DataDirName, StoreFileName)
}

// SubmitDir is the directory the generated scripts for one submission are
// written into, named from the submission id and relative to the workflow
// root so scripts can re-derive it from $ROOT_DIR at run time.
func (p *Project) SubmitDir(submissionID int64) string {
	return filepath.Join(p.Dir, fmt.Sprintf("submit_%d", submissionID))
}

// IterDir is the per-iteration directory under a submission directory,
// holding runtime files, per-task logs and archives.
func (p *Project) IterDir(submissionID int64, iterIdx int) string {
	return filepath.Join(p.SubmitDir(submissionID), fmt.Sprintf("iter_%d", iterIdx))
}

// OutputDir resolves a scheduler output/error directory (relative to the
// workflow root) and ensures it exists.
func (p *Project) OutputDir(rel string) (string, error) {
	dir := filepath.Join(p.Dir, rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create output dir %s", dir)
	}
	return dir, nil
}

// Clean removes everything hpcflow generated in the project directory: the
// data dir and all submission directories.
func (p *Project) Clean() error {
	if err := os.RemoveAll(filepath.Join(p.Dir, DataDirName)); err != nil {
		return errors.Wrap(err, "remove data dir")
	}
	matches, err := filepath.Glob(filepath.Join(p.Dir, "submit_*"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			return errors.Wrapf(err, "remove %s", m)
		}
	}
	return nil
}
