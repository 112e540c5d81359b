package project_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aplowman/hpcflow-new/internal/project"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Run("ResolvesAbsolute", func(t *testing.T) {
		dir := t.TempDir()
		proj, err := project.New(dir)
		assert.NoError(t, err)
		assert.True(t, filepath.IsAbs(proj.Dir))
	})

	t.Run("MissingDirFails", func(t *testing.T) {
		_, err := project.New(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})

	t.Run("FileNotDirFails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		assert.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		_, err := project.New(path)
		assert.Error(t, err)
	})
}

func TestPaths(t *testing.T) {
	dir := t.TempDir()
	proj, err := project.New(dir)
	assert.NoError(t, err)

	assert.Equal(t, filepath.Join(proj.Dir, ".hpcflow", "workflows.db"), proj.StorePath())
	assert.Equal(t, filepath.Join(proj.Dir, "submit_7"), proj.SubmitDir(7))
	assert.Equal(t, filepath.Join(proj.Dir, "submit_7", "iter_2"), proj.IterDir(7, 2))

	out, err := proj.OutputDir("output")
	assert.NoError(t, err)
	info, err := os.Stat(out)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	proj, err := project.New(dir)
	assert.NoError(t, err)

	assert.NoError(t, os.MkdirAll(filepath.Dir(proj.StorePath()), 0o755))
	assert.NoError(t, os.WriteFile(proj.StorePath(), []byte("db"), 0o644))
	assert.NoError(t, os.MkdirAll(proj.IterDir(1, 0), 0o755))
	assert.NoError(t, os.MkdirAll(proj.SubmitDir(2), 0o755))
	keep := filepath.Join(proj.Dir, "results")
	assert.NoError(t, os.MkdirAll(keep, 0o755))

	assert.NoError(t, proj.Clean())

	for _, gone := range []string{
		filepath.Join(proj.Dir, ".hpcflow"),
		proj.SubmitDir(1),
		proj.SubmitDir(2),
	} {
		_, err := os.Stat(gone)
		assert.True(t, os.IsNotExist(err), gone)
	}
	_, err = os.Stat(keep)
	assert.NoError(t, err)
}
