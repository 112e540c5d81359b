package service

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// archiveDir writes a gzipped tarball of srcDir at dest. The write goes via
// a temp file and rename so a partially written archive is never visible at
// dest.
func archiveDir(srcDir, dest string) error {
	info, err := os.Stat(srcDir)
	if err != nil {
		return errors.Wrapf(err, "archive source %s", srcDir)
	}
	if !info.IsDir() {
		return errors.Errorf("archive source %s is not a directory", srcDir)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "create temp archive for %s", dest)
	}
	defer os.Remove(tmp.Name())

	gw := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gw)

	walkErr := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})

	if err := tw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := gw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := tmp.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		return errors.Wrapf(walkErr, "write archive %s", dest)
	}

	return errors.Wrapf(os.Rename(tmp.Name(), dest), "finalize archive %s", dest)
}
