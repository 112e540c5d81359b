package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds the process-wide settings consumed by script generation and
// the per-task callbacks. It is loaded once at startup and read-only
// thereafter; components receive it explicitly rather than through globals.
type Config struct {
	// ConfigDir is the directory the settings were loaded from. Generated
	// scripts pass it back to every callback so task processes on other
	// nodes resolve the same settings.
	ConfigDir string

	DefaultOutputDir string // Scheduler stdout directory, relative to the workflow root
	DefaultErrorDir  string // Scheduler stderr directory

	JobscriptExt         string // Extension for generated job and command scripts
	WorkingDirsFileExt   string // Extension for the per-iteration working-dirs listing
	AltScratchExcFile    string // Base name of per-task scratch exclusion files
	AltScratchExcFileExt string

	QacctPath string // Accounting query binary for the grid-engine backend
}

// DefaultConfigDir is the fallback settings directory when --config-dir is
// not given: ~/.hpcflow.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	return filepath.Join(home, ".hpcflow"), nil
}

// Load reads config.yaml from configDir if present, applying defaults for
// anything unset. A missing file is not an error; a malformed one is.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		var err error
		configDir, err = DefaultConfigDir()
		if err != nil {
			return nil, err
		}
	}
	configDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve config dir %s", configDir)
	}

	v := viper.New()
	v.SetDefault("default_output_dir", "output")
	v.SetDefault("default_error_dir", "output")
	v.SetDefault("jobscript_ext", ".sh")
	v.SetDefault("working_dirs_file_ext", ".txt")
	v.SetDefault("alt_scratch_exc_file", "alt_scratch_exc")
	v.SetDefault("alt_scratch_exc_file_ext", ".txt")
	v.SetDefault("qacct_path", "qacct")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrapf(err, "read config from %s", configDir)
		}
	}

	return &Config{
		ConfigDir:            configDir,
		DefaultOutputDir:     v.GetString("default_output_dir"),
		DefaultErrorDir:      v.GetString("default_error_dir"),
		JobscriptExt:         v.GetString("jobscript_ext"),
		WorkingDirsFileExt:   v.GetString("working_dirs_file_ext"),
		AltScratchExcFile:    v.GetString("alt_scratch_exc_file"),
		AltScratchExcFileExt: v.GetString("alt_scratch_exc_file_ext"),
		QacctPath:            v.GetString("qacct_path"),
	}, nil
}
