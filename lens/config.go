package lens

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Config holds the settings of a batch run over one or more studies.
type Config struct {
	StudiesDir, StudyIDsFlag, MetadataFolder string
	SettingsFile, CacheDir                   string
	CacheMB                                  int
	ReportDir, BaselineDir                   string
	ReportJsonFile, ReportChartsFile         string
	Classify, ClearCache                     bool
	LogFile                                  string
	LogMaxMB, LogMaxBackups, LogMaxAgeDays   int
	// Computed fields
	AbsStudiesDir string
	StudyIDs      []string
	Settings      Settings
	// Custom flags support - all stored as strings for ease of use
	CustomFlags map[string]string
	// Internal state tracking
	prepared bool
}

// Prepare validates the config and resolves the study list and settings.
func (c *Config) Prepare() error {
	if c.prepared {
		return errors.New("config has already been prepared")
	} else if c.StudiesDir == "" {
		return errors.New("studies directory is required")
	} else if c.CacheMB < 1 || c.CacheMB > 10240 { // 10GB limit
		return fmt.Errorf("cache size must be between 1 and 10240 MB, got %d", c.CacheMB)
	} else if c.LogFile != "" && (c.LogMaxMB < 1 || c.LogMaxBackups < 0 || c.LogMaxAgeDays < 0) {
		return fmt.Errorf("invalid log rotation: size %dMB, backups %d, age %d days",
			c.LogMaxMB, c.LogMaxBackups, c.LogMaxAgeDays)
	}

	absStudiesDir, err := filepath.Abs(c.StudiesDir)
	if err != nil {
		return fmt.Errorf("error resolving studies directory: %w", err)
	} else if info, err := os.Stat(absStudiesDir); err != nil {
		return fmt.Errorf("studies directory is not accessible: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("studies path %s is not a directory", absStudiesDir)
	}
	c.AbsStudiesDir = absStudiesDir

	if c.StudyIDsFlag != "" {
		for _, id := range strings.Split(c.StudyIDsFlag, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				return errors.New("empty study id in study list")
			} else if !FileExists(filepath.Join(absStudiesDir, id)) {
				return fmt.Errorf("study %s not found in %s", id, absStudiesDir)
			}
			c.StudyIDs = append(c.StudyIDs, id)
		}
	} else {
		entries, err := os.ReadDir(absStudiesDir)
		if err != nil {
			return fmt.Errorf("list studies failed: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				c.StudyIDs = append(c.StudyIDs, e.Name())
			}
		}
	}
	if len(c.StudyIDs) == 0 {
		return fmt.Errorf("no studies found in %s", absStudiesDir)
	}
	slices.Sort(c.StudyIDs)

	if c.Settings, err = LoadSettings(c.SettingsFile); err != nil {
		return err
	}

	for _, dir := range []string{c.ReportDir, c.CacheDir} {
		if dir == "" {
			continue
		} else if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create directory '%s': %w", dir, err)
		}
	}
	if c.BaselineDir != "" {
		if info, err := os.Stat(c.BaselineDir); err != nil || !info.IsDir() {
			return fmt.Errorf("baseline directory %s is not accessible", c.BaselineDir)
		}
	}
	for _, out := range []string{c.ReportJsonFile, c.ReportChartsFile, c.LogFile} {
		if out == "" {
			continue
		} else if err := validateOutputPath(out); err != nil {
			return fmt.Errorf("invalid output file path %s: %w", out, err)
		}
	}

	c.prepared = true
	return nil
}

// validateOutputPath validates that an output file path can be written to
func validateOutputPath(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create output directory '%s': %w", dir, err)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to output directory '%s': %w", dir, err)
	}
	_ = file.Close()
	return os.Remove(testFile)
}
