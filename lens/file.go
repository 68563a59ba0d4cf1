package lens

import (
	"os"
	"path/filepath"
	"strings"
)

// FileExists reports whether the named path exists. Paths that can not be checked, for example due
// to permissions, are reported as existing.
func FileExists(filename string) bool {
	if _, err := os.Stat(filename); err != nil {
		return !os.IsNotExist(err)
	}
	return true
}

// pathExists reports whether the path itself exists, without following a final symlink.
func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// fileWithinDir returns true if filePath is dirPath or lies below it.
func fileWithinDir(filePath, dirPath string) (bool, error) {
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return false, err
	}
	absDir, err := filepath.Abs(dirPath)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absDir, absFile)
	if err != nil {
		return false, err
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}
