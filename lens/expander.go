package lens

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-analyze/bulk"
)

// ExpandReferencedPaths returns the sorted study relative directories that are part of a reference,
// starting with the study root (""). Descent stops at a bundle directory, and folders that already
// have an indexed marker file are not expanded. Indexed bundle directories are included as leaves.
// Directories outside the study root are never returned.
func ExpandReferencedPaths(folder *StudyFolder, opts ExpandOptions) []string {
	expanded := map[string]struct{}{"": {}}
	sep := string(filepath.Separator)
	for _, dir := range folder.SortedReferencedFolders() {
		if dir == "" || !filepath.IsLocal(dir) || isIgnoredFolder(dir, opts.IgnoredFolders) {
			continue
		} else if slices.ContainsFunc(opts.MarkerFiles, func(marker string) bool {
			return folder.Indexed(filepath.Join(dir, marker))
		}) {
			continue
		}

		var prefix string
		for _, part := range strings.Split(dir, sep) {
			prefix = filepath.Join(prefix, part)
			if !folder.Indexed(prefix) {
				expanded[prefix] = struct{}{}
			}
			if IsBundleName(part, opts.BundleExtensions) {
				break
			}
		}
	}
	for rel := range folder.FileIndex {
		if IsBundleName(filepath.Base(rel), opts.BundleExtensions) && filepath.IsLocal(rel) &&
			!isIgnoredFolder(rel, opts.IgnoredFolders) {
			expanded[rel] = struct{}{}
		}
	}

	result := bulk.MapKeysSlice(expanded)
	slices.Sort(result)
	return result
}

// IsBundleName reports whether a file or directory name carries a bundle extension.
func IsBundleName(name string, bundleExtensions []string) bool {
	ext := filepath.Ext(name)
	return ext != "" && slices.Contains(bundleExtensions, ext)
}

// IsReferencedPath reports whether rel is referenced directly, or lies inside a referenced bundle.
func IsReferencedPath(rel string, referenced func(string) bool, bundleExtensions []string) bool {
	rel = filepath.Clean(rel)
	if referenced(rel) {
		return true
	}
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if IsBundleName(filepath.Base(dir), bundleExtensions) && referenced(dir) {
			return true
		}
	}
	return false
}

// isIgnoredFolder matches the folder itself or its top level component against the ignore list.
func isIgnoredFolder(dir string, ignored []string) bool {
	top, _, _ := strings.Cut(dir, string(filepath.Separator))
	return slices.Contains(ignored, dir) || slices.Contains(ignored, top)
}
