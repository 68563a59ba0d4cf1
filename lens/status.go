package lens

import (
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"slices"
	"strings"
)

// StatusEvaluator decides whether study files are referenced by the study metadata.
type StatusEvaluator struct {
	Classifier *FileClassifier
	// Statuses short-circuits categories with a fixed status.
	Statuses *StatusMapper
	Cache    *ReferenceCache
	Expand   ExpandOptions
}

// ReferenceStatus classifies rel (relative to studyPath) and returns its reference status.
func (e *StatusEvaluator) ReferenceStatus(studyID, studyPath, metadataFolder, rel string) (ReferenceStatus, Category, error) {
	entry, _, err := e.Cache.Entry(studyID, studyPath, metadataFolder)
	if err != nil {
		return "", CategoryUnknown, err
	}
	category := e.Classifier.Classify(filepath.Join(studyPath, rel))
	return e.status(entry, rel, category), category, nil
}

func (e *StatusEvaluator) status(entry CacheEntry, rel string, category Category) ReferenceStatus {
	if status, ok := e.Statuses.Status(category); ok {
		return status
	} else if IsReferencedPath(rel, entry.Contains, e.Expand.BundleExtensions) {
		return StatusActive
	}
	return StatusUnreferenced
}

// ClassifyStudy walks a study folder and returns the category and reference status of every entry,
// sorted by path. Bundle directories are reported as a single entry and ignored folders are not
// descended into. Unreadable entries are logged and skipped.
func (e *StatusEvaluator) ClassifyStudy(studyID, studyPath, metadataFolder string) ([]FileClassification, error) {
	entry, _, err := e.Cache.Entry(studyID, studyPath, metadataFolder)
	if err != nil {
		return nil, err
	}

	var result []FileClassification
	err = filepath.WalkDir(studyPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == studyPath {
				return err
			}
			log.Printf("WARN: %s: skipping %s: %v", studyID, path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		} else if path == studyPath {
			return nil
		}
		rel, err := filepath.Rel(studyPath, path)
		if err != nil {
			return err
		}

		category := e.Classifier.ClassifyName(path)
		result = append(result, FileClassification{
			RelPath:  rel,
			Category: category,
			Status:   e.status(entry, rel, category),
			IsDir:    d.IsDir(),
		})
		if d.IsDir() && (IsBundleName(d.Name(), e.Expand.BundleExtensions) ||
			isIgnoredFolder(rel, e.Expand.IgnoredFolders)) {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("classify study %s failed: %w", studyID, err)
	}
	slices.SortFunc(result, func(a, b FileClassification) int {
		return strings.Compare(a.RelPath, b.RelPath)
	})
	return result, nil
}
