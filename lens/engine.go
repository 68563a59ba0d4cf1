package lens

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	refactorReportSuffix  = "_refactor.tsv"
	classificationSuffix  = "_files.json"
	referenceCachePrefix  = "refs"
	storageDirPermissions = 0755
)

// StorageProvider opens the storage backing the reference cache.
type StorageProvider interface {
	// OpenStorage returns the storage to use, closed by the engine once the run completes.
	OpenStorage(config *Config) (Storage, error)
}

// DefaultStorageProvider uses Badger when a cache directory is configured, memory otherwise.
type DefaultStorageProvider struct{}

func (DefaultStorageProvider) OpenStorage(config *Config) (Storage, error) {
	if config.CacheDir == "" {
		return NewMemStorage(), nil
	} else if err := os.MkdirAll(config.CacheDir, storageDirPermissions); err != nil {
		return nil, fmt.Errorf("create cache dir failed: %w", err)
	}
	return NewBadgerStorage(config.CacheDir, config.CacheMB)
}

// Engine runs the study folder checks for every configured study.
type Engine struct {
	Config          *Config
	StorageProvider StorageProvider
}

// NewEngine creates an Engine with the default storage provider.
func NewEngine(config *Config) *Engine {
	return &Engine{
		Config:          config,
		StorageProvider: DefaultStorageProvider{},
	}
}

// Components bundles the wired engine parts shared by every study of a run.
type Components struct {
	Storage   Storage
	Cache     *ReferenceCache
	Reporter  *RefactorReporter
	Evaluator *StatusEvaluator
}

// Close releases the cache and its storage.
func (c *Components) Close() {
	c.Cache.Close()
	c.Storage.Close()
}

// NewComponents wires the classifier, hierarchy builder, reference cache and reporter from settings.
func NewComponents(settings Settings, storage Storage) (*Components, error) {
	store, err := DefaultMappingStore(settings)
	if err != nil {
		return nil, err
	}
	statuses, err := DefaultStatusMapper(settings)
	if err != nil {
		return nil, err
	}
	builder := NewHierarchyBuilder(settings.Pairs)
	cache, err := NewReferenceCache(KeyPrefixStorage(storage, referenceCachePrefix), builder)
	if err != nil {
		return nil, err
	}
	classifier := NewFileClassifier(store, settings.Classifier)
	return &Components{
		Storage: storage,
		Cache:   cache,
		Reporter: &RefactorReporter{
			Builder:      builder,
			Classifier:   classifier,
			Statuses:     statuses,
			Expand:       settings.Expand,
			IgnoredNames: settings.IgnoredNames,
		},
		Evaluator: &StatusEvaluator{
			Classifier: classifier,
			Statuses:   statuses,
			Cache:      cache,
			Expand:     settings.Expand,
		},
	}, nil
}

// Run checks every study and writes the configured reports.
func (e *Engine) Run() error {
	startTime := time.Now()
	if err := e.Config.Prepare(); err != nil {
		return err
	}

	storage, err := e.StorageProvider.OpenStorage(e.Config)
	if err != nil {
		return err
	}
	components, err := NewComponents(e.Config.Settings, storage)
	if err != nil {
		storage.Close()
		return err
	}
	defer components.Close()
	if e.Config.ClearCache {
		removed, err := components.Cache.Clear()
		if err != nil {
			return err
		}
		log.Printf("Cleared %d cached reference sets", removed)
	}

	var mu sync.Mutex
	summaries := make([]RefactorSummary, len(e.Config.StudyIDs))
	var studyErrs []error
	eg := ErrGroupLimitCPU()
	for i, studyID := range e.Config.StudyIDs {
		eg.Go(func() error {
			summary, err := e.runStudy(components, studyID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("%s%s: %v", ErrorLogPrefix, studyID, err)
				studyErrs = append(studyErrs, fmt.Errorf("study %s: %w", studyID, err))
			}
			summaries[i] = summary
			return nil
		})
	}
	_ = eg.Wait()

	if err := WriteSummaryJSON(e.Config.ReportJsonFile, summaries); err != nil {
		return err
	} else if e.Config.ReportChartsFile != "" {
		if err := WriteSummaryChart(e.Config.ReportChartsFile, summaries); err != nil {
			return err
		}
	}
	log.Printf("Checked %d studies in %v", len(e.Config.StudyIDs), time.Since(startTime).Round(time.Millisecond))
	return errors.Join(studyErrs...)
}

func (e *Engine) runStudy(components *Components, studyID string) (RefactorSummary, error) {
	studyPath := filepath.Join(e.Config.AbsStudiesDir, studyID)
	report, err := components.Reporter.Report(studyID, studyPath, e.Config.MetadataFolder)
	if err != nil {
		return RefactorSummary{StudyID: studyID}, err
	}
	current := report.String()
	if e.Config.ReportDir != "" {
		path := filepath.Join(e.Config.ReportDir, studyID+refactorReportSuffix)
		if err := os.WriteFile(path, []byte(current), 0644); err != nil {
			return report.Summary(), fmt.Errorf("write report failed: %w", err)
		}
	}
	if e.Config.BaselineDir != "" {
		baseline, err := os.ReadFile(filepath.Join(e.Config.BaselineDir, studyID+refactorReportSuffix))
		if err != nil {
			log.Printf("WARN: %s: no baseline report: %v", studyID, err)
		} else if diff := DiffReports(string(baseline), current); diff != "" {
			log.Printf("%s: report changed since baseline\n%s", studyID, diff)
		}
	}

	if e.Config.Classify {
		files, err := components.Evaluator.ClassifyStudy(studyID, studyPath, e.Config.MetadataFolder)
		if err != nil {
			return report.Summary(), err
		}
		encoded, err := json.MarshalIndent(files, "", "  ")
		if err != nil {
			return report.Summary(), fmt.Errorf("marshal classification failed: %w", err)
		}
		outDir := e.Config.ReportDir
		if outDir == "" {
			outDir = "."
		}
		if err := os.WriteFile(filepath.Join(outDir, studyID+classificationSuffix), encoded, 0644); err != nil {
			return report.Summary(), fmt.Errorf("write classification failed: %w", err)
		}
	}

	summary := report.Summary()
	log.Printf("%s: %d warnings", studyID, summary.Warnings)
	return summary, nil
}
