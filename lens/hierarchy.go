package lens

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-analyze/bulk"
)

var (
	// ErrEmptyStudyID is returned when an operation is invoked without a study accession.
	ErrEmptyStudyID = errors.New("empty study id")
	// ErrEmptyStudyPath is returned when an operation is invoked without a study directory.
	ErrEmptyStudyPath = errors.New("empty study path")
)

// referencePatterns combines every data file column group, used when only the flat name set is needed.
var referencePatterns = slices.Concat(RawFilePatterns, DerivedFilePatterns, DerivedDataFilePatterns, MetaboliteFilePatterns)

// PairTables maps a primary file extension to the companion extensions a vendor format always
// (Required) or sometimes (Optional) stores next to it. The empty key matches files without extension.
type PairTables struct {
	Required map[string][]string `yaml:"required"`
	Optional map[string][]string `yaml:"optional"`
}

// DefaultPairTables returns the built in vendor pairs.
func DefaultPairTables() PairTables {
	return PairTables{
		Required: map[string][]string{".wiff": {".wiff.scan"}},
		Optional: map[string][]string{"": {".peg"}},
	}
}

// Companions returns the study relative companions of a referenced file. Optional companions are
// only returned when they exist under studyPath.
func (p PairTables) Companions(studyPath, rel string) []string {
	ext := filepath.Ext(rel)
	stem := strings.TrimSuffix(rel, ext)
	var result []string
	for _, companion := range lookupPair(p.Required, ext) {
		result = append(result, stem+companion)
	}
	for _, companion := range lookupPair(p.Optional, ext) {
		if candidate := stem + companion; FileExists(filepath.Join(studyPath, candidate)) {
			result = append(result, candidate)
		}
	}
	return result
}

// lookupPair prefers an exact key, then the first case insensitive match in key order.
func lookupPair(table map[string][]string, ext string) []string {
	if companions, ok := table[ext]; ok {
		return companions
	}
	keys := bulk.MapKeysSlice(table)
	slices.Sort(keys)
	for _, k := range keys {
		if strings.EqualFold(k, ext) {
			return table[k]
		}
	}
	return nil
}

// HierarchyBuilder constructs StudyFolder reference hierarchies from ISA-Tab metadata.
type HierarchyBuilder struct {
	Pairs PairTables
	// ReadTable parses assay tables, ReadAssayTable when nil.
	ReadTable func(path string) (*AssayTable, error)
}

// NewHierarchyBuilder returns a builder using the given pair tables.
func NewHierarchyBuilder(pairs PairTables) *HierarchyBuilder {
	return &HierarchyBuilder{Pairs: pairs, ReadTable: ReadAssayTable}
}

func (b *HierarchyBuilder) readTable(path string) (*AssayTable, error) {
	if b.ReadTable == nil {
		return ReadAssayTable(path)
	}
	return b.ReadTable(path)
}

// resolveMetadataFolder returns the absolute metadata directory and its path relative to the study root.
func resolveMetadataFolder(studyPath, metadataFolder string) (string, string, error) {
	if metadataFolder == "" {
		return studyPath, "", nil
	} else if !filepath.IsAbs(metadataFolder) {
		metadataFolder = filepath.Join(studyPath, metadataFolder)
	}
	if within, err := fileWithinDir(metadataFolder, studyPath); err != nil {
		return "", "", err
	} else if !within {
		return "", "", fmt.Errorf("metadata folder %s is outside study %s", metadataFolder, studyPath)
	}
	rel, err := filepath.Rel(studyPath, metadataFolder)
	if err != nil {
		return "", "", err
	} else if rel == "." {
		rel = ""
	}
	return metadataFolder, rel, nil
}

// BuildStudyFolder builds the reference hierarchy of a study. Data file references are relative to
// studyPath, metadata files are relative to metadataFolder (studyPath when empty). Missing or
// unreadable metadata degrades to a partial hierarchy, only an empty id or path is an error.
func (b *HierarchyBuilder) BuildStudyFolder(studyID, studyPath, metadataFolder string) (*StudyFolder, error) {
	if studyID == "" {
		return nil, ErrEmptyStudyID
	} else if studyPath == "" {
		return nil, ErrEmptyStudyPath
	}
	metadataPath, metaRel, err := resolveMetadataFolder(studyPath, metadataFolder)
	if err != nil {
		return nil, err
	}

	folder := newStudyFolder(studyID, studyPath, metadataPath)
	investigation := newFile(filepath.Join(metaRel, InvestigationFileName))
	folder.InvestigationFile = &investigation
	folder.index(investigation)

	inv, err := ReadInvestigation(filepath.Join(metadataPath, InvestigationFileName))
	if err != nil {
		log.Printf("%s%s: investigation read failed: %v", ErrorLogPrefix, studyID, err)
		return folder, nil
	}
	if inv.SampleFile != "" {
		if rel, ok := localReference(studyID, filepath.Join(metaRel, inv.SampleFile)); ok {
			sample := newFile(rel)
			folder.SampleFile = &sample
			folder.index(sample)
		}
	}
	for _, name := range inv.AssayFiles {
		rel, ok := localReference(studyID, filepath.Join(metaRel, name))
		if !ok {
			continue
		}
		assay := &Assay{File: newFile(rel)}
		folder.AssayFiles = append(folder.AssayFiles, assay)
		folder.index(assay.File)

		table, err := b.readTable(filepath.Join(metadataPath, name))
		if err != nil {
			log.Printf("WARN: %s: assay %s not readable: %v", studyID, name, err)
			assay.ReadError = err
			continue
		}
		b.addReferences(folder, table.ColumnValues(RawFilePatterns...), &assay.RawFiles, &folder.RawFiles)
		b.addReferences(folder, table.ColumnValues(DerivedFilePatterns...), &assay.DerivedFiles, &folder.DerivedFiles)
		b.addReferences(folder, table.ColumnValues(DerivedDataFilePatterns...), &assay.DerivedDataFiles, &folder.DerivedDataFiles)
		b.addReferences(folder, table.ColumnValues(MetaboliteFilePatterns...), &assay.MetaboliteFiles, &folder.MetaboliteFiles)
	}
	return folder, nil
}

// addReferences appends each value followed by its companions to the assay list, and indexes
// every file not seen before into the study union list. Values outside the study root are dropped.
func (b *HierarchyBuilder) addReferences(folder *StudyFolder, values []string, assayList, studyList *[]File) {
	add := func(rel string) {
		f := newFile(rel)
		*assayList = append(*assayList, f)
		if folder.index(f) {
			*studyList = append(*studyList, f)
		}
	}
	for _, v := range values {
		rel, ok := localReference(folder.StudyID, v)
		if !ok {
			continue
		}
		add(rel)
		for _, companion := range b.Pairs.Companions(folder.StudyPath, rel) {
			add(companion)
		}
	}
}

// localReference cleans a study relative reference, rejecting values that resolve outside the study root.
func localReference(studyID, rel string) (string, bool) {
	rel = filepath.Clean(rel)
	if !filepath.IsLocal(rel) {
		log.Printf("WARN: %s: ignoring reference outside the study: %s", studyID, rel)
		return "", false
	}
	return rel, true
}

// ReferencedNames is the flat form of BuildStudyFolder: the sorted study relative paths of the
// investigation, sample and assay files, every assay data file value and its companions.
func (b *HierarchyBuilder) ReferencedNames(studyPath, metadataFolder string) ([]string, error) {
	if studyPath == "" {
		return nil, ErrEmptyStudyPath
	}
	metadataPath, metaRel, err := resolveMetadataFolder(studyPath, metadataFolder)
	if err != nil {
		return nil, err
	}

	refs := map[string]struct{}{filepath.Join(metaRel, InvestigationFileName): {}}
	inv, err := ReadInvestigation(filepath.Join(metadataPath, InvestigationFileName))
	if err != nil {
		log.Printf("%s%s: investigation read failed: %v", ErrorLogPrefix, metadataPath, err)
		return bulk.MapKeysSlice(refs), nil
	}
	if inv.SampleFile != "" {
		if rel, ok := localReference(metadataPath, filepath.Join(metaRel, inv.SampleFile)); ok {
			refs[rel] = struct{}{}
		}
	}
	for _, name := range inv.AssayFiles {
		rel, ok := localReference(metadataPath, filepath.Join(metaRel, name))
		if !ok {
			continue
		}
		refs[rel] = struct{}{}
		table, err := b.readTable(filepath.Join(metadataPath, name))
		if err != nil {
			log.Printf("WARN: assay %s not readable: %v", name, err)
			continue
		}
		for _, v := range table.ColumnValues(referencePatterns...) {
			rel, ok := localReference(metadataPath, v)
			if !ok {
				continue
			}
			refs[rel] = struct{}{}
			for _, companion := range b.Pairs.Companions(studyPath, rel) {
				refs[filepath.Clean(companion)] = struct{}{}
			}
		}
	}
	names := bulk.MapKeysSlice(refs)
	slices.Sort(names)
	return names, nil
}
