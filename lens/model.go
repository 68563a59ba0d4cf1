package lens

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-analyze/bulk"
)

// Category is a classification label assigned to a file path.
type Category string

const (
	CategoryRaw             Category = "raw"
	CategoryDerived         Category = "derived"
	CategoryDerivedData     Category = "derived_data"
	CategoryCompressed      Category = "compressed"
	CategoryMetadataMaf     Category = "metadata_maf"
	CategoryText            Category = "text"
	CategoryInternalMapping Category = "internal_mapping"
	CategoryPartOfRaw       Category = "part_of_raw"
	CategoryTemp            Category = "temp"
	CategoryUnknown         Category = "unknown"
)

// ReferenceStatus reports whether a file is reachable from the investigation.
type ReferenceStatus string

const (
	StatusActive       ReferenceStatus = "active"
	StatusUnreferenced ReferenceStatus = "unreferenced"
)

// InvestigationFileName is the fixed name of the ISA-Tab investigation file.
const InvestigationFileName = "i_Investigation.txt"

// File is a leaf record of a study folder.
type File struct {
	// Name is the basename.
	Name string
	// Path is the directory relative to the study root, empty for root-level files.
	Path string
	// Metadata holds optional free-form attributes.
	Metadata map[string]string
}

// RelPath returns the study relative path of the file.
func (f File) RelPath() string {
	if f.Path == "" {
		return f.Name
	}
	return filepath.Join(f.Path, f.Name)
}

// Equal compares files by (Path, Name).
func (f File) Equal(o File) bool {
	return f.Path == o.Path && f.Name == o.Name
}

// newFile splits a study relative path into a File.
func newFile(rel string) File {
	dir, name := filepath.Split(filepath.Clean(rel))
	return File{Name: name, Path: strings.TrimSuffix(dir, string(filepath.Separator))}
}

// Assay is one assay table together with the data files it references.
type Assay struct {
	File

	// RawFiles are values of raw data file columns, in column then row order.
	RawFiles []File
	// DerivedFiles are values of derived data file columns.
	DerivedFiles []File
	// DerivedDataFiles are normalization, decay and parameter data file values.
	DerivedDataFiles []File
	// MetaboliteFiles are metabolite assignment files (MAFs).
	MetaboliteFiles []File
	// ReadError is set when the assay table could not be parsed.
	ReadError error
}

// StudyFolder is the reference hierarchy of a single study.
type StudyFolder struct {
	StudyID      string
	StudyPath    string
	MetadataPath string

	InvestigationFile *File
	SampleFile        *File
	AssayFiles        []*Assay

	// Union of every assay's lists, each file present once.
	RawFiles         []File
	DerivedFiles     []File
	DerivedDataFiles []File
	MetaboliteFiles  []File

	// FileIndex maps study relative paths to files, each referenced file present once.
	FileIndex map[string]File
	// ReferencedFolders is the set of directories of every indexed file, "" for the root.
	ReferencedFolders map[string]struct{}
}

func newStudyFolder(studyID, studyPath, metadataPath string) *StudyFolder {
	return &StudyFolder{
		StudyID:           studyID,
		StudyPath:         studyPath,
		MetadataPath:      metadataPath,
		FileIndex:         make(map[string]File),
		ReferencedFolders: make(map[string]struct{}),
	}
}

// index inserts the file if absent, returning true when it was added.
func (s *StudyFolder) index(f File) bool {
	rel := f.RelPath()
	if _, ok := s.FileIndex[rel]; ok {
		return false
	}
	s.FileIndex[rel] = f
	s.ReferencedFolders[f.Path] = struct{}{}
	return true
}

// Indexed reports whether the study relative path is referenced.
func (s *StudyFolder) Indexed(rel string) bool {
	_, ok := s.FileIndex[filepath.Clean(rel)]
	return ok
}

// IndexedPaths returns the referenced relative paths in sorted order.
func (s *StudyFolder) IndexedPaths() []string {
	keys := bulk.MapKeysSlice(s.FileIndex)
	slices.Sort(keys)
	return keys
}

// SortedReferencedFolders returns the referenced folders in sorted order.
func (s *StudyFolder) SortedReferencedFolders() []string {
	keys := bulk.MapKeysSlice(s.ReferencedFolders)
	slices.Sort(keys)
	return keys
}

// FileClassification is the classification result for a single path within a study.
type FileClassification struct {
	RelPath  string          `json:"path"`
	Category Category        `json:"category"`
	Status   ReferenceStatus `json:"status"`
	IsDir    bool            `json:"is_dir,omitempty"`
}
