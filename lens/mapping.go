package lens

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strings"
)

const (
	mappingTypeExtension     = "extension"
	mappingTypeFilename      = "filename_with_extension"
	mappingTypeFilenameNoExt = "filename_without_extension"
	mappingTypeFilenameRegex = "filename_regex"
	mappingTypeCategory      = "category"
	mappingRecordFieldCount  = 3
)

//go:embed resources/classification_mapping.tsv
var defaultClassificationMapping []byte

//go:embed resources/default_status_mapping.tsv
var defaultStatusMapping []byte

// ErrMissingResource is returned when a mapping resource cannot be opened.
var ErrMissingResource = errors.New("missing resource")

// mappingRecord is one (type, key, value) triple of a mapping resource.
type mappingRecord struct {
	line                  int
	mappingType, key, val string
}

// regexMapping is a compiled regex mapping, kept in file order.
type regexMapping struct {
	pattern  string
	re       *regexp.Regexp
	category Category
}

// MappingStore holds the classification lookup tables. It is immutable after loading.
type MappingStore struct {
	// Extension maps lowercased extensions without leading dot, including double extensions such as "tar.gz".
	Extension map[string]Category
	// Filename maps lowercased basenames.
	Filename map[string]Category
	// FilenameWithoutExtension maps lowercased designations.
	FilenameWithoutExtension map[string]Category
	// Regex maps patterns verbatim to categories.
	Regex map[string]Category

	regexOrder []regexMapping
}

// LoadMappingStore reads a tab separated mapping resource and merges the provided extension lists.
func LoadMappingStore(path string, raw, derived, compressed []string) (*MappingStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: mapping file %s: %w", ErrMissingResource, path, err)
	}
	defer func() { _ = f.Close() }()

	return LoadMappingStoreFrom(f, raw, derived, compressed)
}

// LoadMappingStoreFrom reads mapping records from r.
func LoadMappingStoreFrom(r io.Reader, raw, derived, compressed []string) (*MappingStore, error) {
	records, err := readMappingRecords(r)
	if err != nil {
		return nil, err
	}

	m := &MappingStore{
		Extension:                make(map[string]Category),
		Filename:                 make(map[string]Category),
		FilenameWithoutExtension: make(map[string]Category),
		Regex:                    make(map[string]Category),
	}
	for _, rec := range records {
		category := Category(rec.val)
		switch rec.mappingType {
		case mappingTypeExtension:
			putMapping(m.Extension, rec, normalizeExtension(rec.key), category)
		case mappingTypeFilename:
			putMapping(m.Filename, rec, strings.ToLower(rec.key), category)
		case mappingTypeFilenameNoExt:
			putMapping(m.FilenameWithoutExtension, rec, strings.ToLower(rec.key), category)
		case mappingTypeFilenameRegex:
			re, err := regexp.Compile(rec.key)
			if err != nil {
				log.Printf("WARN: invalid regex mapping on line %d %q: %v", rec.line, rec.key, err)
				continue
			}
			if _, ok := m.Regex[rec.key]; ok {
				log.Printf("WARN: duplicate %s mapping %q on line %d", rec.mappingType, rec.key, rec.line)
				for i := range m.regexOrder {
					if m.regexOrder[i].pattern == rec.key {
						m.regexOrder[i].category = category
					}
				}
			} else {
				m.regexOrder = append(m.regexOrder, regexMapping{pattern: rec.key, re: re, category: category})
			}
			m.Regex[rec.key] = category
		}
	}

	mergeExtensions(m.Extension, raw, CategoryRaw)
	mergeExtensions(m.Extension, derived, CategoryDerived)
	mergeExtensions(m.Extension, compressed, CategoryCompressed)
	return m, nil
}

// DefaultMappingStore loads the embedded classification table, or settings.MappingFile when set.
func DefaultMappingStore(settings Settings) (*MappingStore, error) {
	cs := settings.Classifier
	if settings.MappingFile != "" {
		return LoadMappingStore(settings.MappingFile, cs.RawExtensions, cs.DerivedExtensions, cs.CompressedExtensions)
	}
	return LoadMappingStoreFrom(bytes.NewReader(defaultClassificationMapping),
		cs.RawExtensions, cs.DerivedExtensions, cs.CompressedExtensions)
}

func putMapping(m map[string]Category, rec mappingRecord, key string, category Category) {
	if prev, ok := m[key]; ok {
		log.Printf("WARN: duplicate %s mapping %q on line %d: %s replaced by %s",
			rec.mappingType, key, rec.line, prev, category)
	}
	m[key] = category
}

func mergeExtensions(m map[string]Category, extensions []string, category Category) {
	for _, ext := range extensions {
		if key := normalizeExtension(ext); key != "" {
			m[key] = category
		}
	}
}

// normalizeExtension lowercases and strips leading dots.
func normalizeExtension(ext string) string {
	return strings.TrimLeft(strings.ToLower(strings.TrimSpace(ext)), ".")
}

// readMappingRecords parses tab separated triples, skipping blank lines, comments and malformed records.
func readMappingRecords(r io.Reader) ([]mappingRecord, error) {
	var records []mappingRecord
	scanner := bufio.NewScanner(r)
	var line int
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != mappingRecordFieldCount {
			log.Printf("WARN: malformed mapping record on line %d: expected %d fields, found %d",
				line, mappingRecordFieldCount, len(fields))
			continue
		}
		records = append(records, mappingRecord{
			line:        line,
			mappingType: strings.TrimSpace(fields[0]),
			key:         strings.TrimSpace(fields[1]),
			val:         strings.TrimSpace(fields[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mapping records failed: %w", err)
	}
	return records, nil
}

// StatusMapper is the default-status table. A file whose category has an entry here gets that status
// without consulting the referenced file set.
type StatusMapper struct {
	byCategory map[Category]ReferenceStatus
}

// LoadStatusMapper reads a default-status resource.
func LoadStatusMapper(path string) (*StatusMapper, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: status mapping file %s: %w", ErrMissingResource, path, err)
	}
	defer func() { _ = f.Close() }()

	return LoadStatusMapperFrom(f)
}

// LoadStatusMapperFrom reads default-status records from r.
func LoadStatusMapperFrom(r io.Reader) (*StatusMapper, error) {
	records, err := readMappingRecords(r)
	if err != nil {
		return nil, err
	}
	sm := &StatusMapper{byCategory: make(map[Category]ReferenceStatus)}
	for _, rec := range records {
		if rec.mappingType != mappingTypeCategory {
			continue
		}
		key := Category(strings.ToLower(rec.key))
		if _, ok := sm.byCategory[key]; ok {
			log.Printf("WARN: duplicate %s mapping %q on line %d", rec.mappingType, rec.key, rec.line)
		}
		sm.byCategory[key] = ReferenceStatus(rec.val)
	}
	return sm, nil
}

// DefaultStatusMapper loads the embedded default-status table, or settings.StatusMappingFile when set.
func DefaultStatusMapper(settings Settings) (*StatusMapper, error) {
	if settings.StatusMappingFile != "" {
		return LoadStatusMapper(settings.StatusMappingFile)
	}
	return LoadStatusMapperFrom(bytes.NewReader(defaultStatusMapping))
}

// Status returns the default status for a category, if one is configured.
func (sm *StatusMapper) Status(category Category) (ReferenceStatus, bool) {
	if sm == nil {
		return "", false
	}
	status, ok := sm.byCategory[category]
	return status, ok
}
