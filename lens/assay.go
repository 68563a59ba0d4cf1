package lens

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Column header patterns selecting the data file columns of an assay table.
var (
	RawFilePatterns         = []*regexp.Regexp{regexp.MustCompile(`^Raw.+ Data File(.\d+)?`)}
	DerivedFilePatterns     = []*regexp.Regexp{regexp.MustCompile(`^Derived.+ Data File(.\d+)?`)}
	DerivedDataFilePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^Normalization.+ File(.\d+)?`),
		regexp.MustCompile(`^.+ Decay Data File(.\d+)?`),
		regexp.MustCompile(`^.+ Parameter Data File(.\d+)?`),
	}
	MetaboliteFilePatterns = []*regexp.Regexp{regexp.MustCompile(`^.+ Assignment File(.\d+)?`)}
)

// ErrEmptyTable is returned for a table without a header row.
var ErrEmptyTable = errors.New("table has no header row")

// AssayTable is a parsed tab separated ISA-Tab table (assay, sample or MAF).
type AssayTable struct {
	Header []string
	Rows   [][]string
}

// ReadAssayTable parses a tab separated table with a mandatory header row. Content that is not
// valid UTF-8 is decoded as ISO-8859-1.
func ReadAssayTable(path string) (*AssayTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table failed: %w", err)
	}
	if !utf8.Valid(data) {
		log.Printf("WARN: %s is not UTF-8, read as ISO-8859-1", path)
		if data, err = charmap.ISO8859_1.NewDecoder().Bytes(data); err != nil {
			return nil, fmt.Errorf("decode %s failed: %w", path, err)
		}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse table %s failed: %w", path, err)
	} else if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTable, path)
	}
	return &AssayTable{Header: records[0], Rows: records[1:]}, nil
}

// ColumnValues returns the unique non-empty cleaned cell values of every column whose header matches
// one of the patterns, in column then row order.
func (t *AssayTable) ColumnValues(patterns ...*regexp.Regexp) []string {
	var values []string
	seen := make(map[string]struct{})
	for col, name := range t.Header {
		if !matchesAny(name, patterns) {
			continue
		}
		for _, row := range t.Rows {
			if col >= len(row) {
				continue
			}
			v := cleanReference(row[col])
			if v == "" {
				continue
			} else if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
	}
	return values
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
