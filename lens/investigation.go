package lens

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var (
	studyIdentifierPattern = regexp.MustCompile(`^Study Identifier\t.*$`)
	studyFilePattern       = regexp.MustCompile(`^Study File Name\t.*$`)
	studyAssayFilePattern  = regexp.MustCompile(`^Study Assay File Name\t.*$`)
)

// Investigation holds the file references declared by an investigation file.
type Investigation struct {
	StudyIdentifier string
	SampleFile      string
	AssayFiles      []string
}

// ReadInvestigationLines scans a text file and returns, for each pattern, the lines it matches.
// Lines that are not valid UTF-8 are decoded as ISO-8859-1 with a warning. A file that cannot be
// decoded yields no lines.
func ReadInvestigationLines(path string, patterns ...*regexp.Regexp) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: investigation file %s: %w", ErrMissingResource, path, err)
	}
	defer func() { _ = f.Close() }()

	result := make([][]string, len(patterns))
	reader := bufio.NewReader(f)
	var lineNum int
	for {
		raw, readErr := reader.ReadBytes('\n')
		if len(raw) > 0 {
			lineNum++
			line, err := decodeLine(raw)
			if err != nil {
				log.Printf("%sunable to decode %s line %d: %v", ErrorLogPrefix, path, lineNum, err)
				return make([][]string, len(patterns)), nil
			} else if !utf8.Valid(raw) {
				log.Printf("WARN: %s line %d is not UTF-8, read as ISO-8859-1", path, lineNum)
			}
			for i, p := range patterns {
				if p.MatchString(line) {
					result[i] = append(result[i], line)
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read %s failed: %w", path, readErr)
		}
	}
	return result, nil
}

// decodeLine returns the line without its terminator, decoding ISO-8859-1 when the bytes are not UTF-8.
func decodeLine(raw []byte) (string, error) {
	raw = bytes.TrimRight(raw, "\r\n")
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// ReadInvestigation extracts the study identifier, sample file and assay file names. A missing
// investigation file is not an error, it yields an empty Investigation.
func ReadInvestigation(path string) (Investigation, error) {
	var inv Investigation
	lines, err := ReadInvestigationLines(path, studyIdentifierPattern, studyFilePattern, studyAssayFilePattern)
	if errors.Is(err, fs.ErrNotExist) {
		return inv, nil
	} else if err != nil {
		return inv, err
	}

	if ids := rowValues(path, lines[0]); len(ids) > 0 {
		inv.StudyIdentifier = ids[0]
	}
	if samples := rowValues(path, lines[1]); len(samples) > 0 {
		inv.SampleFile = samples[0]
		if len(samples) > 1 {
			log.Printf("WARN: %s declares %d sample files, only %s is used", path, len(samples), samples[0])
		}
	}
	inv.AssayFiles = rowValues(path, lines[2])
	return inv, nil
}

// rowValues returns the cleaned values after the row label of each line, dropping empty values.
func rowValues(path string, lines []string) []string {
	var values []string
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		for _, field := range fields[1:] {
			if v := cleanReference(field); v != "" {
				values = append(values, v)
			} else {
				log.Printf("WARN: %s row %q has an empty value: %q", path, fields[0], field)
			}
		}
	}
	return values
}

// cleanReference trims whitespace, quotes and leading or trailing path separators from a referenced name.
func cleanReference(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, `"'`)
	v = strings.TrimSpace(v)
	return strings.Trim(v, string(filepath.Separator)+"/")
}
