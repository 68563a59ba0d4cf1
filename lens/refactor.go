package lens

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/go-analyze/charts"
	"github.com/pmezard/go-difflib/difflib"
)

// RefactorHeader is the header row of a refactor report.
var RefactorHeader = []string{"STUDY ID", "FILE or STEP", "STATUS", "CATEGORY", "DESCRIPTION"}

const (
	StatusOK      = "OK"
	StatusWarning = "WARNING"
)

// Refactor report categories, in report order.
const (
	RefactorMetadata      = "metadata"
	RefactorNonExistent   = "non_existent"
	RefactorFiles         = "files"
	RefactorFolders       = "folders"
	RefactorUncategorized = "uncategorized"
)

var refactorCategories = []string{RefactorMetadata, RefactorNonExistent, RefactorFiles, RefactorFolders, RefactorUncategorized}

var refactorSteps = map[string]string{
	RefactorMetadata:      "CHECK METADATA FILES",
	RefactorNonExistent:   "CHECK REFERENCED FILES EXIST",
	RefactorFiles:         "CHECK UNREFERENCED FILES",
	RefactorFolders:       "CHECK UNREFERENCED FOLDERS",
	RefactorUncategorized: "CHECK UNCATEGORIZED ENTRIES",
}

const (
	hintMissingInvestigation = "Investigation file is missing, upload i_Investigation.txt"
	hintMissingSample        = "No sample file is declared, add a Study File Name row to the investigation"
	hintMissingAssays        = "No assay is declared, add a Study Assay File Name row to the investigation"
	hintUnreadableAssay      = "Assay table can not be parsed, fix the tab separated format"
	hintNonExistent          = "Referenced file does not exist, upload it or remove the reference from the metadata"
	hintUnreferencedFile     = "File is not referenced, reference it in an assay or move it out of the study"
	hintUnreferencedFolder   = "Folder is not referenced, reference its files in an assay or move it out of the study"
	hintUncategorized        = "Entry is neither a file nor a folder, check links and permissions"
	hintNoIssues             = "No issues found"
)

// RefactorRow is one line of a refactor report.
type RefactorRow struct {
	StudyID     string
	Item        string
	Status      string
	Category    string
	Description string
}

// RefactorReport lists discrepancies between a study folder and its reference hierarchy.
type RefactorReport struct {
	StudyID string
	Rows    []RefactorRow
}

// RefactorReporter audits study folders against their metadata.
type RefactorReporter struct {
	Builder *HierarchyBuilder
	// Classifier and Statuses are optional. When set, unreferenced files are labelled with their category
	// and files whose category has a fixed active status are not reported.
	Classifier   *FileClassifier
	Statuses     *StatusMapper
	Expand       ExpandOptions
	IgnoredNames []string
}

// Report builds the reference hierarchy of a study and compares it with the folder contents.
func (r *RefactorReporter) Report(studyID, studyPath, metadataFolder string) (*RefactorReport, error) {
	folder, err := r.Builder.BuildStudyFolder(studyID, studyPath, metadataFolder)
	if err != nil {
		return nil, err
	}

	report := &RefactorReport{StudyID: studyID}
	warn := func(item, category, description string) {
		report.Rows = append(report.Rows, RefactorRow{
			StudyID:     studyID,
			Item:        item,
			Status:      StatusWarning,
			Category:    category,
			Description: description,
		})
	}

	r.checkMetadata(folder, warn)
	r.checkNonExistent(folder, warn)
	r.checkUnreferenced(folder, warn)

	// one OK row for every step without findings, rows ordered by step
	byCategory := bulk.SliceToGroupsBy(func(row RefactorRow) string { return row.Category }, report.Rows)
	for _, category := range refactorCategories {
		if len(byCategory[category]) == 0 {
			report.Rows = append(report.Rows, RefactorRow{
				StudyID:     studyID,
				Item:        refactorSteps[category],
				Status:      StatusOK,
				Category:    category,
				Description: hintNoIssues,
			})
		}
	}
	slices.SortStableFunc(report.Rows, func(a, b RefactorRow) int {
		return slices.Index(refactorCategories, a.Category) - slices.Index(refactorCategories, b.Category)
	})
	return report, nil
}

func (r *RefactorReporter) checkMetadata(folder *StudyFolder, warn func(item, category, description string)) {
	if folder.InvestigationFile == nil || !pathExists(filepath.Join(folder.StudyPath, folder.InvestigationFile.RelPath())) {
		warn(InvestigationFileName, RefactorMetadata, hintMissingInvestigation)
		return // nothing else can be declared
	}
	if folder.SampleFile == nil {
		warn("Study File Name", RefactorMetadata, hintMissingSample)
	}
	if len(folder.AssayFiles) == 0 {
		warn("Study Assay File Name", RefactorMetadata, hintMissingAssays)
	}
	for _, assay := range folder.AssayFiles {
		rel := assay.RelPath()
		if assay.ReadError != nil && pathExists(filepath.Join(folder.StudyPath, rel)) {
			warn(rel, RefactorMetadata, hintUnreadableAssay)
		}
	}
}

func (r *RefactorReporter) checkNonExistent(folder *StudyFolder, warn func(item, category, description string)) {
	for _, rel := range folder.IndexedPaths() {
		if !pathExists(filepath.Join(folder.StudyPath, rel)) {
			warn(rel, RefactorNonExistent, hintNonExistent)
		}
	}
}

// checkUnreferenced lists the children of every expanded referenced directory, skipping bundle
// directories and directories guarded by a marker file.
func (r *RefactorReporter) checkUnreferenced(folder *StudyFolder, warn func(item, category, description string)) {
	expanded := ExpandReferencedPaths(folder, r.Expand)
	for _, dir := range expanded {
		absDir := filepath.Join(folder.StudyPath, dir)
		if dir != "" && IsBundleName(filepath.Base(dir), r.Expand.BundleExtensions) {
			continue
		} else if slices.ContainsFunc(r.Expand.MarkerFiles, func(marker string) bool {
			return pathExists(filepath.Join(absDir, marker))
		}) {
			continue
		}

		entries, err := os.ReadDir(absDir)
		if err != nil {
			log.Printf("WARN: %s: unable to list %s: %v", folder.StudyID, dir, err)
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			rel := filepath.Join(dir, name)
			if slices.Contains(r.IgnoredNames, name) || folder.Indexed(rel) {
				continue
			}

			info, err := os.Stat(filepath.Join(absDir, name))
			switch {
			case err != nil:
				log.Printf("WARN: %s: unable to stat %s: %v", folder.StudyID, rel, err)
				warn(rel, RefactorUncategorized, hintUncategorized)
			case info.Mode().IsRegular():
				if hint, ok := r.fileHint(filepath.Join(absDir, name)); ok {
					warn(rel, RefactorFiles, hint)
				}
			case info.IsDir():
				if _, found := slices.BinarySearch(expanded, rel); !found {
					warn(rel, RefactorFolders, hintUnreferencedFolder)
				}
			default:
				warn(rel, RefactorUncategorized, hintUncategorized)
			}
		}
	}
}

// fileHint returns the description of an unreferenced file, false when its category is always active.
func (r *RefactorReporter) fileHint(path string) (string, bool) {
	if r.Classifier == nil {
		return hintUnreferencedFile, true
	}
	category := r.Classifier.ClassifyName(path)
	if status, ok := r.Statuses.Status(category); ok && status == StatusActive {
		return "", false
	}
	return hintUnreferencedFile + " (" + string(category) + ")", true
}

// Warnings returns the number of WARNING rows.
func (rr *RefactorReport) Warnings() int {
	return len(bulk.SliceFilter(func(row RefactorRow) bool { return row.Status == StatusWarning }, rr.Rows))
}

// WriteTSV writes the report as tab separated text. Output is deterministic for an unchanged study.
func (rr *RefactorReport) WriteTSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(RefactorHeader, "\t") + "\n"); err != nil {
		return err
	}
	for _, row := range rr.Rows {
		fields := []string{row.StudyID, row.Item, row.Status, row.Category, row.Description}
		for i, f := range fields {
			fields[i] = tsvFieldReplacer.Replace(f)
		}
		if _, err := bw.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

var tsvFieldReplacer = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

// String returns the TSV form of the report.
func (rr *RefactorReport) String() string {
	var sb strings.Builder
	_ = rr.WriteTSV(&sb)
	return sb.String()
}

// DiffReports returns a unified diff between two TSV reports, empty when they are identical.
func DiffReports(previous, current string) string {
	if previous == current {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(current),
		FromFile: "baseline",
		ToFile:   "current",
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil { // fallback to basic format if unexpected diff error
		return fmt.Sprintf("\t'%v'\n!=\n\t'%v'", previous, current)
	}
	return text
}

// RefactorSummary condenses a report into warning counts per category.
type RefactorSummary struct {
	StudyID     string         `json:"study_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Warnings    int            `json:"warnings"`
	Counts      map[string]int `json:"counts"`
}

// Summary counts the report warnings per category.
func (rr *RefactorReport) Summary() RefactorSummary {
	warnings := bulk.SliceFilter(func(row RefactorRow) bool { return row.Status == StatusWarning }, rr.Rows)
	return RefactorSummary{
		StudyID:     rr.StudyID,
		GeneratedAt: time.Now().UTC(),
		Warnings:    len(warnings),
		Counts:      bulk.SliceToCounts(rowCategories(warnings)),
	}
}

func rowCategories(rows []RefactorRow) []string {
	categories := make([]string, len(rows))
	for i, row := range rows {
		categories[i] = row.Category
	}
	return categories
}

// WriteSummaryJSON writes report summaries to a JSON file.
func WriteSummaryJSON(path string, summaries []RefactorSummary) error {
	if path == "" {
		return nil
	}
	encoded, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary failed: %w", err)
	} else if err := os.WriteFile(path, encoded, 0644); err != nil {
		return fmt.Errorf("write summary file failed: %w", err)
	}
	return nil
}

// ReadSummaryJSON loads summaries written by WriteSummaryJSON.
func ReadSummaryJSON(path string) ([]RefactorSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary file failed: %w", err)
	}
	var summaries []RefactorSummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, fmt.Errorf("unmarshal summary failed: %w", err)
	}
	return summaries, nil
}

const summaryTableMaxRecords = 20

// WriteSummaryChart renders summaries to an image file, the format is selected by the file extension.
func WriteSummaryChart(path string, summaries []RefactorSummary) error {
	var outputType string
	if strings.HasSuffix(path, ".png") {
		outputType = charts.ChartOutputPNG
	} else if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		outputType = charts.ChartOutputJPG
	} else if strings.HasSuffix(path, ".svg") {
		outputType = charts.ChartOutputSVG
	} else {
		return fmt.Errorf("unhandled chart file type: %s", path)
	}

	painterOpt := charts.PainterOptions{
		OutputFormat: outputType,
		Width:        1024,
		Height:       768,
	}
	if buf, err := renderSummaryChart(painterOpt, summaries); err != nil {
		return fmt.Errorf("render charts failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

// RenderSummaryChart renders summaries to a PNG.
func RenderSummaryChart(summaries []RefactorSummary) ([]byte, error) {
	return renderSummaryChart(charts.PainterOptions{
		OutputFormat: charts.ChartOutputPNG,
		Width:        1024,
		Height:       768,
	}, summaries)
}

func renderSummaryChart(painterOpt charts.PainterOptions, summaries []RefactorSummary) ([]byte, error) {
	p := charts.NewPainter(painterOpt)
	if chartBox, err := renderSummaryToPainter(p, summaries); err != nil {
		return nil, err
	} else if chartBox.Height() < p.Height()-128 || chartBox.Height() > p.Height() {
		// re-render with a painter sized to the content
		painterOpt.Height = chartBox.Height()
		p = charts.NewPainter(painterOpt)
		if _, err := renderSummaryToPainter(p, summaries); err != nil {
			return nil, err
		}
	}
	return p.Bytes()
}

func renderSummaryToPainter(p *charts.Painter, summaries []RefactorSummary) (charts.Box, error) {
	const chartPadding = 10
	resultBox := charts.NewBoxEqual(0)
	resultBox.Right = p.Width()
	p.FilledRect(0, 0, p.Width(), p.Height(), charts.ColorWhite, charts.ColorWhite, 0)
	p = p.Child(charts.PainterPaddingOption(charts.NewBox(0, chartPadding, chartPadding, chartPadding)))

	painters, err := p.LayoutByRows().
		Row().Height("128").Columns("top").
		Row().Columns("bottom").
		Build()
	if err != nil {
		return resultBox, fmt.Errorf("error building chart layout: %w", err)
	}
	top := painters["top"]
	bottom := painters["bottom"]

	totals := make([][]float64, len(refactorCategories))
	var total int
	for i, category := range refactorCategories {
		var count int
		for _, s := range summaries {
			count += s.Counts[category]
		}
		totals[i] = []float64{float64(count)}
		total += count
	}
	topOpt := charts.NewHorizontalBarChartOptionWithData(totals)
	topOpt.StackSeries = charts.Ptr(true)
	topOpt.Theme = charts.GetTheme(charts.ThemeLight).WithBackgroundColor(charts.ColorTransparent)
	topOpt.Title.Text = "Study Folder Warnings (" + strconv.Itoa(len(summaries)) + " studies)"
	topOpt.XAxis.Unit = axisUnitForMax(total)
	topOpt.YAxis.Show = charts.Ptr(false)
	for i := range topOpt.SeriesList {
		category := refactorCategories[i]
		topOpt.SeriesList[i].Label.Show = charts.Ptr(totals[i][0] > 0)
		topOpt.SeriesList[i].Label.ValueFormatter = func(f float64) string {
			return category + " " + charts.FormatValueHumanize(f, 0, false)
		}
	}
	if err := top.HorizontalBarChart(topOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}
	resultBox.Bottom += top.Height()

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		row := []string{s.StudyID, strconv.Itoa(s.Warnings)}
		for _, category := range refactorCategories {
			row = append(row, strconv.Itoa(s.Counts[category]))
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b []string) int {
		aCount, _ := strconv.Atoi(a[1])
		bCount, _ := strconv.Atoi(b[1])
		if aCount != bCount { // most warnings first
			return bCount - aCount
		}
		return strings.Compare(a[0], b[0])
	})
	if len(rows) > summaryTableMaxRecords {
		rows = rows[:summaryTableMaxRecords]
	}
	if len(rows) == 0 {
		return resultBox, nil
	}
	tableOpt := charts.TableChartOption{
		Header:                append([]string{"Study", "Warnings"}, refactorCategories...),
		Data:                  rows,
		HeaderBackgroundColor: charts.Color{R: 210, G: 210, B: 210, A: 255},
		RowBackgroundColors: []charts.Color{
			{R: 240, G: 240, B: 240, A: 255},
			charts.ColorTransparent,
		},
		Padding: charts.NewBoxEqual(10),
	}
	if err := bottom.TableChart(tableOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering table: %w", err)
	}
	// charts does not return the table size, render again directly to measure it
	tableOpt.Width = bottom.Width()
	if tp, _ := charts.TableOptionRenderDirect(tableOpt); tp != nil {
		resultBox.Bottom += tp.Height()
	} else {
		resultBox.Bottom += bottom.Height()
	}
	return resultBox, nil
}

func axisUnitForMax(val int) float64 {
	if val >= 8000 {
		return 2000
	} else if val > 2000 {
		return 1000
	} else if val >= 800 {
		return 200
	} else if val > 200 {
		return 100
	} else if val >= 80 {
		return 20
	} else if val > 20 {
		return 10
	} else if val >= 10 {
		return 2
	}
	return 1
}
