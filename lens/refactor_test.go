package lens

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okRow(studyID, category string) RefactorRow {
	return RefactorRow{
		StudyID:     studyID,
		Item:        refactorSteps[category],
		Status:      StatusOK,
		Category:    category,
		Description: hintNoIssues,
	}
}

func warnRow(studyID, item, category, description string) RefactorRow {
	return RefactorRow{
		StudyID:     studyID,
		Item:        item,
		Status:      StatusWarning,
		Category:    category,
		Description: description,
	}
}

func TestRefactorReport(t *testing.T) {
	t.Parallel()
	dir := writeVendorStudy(t)
	reporter := newTestComponents(t).Reporter

	report, err := reporter.Report("MTBLS1", dir, "")
	require.NoError(t, err)

	assert.Equal(t, []RefactorRow{
		okRow("MTBLS1", RefactorMetadata),
		warnRow("MTBLS1", filepath.Join("FILES", "sample1.wiff.scan"), RefactorNonExistent, hintNonExistent),
		warnRow("MTBLS1", filepath.Join("FILES", "extra.mzML"), RefactorFiles, hintUnreferencedFile+" (derived)"),
		warnRow("MTBLS1", "orphan", RefactorFolders, hintUnreferencedFolder),
		okRow("MTBLS1", RefactorUncategorized),
	}, report.Rows)
	assert.Equal(t, 3, report.Warnings())
}

func TestRefactorReportRequiredPair(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeInvestigation(t, dir, "s_Study.txt", "a_MS.txt")
	writeFile(t, dir, "s_Study.txt", tsv([]string{"Sample Name"}, []string{"S1"}))
	writeAssay(t, dir, "a_MS.txt", "Raw Spectral Data File", "sample1.wiff")
	writeFile(t, dir, "sample1.wiff", "")

	report, err := newTestComponents(t).Reporter.Report("MTBLS2", dir, "")
	require.NoError(t, err)

	warnings := report.Summary()
	assert.Equal(t, 1, warnings.Warnings)
	assert.Equal(t, map[string]int{RefactorNonExistent: 1}, warnings.Counts)
	assert.Contains(t, report.Rows, warnRow("MTBLS2", "sample1.wiff.scan", RefactorNonExistent, hintNonExistent))
}

func TestRefactorReportBundle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeInvestigation(t, dir, "s_Study.txt", "a_NMR.txt")
	writeFile(t, dir, "s_Study.txt", tsv([]string{"Sample Name"}, []string{"S1"}))
	writeAssay(t, dir, "a_NMR.txt", "Free Induction Decay Data File", "run1.d")
	writeFile(t, dir, "run1.d/fid", "")
	writeFile(t, dir, "run1.d/acqu", "")
	writeFile(t, dir, "run1.d/pdata/1/1r", "")

	report, err := newTestComponents(t).Reporter.Report("MTBLS3", dir, "")
	require.NoError(t, err)

	assert.Zero(t, report.Warnings())
	assert.NotContains(t, report.String(), "fid")
	assert.NotContains(t, report.String(), "acqu")
}

func TestRefactorReportMetadata(t *testing.T) {
	t.Parallel()

	t.Run("missing_investigation", func(t *testing.T) {
		report, err := newTestComponents(t).Reporter.Report("MTBLS4", t.TempDir(), "")
		require.NoError(t, err)

		assert.Equal(t, []RefactorRow{
			warnRow("MTBLS4", InvestigationFileName, RefactorMetadata, hintMissingInvestigation),
			warnRow("MTBLS4", InvestigationFileName, RefactorNonExistent, hintNonExistent),
			okRow("MTBLS4", RefactorFiles),
			okRow("MTBLS4", RefactorFolders),
			okRow("MTBLS4", RefactorUncategorized),
		}, report.Rows)
	})

	t.Run("nothing_declared", func(t *testing.T) {
		dir := t.TempDir()
		writeInvestigation(t, dir, "")

		report, err := newTestComponents(t).Reporter.Report("MTBLS5", dir, "")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{RefactorMetadata: 2}, report.Summary().Counts)
		assert.Contains(t, report.Rows, warnRow("MTBLS5", "Study File Name", RefactorMetadata, hintMissingSample))
		assert.Contains(t, report.Rows, warnRow("MTBLS5", "Study Assay File Name", RefactorMetadata, hintMissingAssays))
	})

	t.Run("unreadable_assay", func(t *testing.T) {
		dir := t.TempDir()
		writeInvestigation(t, dir, "s_Study.txt", "a_empty.txt", "a_missing.txt")
		writeFile(t, dir, "s_Study.txt", tsv([]string{"Sample Name"}))
		writeFile(t, dir, "a_empty.txt", "")

		report, err := newTestComponents(t).Reporter.Report("MTBLS6", dir, "")
		require.NoError(t, err)
		assert.Equal(t, []RefactorRow{
			warnRow("MTBLS6", "a_empty.txt", RefactorMetadata, hintUnreadableAssay),
			warnRow("MTBLS6", "a_missing.txt", RefactorNonExistent, hintNonExistent),
			okRow("MTBLS6", RefactorFiles),
			okRow("MTBLS6", RefactorFolders),
			okRow("MTBLS6", RefactorUncategorized),
		}, report.Rows)
	})
}

func TestRefactorReportOutsideReference(t *testing.T) {
	t.Parallel()
	studies := t.TempDir()
	dir := filepath.Join(studies, "MTBLS1")
	writeInvestigation(t, dir, "s_Study.txt", "a_MS.txt")
	writeFile(t, dir, "s_Study.txt", tsv([]string{"Sample Name"}, []string{"S1"}))
	writeAssay(t, dir, "a_MS.txt", "Raw Spectral Data File", "../shared/run1.mzML", "run1.mzML")
	writeFile(t, dir, "run1.mzML", "")
	writeFile(t, studies, "shared/run1.mzML", "")
	writeFile(t, studies, "MTBLS2_other_study/i_Investigation.txt", "")
	writeFile(t, studies, "secret_neighbour.txt", "")

	reporter := newTestComponents(t).Reporter
	folder, err := reporter.Builder.BuildStudyFolder("MTBLS1", dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{""}, ExpandReferencedPaths(folder, reporter.Expand))

	report, err := reporter.Report("MTBLS1", dir, "")
	require.NoError(t, err)

	for _, row := range report.Rows {
		assert.False(t, strings.HasPrefix(row.Item, ".."), row.Item)
	}
	assert.Zero(t, report.Warnings())
}

func TestRefactorReportUncategorized(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeInvestigation(t, dir, "")
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, "dangling")))

	report, err := newTestComponents(t).Reporter.Report("MTBLS7", dir, "")
	require.NoError(t, err)
	assert.Contains(t, report.Rows, warnRow("MTBLS7", "dangling", RefactorUncategorized, hintUncategorized))
}

func TestRefactorReportWithoutClassifier(t *testing.T) {
	t.Parallel()
	dir := writeVendorStudy(t)
	settings := DefaultSettings()
	reporter := &RefactorReporter{
		Builder:      NewHierarchyBuilder(settings.Pairs),
		Expand:       settings.Expand,
		IgnoredNames: settings.IgnoredNames,
	}

	report, err := reporter.Report("MTBLS1", dir, "")
	require.NoError(t, err)
	// without default statuses the Bruker parameter file is reported too
	assert.Contains(t, report.Rows, warnRow("MTBLS1", "procs", RefactorFiles, hintUnreferencedFile))
	assert.Contains(t, report.Rows, warnRow("MTBLS1", filepath.Join("FILES", "extra.mzML"), RefactorFiles, hintUnreferencedFile))
}

func TestRefactorReportDeterministic(t *testing.T) {
	t.Parallel()
	dir := writeVendorStudy(t)
	reporter := newTestComponents(t).Reporter

	first, err := reporter.Report("MTBLS1", dir, "")
	require.NoError(t, err)
	second, err := reporter.Report("MTBLS1", dir, "")
	require.NoError(t, err)

	assert.Equal(t, first.String(), second.String())
	assert.Empty(t, DiffReports(first.String(), second.String()))
}

func TestRefactorReportWriteTSV(t *testing.T) {
	t.Parallel()
	report := &RefactorReport{
		StudyID: "MTBLS1",
		Rows:    []RefactorRow{warnRow("MTBLS1", "odd\tname\n.txt", RefactorFiles, hintUnreferencedFile)},
	}

	var buf bytes.Buffer
	require.NoError(t, report.WriteTSV(&buf))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(RefactorHeader, "\t"), lines[0])
	assert.Equal(t, "MTBLS1\todd name .txt\tWARNING\tfiles\t"+hintUnreferencedFile, lines[1])
}

func TestDiffReports(t *testing.T) {
	t.Parallel()

	baseline := "a\nb\nc\n"
	current := "a\nb\nd\n"
	assert.Empty(t, DiffReports(baseline, baseline))

	diff := DiffReports(baseline, current)
	assert.Contains(t, diff, "--- baseline")
	assert.Contains(t, diff, "+++ current")
	assert.Contains(t, diff, "-c")
	assert.Contains(t, diff, "+d")
}

func TestSummaryJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "summary.json")
	summaries := []RefactorSummary{
		{StudyID: "MTBLS1", Warnings: 3, Counts: map[string]int{RefactorFiles: 2, RefactorFolders: 1}},
		{StudyID: "MTBLS2", Counts: map[string]int{}},
	}

	require.NoError(t, WriteSummaryJSON(path, summaries))
	loaded, err := ReadSummaryJSON(path)
	require.NoError(t, err)
	assert.Equal(t, summaries, loaded)

	require.NoError(t, WriteSummaryJSON("", summaries))
	_, err = ReadSummaryJSON(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestSummaryChart(t *testing.T) {
	t.Parallel()
	summaries := []RefactorSummary{
		{StudyID: "MTBLS1", Warnings: 3, Counts: map[string]int{RefactorFiles: 2, RefactorFolders: 1}},
		{StudyID: "MTBLS2", Warnings: 1, Counts: map[string]int{RefactorNonExistent: 1}},
	}

	t.Run("png", func(t *testing.T) {
		buf, err := RenderSummaryChart(summaries)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(buf, []byte("\x89PNG")))
	})

	t.Run("svg_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "summary.svg")
		require.NoError(t, WriteSummaryChart(path, summaries))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "<svg")
	})

	t.Run("unknown_type", func(t *testing.T) {
		require.Error(t, WriteSummaryChart(filepath.Join(t.TempDir(), "summary.gif"), summaries))
	})
}

func TestAxisUnitForMax(t *testing.T) {
	t.Parallel()

	tests := []struct {
		val  int
		want float64
	}{
		{0, 1},
		{10, 2},
		{21, 10},
		{80, 20},
		{201, 100},
		{800, 200},
		{2001, 1000},
		{8000, 2000},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, axisUnitForMax(tt.val), 0)
	}
}
