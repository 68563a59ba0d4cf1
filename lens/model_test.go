package lens

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		rel      string
		wantName string
		wantPath string
	}{
		{"root_file", "run1.mzML", "run1.mzML", ""},
		{"nested_file", filepath.Join("FILES", "POS", "run1.mzML"), "run1.mzML", filepath.Join("FILES", "POS")},
		{"dot_prefix", filepath.Join(".", "FILES", "run1.raw"), "run1.raw", "FILES"},
		{"trailing_separator", "run1.d" + string(filepath.Separator), "run1.d", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFile(tt.rel)
			assert.Equal(t, tt.wantName, f.Name)
			assert.Equal(t, tt.wantPath, f.Path)
			assert.Equal(t, filepath.Clean(tt.rel), f.RelPath())
		})
	}
}

func TestFileEqual(t *testing.T) {
	t.Parallel()

	a := File{Name: "run1.raw", Path: "FILES", Metadata: map[string]string{"size": "1"}}
	assert.True(t, a.Equal(File{Name: "run1.raw", Path: "FILES"}))
	assert.False(t, a.Equal(File{Name: "run1.raw"}))
	assert.False(t, a.Equal(File{Name: "run2.raw", Path: "FILES"}))
}

func TestStudyFolderIndex(t *testing.T) {
	t.Parallel()
	folder := newStudyFolder("MTBLS1", "/studies/MTBLS1", "/studies/MTBLS1")

	assert.True(t, folder.index(newFile(filepath.Join("FILES", "b.raw"))))
	assert.True(t, folder.index(newFile("a.raw")))
	assert.False(t, folder.index(newFile(filepath.Join("FILES", "b.raw"))))

	assert.Equal(t, []string{filepath.Join("FILES", "b.raw"), "a.raw"}, folder.IndexedPaths())
	assert.Equal(t, []string{"", "FILES"}, folder.SortedReferencedFolders())
	assert.True(t, folder.Indexed(filepath.Join("FILES", ".", "b.raw")))
	assert.False(t, folder.Indexed("b.raw"))
}
