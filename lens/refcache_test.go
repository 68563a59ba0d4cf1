package lens

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCacheStudy writes a small study referencing two raw files.
func writeCacheStudy(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	writeInvestigation(t, dir, "s_Study.txt", "a_MS.txt")
	writeFile(t, dir, "s_Study.txt", tsv([]string{"Sample Name"}, []string{"S"}))
	writeAssay(t, dir, "a_MS.txt", "Raw Spectral Data File", "run1.raw", "run2.raw")
	return dir
}

func newTestReferenceCache(t *testing.T, storage Storage) (*ReferenceCache, *time.Time) {
	t.Helper()

	cache, err := NewReferenceCache(storage, NewHierarchyBuilder(DefaultPairTables()))
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	return cache, &now
}

func TestReferenceCacheHitMiss(t *testing.T) {
	t.Parallel()
	dir := writeCacheStudy(t)
	cache, _ := newTestReferenceCache(t, NewMemStorage())

	first, hit, err := cache.Entry("MTBLS1", dir, "")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"a_MS.txt", InvestigationFileName, "run1.raw", "run2.raw", "s_Study.txt"}, first.ReferenceFiles)
	assert.NotEmpty(t, first.MetadataHash)

	second, hit, err := cache.Entry("MTBLS1", dir, "")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)

	// data files are not part of the fingerprint
	writeFile(t, dir, "run1.raw", "spectra")
	_, hit, err = cache.Entry("MTBLS1", dir, "")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestReferenceCacheInvalidation(t *testing.T) {
	t.Parallel()

	t.Run("mtime_bump", func(t *testing.T) {
		dir := writeCacheStudy(t)
		cache, now := newTestReferenceCache(t, NewMemStorage())

		first, _, err := cache.Entry("MTBLS1", dir, "")
		require.NoError(t, err)

		bumped := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(dir, InvestigationFileName), bumped, bumped))
		*now = now.Add(time.Minute)

		second, hit, err := cache.Entry("MTBLS1", dir, "")
		require.NoError(t, err)
		assert.False(t, hit)
		assert.True(t, second.BuildTime.After(first.BuildTime))
		assert.NotEqual(t, first.MetadataHash, second.MetadataHash)
		assert.Equal(t, first.ReferenceFiles, second.ReferenceFiles)
	})

	t.Run("assay_rewritten", func(t *testing.T) {
		dir := writeCacheStudy(t)
		cache, _ := newTestReferenceCache(t, NewMemStorage())

		_, _, err := cache.Entry("MTBLS1", dir, "")
		require.NoError(t, err)
		writeAssay(t, dir, "a_MS.txt", "Raw Spectral Data File", "run1.raw", "run2.raw", "run3.raw")

		entry, hit, err := cache.Entry("MTBLS1", dir, "")
		require.NoError(t, err)
		assert.False(t, hit)
		assert.True(t, entry.Contains("run3.raw"))
	})

	t.Run("metadata_file_added", func(t *testing.T) {
		dir := writeCacheStudy(t)
		cache, _ := newTestReferenceCache(t, NewMemStorage())

		_, _, err := cache.Entry("MTBLS1", dir, "")
		require.NoError(t, err)
		writeFile(t, dir, "m_MTBLS1_maf.tsv", "")

		_, hit, err := cache.Entry("MTBLS1", dir, "")
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("invalidate", func(t *testing.T) {
		dir := writeCacheStudy(t)
		storage := NewMemStorage()
		cache, _ := newTestReferenceCache(t, storage)

		_, _, err := cache.Entry("MTBLS1", dir, "")
		require.NoError(t, err)
		require.NoError(t, cache.Invalidate("MTBLS1"))
		_, ok, err := storage.Get("MTBLS1")
		require.NoError(t, err)
		assert.False(t, ok)

		_, hit, err := cache.Entry("MTBLS1", dir, "")
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("corrupt_entry", func(t *testing.T) {
		dir := writeCacheStudy(t)
		storage := NewMemStorage()
		require.NoError(t, storage.Put("MTBLS1", []byte("not zstd")))
		cache, _ := newTestReferenceCache(t, storage)

		entry, hit, err := cache.Entry("MTBLS1", dir, "")
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Len(t, entry.ReferenceFiles, 5)
	})
}

func TestReferenceCacheStudiesIsolated(t *testing.T) {
	t.Parallel()
	dir1 := writeCacheStudy(t)
	dir2 := t.TempDir()
	writeInvestigation(t, dir2, "s_Other.txt")
	cache, _ := newTestReferenceCache(t, NewMemStorage())

	e1, _, err := cache.Entry("MTBLS1", dir1, "")
	require.NoError(t, err)
	e2, _, err := cache.Entry("MTBLS2", dir2, "")
	require.NoError(t, err)

	assert.Len(t, e1.ReferenceFiles, 5)
	assert.Equal(t, []string{InvestigationFileName, "s_Other.txt"}, e2.ReferenceFiles)
}

func TestReferenceCacheMissingMetadata(t *testing.T) {
	t.Parallel()
	cache, _ := newTestReferenceCache(t, NewMemStorage())

	missing := filepath.Join(t.TempDir(), "missing")
	entry, _, err := cache.Entry("MTBLS1", missing, "")
	require.NoError(t, err)
	assert.NotEmpty(t, entry.MetadataHash)
	assert.Equal(t, []string{InvestigationFileName}, entry.ReferenceFiles)

	// an unreadable metadata folder is never served from the cache
	_, hit, err := cache.Entry("MTBLS1", missing, "")
	require.NoError(t, err)
	assert.False(t, hit)

	_, _, err = cache.Entry("", t.TempDir(), "")
	require.ErrorIs(t, err, ErrEmptyStudyID)
	_, _, err = cache.Entry("MTBLS1", "", "")
	require.ErrorIs(t, err, ErrEmptyStudyPath)
}

func TestReferenceCacheBadgerPersistence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping badger test in short mode")
	}
	t.Parallel()
	dir := writeCacheStudy(t)
	dbDir := filepath.Join(t.TempDir(), "badger")

	storage, err := NewBadgerStorage(dbDir, 16)
	require.NoError(t, err)
	cache, _ := newTestReferenceCache(t, KeyPrefixStorage(storage, referenceCachePrefix))
	first, hit, err := cache.Entry("MTBLS1", dir, "")
	require.NoError(t, err)
	require.False(t, hit)
	storage.Close()

	storage, err = NewBadgerStorage(dbDir, 16)
	require.NoError(t, err)
	t.Cleanup(storage.Close)
	cache, _ = newTestReferenceCache(t, KeyPrefixStorage(storage, referenceCachePrefix))
	second, hit, err := cache.Entry("MTBLS1", dir, "")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.ReferenceFiles, second.ReferenceFiles)
	assert.True(t, first.BuildTime.Equal(second.BuildTime))
}

func TestReferenceCacheStudyMoved(t *testing.T) {
	t.Parallel()
	dir1 := writeCacheStudy(t)
	dir2 := t.TempDir()
	writeInvestigation(t, dir1, "s_Study.txt", "a_MS.txt")
	writeInvestigation(t, dir2, "s_Study.txt", "a_MS.txt")
	writeFile(t, dir2, "s_Study.txt", tsv([]string{"Sample Name"}, []string{"S"}))
	writeAssay(t, dir2, "a_MS.txt", "Raw Spectral Data File", "run8.raw", "run9.raw")

	// identical name, mtime and size tuples in both folders
	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, dir := range []string{dir1, dir2} {
		for _, name := range []string{InvestigationFileName, "s_Study.txt", "a_MS.txt"} {
			require.NoError(t, os.Chtimes(filepath.Join(dir, name), stamp, stamp))
		}
	}
	h1, err := MetadataHash(dir1)
	require.NoError(t, err)
	h2, err := MetadataHash(dir2)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	cache, _ := newTestReferenceCache(t, NewMemStorage())
	first, _, err := cache.Entry("MTBLS1", dir1, "")
	require.NoError(t, err)
	second, hit, err := cache.Entry("MTBLS1", dir2, "")
	require.NoError(t, err)

	assert.False(t, hit)
	assert.NotEqual(t, first.MetadataHash, second.MetadataHash)
	assert.True(t, second.Contains("run9.raw"))
	assert.False(t, second.Contains("run2.raw"))
}

func TestReferenceCacheClear(t *testing.T) {
	t.Parallel()
	dir := writeCacheStudy(t)
	storage := NewMemStorage()
	cache, _ := newTestReferenceCache(t, storage)

	_, _, err := cache.Entry("MTBLS1", dir, "")
	require.NoError(t, err)
	removed, err := cache.Clear()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	keys, err := storage.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
	_, hit, err := cache.Entry("MTBLS1", dir, "")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGetReferencedFileList(t *testing.T) {
	t.Parallel()
	dir := writeCacheStudy(t)

	first, err := GetReferencedFileList("refcache-test-study", dir)
	require.NoError(t, err)
	second, err := GetReferencedFileList("refcache-test-study", dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "run2.raw")
}

func TestMetadataHash(t *testing.T) {
	t.Parallel()
	dir := writeCacheStudy(t)

	h1, err := MetadataHash(dir)
	require.NoError(t, err)
	h2, err := MetadataHash(dir)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	writeFile(t, dir, "notes.pdf", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a_dir.txt"), 0755))
	h3, err := MetadataHash(dir)
	require.NoError(t, err)
	assert.Equal(t, h1, h3)

	require.NoError(t, os.Rename(filepath.Join(dir, "s_Study.txt"), filepath.Join(dir, "s_Renamed.txt")))
	h4, err := MetadataHash(dir)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)

	_, err = MetadataHash(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestIsMetadataFile(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]bool{
		InvestigationFileName: true,
		"s_MTBLS1.txt":        true,
		"a_MS.txt":            true,
		"m_maf.tsv":           true,
		"m_maf.txt":           false,
		"a_MS.tsv":            false,
		"run1.raw":            false,
		"i_other.txt":         false,
	} {
		assert.Equal(t, want, isMetadataFile(name), name)
	}
}

func TestCacheEntryContains(t *testing.T) {
	t.Parallel()
	entry := CacheEntry{ReferenceFiles: []string{filepath.Join("FILES", "run1.raw"), "a_MS.txt"}}

	assert.True(t, entry.Contains(filepath.Join("FILES", ".", "run1.raw")))
	assert.True(t, entry.Contains("a_MS.txt"))
	assert.False(t, entry.Contains("run1.raw"))
}

func TestDecodeCacheEntrySorts(t *testing.T) {
	t.Parallel()
	blob, err := encodeCacheEntry(CacheEntry{
		MetadataHash:   "h",
		ReferenceFiles: []string{"s_Study.txt", "a_MS.txt", filepath.Join("FILES", "run1.raw")},
	})
	require.NoError(t, err)

	entry, err := decodeCacheEntry(blob)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("FILES", "run1.raw"), "a_MS.txt", "s_Study.txt"}, entry.ReferenceFiles)
	for _, rel := range entry.ReferenceFiles {
		assert.True(t, entry.Contains(rel), rel)
	}
}
