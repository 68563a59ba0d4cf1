package lens

import (
	"crypto/sha256"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-analyze/bulk"
	"github.com/mtraver/base91"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	hotCacheCounters = 1 << 14
	hotCacheMaxCost  = 32 << 20
	hotCacheEntryMin = 64
)

// CacheEntry is the memoized reference set of one study.
type CacheEntry struct {
	// MetadataHash is the metadata fingerprint bound to the study and metadata folder paths.
	MetadataHash string `msgpack:"h"`
	// ReferenceFiles is kept sorted.
	ReferenceFiles []string  `msgpack:"r"`
	BuildTime      time.Time `msgpack:"t"`
}

// Contains reports whether rel is in the sorted reference set.
func (e CacheEntry) Contains(rel string) bool {
	_, found := slices.BinarySearch(e.ReferenceFiles, filepath.Clean(rel))
	return found
}

// isMetadataFile selects the ISA-Tab files whose fingerprint keys the cache.
func isMetadataFile(name string) bool {
	switch {
	case name == InvestigationFileName:
		return true
	case strings.HasPrefix(name, "s_"), strings.HasPrefix(name, "a_"):
		return strings.HasSuffix(name, ".txt")
	case strings.HasPrefix(name, "m_"):
		return strings.HasSuffix(name, ".tsv")
	}
	return false
}

// MetadataHash fingerprints the (name, mtime, size) tuples of the ISA-Tab files directly inside
// metadataPath. The result changes when any of these files is touched, resized, added, removed or renamed.
func MetadataHash(metadataPath string) (string, error) {
	entries, err := os.ReadDir(metadataPath)
	if err != nil {
		return "", fmt.Errorf("list metadata folder failed: %w", err)
	}
	entries = bulk.SliceFilter(func(e os.DirEntry) bool {
		return !e.IsDir() && isMetadataFile(e.Name())
	}, entries)

	tuples := make([]string, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return "", fmt.Errorf("stat %s failed: %w", e.Name(), err)
		}
		tuples = append(tuples, e.Name()+"|"+strconv.FormatInt(info.ModTime().UnixNano(), 10)+"|"+
			strconv.FormatInt(info.Size(), 10))
	}
	slices.Sort(tuples)

	h := sha256.New()
	for _, t := range tuples {
		_, _ = h.Write([]byte(t))
		_, _ = h.Write([]byte{'\n'})
	}
	return base91.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// ReferenceCache memoizes study reference sets keyed by study id. An entry is reused while the
// study location and metadata fingerprint are unchanged and never expires on time. A study whose
// metadata folder cannot be listed is rebuilt on every call. Entries are persisted to a Storage,
// with decoded copies kept in a bounded in-memory tier.
type ReferenceCache struct {
	storage Storage
	hot     *ristretto.Cache[string, CacheEntry]
	builder *HierarchyBuilder
	now     func() time.Time
}

// NewReferenceCache creates a cache over storage, computing missing entries with builder.
func NewReferenceCache(storage Storage, builder *HierarchyBuilder) (*ReferenceCache, error) {
	hot, err := ristretto.NewCache(&ristretto.Config[string, CacheEntry]{
		NumCounters: hotCacheCounters,
		MaxCost:     hotCacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create reference cache failed: %w", err)
	}
	return &ReferenceCache{
		storage: storage,
		hot:     hot,
		builder: builder,
		now:     time.Now,
	}, nil
}

// Entry returns the reference set of a study, and whether it was served from the cache.
func (c *ReferenceCache) Entry(studyID, studyPath, metadataFolder string) (CacheEntry, bool, error) {
	if studyID == "" {
		return CacheEntry{}, false, ErrEmptyStudyID
	} else if studyPath == "" {
		return CacheEntry{}, false, ErrEmptyStudyPath
	}
	metadataPath, _, err := resolveMetadataFolder(studyPath, metadataFolder)
	if err != nil {
		return CacheEntry{}, false, err
	}
	metaHash, err := MetadataHash(metadataPath)
	fresh := err == nil
	if err != nil {
		log.Printf("WARN: %s: %v", studyID, err)
	}
	hash := studyFingerprint(studyPath, metadataPath, metaHash)

	if entry, ok := c.lookup(studyID); ok && fresh && entry.MetadataHash == hash {
		return entry, true, nil
	}

	names, err := c.builder.ReferencedNames(studyPath, metadataFolder)
	if err != nil {
		return CacheEntry{}, false, err
	}
	entry := CacheEntry{MetadataHash: hash, ReferenceFiles: names, BuildTime: c.now()}
	c.store(studyID, entry)
	return entry, false, nil
}

// studyFingerprint binds a metadata hash to the study location, an id reused for another folder misses.
func studyFingerprint(studyPath, metadataPath, metaHash string) string {
	h := sha256.New()
	for _, part := range []string{filepath.Clean(studyPath), filepath.Clean(metadataPath), metaHash} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return base91.StdEncoding.EncodeToString(h.Sum(nil))
}

// ReferencedFileList returns the referenced study relative paths of a study whose metadata files
// live at the study root.
func (c *ReferenceCache) ReferencedFileList(studyID, metadataPath string) ([]string, error) {
	entry, _, err := c.Entry(studyID, metadataPath, "")
	return entry.ReferenceFiles, err
}

// Invalidate drops the cached entry of a study.
func (c *ReferenceCache) Invalidate(studyID string) error {
	c.hot.Del(studyID)
	return c.storage.Delete(studyID)
}

// Clear drops every cached entry, returning the number of persisted entries removed.
func (c *ReferenceCache) Clear() (int, error) {
	keys, err := c.storage.Keys()
	if err != nil {
		return 0, fmt.Errorf("list cache entries failed: %w", err)
	}
	c.hot.Clear()
	if err := c.storage.Clear(); err != nil {
		return 0, fmt.Errorf("clear cache failed: %w", err)
	}
	return len(keys), nil
}

// Close releases the in-memory tier. The storage is owned by the caller.
func (c *ReferenceCache) Close() {
	c.hot.Close()
}

func (c *ReferenceCache) lookup(studyID string) (CacheEntry, bool) {
	if entry, ok := c.hot.Get(studyID); ok {
		return entry, true
	}
	blob, ok, err := c.storage.Get(studyID)
	if err != nil {
		log.Printf("%s%s: cache load failed: %v", ErrorLogPrefix, studyID, err)
		return CacheEntry{}, false
	} else if !ok {
		return CacheEntry{}, false
	}
	entry, err := decodeCacheEntry(blob)
	if err != nil {
		log.Printf("WARN: %s: discarding unreadable cache entry: %v", studyID, err)
		return CacheEntry{}, false
	}
	c.hot.Set(studyID, entry, entryCost(entry))
	return entry, true
}

// store writes the entry to both tiers, concurrent writers for a study resolve to the last write.
func (c *ReferenceCache) store(studyID string, entry CacheEntry) {
	if blob, err := encodeCacheEntry(entry); err != nil {
		log.Printf("%s%s: cache encode failed: %v", ErrorLogPrefix, studyID, err)
	} else if err := c.storage.Put(studyID, blob); err != nil {
		log.Printf("%s%s: cache store failed: %v", ErrorLogPrefix, studyID, err)
	}
	c.hot.Set(studyID, entry, entryCost(entry))
	c.hot.Wait()
}

func entryCost(entry CacheEntry) int64 {
	cost := int64(hotCacheEntryMin + len(entry.MetadataHash))
	for _, name := range entry.ReferenceFiles {
		cost += int64(len(name))
	}
	return cost
}

func encodeCacheEntry(entry CacheEntry) ([]byte, error) {
	b, err := msgpack.Marshal(&entry)
	if err != nil {
		return nil, err
	}
	return ZstdCompress(nil, b), nil
}

func decodeCacheEntry(blob []byte) (CacheEntry, error) {
	var entry CacheEntry
	b, err := ZstdDecompress(nil, blob)
	if err != nil {
		return entry, err
	}
	if err = msgpack.Unmarshal(b, &entry); err != nil {
		return entry, err
	}
	slices.Sort(entry.ReferenceFiles)
	return entry, nil
}

var defaultReferenceCache = sync.OnceValues(func() (*ReferenceCache, error) {
	return NewReferenceCache(NewMemStorage(), NewHierarchyBuilder(DefaultPairTables()))
})

// GetReferencedFileList returns the referenced file set of a study from the process wide cache.
func GetReferencedFileList(studyID, metadataPath string) ([]string, error) {
	cache, err := defaultReferenceCache()
	if err != nil {
		return nil, err
	}
	return cache.ReferencedFileList(studyID, metadataPath)
}
