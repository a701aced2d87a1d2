package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhub/pkg/fsutil"
	"github.com/platinummonkey/modhub/pkg/plugins"
)

// Entry is a decoded cache entry for one source
type Entry struct {
	Records    []*plugins.Record
	Tombstones int
}

func (e *Entry) clone() *Entry {
	c := &Entry{Tombstones: e.Tombstones, Records: make([]*plugins.Record, len(e.Records))}
	for i, rec := range e.Records {
		c.Records[i] = rec.Clone()
	}
	return c
}

// memoEntry remembers the file state an entry was decoded from
type memoEntry struct {
	entry   *Entry
	size    int64
	modTime time.Time
}

func (m *memoEntry) matches(info os.FileInfo) bool {
	return info.Size() == m.size && info.ModTime().Equal(m.modTime)
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	HitRate   float64
	ItemCount int64
}

// Config holds store configuration
type Config struct {
	// MemoEntries bounds the in-memory decoded entry memo
	MemoEntries int
	// MemoTTL expires memoized entries
	MemoTTL time.Duration
}

// DefaultConfig returns default store configuration
func DefaultConfig() *Config {
	return &Config{
		MemoEntries: 64,
		MemoTTL:     10 * time.Minute,
	}
}

// Store persists one entry per source identity key under <dir>/sources
type Store struct {
	dir    string
	memo   *lru.LRU[string, *memoEntry]
	logger *logrus.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewStore creates a store rooted at the cache dir
func NewStore(dir string, config *Config, logger *logrus.Logger) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	entries := config.MemoEntries
	if entries < 1 {
		entries = 1
	}

	return &Store{
		dir:    filepath.Join(dir, "sources"),
		memo:   lru.NewLRU[string, *memoEntry](entries, nil, config.MemoTTL),
		logger: logger,
	}
}

// Path returns the file holding the entry for key
func (s *Store) Path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".bin")
}

func (s *Store) lockFile() string {
	return filepath.Join(s.dir, ".lock")
}

// Load returns the entry for key. ErrNoCache and ErrCorrupt both mean "no cache".
// The memo is only trusted while the file keeps the size and modification time
// it was decoded from. The returned records are copies and may be mutated by the caller.
func (s *Store) Load(key string) (*Entry, error) {
	path := s.Path(key)
	info, err := os.Stat(path)
	if err != nil {
		s.memo.Remove(key)
		s.misses.Add(1)
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCache
		}
		return nil, fmt.Errorf("%w: %v", ErrNoCache, err)
	}

	if m, ok := s.memo.Get(key); ok {
		if m.matches(info) {
			s.hits.Add(1)
			return m.entry.clone(), nil
		}
		s.memo.Remove(key)
		s.logger.WithField("source", key).Debug("Cache file changed on disk, re-reading")
	}
	s.misses.Add(1)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCache
		}
		return nil, fmt.Errorf("%w: %v", ErrNoCache, err)
	}

	records, tombstones, err := Unmarshal(data)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"source": key,
			"path":   path,
		}).WithError(err).Debug("Cache entry unusable")
		return nil, err
	}

	entry := &Entry{Records: records, Tombstones: tombstones}
	s.memo.Add(key, &memoEntry{entry: entry, size: info.Size(), modTime: info.ModTime()})
	return entry.clone(), nil
}

// Save replaces the entry for key
func (s *Store) Save(key string, records []*plugins.Record) error {
	data := Marshal(records)
	err := fsutil.WithLock(s.lockFile(), func() error {
		return fsutil.WriteFileAtomic(s.Path(key), data, 0o644)
	})
	s.memo.Remove(key)
	if err != nil {
		return fmt.Errorf("failed to write cache for %s: %w", key, err)
	}
	return nil
}

// Drop removes the entry for key
func (s *Store) Drop(key string) error {
	err := fsutil.WithLock(s.lockFile(), func() error {
		if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
	s.memo.Remove(key)
	if err != nil {
		return fmt.Errorf("failed to drop cache for %s: %w", key, err)
	}
	return nil
}

// Stats returns memo statistics
func (s *Store) Stats() *Stats {
	stats := &Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		ItemCount: int64(s.memo.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Close releases the memo
func (s *Store) Close() error {
	s.memo.Purge()
	return nil
}
