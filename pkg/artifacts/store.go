package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhub/pkg/fsutil"
	"github.com/platinummonkey/modhub/pkg/observability"
	"github.com/platinummonkey/modhub/pkg/plugins"
)

const (
	metaFileName = "meta.json"
	filesDirName = "files"
)

// Fetcher downloads remote artifact files
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// File is one source file of an artifact
type File struct {
	Name string
	Data []byte
}

// Artifact is the build input of one record
type Artifact struct {
	ID       string
	Revision string
	// Files holds the source text of compiled-from-source records
	Files []File
	// Module holds the bytes of prebuilt records
	Module []byte
	// Dir is the folder the content was read from
	Dir      string
	Checksum string
	Cached   bool
}

// Entry is the metadata written next to a downloaded artifact
type Entry struct {
	ID           string    `json:"id"`
	Revision     string    `json:"revision"`
	Origin       string    `json:"origin"`
	Files        []string  `json:"files,omitempty"`
	Module       string    `json:"module,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at"`
	Checksum     string    `json:"checksum"`
	Size         int64     `json:"size"`
}

// Options configures a Store
type Options struct {
	// BuildTimeout bounds a build step that declares no timeout
	BuildTimeout time.Duration
	Now          func() time.Time
}

// DefaultOptions returns store defaults
func DefaultOptions() Options {
	return Options{
		BuildTimeout: 2 * time.Minute,
		Now:          time.Now,
	}
}

// Store turns records into build input. Remote artifacts are cached under
// <cache dir>/artifacts/<sha256(id@revision)>/.
type Store struct {
	dir     string
	fetcher Fetcher
	logger  *logrus.Logger
	opts    Options
}

// NewStore creates an artifact store rooted at the cache dir
func NewStore(cacheDir string, fetcher Fetcher, logger *logrus.Logger, opts Options) *Store {
	defaults := DefaultOptions()
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = defaults.BuildTimeout
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}
	return &Store{
		dir:     filepath.Join(cacheDir, "artifacts"),
		fetcher: fetcher,
		logger:  observability.OrDefault(logger),
		opts:    opts,
	}
}

// Dir returns the entry directory for id at revision
func (s *Store) Dir(id, revision string) string {
	sum := sha256.Sum256([]byte(id + "@" + revision))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:]))
}

// Get returns the build input of rec
func (s *Store) Get(ctx context.Context, rec *plugins.Record) (*Artifact, error) {
	names, err := artifactFiles(rec)
	if err != nil {
		return nil, err
	}
	if IsRemote(rec.Origin) {
		return s.getRemote(ctx, rec, names)
	}
	return s.getLocal(ctx, rec, names)
}

func (s *Store) getLocal(ctx context.Context, rec *plugins.Record, names []string) (*Artifact, error) {
	dir := strings.TrimPrefix(rec.Origin, "file://")
	if dir == "" {
		return nil, fmt.Errorf("record %s has no origin", rec.ID)
	}
	if rec.Build != nil && rec.Build.Command != "" {
		if err := s.runBuild(ctx, rec, dir); err != nil {
			return nil, err
		}
	}
	return readArtifact(rec, dir, names)
}

func (s *Store) getRemote(ctx context.Context, rec *plugins.Record, names []string) (*Artifact, error) {
	entryDir := s.Dir(rec.ID, rec.Revision)

	if entry, err := readEntry(entryDir); err == nil {
		art, err := readArtifact(rec, filepath.Join(entryDir, filesDirName), names)
		if err == nil && art.Checksum == entry.Checksum {
			art.Cached = true
			return art, nil
		}
		s.logger.WithFields(logrus.Fields{
			"id":       rec.ID,
			"revision": rec.Revision,
		}).Warn("Cached artifact failed verification, downloading again")
	}

	tmp, err := s.download(ctx, rec, names)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	art, err := readArtifact(rec, filepath.Join(tmp, filesDirName), names)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:           rec.ID,
		Revision:     rec.Revision,
		Origin:       rec.Origin,
		Files:        rec.Files,
		Module:       rec.Module,
		DownloadedAt: s.opts.Now(),
		Checksum:     art.Checksum,
		Size:         art.size(),
	}
	if err := s.commit(tmp, entryDir, entry); err != nil {
		return nil, err
	}
	art.Dir = filepath.Join(entryDir, filesDirName)

	if removed, err := s.purge(rec.ID, rec.Revision); err != nil {
		s.logger.WithField("id", rec.ID).WithError(err).Warn("Failed to remove old artifacts")
	} else if removed > 0 {
		s.logger.WithFields(logrus.Fields{"id": rec.ID, "removed": removed}).Debug("Removed old artifacts")
	}
	return art, nil
}

// download fetches every artifact file into a temporary entry directory
func (s *Store) download(ctx context.Context, rec *plugins.Record, names []string) (string, error) {
	if s.fetcher == nil {
		return "", fmt.Errorf("no fetcher configured for remote artifact %s", rec.ID)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	tmp, err := os.MkdirTemp(s.dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	base := strings.TrimSuffix(rec.Origin, "/")
	for _, name := range names {
		data, err := s.fetcher.FetchBytes(ctx, base+"/"+name)
		if err != nil {
			os.RemoveAll(tmp)
			return "", fmt.Errorf("failed to download %s for %s: %w", name, rec.ID, err)
		}
		dest := filepath.Join(tmp, filesDirName, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			os.RemoveAll(tmp)
			return "", err
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			os.RemoveAll(tmp)
			return "", fmt.Errorf("failed to save %s for %s: %w", name, rec.ID, err)
		}
	}
	return tmp, nil
}

// commit moves a downloaded entry into place and writes its metadata last
func (s *Store) commit(tmp, entryDir string, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact entry: %w", err)
	}

	return fsutil.WithLock(filepath.Join(s.dir, ".lock"), func() error {
		if err := os.RemoveAll(entryDir); err != nil {
			return err
		}
		if err := os.MkdirAll(entryDir, 0o755); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(tmp, filesDirName), filepath.Join(entryDir, filesDirName)); err != nil {
			return fmt.Errorf("failed to move artifact into place: %w", err)
		}
		return fsutil.WriteFileAtomic(filepath.Join(entryDir, metaFileName), data, 0o644)
	})
}

// List returns the metadata of every cached artifact. Unreadable entries are skipped.
func (s *Store) List() ([]*Entry, error) {
	dirs, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []*Entry
	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		entry, err := readEntry(filepath.Join(s.dir, d.Name()))
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stale reports whether a cached artifact exists for rec at another revision
// and none at rec.Revision
func (s *Store) Stale(rec *plugins.Record) bool {
	if !IsRemote(rec.Origin) {
		return false
	}
	if _, err := readEntry(s.Dir(rec.ID, rec.Revision)); err == nil {
		return false
	}
	entries, err := s.List()
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.ID == rec.ID {
			return true
		}
	}
	return false
}

// Purge removes every cached artifact of id
func (s *Store) Purge(id string) error {
	_, err := s.purge(id, "")
	return err
}

// purge removes the artifacts of id except the one at keep (when non-empty)
func (s *Store) purge(id, keep string) (int, error) {
	entries, err := s.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	err = fsutil.WithLock(filepath.Join(s.dir, ".lock"), func() error {
		var errs []error
		for _, entry := range entries {
			if entry.ID != id || (keep != "" && entry.Revision == keep) {
				continue
			}
			if err := os.RemoveAll(s.Dir(entry.ID, entry.Revision)); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
		return errors.Join(errs...)
	})
	return removed, err
}

// IsRemote reports whether origin is fetched over the network
func IsRemote(origin string) bool {
	return strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://")
}

func readEntry(entryDir string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(entryDir, metaFileName))
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse artifact entry: %w", err)
	}
	return &entry, nil
}

// artifactFiles lists the relative paths rec needs, validated against escapes
func artifactFiles(rec *plugins.Record) ([]string, error) {
	var names []string
	switch rec.BuildKind() {
	case plugins.KindSource:
		names = rec.Files
	case plugins.KindPrebuilt:
		if rec.Module != "" {
			names = []string{rec.Module}
		}
	default:
		return nil, fmt.Errorf("record %s of kind %s has no artifact", rec.ID, rec.BuildKind())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("record %s lists no artifact files", rec.ID)
	}
	for _, name := range names {
		if !plugins.IsLocalPath(name) {
			return nil, fmt.Errorf("record %s: artifact path %q escapes its origin", rec.ID, name)
		}
	}
	return names, nil
}

func readArtifact(rec *plugins.Record, dir string, names []string) (*Artifact, error) {
	art := &Artifact{ID: rec.ID, Revision: rec.Revision, Dir: dir}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(path.Clean(name))))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s for %s: %w", name, rec.ID, err)
		}
		if rec.BuildKind() == plugins.KindPrebuilt {
			art.Module = data
		} else {
			art.Files = append(art.Files, File{Name: name, Data: data})
		}
	}
	art.Checksum = art.checksum()
	return art, nil
}

func (a *Artifact) checksum() string {
	h := sha256.New()
	for _, f := range a.Files {
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write(f.Data)
		h.Write([]byte{0})
	}
	h.Write(a.Module)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *Artifact) size() int64 {
	n := int64(len(a.Module))
	for _, f := range a.Files {
		n += int64(len(f.Data))
	}
	return n
}
