package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhub/pkg/plugins"
	"github.com/platinummonkey/modhub/pkg/sources"
)

// syncLocalHub follows the remote protocol with a content hash of the folder standing in
// for the remote commit hash. Local hubs carry no LastCheck.
func (r *Resolver) syncLocalHub(ctx context.Context, src *sources.Source, res *Result) error {
	res.HashQueried = true
	files, hash, err := scanHub(src.Folder)
	r.metrics.ObserveHashQuery(src.Kind.String(), err)
	if err != nil {
		r.logger.WithField("source", src.Key()).WithError(err).Warn("Local hub unreadable, using cache")
		return r.fromCacheAfter(src, res, "hash-failed", err)
	}

	if hash == src.Hash && src.Hash != "" {
		if err := r.fromCache(src, res, "unchanged"); err == nil {
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return r.fromCacheAfter(src, res, "cancelled", err)
	}

	var manifests []*plugins.Manifest
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(src.Folder, filepath.FromSlash(rel)))
		if err != nil {
			r.logger.WithFields(logrus.Fields{"source": src.Key(), "manifest": rel}).WithError(err).Warn("Skipped unreadable manifest")
			continue
		}
		parsed, err := plugins.ParseManifests(data)
		if err != nil {
			r.logger.WithFields(logrus.Fields{"source": src.Key(), "manifest": rel}).WithError(err).Warn("Skipped unreadable manifest")
			continue
		}
		for _, m := range parsed {
			m.Path = rel
		}
		manifests = append(manifests, parsed...)
	}

	all := r.toRecords(src, manifests, func(m *plugins.Manifest) string {
		return filepath.Join(src.Folder, filepath.FromSlash(m.Dir()))
	}, hash)
	if err := r.cache.Save(src.Key(), all); err != nil {
		r.logger.WithField("source", src.Key()).WithError(err).Warn("Failed to persist cache")
	}

	src.Hash = hash
	res.Records, res.Tombstones = splitTombstones(all)
	res.Origin = OriginLocal
	return nil
}

// syncLocalPlugin parses the manifest on every sync and falls back to the cache on failure
func (r *Resolver) syncLocalPlugin(ctx context.Context, src *sources.Source, res *Result) error {
	manifestPath := filepath.Join(src.Folder, src.ManifestFile)
	data, err := os.ReadFile(manifestPath)
	if err == nil {
		err = ctx.Err()
	}
	var manifests []*plugins.Manifest
	if err == nil {
		manifests, err = parseSingle(data, src.ManifestFile)
	}
	var all []*plugins.Record
	if err == nil {
		sum := sha256.Sum256(data)
		all = r.toRecords(src, manifests, func(m *plugins.Manifest) string {
			return src.Folder
		}, hex.EncodeToString(sum[:8]))
		if len(all) == 0 {
			err = fmt.Errorf("%s: invalid manifest", manifestPath)
		}
	}
	if err != nil {
		r.logger.WithField("source", src.Key()).WithError(err).Warn("Local plugin manifest unusable, using cache")
		return r.fromCacheAfter(src, res, "parse-failed", err)
	}

	if err := r.cache.Save(src.Key(), all); err != nil {
		r.logger.WithField("source", src.Key()).WithError(err).Warn("Failed to persist cache")
	}
	res.Records, res.Tombstones = splitTombstones(all)
	res.Origin = OriginLocal
	return nil
}

// syncExternal synthesizes the record of an external reference
func (r *Resolver) syncExternal(ctx context.Context, src *sources.Source, res *Result) error {
	if r.workshop == nil {
		return r.fromCacheAfter(src, res, "workshop-failed", fmt.Errorf("no workshop configured"))
	}

	item, err := r.workshop.Item(ctx, src.ExternalID)
	if err != nil {
		r.logger.WithField("source", src.Key()).WithError(err).Warn("Workshop lookup failed, using cache")
		return r.fromCacheAfter(src, res, "workshop-failed", err)
	}

	rec := item.Record()
	all := []*plugins.Record{rec}
	if err := r.cache.Save(src.Key(), all); err != nil {
		r.logger.WithField("source", src.Key()).WithError(err).Warn("Failed to persist cache")
	}
	res.Records = all
	res.Origin = OriginLocal
	return nil
}

// scanHub lists manifest files under folder (slash separated, sorted) and hashes
// their paths and contents. Hidden directories are skipped.
func scanHub(folder string) ([]string, string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, "", err
	}
	if !info.IsDir() {
		return nil, "", fmt.Errorf("%s is not a directory", folder)
	}

	var files []string
	err = filepath.WalkDir(folder, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != folder && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !plugins.IsManifestName(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(folder, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	sort.Strings(files)

	h := sha256.New()
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(folder, filepath.FromSlash(rel)))
		if err != nil {
			return nil, "", err
		}
		h.Write([]byte(rel))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}
	return files, hex.EncodeToString(h.Sum(nil)), nil
}
