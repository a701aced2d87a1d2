package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhub/pkg/cache"
	"github.com/platinummonkey/modhub/pkg/fetch"
	"github.com/platinummonkey/modhub/pkg/observability"
	"github.com/platinummonkey/modhub/pkg/plugins"
	"github.com/platinummonkey/modhub/pkg/sources"
)

// Fetcher is the subset of fetch.Fetcher the resolver needs
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	FetchHash(ctx context.Context, repo, ref string) (string, error)
	RawURL(repo, branch, path string) string
	ArchiveURL(repo, branch string) string
}

// Cache is the subset of cache.Store the resolver needs
type Cache interface {
	Load(key string) (*cache.Entry, error)
	Save(key string, records []*plugins.Record) error
	Drop(key string) error
}

// Origin says where a sync result came from
type Origin string

const (
	OriginNetwork Origin = "network"
	OriginLocal   Origin = "local"
	OriginCache   Origin = "cache"
	OriginNone    Origin = "none"
)

// Options configures a Resolver
type Options struct {
	MaxSourceAge time.Duration
	// HashAttempts bounds hash queries per sync, first attempt included
	HashAttempts int
	// RetryInterval is the initial backoff between hash attempts
	RetryInterval time.Duration
	Now           func() time.Time
}

// DefaultOptions returns resolver defaults
func DefaultOptions() Options {
	return Options{
		MaxSourceAge:  24 * time.Hour,
		HashAttempts:  3,
		RetryInterval: 500 * time.Millisecond,
		Now:           time.Now,
	}
}

// SyncOptions configures one Sync call
type SyncOptions struct {
	// Force skips the LastCheck short-circuit
	Force bool
}

// Result is the outcome of synchronizing one source
type Result struct {
	Key        string
	Records    []*plugins.Record
	Origin     Origin
	Tombstones int
	// HashQueried is set when the network (or local) hash was queried
	HashQueried bool
	// Err is set only when every fallback was exhausted; Records is then empty
	Err error
}

// Resolver synchronizes sources into record sets following the staleness protocol
type Resolver struct {
	fetcher  Fetcher
	cache    Cache
	workshop Workshop
	logger   *logrus.Logger
	metrics  *observability.Metrics
	opts     Options
}

// New creates a resolver. workshop and metrics may be nil.
func New(fetcher Fetcher, c Cache, workshop Workshop, logger *logrus.Logger, metrics *observability.Metrics, opts Options) *Resolver {
	defaults := DefaultOptions()
	if opts.MaxSourceAge <= 0 {
		opts.MaxSourceAge = defaults.MaxSourceAge
	}
	if opts.HashAttempts < 1 {
		opts.HashAttempts = defaults.HashAttempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaults.RetryInterval
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}

	return &Resolver{
		fetcher:  fetcher,
		cache:    c,
		workshop: workshop,
		logger:   observability.OrDefault(logger),
		metrics:  metrics,
		opts:     opts,
	}
}

// Sync resolves one source. It may update src.LastCheck and src.Hash; the caller
// persists the descriptor. Sync never returns an error: total failure is reported
// through Result.Err with an empty record set.
func (r *Resolver) Sync(ctx context.Context, src *sources.Source, opts SyncOptions) *Result {
	start := r.opts.Now()
	key := src.Key()

	ctx, span := observability.StartSpan(ctx, "resolver.Sync", map[string]string{
		"source.key":  key,
		"source.kind": src.Kind.String(),
	})

	res := &Result{Key: key, Origin: OriginNone}
	var err error
	switch src.Kind {
	case sources.KindRemoteHub, sources.KindRemotePlugin:
		err = r.syncRemote(ctx, src, opts, res)
	case sources.KindLocalHub:
		err = r.syncLocalHub(ctx, src, res)
	case sources.KindLocalPlugin:
		err = r.syncLocalPlugin(ctx, src, res)
	case sources.KindExternalRef:
		err = r.syncExternal(ctx, src, res)
	default:
		err = fmt.Errorf("unknown source kind %d", int(src.Kind))
	}

	if err != nil {
		res.Records = nil
		res.Origin = OriginNone
		res.Err = err
		r.logger.WithFields(logrus.Fields{
			"source": key,
			"name":   src.Name,
		}).WithError(err).Warn("Source unavailable after all fallbacks")
	}

	for _, rec := range res.Records {
		rec.SourceLabel = src.Name
		rec.SourceKey = key
		rec.SourceKind = src.Kind
		rec.Trusted = src.Trusted
	}

	if res.Tombstones > 0 {
		r.logger.WithFields(logrus.Fields{
			"source":     key,
			"tombstones": res.Tombstones,
		}).Info("Dropped obsolete records")
	}
	r.metrics.ObserveTombstones(src.Kind.String(), res.Tombstones)
	r.metrics.ObserveSync(src.Kind.String(), string(res.Origin), r.opts.Now().Sub(start))

	r.logger.WithFields(logrus.Fields{
		"source":  key,
		"origin":  res.Origin,
		"records": len(res.Records),
	}).Debug("Source synchronized")

	observability.EndSpan(span, res.Err)
	return res
}

// Invalidate clears the coherency witnesses of src and drops its cache entry,
// forcing a download on the next sync
func (r *Resolver) Invalidate(src *sources.Source) error {
	src.Hash = ""
	src.LastCheck = nil
	return r.cache.Drop(src.Key())
}

func (r *Resolver) syncRemote(ctx context.Context, src *sources.Source, opts SyncOptions, res *Result) error {
	now := r.opts.Now()

	// 1. fresh enough: cache only, unless the cache is gone
	if !opts.Force && src.Fresh(now, r.opts.MaxSourceAge) {
		err := r.fromCache(src, res, "fresh")
		if err == nil || !cache.Missing(err) {
			return err
		}
		r.logger.WithField("source", src.Key()).WithError(err).Info("Fresh source has no usable cache, rechecking")
	}

	// 2. query the hash; on failure fall back without touching LastCheck
	res.HashQueried = true
	hash, err := r.queryHash(ctx, src)
	if err != nil {
		r.logger.WithField("source", src.Key()).WithError(err).Warn("Hash query failed, using cache")
		return r.fromCacheAfter(src, res, "hash-failed", err)
	}

	// 3. the query succeeded
	src.LastCheck = &now
	if hash != src.Hash || src.Hash == "" {
		if err := r.download(ctx, src, hash, res); err != nil {
			r.logger.WithField("source", src.Key()).WithError(err).Warn("Download failed, using cache")
			return r.fromCacheAfter(src, res, "download-failed", err)
		}
		src.Hash = hash
		return nil
	}

	if err := r.fromCache(src, res, "unchanged"); err == nil {
		return nil
	}
	r.logger.WithField("source", src.Key()).Info("Cache missing or unreadable, downloading")
	return r.download(ctx, src, hash, res)
}

func (r *Resolver) queryHash(ctx context.Context, src *sources.Source) (string, error) {
	var hash string
	op := func() error {
		h, err := r.fetcher.FetchHash(ctx, src.Repo, src.Branch)
		r.metrics.ObserveHashQuery(src.Kind.String(), err)
		if err != nil {
			var statusErr *fetch.StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
				return backoff.Permanent(err)
			}
			return err
		}
		hash = h
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.RetryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.opts.HashAttempts-1)), ctx)

	if err := backoff.Retry(op, b); err != nil {
		return "", err
	}
	return hash, nil
}

func (r *Resolver) download(ctx context.Context, src *sources.Source, hash string, res *Result) error {
	var manifests []*plugins.Manifest
	switch src.Kind {
	case sources.KindRemoteHub:
		data, err := r.fetcher.FetchBytes(ctx, r.fetcher.ArchiveURL(src.Repo, src.Branch))
		if err != nil {
			return err
		}
		parsed, err := plugins.ParseBundle(data)
		if err != nil && len(parsed) == 0 {
			return err
		}
		if err != nil {
			r.logger.WithField("source", src.Key()).WithError(err).Warn("Skipped unreadable bundle entries")
		}
		for _, m := range parsed {
			m.Path = stripArchiveRoot(m.Path)
		}
		manifests = parsed
	case sources.KindRemotePlugin:
		data, err := r.fetcher.FetchBytes(ctx, r.fetcher.RawURL(src.Repo, src.Branch, src.ManifestFile))
		if err != nil {
			return err
		}
		parsed, err := parseSingle(data, src.ManifestFile)
		if err != nil {
			return err
		}
		manifests = parsed
	default:
		return fmt.Errorf("source kind %s is not remote", src.Kind)
	}

	all := r.toRecords(src, manifests, func(m *plugins.Manifest) string {
		dir := m.Dir()
		if dir == "." {
			dir = ""
		}
		return strings.TrimSuffix(r.fetcher.RawURL(src.Repo, hash, dir), "/")
	}, hash)

	if err := r.cache.Save(src.Key(), all); err != nil {
		r.logger.WithField("source", src.Key()).WithError(err).Warn("Failed to persist cache")
	}

	res.Records, res.Tombstones = splitTombstones(all)
	res.Origin = OriginNetwork
	return nil
}

// fromCache fills res from the cache entry of src
func (r *Resolver) fromCache(src *sources.Source, res *Result, reason string) error {
	entry, err := r.cache.Load(src.Key())
	if err != nil {
		return err
	}
	res.Records = entry.Records
	res.Tombstones = entry.Tombstones
	res.Origin = OriginCache
	if reason != "fresh" && reason != "unchanged" {
		r.metrics.ObserveCacheFallback(src.Kind.String(), reason)
	}
	return nil
}

// fromCacheAfter falls back to the cache after cause; both errors are reported when the cache is unusable
func (r *Resolver) fromCacheAfter(src *sources.Source, res *Result, reason string, cause error) error {
	if err := r.fromCache(src, res, reason); err != nil {
		return fmt.Errorf("%w (cache: %v)", cause, err)
	}
	return nil
}

// toRecords converts manifests to records. Invalid manifests are logged and skipped.
func (r *Resolver) toRecords(src *sources.Source, manifests []*plugins.Manifest, origin func(*plugins.Manifest) string, revision string) []*plugins.Record {
	records := make([]*plugins.Record, 0, len(manifests))
	for _, m := range manifests {
		rec, err := m.Record()
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"source":   src.Key(),
				"manifest": m.Path,
				"id":       m.ID,
			}).WithError(err).Warn("Skipped invalid manifest")
			continue
		}
		rec.Origin = origin(m)
		rec.Revision = revision
		records = append(records, rec)
	}
	return records
}

func splitTombstones(all []*plugins.Record) ([]*plugins.Record, int) {
	visible := make([]*plugins.Record, 0, len(all))
	tombstones := 0
	for _, rec := range all {
		if rec.Kind == plugins.KindObsolete {
			tombstones++
			continue
		}
		visible = append(visible, rec)
	}
	return visible, tombstones
}

// parseSingle parses a single-plugin manifest document. Extra documents are ignored.
func parseSingle(data []byte, name string) ([]*plugins.Manifest, error) {
	parsed, err := plugins.ParseManifests(data)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("%s holds no manifest", name)
	}
	m := parsed[0]
	m.Path = name
	return []*plugins.Manifest{m}, nil
}

// stripArchiveRoot drops the "<repo>-<branch>/" directory archives wrap their entries in
func stripArchiveRoot(p string) string {
	if _, rest, ok := strings.Cut(p, "/"); ok {
		return rest
	}
	return p
}
