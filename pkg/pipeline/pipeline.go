package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/modhub/pkg/artifacts"
	"github.com/platinummonkey/modhub/pkg/buildctx"
	"github.com/platinummonkey/modhub/pkg/cache"
	"github.com/platinummonkey/modhub/pkg/catalog"
	"github.com/platinummonkey/modhub/pkg/config"
	"github.com/platinummonkey/modhub/pkg/loader"
	"github.com/platinummonkey/modhub/pkg/observability"
	"github.com/platinummonkey/modhub/pkg/plugins"
	"github.com/platinummonkey/modhub/pkg/resolver"
	"github.com/platinummonkey/modhub/pkg/sources"
)

// ReportsDirName is the directory under the cache dir receiving diagnostic reports
const ReportsDirName = "reports"

// Deps are the collaborators a pipeline does not build itself
type Deps struct {
	// Fetcher serves both source metadata and remote artifacts
	Fetcher resolver.Fetcher
	// Workshop resolves external references; nil leaves them cache-only
	Workshop resolver.Workshop
	Host     buildctx.Host
	Notifier loader.Notifier
	// Policy defaults to loader.TrustPolicy
	Policy  loader.Policy
	Logger  *logrus.Logger
	Metrics *observability.Metrics
	// Now and RetryInterval override resolver defaults
	Now           func() time.Time
	RetryInterval time.Duration
}

// LoadOptions configures one load run
type LoadOptions struct {
	SafeMode   bool
	Diagnostic bool
}

// RefreshResult summarizes a refresh
type RefreshResult struct {
	// Sources holds one result per enabled source, in descriptor order
	Sources []*resolver.Result
	Records int
	// Stale counts records marked PendingUpdate because a cached artifact is outdated
	Stale     int
	Retracted []string
	// Invalidated lists the source keys whose caches were dropped before syncing
	Invalidated []string
}

// Pipeline owns every component of one modhub installation
type Pipeline struct {
	cfg       *config.Config
	store     *config.Store
	cache     *cache.Store
	resolver  *resolver.Resolver
	catalog   *catalog.Catalog
	artifacts *artifacts.Store
	loader    *loader.Loader
	host      buildctx.Host
	logger    *logrus.Logger
	metrics   *observability.Metrics

	// mu serializes Refresh, Load, Enable and Disable
	mu sync.Mutex
}

// New wires a pipeline from process configuration and the persisted store
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline requires a configuration")
	}
	logger := observability.OrDefault(deps.Logger)

	store := config.NewStore(cfg.Paths.StorePath())
	state, err := store.Load()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg,
		store:   store,
		cache:   cache.NewStore(cfg.Paths.CacheDir, nil, logger),
		catalog: catalog.New(logger, deps.Metrics),
		host:    deps.Host,
		logger:  logger,
		metrics: deps.Metrics,
	}
	p.resolver = resolver.New(deps.Fetcher, p.cache, deps.Workshop, logger, deps.Metrics, resolver.Options{
		MaxSourceAge:  state.Settings.MaxSourceAge(),
		HashAttempts:  cfg.Fetch.HashAttempts,
		RetryInterval: deps.RetryInterval,
		Now:           deps.Now,
	})
	p.artifacts = artifacts.NewStore(cfg.Paths.CacheDir, deps.Fetcher, logger, artifacts.Options{
		BuildTimeout: cfg.Build.BuildTimeout,
		Now:          deps.Now,
	})
	p.loader = loader.New(loader.Deps{
		Artifacts:  p.artifacts,
		NewBuilder: p.newBuilder,
		Policy:     deps.Policy,
		Notifier:   deps.Notifier,
		Logger:     logger,
		Metrics:    deps.Metrics,
	})
	p.catalog.SetEnabled(state.Enabled)
	return p, nil
}

func (p *Pipeline) newBuilder(ctx context.Context, runID string) (loader.Builder, error) {
	bc, err := buildctx.New(ctx, p.host, buildctx.Options{
		DenyList: p.cfg.Build.DenyList,
		Extras:   p.cfg.Build.Extras,
		RunID:    runID,
		Logger:   p.logger,
		Metrics:  p.metrics,
	})
	if err != nil {
		return nil, err
	}
	return bc, nil
}

// Catalog returns the merged catalog of the last refresh
func (p *Pipeline) Catalog() *catalog.Catalog {
	return p.catalog
}

// Artifacts returns the artifact store
func (p *Pipeline) Artifacts() *artifacts.Store {
	return p.artifacts
}

// Store returns the configuration store
func (p *Pipeline) Store() *config.Store {
	return p.store
}

// Refresh synchronizes every enabled source and rebuilds the catalog. Sources
// sync in parallel; the merge only happens after all of them returned.
func (p *Pipeline) Refresh(ctx context.Context, force bool) (*RefreshResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "pipeline.Refresh", map[string]string{
		"force": strconv.FormatBool(force),
	})
	res, err := p.refresh(ctx, force)
	observability.EndSpan(span, err)
	return res, err
}

func (p *Pipeline) refresh(ctx context.Context, force bool) (*RefreshResult, error) {
	state, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	out := &RefreshResult{}

	for _, key := range state.PendingInvalidations {
		src := state.Source(key)
		if src == nil {
			continue
		}
		if err := p.resolver.Invalidate(src); err != nil {
			p.logger.WithField("source", key).WithError(err).Warn("Failed to invalidate source cache")
			continue
		}
		out.Invalidated = append(out.Invalidated, key)
	}

	var active []*sources.Source
	keys := make([]string, 0, len(state.Sources))
	activeKeys := make(map[string]bool, len(state.Sources))
	for _, src := range state.Sources {
		if !src.Enabled || activeKeys[src.Key()] {
			continue
		}
		active = append(active, src)
		keys = append(keys, src.Key())
		activeKeys[src.Key()] = true
	}
	for _, key := range p.catalog.Keys() {
		if !activeKeys[key] && p.catalog.Retract(key) {
			out.Retracted = append(out.Retracted, key)
		}
	}
	p.catalog.SetOrder(keys)

	results := make([]*resolver.Result, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(state.Settings.SyncConcurrency, 1))
	for i, src := range active {
		g.Go(func() error {
			results[i] = p.resolver.Sync(gctx, src, resolver.SyncOptions{Force: force})
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		p.catalog.Set(res.Key, active[i].Kind, res.Records)
	}
	p.catalog.Rebuild()
	p.catalog.SetEnabled(state.Enabled)

	for _, rec := range p.catalog.Records() {
		if p.artifacts.Stale(rec) {
			rec.SetStatus(plugins.StatusPendingUpdate, nil)
			out.Stale++
		}
	}

	err = p.store.Update(func(fresh *config.State) error {
		for _, src := range active {
			if dst := fresh.Source(src.Key()); dst != nil {
				dst.Hash = src.Hash
				dst.LastCheck = src.LastCheck
			}
		}
		fresh.PendingInvalidations = without(fresh.PendingInvalidations, out.Invalidated)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist source state: %w", err)
	}

	out.Sources = results
	out.Records = p.catalog.Len()
	p.logger.WithFields(logrus.Fields{
		"sources":   len(active),
		"records":   out.Records,
		"stale":     out.Stale,
		"retracted": len(out.Retracted),
		"force":     force,
	}).Info("Refresh complete")
	return out, nil
}

// Enable enables a catalog record, disabling its group siblings, and persists the set.
// It waits for a running Refresh or Load.
func (p *Pipeline) Enable(id string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	disabled, err := p.catalog.Enable(id)
	if err != nil {
		return nil, err
	}
	err = p.store.Update(func(state *config.State) error {
		state.Enabled = append(without(state.Enabled, append(disabled, id)), id)
		return nil
	})
	return disabled, err
}

// Disable removes a record from the enabled set and persists it.
// It waits for a running Refresh or Load.
func (p *Pipeline) Disable(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.catalog.Disable(id); err != nil {
		return err
	}
	return p.store.Update(func(state *config.State) error {
		state.Enabled = without(state.Enabled, []string{id})
		return nil
	})
}

// Load builds every enabled record. Link failures are persisted as pending
// invalidations and applied by the next Refresh.
func (p *Pipeline) Load(ctx context.Context, opts LoadOptions) (*loader.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, err := p.store.Load()
	if err != nil {
		return nil, err
	}

	res, err := p.loader.Load(ctx, p.catalog.Enabled(), loader.Options{
		SafeMode:    opts.SafeMode,
		Diagnostic:  opts.Diagnostic,
		Concurrency: state.Settings.LoadConcurrency,
		ReportDir:   filepath.Join(p.cfg.Paths.CacheDir, ReportsDirName),
	})
	if err != nil {
		return nil, err
	}

	if len(res.Invalidations) > 0 {
		err := p.store.Update(func(state *config.State) error {
			state.PendingInvalidations = append(state.PendingInvalidations, res.Invalidations...)
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("failed to schedule cache invalidations: %w", err)
		}
	}
	return res, nil
}

// Sources returns the configured sources in descriptor order
func (p *Pipeline) Sources() ([]*sources.Source, error) {
	state, err := p.store.Load()
	if err != nil {
		return nil, err
	}
	return state.Sources, nil
}

// AddSource validates and stores a source descriptor
func (p *Pipeline) AddSource(src *sources.Source) error {
	return p.store.UpsertSource(src)
}

// RemoveSource deletes a source, its cache entry and its records
func (p *Pipeline) RemoveSource(key string) error {
	if _, err := p.store.RemoveSource(key); err != nil {
		return err
	}
	if err := p.cache.Drop(key); err != nil {
		p.logger.WithField("source", key).WithError(err).Warn("Failed to drop source cache")
	}
	p.catalog.Retract(key)
	return nil
}

// SetSourceEnabled toggles a source; its records follow on the next Refresh
func (p *Pipeline) SetSourceEnabled(key string, enabled bool) error {
	return p.store.SetSourceEnabled(key, enabled)
}

// MarkChanged flags the records of a source whose content changed on disk
func (p *Pipeline) MarkChanged(key string) int {
	n := p.catalog.MarkPendingUpdate(key)
	if n > 0 {
		p.logger.WithFields(logrus.Fields{
			"source":  key,
			"records": n,
		}).Info("Source changed, records pending update")
	}
	return n
}

// Close releases in-memory caches
func (p *Pipeline) Close() error {
	return p.cache.Close()
}

func without(items, drop []string) []string {
	if len(drop) == 0 {
		return items
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		skip := false
		for _, d := range drop {
			if item == d {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, item)
		}
	}
	return out
}
