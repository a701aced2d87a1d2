package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/modhub/pkg/artifacts"
	"github.com/platinummonkey/modhub/pkg/buildctx"
	"github.com/platinummonkey/modhub/pkg/observability"
	"github.com/platinummonkey/modhub/pkg/plugins"
)

// BlockedMessage is the status message of records refused by the host
const BlockedMessage = "blocked by host security policy"

// ErrBlocked is set on records the policy refused to build
var ErrBlocked = errors.New(BlockedMessage)

// Artifacts produces build input for records
type Artifacts interface {
	Get(ctx context.Context, rec *plugins.Record) (*artifacts.Artifact, error)
	Purge(id string) error
}

// Builder compiles build input against an isolated reference table
type Builder interface {
	RunID() string
	CompileSource(ctx context.Context, rec *plugins.Record, files []artifacts.File) (*buildctx.Module, error)
	LoadModule(ctx context.Context, rec *plugins.Record, bin []byte) (*buildctx.Module, error)
	Close(ctx context.Context) error
}

// BuilderFactory creates the builder of one load run
type BuilderFactory func(ctx context.Context, runID string) (Builder, error)

// Deps are the collaborators of a Loader
type Deps struct {
	Artifacts  Artifacts
	NewBuilder BuilderFactory
	// Policy defaults to TrustPolicy
	Policy Policy
	// Notifier may be nil
	Notifier Notifier
	Logger   *logrus.Logger
	Metrics  *observability.Metrics
}

// Options configures one load run
type Options struct {
	// SafeMode skips every record without creating a build context
	SafeMode bool
	// Diagnostic attempts every record, suppresses prompts and produces a report
	Diagnostic bool
	// Concurrency bounds parallel builds; below 2 records build one at a time
	Concurrency int
	// RunID defaults to a new uuid
	RunID string
	// ReportDir receives diagnostic reports; empty keeps the report in memory only
	ReportDir string
}

// Loaded pairs a record with the module built from it
type Loaded struct {
	Record *plugins.Record
	Module *buildctx.Module
}

// Result is the outcome of a load run. Loaded, Failed and Skipped keep input order.
type Result struct {
	RunID   string
	Loaded  []Loaded
	Failed  []*plugins.Record
	Skipped []*plugins.Record
	// Invalidations are the source keys whose caches must be dropped on the next refresh
	Invalidations []string
	// Report is set in diagnostic mode
	Report *Report
}

// Loader builds enabled records one by one, containing every failure to its record
type Loader struct {
	artifacts  Artifacts
	newBuilder BuilderFactory
	policy     Policy
	notifier   Notifier
	logger     *logrus.Logger
	metrics    *observability.Metrics

	// notifyMu serializes notifier calls from parallel builds
	notifyMu sync.Mutex
}

// New creates a loader
func New(deps Deps) *Loader {
	if deps.Policy == nil {
		deps.Policy = TrustPolicy{}
	}
	return &Loader{
		artifacts:  deps.Artifacts,
		newBuilder: deps.NewBuilder,
		policy:     deps.Policy,
		notifier:   deps.Notifier,
		logger:     observability.OrDefault(deps.Logger),
		metrics:    deps.Metrics,
	}
}

type outcome struct {
	module     *buildctx.Module
	skipped    bool
	invalidate bool
}

// Load builds records in order. It returns an error only when the run cannot
// start; per-record failures are reported through record status and Result.
func (l *Loader) Load(ctx context.Context, records []*plugins.Record, opts Options) (*Result, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	ctx = observability.WithRunID(ctx, opts.RunID)
	res := &Result{RunID: opts.RunID}
	log := l.logger.WithField("run_id", opts.RunID)

	if opts.SafeMode {
		res.Skipped = append(res.Skipped, records...)
		log.WithField("records", len(records)).Info("Safe mode: skipping all plugins")
		return res, nil
	}

	started := time.Now()
	builder, err := l.newBuilder(ctx, opts.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to create build context: %w", err)
	}
	defer func() {
		if err := builder.Close(ctx); err != nil {
			log.WithError(err).Warn("Failed to close build context")
		}
	}()

	outcomes := make([]outcome, len(records))
	if opts.Concurrency > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for i, rec := range records {
			i, rec := i, rec
			g.Go(func() error {
				outcomes[i] = l.loadOne(gctx, builder, rec, opts)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, rec := range records {
			outcomes[i] = l.loadOne(ctx, builder, rec, opts)
		}
	}

	seen := make(map[string]bool)
	for i, rec := range records {
		out := outcomes[i]
		switch {
		case out.skipped:
			res.Skipped = append(res.Skipped, rec)
		case out.module != nil:
			res.Loaded = append(res.Loaded, Loaded{Record: rec, Module: out.module})
		default:
			res.Failed = append(res.Failed, rec)
		}
		if out.invalidate && rec.SourceKey != "" && !seen[rec.SourceKey] {
			seen[rec.SourceKey] = true
			res.Invalidations = append(res.Invalidations, rec.SourceKey)
		}
	}

	log.WithFields(logrus.Fields{
		"loaded":        len(res.Loaded),
		"failed":        len(res.Failed),
		"skipped":       len(res.Skipped),
		"invalidations": len(res.Invalidations),
	}).Info("Load run finished")

	if opts.Diagnostic {
		res.Report = l.report(res, records, started, opts)
	}
	return res, nil
}

func (l *Loader) report(res *Result, records []*plugins.Record, started time.Time, opts Options) *Report {
	report := &Report{
		RunID:      res.RunID,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
		Attempted:  len(records) - len(res.Skipped),
		Loaded:     len(res.Loaded),
		Failures:   []Failure{},
	}
	for _, rec := range res.Failed {
		f := failureOf(rec)
		report.Failures = append(report.Failures, f)
		l.logger.WithFields(logrus.Fields{
			"run_id": res.RunID,
			"id":     f.ID,
			"name":   f.Name,
			"author": f.Author,
			"status": f.Status,
		}).Error(f.Error)
	}
	if opts.ReportDir != "" {
		if err := report.Write(opts.ReportDir); err != nil {
			l.logger.WithError(err).Warn("Failed to write diagnostic report")
		} else {
			l.logger.WithField("path", report.Path).Info("Diagnostic report written")
		}
	}
	return report
}

// loadOne builds a single record. Panics raised while building are converted
// into an Error status on the record.
func (l *Loader) loadOne(ctx context.Context, builder Builder, rec *plugins.Record, opts Options) (out outcome) {
	log := observability.FromContext(ctx).WithFields(logrus.Fields{
		"id":     rec.ID,
		"source": rec.SourceKey,
	})

	if rec.Status.Terminal() && !opts.Diagnostic {
		log.WithField("status", rec.Status).Debug("Skipping record that already failed")
		return outcome{skipped: true}
	}

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "loader.Load", map[string]string{
		"plugin.id":   rec.ID,
		"plugin.kind": rec.BuildKind().String(),
	})
	defer func() {
		if r := recover(); r != nil {
			err := observability.MustRecover(r)
			log.WithError(err).Error("Plugin build panicked")
			rec.SetStatus(plugins.StatusError, err)
			out = outcome{}
		}
		observability.EndSpan(span, rec.Err)
		l.metrics.ObserveLoad(rec.BuildKind().String(), rec.Status.String(), time.Since(start))
	}()

	l.progress(fmt.Sprintf("Loading %s", rec.Label()))

	if !l.allow(ctx, rec, opts.Diagnostic) {
		rec.SetStatus(plugins.StatusBlocked, ErrBlocked)
		log.Warn("Plugin blocked by policy")
		l.alert(rec, opts.Diagnostic)
		return outcome{}
	}

	mod, err := l.build(ctx, builder, rec)
	if err == nil {
		rec.SetStatus(plugins.StatusUpdated, nil)
		rec.Version = loadedVersion(mod.Version, rec.DeclaredVersion)
		log.WithField("version", rec.Version).Info("Plugin loaded")
		return outcome{module: mod}
	}

	out = l.classify(log, rec, err)
	l.alert(rec, opts.Diagnostic)
	return out
}

func (l *Loader) build(ctx context.Context, builder Builder, rec *plugins.Record) (*buildctx.Module, error) {
	art, err := l.artifacts.Get(ctx, rec)
	if err != nil {
		return nil, err
	}
	if rec.BuildKind() == plugins.KindPrebuilt {
		return builder.LoadModule(ctx, rec, art.Module)
	}
	return builder.CompileSource(ctx, rec, art.Files)
}

// classify sets rec's status from a build error
func (l *Loader) classify(log *logrus.Entry, rec *plugins.Record, err error) outcome {
	var linkErr *buildctx.LinkError
	var policyErr *buildctx.PolicyError
	var agg interface{ Unwrap() []error }

	switch {
	case errors.As(err, &linkErr):
		rec.SetStatus(plugins.StatusError, err)
		log.WithError(err).Error("Plugin failed to link, invalidating its source cache")
		l.metrics.ObserveInvalidation()
		if perr := l.artifacts.Purge(rec.ID); perr != nil {
			log.WithError(perr).Warn("Failed to purge cached artifacts")
		}
		return outcome{invalidate: true}

	case errors.As(err, &policyErr):
		rec.SetStatus(plugins.StatusBlocked, err)
		rec.Message = BlockedMessage
		log.WithError(err).Warn("Plugin references withheld modules")

	case errors.As(err, &agg):
		for _, inner := range agg.Unwrap() {
			log.WithError(inner).Error("Plugin build error")
		}
		rec.SetStatus(plugins.StatusError, err)

	default:
		rec.SetStatus(plugins.StatusError, err)
		log.WithError(err).Error("Plugin failed to load")
	}
	return outcome{}
}

func (l *Loader) allow(ctx context.Context, rec *plugins.Record, bulk bool) bool {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	return l.policy.Allow(ctx, rec, l.notifier, bulk)
}

func (l *Loader) progress(msg string) {
	if l.notifier == nil {
		return
	}
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	l.notifier.Progress(msg)
}

func (l *Loader) alert(rec *plugins.Record, bulk bool) {
	if l.notifier == nil || bulk {
		return
	}
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	l.notifier.Alert(fmt.Sprintf("%s failed to load: %s", rec.Label(), rec.Message))
}

// loadedVersion prefers the version the module reports over the declared one
func loadedVersion(reported, declared string) string {
	if v := plugins.CanonicalVersion(reported); v != "" {
		return v
	}
	return plugins.CanonicalVersion(declared)
}
