// Package pipeline wires the configuration store, resolver, catalog, artifact
// store and loader of one installation into a single object.
//
// A typical run:
//
//	p, err := pipeline.New(cfg, pipeline.Deps{Fetcher: f, Host: rt, Logger: logger})
//	if _, err := p.Refresh(ctx, false); err != nil { ... }
//	res, err := p.Load(ctx, pipeline.LoadOptions{})
//
// Scheduler repeats Refresh on a cron schedule, and Watcher flags records of
// local sources as pending update when their folders change.
package pipeline
