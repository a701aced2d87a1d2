package pipeline

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhub/pkg/observability"
)

// Refresher is the part of Pipeline the scheduler drives
type Refresher interface {
	Refresh(ctx context.Context, force bool) (*RefreshResult, error)
}

// Scheduler runs a non-forced refresh on a cron schedule. A run that is still
// in progress when the next one is due makes the next one skip.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	logger    *logrus.Logger
	ctx       context.Context
}

// NewScheduler creates a scheduler for spec, e.g. "0 * * * *" or "@every 30m".
// ctx bounds every refresh it runs.
func NewScheduler(ctx context.Context, refresher Refresher, spec string, logger *logrus.Logger) (*Scheduler, error) {
	logger = observability.OrDefault(logger)
	cl := cronLogger{logger}
	s := &Scheduler{
		cron:      cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		refresher: refresher,
		logger:    logger,
		ctx:       ctx,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	res, err := s.refresher.Refresh(s.ctx, false)
	if err != nil {
		s.logger.WithError(err).Error("Scheduled refresh failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"records": res.Records,
		"stale":   res.Stale,
	}).Debug("Scheduled refresh finished")
}

// Start begins running scheduled refreshes in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule. The returned context is done once a running refresh finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
