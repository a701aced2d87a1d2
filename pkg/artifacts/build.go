package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhub/pkg/plugins"
)

// maxBuildOutput bounds the build output kept in a BuildError
const maxBuildOutput = 4 << 10

// BuildError reports a failed local build step
type BuildError struct {
	ID       string
	Command  string
	Output   string
	TimedOut bool
	Err      error
}

func (e *BuildError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("build of %s timed out running %s", e.ID, e.Command)
	}
	return fmt.Sprintf("build of %s failed running %s: %v", e.ID, e.Command, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// runBuild runs rec.Build in dir with a bounded wait. On timeout the whole
// process group is killed.
func (s *Store) runBuild(ctx context.Context, rec *plugins.Record, dir string) error {
	step := rec.Build
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = s.opts.BuildTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, step.Command, step.Args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second
	setProcessGroup(cmd)

	logger := s.logger.WithFields(logrus.Fields{
		"id":      rec.ID,
		"command": step.Command,
		"dir":     dir,
	})
	logger.Debug("Running build step")

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		logger.WithField("duration", time.Since(start)).Debug("Build step finished")
		return nil
	}

	buildErr := &BuildError{
		ID:      rec.ID,
		Command: step.Command,
		Output:  tail(out.Bytes(), maxBuildOutput),
		Err:     err,
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		buildErr.TimedOut = true
	}
	logger.WithError(buildErr).Warn("Build step failed")
	return buildErr
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
