package loader

import (
	"fmt"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/modhub/pkg/fsutil"
	"github.com/platinummonkey/modhub/pkg/plugins"
)

// Failure is one failed record in a diagnostic report
type Failure struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Author string `yaml:"author,omitempty"`
	Source string `yaml:"source,omitempty"`
	Status string `yaml:"status"`
	Error  string `yaml:"error"`
}

// Report summarizes a diagnostic load run
type Report struct {
	RunID      string    `yaml:"run_id"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`
	Attempted  int       `yaml:"attempted"`
	Loaded     int       `yaml:"loaded"`
	Failures   []Failure `yaml:"failures"`
	// Path is where the report was written, if anywhere
	Path string `yaml:"-"`
}

func failureOf(rec *plugins.Record) Failure {
	f := Failure{
		ID:     rec.ID,
		Name:   rec.FriendlyName,
		Author: rec.Author,
		Source: rec.SourceLabel,
		Status: rec.Status.String(),
		Error:  rec.Message,
	}
	if rec.Err != nil {
		f.Error = rec.Err.Error()
	}
	return f
}

// Write saves the report as <dir>/<run id>.yaml
func (r *Report) Write(dir string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	path := filepath.Join(dir, r.RunID+".yaml")
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	r.Path = path
	return nil
}

// ReadReport loads a report written by Write
func ReadReport(data []byte) (*Report, error) {
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &r, nil
}
