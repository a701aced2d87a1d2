package api

import (
	"time"

	"github.com/platinummonkey/modhub/pkg/pipeline"
	"github.com/platinummonkey/modhub/pkg/plugins"
	"github.com/platinummonkey/modhub/pkg/sources"
)

// RecordView is the JSON form of a catalog record
type RecordView struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Author          string   `json:"author,omitempty"`
	Description     string   `json:"description,omitempty"`
	Group           string   `json:"group,omitempty"`
	Kind            string   `json:"kind"`
	Status          string   `json:"status"`
	Message         string   `json:"message,omitempty"`
	Version         string   `json:"version,omitempty"`
	DeclaredVersion string   `json:"declared_version,omitempty"`
	Source          string   `json:"source"`
	SourceKind      string   `json:"source_kind"`
	Trusted         bool     `json:"trusted"`
	Enabled         bool     `json:"enabled"`
	Dependencies    []string `json:"dependencies,omitempty"`
}

func newRecordView(rec *plugins.Record, enabled bool) RecordView {
	return RecordView{
		ID:              rec.ID,
		Name:            rec.FriendlyName,
		Author:          rec.Author,
		Description:     rec.Description,
		Group:           rec.GroupID,
		Kind:            rec.Kind.String(),
		Status:          rec.Status.String(),
		Message:         rec.Message,
		Version:         rec.Version,
		DeclaredVersion: rec.DeclaredVersion,
		Source:          rec.SourceKey,
		SourceKind:      rec.SourceKind.String(),
		Trusted:         rec.Trusted,
		Enabled:         enabled,
		Dependencies:    rec.ResolvedDependencies,
	}
}

// SourceView is the JSON form of a source descriptor
type SourceView struct {
	Key       string     `json:"key"`
	Kind      string     `json:"kind"`
	Name      string     `json:"name"`
	Enabled   bool       `json:"enabled"`
	Trusted   bool       `json:"trusted"`
	LastCheck *time.Time `json:"last_check,omitempty"`
	Hash      string     `json:"hash,omitempty"`
}

func newSourceView(src *sources.Source) SourceView {
	return SourceView{
		Key:       src.Key(),
		Kind:      src.Kind.String(),
		Name:      src.Name,
		Enabled:   src.Enabled,
		Trusted:   src.Trusted,
		LastCheck: src.LastCheck,
		Hash:      src.Hash,
	}
}

// SourceOutcome reports how one source was synchronized during a refresh
type SourceOutcome struct {
	Key        string `json:"key"`
	Origin     string `json:"origin"`
	Records    int    `json:"records"`
	Tombstones int    `json:"tombstones,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RefreshView is the JSON form of a refresh result
type RefreshView struct {
	Records     int             `json:"records"`
	Stale       int             `json:"stale"`
	Retracted   []string        `json:"retracted,omitempty"`
	Invalidated []string        `json:"invalidated,omitempty"`
	Sources     []SourceOutcome `json:"sources"`
}

func newRefreshView(res *pipeline.RefreshResult) RefreshView {
	view := RefreshView{
		Records:     res.Records,
		Stale:       res.Stale,
		Retracted:   res.Retracted,
		Invalidated: res.Invalidated,
		Sources:     make([]SourceOutcome, 0, len(res.Sources)),
	}
	for _, s := range res.Sources {
		out := SourceOutcome{
			Key:        s.Key,
			Origin:     string(s.Origin),
			Records:    len(s.Records),
			Tombstones: s.Tombstones,
		}
		if s.Err != nil {
			out.Error = s.Err.Error()
		}
		view.Sources = append(view.Sources, out)
	}
	return view
}

// EnableView answers an enable request
type EnableView struct {
	Enabled  string   `json:"enabled"`
	Disabled []string `json:"disabled"`
}
