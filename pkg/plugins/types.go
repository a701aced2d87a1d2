package plugins

import (
	"fmt"
	"time"

	"github.com/platinummonkey/modhub/pkg/sources"
)

// Kind is the closed set of record variants
type Kind int

const (
	// KindSource records are compiled from tracked source text
	KindSource Kind = iota + 1
	// KindPrebuilt records load a prebuilt module file
	KindPrebuilt
	// KindExternal records reference content owned by an external distribution system
	KindExternal
	// KindObsolete is a tombstone: counted and dropped, never surfaced
	KindObsolete
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindPrebuilt:
		return "module"
	case KindExternal:
		return "external"
	case KindObsolete:
		return "obsolete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a manifest kind string to a Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "source":
		return KindSource, nil
	case "module", "prebuilt":
		return KindPrebuilt, nil
	case "external":
		return KindExternal, nil
	case "obsolete":
		return KindObsolete, nil
	default:
		return 0, fmt.Errorf("unknown record kind %q", s)
	}
}

// Status is the lifecycle state of a record during a load run
type Status int

const (
	StatusNone Status = iota
	StatusPendingUpdate
	StatusUpdated
	StatusError
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPendingUpdate:
		return "pending-update"
	case StatusUpdated:
		return "updated"
	case StatusError:
		return "error"
	case StatusBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the status is sticky for the remainder of a run
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusBlocked
}

// BuildStep is an optional command that produces a record's module from a local folder
type BuildStep struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Record is one catalog entry describing a single installable plugin
type Record struct {
	ID           string
	FriendlyName string
	Author       string
	Description  string
	Tooltip      string
	GroupID      string

	Kind Kind
	// Payload says how an external record's content is built (KindSource or KindPrebuilt)
	Payload Kind

	Status  Status
	Message string
	Err     error

	// Version is only known after a successful load
	Version         string
	DeclaredVersion string

	SourceLabel string
	SourceKey   string
	SourceKind  sources.Kind
	Trusted     bool

	Group                []*Record
	Dependencies         []string
	ResolvedDependencies []string

	Origin   string
	Files    []string
	Module   string
	Revision string
	Build    *BuildStep
}

// BuildKind returns the kind that decides how the record's module is obtained
func (r *Record) BuildKind() Kind {
	if r.Kind == KindExternal {
		if r.Payload == 0 {
			return KindPrebuilt
		}
		return r.Payload
	}
	return r.Kind
}

// Label returns a human-readable identifier for logs and prompts
func (r *Record) Label() string {
	if r.FriendlyName != "" && r.FriendlyName != r.ID {
		return fmt.Sprintf("%s (%s)", r.FriendlyName, r.ID)
	}
	return r.ID
}

// SetStatus updates the status and the message that goes with it
func (r *Record) SetStatus(status Status, err error) {
	r.Status = status
	r.Err = err
	if err != nil {
		r.Message = err.Error()
	} else {
		r.Message = ""
	}
}

// Clone returns a copy without group back-references, which are rebuilt by the catalog
func (r *Record) Clone() *Record {
	c := *r
	c.Group = nil
	c.Files = append([]string(nil), r.Files...)
	c.Dependencies = append([]string(nil), r.Dependencies...)
	c.ResolvedDependencies = append([]string(nil), r.ResolvedDependencies...)
	if r.Build != nil {
		b := *r.Build
		b.Args = append([]string(nil), r.Build.Args...)
		c.Build = &b
	}
	return &c
}
