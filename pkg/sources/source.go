package sources

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Kind identifies the type of a plugin source
type Kind int

const (
	KindRemoteHub Kind = iota + 1
	KindRemotePlugin
	KindLocalHub
	KindLocalPlugin
	KindExternalRef
)

const (
	// DefaultBranch is used when a remote source does not name a branch
	DefaultBranch = "main"
	// DefaultManifestFile is the manifest looked up in single-plugin sources
	DefaultManifestFile = "plugin.yaml"
)

var kindNames = map[Kind]string{
	KindRemoteHub:    "remote-hub",
	KindRemotePlugin: "remote-plugin",
	KindLocalHub:     "local-hub",
	KindLocalPlugin:  "local-plugin",
	KindExternalRef:  "external",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a kind name back into a Kind
func ParseKind(s string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for kind, name := range kindNames {
		if name == normalized {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown source kind %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown source kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Remote reports whether sources of this kind are fetched over the network
func (k Kind) Remote() bool {
	return k == KindRemoteHub || k == KindRemotePlugin
}

// Hub reports whether a source of this kind can yield many records
func (k Kind) Hub() bool {
	return k == KindRemoteHub || k == KindLocalHub
}

// Source describes one configured origin of plugin records.
//
// Hash and LastCheck are cache-coherency witnesses. They never take part in
// the identity of a source, see Key.
type Source struct {
	Kind    Kind   `yaml:"kind"`
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
	Trusted bool   `yaml:"trusted"`

	Repo         string `yaml:"repo,omitempty"`
	Branch       string `yaml:"branch,omitempty"`
	ManifestFile string `yaml:"manifest_file,omitempty"`
	Folder       string `yaml:"folder,omitempty"`
	ExternalID   string `yaml:"external_id,omitempty"`

	LastCheck *time.Time `yaml:"last_check,omitempty"`
	Hash      string     `yaml:"hash,omitempty"`
}

// Key returns the identity of the source: its kind plus repo, folder or external id
func (s *Source) Key() string {
	return s.Kind.String() + ":" + s.locator()
}

func (s *Source) locator() string {
	switch s.Kind {
	case KindRemoteHub, KindRemotePlugin:
		return NormalizeRepo(s.Repo)
	case KindLocalHub, KindLocalPlugin:
		if s.Folder == "" {
			return ""
		}
		return filepath.Clean(s.Folder)
	case KindExternalRef:
		return strings.TrimSpace(s.ExternalID)
	default:
		return ""
	}
}

// Normalize fills defaults and canonicalizes locators in place
func (s *Source) Normalize() {
	switch s.Kind {
	case KindRemoteHub:
		s.Repo = NormalizeRepo(s.Repo)
		if s.Branch == "" {
			s.Branch = DefaultBranch
		}
	case KindRemotePlugin:
		s.Repo = NormalizeRepo(s.Repo)
		if s.Branch == "" {
			s.Branch = DefaultBranch
		}
		if s.ManifestFile == "" {
			s.ManifestFile = DefaultManifestFile
		}
	case KindLocalHub:
		if s.Folder != "" {
			s.Folder = filepath.Clean(s.Folder)
		}
	case KindLocalPlugin:
		if s.Folder != "" {
			s.Folder = filepath.Clean(s.Folder)
		}
		if s.ManifestFile == "" {
			s.ManifestFile = DefaultManifestFile
		}
	case KindExternalRef:
		s.ExternalID = strings.TrimSpace(s.ExternalID)
	}
	if s.Name == "" {
		s.Name = s.locator()
	}
}

// Validate checks that the identity field required by the kind is present
func (s *Source) Validate() error {
	switch s.Kind {
	case KindRemoteHub, KindRemotePlugin:
		repo := NormalizeRepo(s.Repo)
		if repo == "" {
			return fmt.Errorf("%s source requires a repo", s.Kind)
		}
		if strings.Count(repo, "/") != 1 {
			return fmt.Errorf("repo %q must be in owner/name form", s.Repo)
		}
	case KindLocalHub, KindLocalPlugin:
		if s.Folder == "" {
			return fmt.Errorf("%s source requires a folder", s.Kind)
		}
	case KindExternalRef:
		if strings.TrimSpace(s.ExternalID) == "" {
			return fmt.Errorf("external source requires an external id")
		}
	default:
		return fmt.Errorf("unknown source kind %d", int(s.Kind))
	}
	return nil
}

// Fresh reports whether the last remote check is recent enough to skip a hash query
func (s *Source) Fresh(now time.Time, maxAge time.Duration) bool {
	if s.LastCheck == nil {
		return false
	}
	return now.Sub(*s.LastCheck) <= maxAge
}

// NormalizeRepo strips URL decoration from a repository reference, leaving owner/name
func NormalizeRepo(repo string) string {
	repo = strings.TrimSpace(repo)
	for _, prefix := range []string{"https://", "http://", "git@"} {
		repo = strings.TrimPrefix(repo, prefix)
	}
	repo = strings.TrimPrefix(repo, "github.com/")
	repo = strings.TrimPrefix(repo, "github.com:")
	repo = strings.TrimSuffix(repo, ".git")
	return strings.Trim(repo, "/")
}
