package plugins

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

const (
	// CurrentAPIVersion is the plugin API version implemented by the host
	CurrentAPIVersion = "1.0.0"
	// maxBundleEntrySize bounds a single manifest inside a hub bundle
	maxBundleEntrySize = 1 << 20
)

// Manifest is the human-editable document describing one record.
// Unknown fields are ignored.
type Manifest struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Author      string     `yaml:"author"`
	Description string     `yaml:"description"`
	Tooltip     string     `yaml:"tooltip"`
	Group       string     `yaml:"group"`
	Kind        string     `yaml:"kind"`
	Version     string     `yaml:"version"`
	APIVersion  string     `yaml:"api_version"`
	Files       []string   `yaml:"files"`
	Module      string     `yaml:"module"`
	Build       *BuildStep `yaml:"build"`

	// Path is the document the manifest was read from, relative to its bundle or folder
	Path string `yaml:"-"`
}

// Dir returns the directory of Path in slash form, "." when unknown
func (m *Manifest) Dir() string {
	if m.Path == "" {
		return "."
	}
	return path.Dir(filepath.ToSlash(m.Path))
}

// LoadManifest loads and parses a plugin manifest from a file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	manifest.Path = path
	return manifest, nil
}

// SaveManifest saves a plugin manifest to a file
func SaveManifest(manifest *Manifest, path string) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// ParseManifest parses a single manifest document
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}

// ParseManifests parses a document that holds one manifest, a list of
// manifests, or several YAML documents separated by "---"
func ParseManifests(data []byte) ([]*Manifest, error) {
	var manifests []*Manifest

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		err := decoder.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}

		root := &node
		if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
			root = root.Content[0]
		}

		switch root.Kind {
		case yaml.SequenceNode:
			var list []*Manifest
			if err := root.Decode(&list); err != nil {
				return nil, fmt.Errorf("failed to parse manifest list: %w", err)
			}
			manifests = append(manifests, list...)
		case yaml.MappingNode:
			var m Manifest
			if err := root.Decode(&m); err != nil {
				return nil, fmt.Errorf("failed to parse manifest: %w", err)
			}
			manifests = append(manifests, &m)
		default:
			// empty documents and bare scalars carry no manifest
		}
	}

	return manifests, nil
}

// ParseBundle reads every *.yaml / *.yml entry of a zip archive as manifests.
// Entries that fail to parse are reported through the returned error but do not
// prevent the other entries from being returned.
func ParseBundle(data []byte) ([]*Manifest, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle: %w", err)
	}

	files := make([]*zip.File, 0, len(reader.File))
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || !IsManifestName(f.Name) {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var manifests []*Manifest
	var errs []error
	for _, f := range files {
		entry, err := readZipEntry(f)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
			continue
		}

		parsed, err := ParseManifests(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
			continue
		}
		for _, m := range parsed {
			m.Path = f.Name
		}
		manifests = append(manifests, parsed...)
	}

	return manifests, errors.Join(errs...)
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxBundleEntrySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBundleEntrySize {
		return nil, fmt.Errorf("manifest exceeds %d bytes", maxBundleEntrySize)
	}
	return data, nil
}

// IsManifestName reports whether a file name looks like a manifest document
func IsManifestName(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Record converts the manifest into a catalog record after validation
func (m *Manifest) Record() (*Record, error) {
	if errs := ValidateManifest(m); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	kind, _ := ParseKind(m.Kind)
	rec := &Record{
		ID:              m.ID,
		FriendlyName:    m.Name,
		Author:          m.Author,
		Description:     m.Description,
		Tooltip:         m.Tooltip,
		GroupID:         m.Group,
		Kind:            kind,
		DeclaredVersion: m.Version,
		Files:           append([]string(nil), m.Files...),
		Module:          m.Module,
	}
	if rec.FriendlyName == "" {
		rec.FriendlyName = rec.ID
	}
	if m.Build != nil {
		b := *m.Build
		rec.Build = &b
	}
	return rec, nil
}

// ValidateManifest performs basic validation on a plugin manifest
func ValidateManifest(m *Manifest) []error {
	var errs []error

	if strings.TrimSpace(m.ID) == "" {
		errs = append(errs, fmt.Errorf("id: plugin id is required"))
	}

	kind, err := ParseKind(m.Kind)
	if err != nil {
		errs = append(errs, fmt.Errorf("kind: %w", err))
	}

	// Tombstones only need an id
	if kind == KindObsolete {
		return errs
	}

	switch kind {
	case KindSource:
		if len(m.Files) == 0 {
			errs = append(errs, fmt.Errorf("files: source plugin %q lists no files", m.ID))
		}
	case KindPrebuilt:
		if m.Module == "" {
			errs = append(errs, fmt.Errorf("module: module plugin %q names no module", m.ID))
		}
	case KindExternal:
		errs = append(errs, fmt.Errorf("kind: external records cannot be declared in a manifest"))
	}

	for _, f := range append(append([]string(nil), m.Files...), m.Module) {
		if f == "" {
			continue
		}
		if !IsLocalPath(f) {
			errs = append(errs, fmt.Errorf("path %q must be relative and stay inside the plugin folder", f))
		}
	}

	if m.Version != "" && !IsValidSemver(m.Version) {
		errs = append(errs, fmt.Errorf("version: invalid semver format: %s", m.Version))
	}

	if m.APIVersion != "" && !IsCompatibleAPIVersion(m.APIVersion, CurrentAPIVersion) {
		errs = append(errs, fmt.Errorf("api_version: plugin requires %s, host is %s", m.APIVersion, CurrentAPIVersion))
	}

	return errs
}

// IsLocalPath reports whether p is relative and does not escape its base directory
func IsLocalPath(p string) bool {
	return filepath.IsLocal(filepath.FromSlash(p))
}

// CanonicalVersion returns the semver form with a leading "v", or "" when invalid
func CanonicalVersion(version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// IsValidSemver checks if a version string follows semantic versioning
func IsValidSemver(version string) bool {
	return CanonicalVersion(version) != ""
}

// IsCompatibleAPIVersion checks major version compatibility: v1.x.x is compatible with v1.y.z
func IsCompatibleAPIVersion(pluginAPIVersion, hostAPIVersion string) bool {
	p := CanonicalVersion(pluginAPIVersion)
	h := CanonicalVersion(hostAPIVersion)
	if p == "" || h == "" {
		return false
	}
	return semver.Major(p) == semver.Major(h)
}
