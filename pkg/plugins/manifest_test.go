package plugins

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// TestLoadManifest tests loading a valid manifest from a file
func TestLoadManifest(t *testing.T) {
	tmpDir := t.TempDir()
	manifestPath := filepath.Join(tmpDir, "plugin.yaml")

	manifest := &Manifest{
		ID:          "better-chat",
		Name:        "Better Chat",
		Author:      "acme",
		Description: "Chat improvements",
		Tooltip:     "Adds chat colors",
		Group:       "chat",
		Kind:        "source",
		Version:     "1.2.0",
		Files:       []string{"chat.go"},
	}

	err := SaveManifest(manifest, manifestPath)
	require.NoError(t, err)

	loaded, err := LoadManifest(manifestPath)
	require.NoError(t, err)
	manifest.Path = manifestPath
	assert.Equal(t, manifest, loaded)
}

// TestLoadManifest_NonexistentFile tests loading from a non-existent file
func TestLoadManifest_NonexistentFile(t *testing.T) {
	loaded, err := LoadManifest("/nonexistent/path/plugin.yaml")
	assert.Error(t, err)
	assert.Nil(t, loaded)
	assert.Contains(t, err.Error(), "failed to read manifest")
}

func TestParseManifest_IgnoresUnknownFields(t *testing.T) {
	data := []byte(`
id: radar
name: Radar
kind: module
module: radar.wasm
homepage: https://example.com
screenshots: [a.png, b.png]
`)
	m, err := ParseManifest(data)
	require.NoError(t, err)

	rec, err := m.Record()
	require.NoError(t, err)
	assert.Equal(t, "radar", rec.ID)
	assert.Equal(t, KindPrebuilt, rec.Kind)
	assert.Equal(t, "radar.wasm", rec.Module)
}

func TestParseManifests_ListAndMultiDocument(t *testing.T) {
	list := []byte(`
- id: a
  files: [a.go]
- id: b
  kind: module
  module: b.wasm
`)
	manifests, err := ParseManifests(list)
	require.NoError(t, err)
	require.Len(t, manifests, 2)
	assert.Equal(t, "a", manifests[0].ID)
	assert.Equal(t, "b", manifests[1].ID)

	multi := []byte("id: c\nfiles: [c.go]\n---\nid: d\nkind: obsolete\n")
	manifests, err = ParseManifests(multi)
	require.NoError(t, err)
	require.Len(t, manifests, 2)
	assert.Equal(t, "obsolete", manifests[1].Kind)
}

func TestParseBundle(t *testing.T) {
	bundle := zipBundle(t, map[string]string{
		"hub-main/plugins/a.yaml": "id: a\nfiles: [a.go]\n",
		"hub-main/plugins/b.yml":  "id: b\nkind: module\nmodule: b.wasm\n",
		"hub-main/README.md":      "# not a manifest",
		"hub-main/broken.yaml":    "id: [unterminated",
	})

	manifests, err := ParseBundle(bundle)
	assert.Error(t, err, "broken entry is reported")
	require.Len(t, manifests, 2)
	assert.Equal(t, "a", manifests[0].ID)
	assert.Equal(t, "b", manifests[1].ID)
	assert.Equal(t, "hub-main/plugins", manifests[0].Dir())
}

func TestParseBundle_NotAZip(t *testing.T) {
	_, err := ParseBundle([]byte("definitely not a zip"))
	assert.Error(t, err)
}

func TestValidateManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantErrs int
	}{
		{name: "valid source", manifest: Manifest{ID: "a", Files: []string{"a.go"}}},
		{name: "valid tombstone", manifest: Manifest{ID: "gone", Kind: "obsolete"}},
		{name: "missing id", manifest: Manifest{Files: []string{"a.go"}}, wantErrs: 1},
		{name: "source without files", manifest: Manifest{ID: "a"}, wantErrs: 1},
		{name: "module without module", manifest: Manifest{ID: "a", Kind: "module"}, wantErrs: 1},
		{name: "unknown kind", manifest: Manifest{ID: "a", Kind: "dll"}, wantErrs: 1},
		{name: "escaping path", manifest: Manifest{ID: "a", Files: []string{"../../etc/passwd"}}, wantErrs: 1},
		{name: "bad version", manifest: Manifest{ID: "a", Files: []string{"a.go"}, Version: "one"}, wantErrs: 1},
		{name: "incompatible api", manifest: Manifest{ID: "a", Files: []string{"a.go"}, APIVersion: "2.0.0"}, wantErrs: 1},
		{name: "external in manifest", manifest: Manifest{ID: "a", Kind: "external"}, wantErrs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateManifest(&tt.manifest)
			assert.Len(t, errs, tt.wantErrs)
		})
	}
}

func TestManifestRecord_DefaultsFriendlyName(t *testing.T) {
	rec, err := (&Manifest{ID: "solo", Files: []string{"main.go"}}).Record()
	require.NoError(t, err)
	assert.Equal(t, "solo", rec.FriendlyName)
	assert.Equal(t, KindSource, rec.Kind)
}

func TestIsCompatibleAPIVersion(t *testing.T) {
	assert.True(t, IsCompatibleAPIVersion("1.4.0", "1.0.0"))
	assert.True(t, IsCompatibleAPIVersion("v1.0.0", "1.9.9"))
	assert.False(t, IsCompatibleAPIVersion("2.0.0", "1.0.0"))
	assert.False(t, IsCompatibleAPIVersion("garbage", "1.0.0"))
}

func TestCanonicalVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", CanonicalVersion("1.2.3"))
	assert.Equal(t, "v1.2.3-beta.1", CanonicalVersion("v1.2.3-beta.1"))
	assert.Equal(t, "", CanonicalVersion("latest"))
	assert.Equal(t, "", CanonicalVersion(""))
}

func TestLoadManifest_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: [oops"), 0644))

	_, err := LoadManifest(path)
	assert.Error(t, err)
}
