package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/modhub/pkg/sources"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), StoreFileName))
}

func TestStore_LoadMissingReturnsDefaults(t *testing.T) {
	store := newTestStore(t)

	state, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, state.Sources)
	assert.Equal(t, DefaultSettings(), state.Settings)
	assert.Equal(t, 24*time.Hour, state.Settings.MaxSourceAge())
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	checked := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	state := &State{
		Sources: []*sources.Source{
			{Kind: sources.KindRemoteHub, Name: "hub1", Enabled: true, Repo: "acme/hub", Branch: "main", Hash: "abc", LastCheck: &checked},
			{Kind: sources.KindLocalPlugin, Name: "dev", Enabled: true, Trusted: true, Folder: "/src/dev", ManifestFile: "plugin.yaml"},
		},
		Settings:             Settings{MaxSourceAgeHours: 12, SyncConcurrency: 2, LoadConcurrency: 1},
		Enabled:              []string{"b", "a", "a"},
		PendingInvalidations: []string{"remote-hub:acme/hub"},
	}
	require.NoError(t, store.Save(state))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Sources, 2)
	assert.Equal(t, sources.KindRemoteHub, loaded.Sources[0].Kind)
	assert.Equal(t, "abc", loaded.Sources[0].Hash)
	require.NotNil(t, loaded.Sources[0].LastCheck)
	assert.True(t, checked.Equal(*loaded.Sources[0].LastCheck))
	assert.Equal(t, 12, loaded.Settings.MaxSourceAgeHours)
	assert.Equal(t, []string{"a", "b"}, loaded.Enabled)
	assert.Equal(t, []string{"remote-hub:acme/hub"}, loaded.PendingInvalidations)
	assert.True(t, loaded.IsEnabled("a"))
	assert.False(t, loaded.IsEnabled("c"))
}

func TestStore_LoadEmptyFile(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path, nil, 0o600))

	state, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), state.Settings)
}

func TestStore_LoadCorruptFile(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path, []byte("sources: [oops"), 0o600))

	_, err := store.Load()
	assert.Error(t, err)
}

func TestStore_UpsertAndRemoveSource(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertSource(&sources.Source{Kind: sources.KindRemoteHub, Repo: "https://github.com/acme/hub.git", Enabled: true}))
	require.NoError(t, store.UpsertSource(&sources.Source{Kind: sources.KindRemoteHub, Repo: "acme/hub", Name: "renamed", Enabled: true}))

	state, err := store.Load()
	require.NoError(t, err)
	require.Len(t, state.Sources, 1, "same key replaces")
	assert.Equal(t, "renamed", state.Sources[0].Name)
	assert.Equal(t, "main", state.Sources[0].Branch)

	require.NoError(t, store.SetSourceEnabled("remote-hub:acme/hub", false))
	state, err = store.Load()
	require.NoError(t, err)
	assert.False(t, state.Sources[0].Enabled)

	removed, err := store.RemoveSource("remote-hub:acme/hub")
	require.NoError(t, err)
	assert.Equal(t, "renamed", removed.Name)

	_, err = store.RemoveSource("remote-hub:acme/hub")
	assert.Error(t, err)
}

func TestStore_UpsertRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	err := store.UpsertSource(&sources.Source{Kind: sources.KindLocalHub})
	assert.Error(t, err)
}
