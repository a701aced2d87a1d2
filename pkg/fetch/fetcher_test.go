package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, server *httptest.Server, mutate ...func(*Options)) *Fetcher {
	t.Helper()
	opts := Options{
		Timeout:     2 * time.Second,
		APIBase:     server.URL,
		RawBase:     server.URL + "/raw",
		ArchiveBase: server.URL + "/archive",
	}
	for _, m := range mutate {
		m(&opts)
	}
	return New(opts)
}

func TestFetchHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/hub/commits/main", r.URL.Path)
		assert.Equal(t, "application/vnd.github.sha", r.Header.Get("Accept"))
		assert.Equal(t, "modhub", r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, "0123456789abcdef\n")
	}))
	defer server.Close()

	f := newTestFetcher(t, server)
	hash, err := f.FetchHash(context.Background(), "acme/hub", "main")
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", hash)
}

func TestFetchHash_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer server.Close()

	f := newTestFetcher(t, server)
	_, err := f.FetchHash(context.Background(), "acme/hub", "main")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

func TestFetchHash_RejectsJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"sha": "abc"}`)
	}))
	defer server.Close()

	_, err := newTestFetcher(t, server).FetchHash(context.Background(), "acme/hub", "main")
	assert.Error(t, err)
}

func TestFetchBytes_HTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "id: a\n")
	}))
	defer server.Close()

	f := newTestFetcher(t, server)
	data, err := f.FetchBytes(context.Background(), f.RawURL("acme/plugin", "main", "plugin.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "id: a\n", string(data))
}

func TestFetchBytes_MaxBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "0123456789")
	}))
	defer server.Close()

	f := newTestFetcher(t, server, func(o *Options) { o.MaxBytes = 4 })
	_, err := f.FetchBytes(context.Background(), server.URL)
	assert.ErrorContains(t, err, "exceeds")
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := newTestFetcher(t, server, func(o *Options) { o.Timeout = 50 * time.Millisecond })
	_, err := f.Fetch(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestFetch_Files(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: local\n"), 0o644))

	f := New(Options{})
	for _, locator := range []string{path, "file://" + path} {
		data, err := f.FetchBytes(context.Background(), locator)
		require.NoError(t, err, locator)
		assert.Equal(t, "id: local\n", string(data))
	}

	_, err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIPv4Only(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	f := newTestFetcher(t, server, func(o *Options) { o.IPv4Only = true })

	data, err := f.FetchBytes(context.Background(), server.URL)
	require.NoError(t, err, "httptest listens on 127.0.0.1")
	assert.Equal(t, "ok", string(data))

	_, err = f.Fetch(context.Background(), "http://[::1]:1/manifest.yaml")
	assert.ErrorContains(t, err, "IPv6")
}

func TestURLBuilders(t *testing.T) {
	f := New(Options{RawBase: "https://raw.example.com/", ArchiveBase: "https://git.example.com"})

	assert.Equal(t, "https://raw.example.com/acme/hub/main/plugins/a.yaml", f.RawURL("acme/hub", "main", "/plugins/a.yaml"))
	assert.Equal(t, "https://git.example.com/acme/hub/archive/refs/heads/dev.zip", f.ArchiveURL("acme/hub", "dev"))
	assert.Equal(t, DefaultTimeout, f.Options().Timeout)
}
