package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/modhub/pkg/catalog"
	"github.com/platinummonkey/modhub/pkg/httputil"
	"github.com/platinummonkey/modhub/pkg/pipeline"
	"github.com/platinummonkey/modhub/pkg/plugins"
	"github.com/platinummonkey/modhub/pkg/resolver"
	"github.com/platinummonkey/modhub/pkg/sources"
)

type fakePipeline struct {
	catalog    *catalog.Catalog
	sources    []*sources.Source
	refreshErr error
	forced     []bool
}

func newFakePipeline(t *testing.T) *fakePipeline {
	t.Helper()
	logger, _ := test.NewNullLogger()

	hub := &sources.Source{Kind: sources.KindRemoteHub, Name: "Community", Repo: "acme/hub", Enabled: true}
	local := &sources.Source{Kind: sources.KindLocalPlugin, Name: "Dev", Folder: "/work/radar", Enabled: true, Trusted: true}
	checked := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hub.LastCheck = &checked
	hub.Hash = "abc123"

	cat := catalog.New(logger, nil)
	cat.Set(hub.Key(), hub.Kind, []*plugins.Record{
		{ID: "chat", FriendlyName: "Chat", GroupID: "ui", Kind: plugins.KindSource, SourceKey: hub.Key(), SourceKind: hub.Kind},
		{ID: "chat-lite", FriendlyName: "Chat Lite", GroupID: "ui", Kind: plugins.KindSource, SourceKey: hub.Key(), SourceKind: hub.Kind},
	})
	cat.Set(local.Key(), local.Kind, []*plugins.Record{
		{ID: "radar", FriendlyName: "Radar", Kind: plugins.KindPrebuilt, SourceKey: local.Key(), SourceKind: local.Kind, Trusted: true},
	})
	cat.Rebuild()

	return &fakePipeline{catalog: cat, sources: []*sources.Source{hub, local}}
}

func (f *fakePipeline) Catalog() *catalog.Catalog { return f.catalog }

func (f *fakePipeline) Sources() ([]*sources.Source, error) { return f.sources, nil }

func (f *fakePipeline) Refresh(ctx context.Context, force bool) (*pipeline.RefreshResult, error) {
	f.forced = append(f.forced, force)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &pipeline.RefreshResult{
		Records: f.catalog.Len(),
		Stale:   1,
		Sources: []*resolver.Result{
			{Key: f.sources[0].Key(), Origin: resolver.OriginCache, Records: make([]*plugins.Record, 2)},
			{Key: "remote-plugin:acme/gone", Origin: resolver.OriginNone, Err: errors.New("offline")},
		},
	}, nil
}

func (f *fakePipeline) Enable(id string) ([]string, error) { return f.catalog.Enable(id) }

func (f *fakePipeline) Disable(id string) error { return f.catalog.Disable(id) }

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func newTestServer(t *testing.T) (*Server, *fakePipeline) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	p := newFakePipeline(t)
	return NewServer(p, logger), p
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(t, s, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","records":3}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestListSources(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(t, s, http.MethodGet, "/api/v1/sources")
	require.Equal(t, http.StatusOK, rec.Code)

	views := decode[[]SourceView](t, rec)
	require.Len(t, views, 2)
	assert.Equal(t, "remote-hub:acme/hub", views[0].Key)
	assert.Equal(t, "abc123", views[0].Hash)
	require.NotNil(t, views[0].LastCheck)
	assert.Nil(t, views[1].LastCheck)
	assert.True(t, views[1].Trusted)
}

func TestListPlugins(t *testing.T) {
	s, p := newTestServer(t)
	_, err := p.catalog.Enable("radar")
	require.NoError(t, err)

	rec := serve(t, s, http.MethodGet, "/api/v1/plugins")
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]RecordView](t, rec)
	require.Len(t, views, 3)
	assert.Equal(t, "radar", views[0].ID, "local plugins outrank remote hubs")
	assert.True(t, views[0].Enabled)
	assert.Equal(t, "local-plugin", views[0].SourceKind)

	rec = serve(t, s, http.MethodGet, "/api/v1/plugins?enabled=true")
	require.Equal(t, http.StatusOK, rec.Code)
	views = decode[[]RecordView](t, rec)
	require.Len(t, views, 1)
	assert.Equal(t, "radar", views[0].ID)

	rec = serve(t, s, http.MethodGet, "/api/v1/plugins?enabled=sometimes")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPlugin(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(t, s, http.MethodGet, "/api/v1/plugins/chat")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[RecordView](t, rec)
	assert.Equal(t, "Chat", view.Name)
	assert.Equal(t, "ui", view.Group)
	assert.False(t, view.Enabled)

	rec = serve(t, s, http.MethodGet, "/api/v1/plugins/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[httputil.ErrorResponse](t, rec)
	assert.Equal(t, "unknown record: nope", body.Error)
	assert.Equal(t, http.StatusNotFound, body.Status)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, rec.Header().Get(httputil.RequestIDHeader), body.RequestID)
}

func TestEnableDisablesGroupSiblings(t *testing.T) {
	s, p := newTestServer(t)

	rec := serve(t, s, http.MethodPost, "/api/v1/plugins/chat/enable")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":"chat","disabled":[]}`, rec.Body.String())

	rec = serve(t, s, http.MethodPost, "/api/v1/plugins/chat-lite/enable")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":"chat-lite","disabled":["chat"]}`, rec.Body.String())
	assert.False(t, p.catalog.IsEnabled("chat"))

	rec = serve(t, s, http.MethodPost, "/api/v1/plugins/chat-lite/disable")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, p.catalog.EnabledIDs())

	rec = serve(t, s, http.MethodPost, "/api/v1/plugins/ghost/enable")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(t, s, http.MethodPost, "/api/v1/plugins/ghost/disable")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefresh(t *testing.T) {
	s, p := newTestServer(t)

	rec := serve(t, s, http.MethodPost, "/api/v1/refresh?force=true")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[RefreshView](t, rec)
	assert.Equal(t, 3, view.Records)
	assert.Equal(t, 1, view.Stale)
	require.Len(t, view.Sources, 2)
	assert.Equal(t, "cache", view.Sources[0].Origin)
	assert.Equal(t, 2, view.Sources[0].Records)
	assert.Equal(t, "offline", view.Sources[1].Error)

	serve(t, s, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, []bool{true, false}, p.forced)

	p.refreshErr = errors.New("state file locked")
	rec = serve(t, s, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "state file locked")
}

func TestMethodMismatch(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(t, s, http.MethodGet, "/api/v1/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(t, s, http.MethodGet, "/api/v1/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
