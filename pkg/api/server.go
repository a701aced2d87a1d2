package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhub/pkg/catalog"
	"github.com/platinummonkey/modhub/pkg/httputil"
	"github.com/platinummonkey/modhub/pkg/observability"
	"github.com/platinummonkey/modhub/pkg/pipeline"
	"github.com/platinummonkey/modhub/pkg/plugins"
	"github.com/platinummonkey/modhub/pkg/sources"
)

// Pipeline is the subset of pipeline.Pipeline the server drives
type Pipeline interface {
	Catalog() *catalog.Catalog
	Sources() ([]*sources.Source, error)
	Refresh(ctx context.Context, force bool) (*pipeline.RefreshResult, error)
	Enable(id string) ([]string, error)
	Disable(id string) error
}

// Server represents the control API server
type Server struct {
	pipeline Pipeline
	router   *mux.Router
	handler  http.Handler
	logger   *logrus.Logger
}

// NewServer creates a control API server for p
func NewServer(p Pipeline, logger *logrus.Logger) *Server {
	s := &Server{
		pipeline: p,
		router:   mux.NewRouter(),
		logger:   observability.OrDefault(logger),
	}
	s.setupRoutes()
	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
	)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.health).Methods("GET")


	// Source and catalog routes
	s.router.HandleFunc("/api/v1/sources", s.listSources).Methods("GET")
	s.router.HandleFunc("/api/v1/plugins", s.listPlugins).Methods("GET")
	s.router.HandleFunc("/api/v1/plugins/{id}", s.getPlugin).Methods("GET")
	s.router.HandleFunc("/api/v1/plugins/{id}/enable", s.enablePlugin).Methods("POST")
	s.router.HandleFunc("/api/v1/plugins/{id}/disable", s.disablePlugin).Methods("POST")

	// Pipeline routes
	s.router.HandleFunc("/api/v1/refresh", s.refresh).Methods("POST")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// health handles GET /healthz
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"status":  "ok",
		"records": s.pipeline.Catalog().Len(),
	})
}

// listSources handles GET /api/v1/sources
func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	srcs, err := s.pipeline.Sources()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	views := make([]SourceView, 0, len(srcs))
	for _, src := range srcs {
		views = append(views, newSourceView(src))
	}
	httputil.WriteSuccess(w, views)
}

// listPlugins handles GET /api/v1/plugins
func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	enabledOnly, ok := httputil.QueryBool(w, r, "enabled", false)
	if !ok {
		return
	}

	cat := s.pipeline.Catalog()
	var records []*plugins.Record
	if enabledOnly {
		records = cat.Enabled()
	} else {
		records = cat.Records()
	}

	views := make([]RecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, newRecordView(rec, cat.IsEnabled(rec.ID)))
	}
	httputil.WriteSuccess(w, views)
}

// getPlugin handles GET /api/v1/plugins/{id}
func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathVar(w, r, "id")
	if !ok {
		return
	}

	cat := s.pipeline.Catalog()
	rec, found := cat.Get(id)
	if !found {
		httputil.WriteNotFound(w, "unknown record: "+id)
		return
	}
	httputil.WriteSuccess(w, newRecordView(rec, cat.IsEnabled(id)))
}

// enablePlugin handles POST /api/v1/plugins/{id}/enable
func (s *Server) enablePlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathVar(w, r, "id")
	if !ok {
		return
	}

	disabled, err := s.pipeline.Enable(id)
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	if disabled == nil {
		disabled = []string{}
	}
	httputil.WriteSuccess(w, EnableView{Enabled: id, Disabled: disabled})
}

// disablePlugin handles POST /api/v1/plugins/{id}/disable
func (s *Server) disablePlugin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathVar(w, r, "id")
	if !ok {
		return
	}

	if err := s.pipeline.Disable(id); err != nil {
		s.writeCatalogError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// refresh handles POST /api/v1/refresh
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	force, ok := httputil.QueryBool(w, r, "force", false)
	if !ok {
		return
	}

	res, err := s.pipeline.Refresh(r.Context(), force)
	if err != nil {
		s.logger.WithError(err).Error("Refresh requested over HTTP failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, newRefreshView(res))
}

func (s *Server) writeCatalogError(w http.ResponseWriter, err error) {
	httputil.WriteMappedError(w, err, httputil.ErrorStatus{Err: catalog.ErrUnknownRecord, Status: http.StatusNotFound})
}
