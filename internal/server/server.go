// Package server wires the HTTP surface: layer lifecycle, viewport queries,
// symbology, filters, the attribute-grid edit session and the ops endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/geogismaps/geogrid/internal/cache/recordcache"
	"github.com/geogismaps/geogrid/internal/config"
	"github.com/geogismaps/geogrid/internal/grid"
	"github.com/geogismaps/geogrid/internal/health"
	"github.com/geogismaps/geogrid/internal/layer"
	"github.com/geogismaps/geogrid/internal/middleware"
	"github.com/geogismaps/geogrid/internal/observability"
	"github.com/geogismaps/geogrid/internal/permission"
	"github.com/geogismaps/geogrid/internal/store"
)

type Server struct {
	logger   zerolog.Logger
	cfg      config.Config
	store    store.RecordStore
	cache    *recordcache.Cache // nil disables the read-through path
	perms    *permission.Resolver
	registry *layer.Registry
	notifier grid.Notifier
	promReg  *prometheus.Registry
	ready    []health.Check

	mu       sync.Mutex
	sessions map[string]*grid.Session // layer id -> edit session
}

type Option func(*Server)

func WithCache(c *recordcache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

func WithNotifier(n grid.Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

func WithReadiness(checks ...health.Check) Option {
	return func(s *Server) { s.ready = append(s.ready, checks...) }
}

func New(logger zerolog.Logger, cfg config.Config, st store.RecordStore, perms *permission.Resolver, opts ...Option) *Server {
	s := &Server{
		logger:   logger.With().Str("component", "server").Logger(),
		cfg:      cfg,
		store:    st,
		perms:    perms,
		registry: layer.NewRegistry(),
		promReg:  prometheus.NewRegistry(),
		sessions: make(map[string]*grid.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	observability.Init(s.promReg, cfg.MetricsEnabled)
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(&s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(&s.logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(s.ready...))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	r.Route("/layers", func(r chi.Router) {
		r.Post("/", s.handleCreateLayer)
		r.Get("/", s.handleListLayers)

		r.Route("/{layerID}", func(r chi.Router) {
			r.Get("/", s.handleGetLayer)
			r.Delete("/", s.handleDeleteLayer)
			r.Get("/features", s.handleFeatures)
			r.Put("/properties", s.handlePutProperties)
			r.Put("/visibility", s.handlePutVisibility)
			r.Post("/classify", s.handleClassify)
			r.Post("/filters", s.handleFilters)
			r.Get("/permissions", s.handlePermissions)

			r.Post("/records", s.handleCreateRecord)
			r.Delete("/records/{recordID}", s.handleDeleteRecord)

			r.Route("/grid", func(r chi.Router) {
				r.Get("/", s.handleGridState)
				r.Post("/edit", s.handleGridEnterEditing)
				r.Post("/cancel", s.handleGridCancel)
				r.Post("/edits", s.handleGridStageEdit)
				r.Post("/commit", s.handleGridCommit)
			})
		})
	})

	return r
}

// Run serves until ctx is done, then drains with a deadline.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// loadRecords is the read-through path: cache hit serves the snapshot, a miss
// lists from the store and fills the cache.
func (s *Server) loadRecords(ctx context.Context, tableID string) ([]store.Record, error) {
	opts := store.ListOptions{}
	if s.cache != nil {
		if records, ok := s.cache.Get(ctx, tableID, opts); ok {
			return records, nil
		}
	}
	records, err := s.store.ListRecords(ctx, tableID, opts)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, tableID, opts, records)
	}
	return records, nil
}

func (s *Server) session(layerID string) (*grid.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[layerID]
	return sess, ok
}

// writeNotifier is what every grid session reports confirmed writes to. It
// drops this instance's own cached snapshots before the event goes out on the
// bus; the bus only reaches other instances (consumers skip their own source).
type writeNotifier struct {
	s *Server
}

func (n writeNotifier) RecordsChanged(ctx context.Context, tableID string) {
	if n.s.cache != nil {
		if err := n.s.cache.Invalidate(ctx, tableID); err != nil {
			n.s.logger.Warn().Err(err).Str("table", tableID).Msg("local cache invalidation failed")
		}
	}
	if n.s.notifier != nil {
		n.s.notifier.RecordsChanged(ctx, tableID)
	}
}

func (s *Server) addSession(l *layer.Layer) *grid.Session {
	sess := grid.NewSession(s.logger, s.store, l,
		grid.WithNotifier(writeNotifier{s: s}),
		grid.WithMirrors(s.registry),
	)
	s.mu.Lock()
	s.sessions[l.ID] = sess
	s.mu.Unlock()
	return sess
}

func (s *Server) dropSession(layerID string) {
	s.mu.Lock()
	delete(s.sessions, layerID)
	s.mu.Unlock()
}
