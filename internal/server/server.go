// Package server exposes the job coordinator over HTTP.
//
// The route layer is thin: it translates requests into state-machine calls
// and renders results as {"status", "message", ...} JSON. All domain
// decisions live in pkg/job.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nordtext/annod/pkg/job"
	"github.com/nordtext/annod/pkg/storage"
)

// Machine is the job state-machine surface the routes drive.
type Machine interface {
	CheckRequirements(ctx context.Context, rec *job.Record) error
	SyncToRemote(ctx context.Context, rec *job.Record) error
	SyncResults(ctx context.Context, rec *job.Record) error
	MarkWaiting(ctx context.Context, rec *job.Record) error
	MarkWaitingInstall(ctx context.Context, rec *job.Record) error
	Abort(ctx context.Context, rec *job.Record) error
	Clean(ctx context.Context, rec *job.Record) (string, error)
	CleanExports(ctx context.Context, rec *job.Record) (string, error)
	RemoveFromRemote(ctx context.Context, rec *job.Record) error
	GetOutput(ctx context.Context, rec *job.Record) (job.Output, error)
	Progress(rec *job.Record) string
	ElapsedSeconds(ctx context.Context, rec *job.Record) (float64, error)
}

// Store is the job-store surface the routes read and prune.
type Store interface {
	Get(ctx context.Context, corpusID string) (*job.Record, error)
	Remove(ctx context.Context, corpusID string, force bool) error
}

// Queue is the queue surface the routes use.
type Queue interface {
	Add(ctx context.Context, rec *job.Record) error
	Priority(ctx context.Context, corpusID string) int
	Jobs(ctx context.Context, corpora []string) ([]*job.Record, error)
}

// Advancer performs one reconciliation pass on demand.
type Advancer interface {
	Advance(ctx context.Context) error
}

// Catalog lists the annotation tool's languages and export formats.
type Catalog interface {
	ListLanguages(ctx context.Context) ([]job.Language, error)
	ListExports(ctx context.Context, language string) ([]job.Export, error)
}

// HealthChecker reports whether one dependency is reachable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Config carries the HTTP listener settings.
type Config struct {
	Host string
	Port int

	// SecretKey guards internal routes. Empty disables them.
	SecretKey string

	// Importers overrides the source-extension to importer-module mapping
	// used by the corpus config compatibility check. Nil keeps the defaults.
	Importers map[string]string

	Version string
}

// Server wires the coordinator's HTTP API.
type Server struct {
	cfg     Config
	machine Machine
	store   Store
	queue   Queue
	adv     Advancer
	catalog Catalog
	backend storage.Backend
	paths   storage.Paths
	checks  map[string]HealthChecker
	log     *zap.Logger
}

// New creates a server around the coordinator's collaborators.
func New(cfg Config, machine Machine, store Store, queue Queue, adv Advancer, catalog Catalog, backend storage.Backend, paths storage.Paths, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		machine: machine,
		store:   store,
		queue:   queue,
		adv:     adv,
		catalog: catalog,
		backend: backend,
		paths:   paths,
		checks:  map[string]HealthChecker{},
		log:     log,
	}
}

// RegisterChecker adds a named dependency probe to the health route.
func (s *Server) RegisterChecker(name string, c HealthChecker) {
	s.checks[name] = c
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Put("/run-sparv", s.handleRun)
	r.Put("/install-corpus", s.handleInstall)
	r.Post("/abort-job", s.handleAbort)
	r.Get("/check-status", s.handleCheckStatus)
	r.Delete("/clear-annotations", s.handleClearAnnotations)
	r.Delete("/clear-exports", s.handleClearExports)

	r.Get("/sparv-languages", s.handleLanguages)
	r.Get("/sparv-exports", s.handleExports)

	// Internal routes.
	r.Group(func(r chi.Router) {
		r.Use(s.gatekeeper)
		r.Put("/advance-queue", s.handleAdvanceQueue)
		r.Delete("/remove-from-remote", s.handleRemoveFromRemote)
	})

	return r
}

// ListenAndServe runs the HTTP server until the context is cancelled, then
// shuts it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
