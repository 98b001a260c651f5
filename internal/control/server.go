// Package control is the local HTTP API of a running reportsync service. It
// stands in for the browser message channel and connectivity events, and lets
// other processes queue reports and drive syncs.
package control

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/JohanCodinha/reportsync/internal/background"
	"github.com/JohanCodinha/reportsync/internal/connectivity"
	"github.com/JohanCodinha/reportsync/internal/logger"
	"github.com/JohanCodinha/reportsync/internal/remote"
	"github.com/JohanCodinha/reportsync/internal/store"
	"github.com/JohanCodinha/reportsync/internal/sync"
)

const (
	paramID      = "id"
	requestLimit = 60 * time.Second
	maxBodyBytes = 32 << 20
)

// Engine is what the API needs from sync.Engine.
type Engine interface {
	SyncPendingReports(ctx context.Context, userID string) ([]sync.Result, error)
	SyncSingleReport(ctx context.Context, id, userID string) sync.Result
	PendingReports(ctx context.Context) ([]store.Report, error)
	PendingCount(ctx context.Context) (int, error)
	IsSyncing() bool
}

// Queue accepts new reports.
type Queue interface {
	Save(ctx context.Context, report store.NewReport) (string, error)
}

// Switch receives connectivity transitions. *platform.Local implements it.
type Switch interface {
	SetOnline(ctx context.Context, online bool)
}

// Registrar asks for a background sync after a report is queued.
type Registrar interface {
	Register(ctx context.Context) bool
}

// Deps are the collaborators behind the API.
type Deps struct {
	Engine   Engine
	Queue    Queue
	Monitor  *connectivity.Monitor
	Switch   Switch
	Channel  *background.Channel
	Trigger  Registrar
	Sessions *remote.SessionStore
}

// Server holds the handlers.
type Server struct {
	deps     Deps
	validate *validator.Validate
}

// NewServer returns a control API server over deps. Trigger may be nil.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps, validate: validator.New()}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestLimit))
	r.Use(middleware.RequestSize(maxBodyBytes))
	r.Use(requestLogger)

	r.Post("/messages", handle(s.handleMessage))
	r.Post("/connectivity", handle(s.handleConnectivity))
	r.Post("/sync", handle(s.handleSyncAll))
	r.Get("/status", handle(s.handleStatus))

	r.Route("/reports", func(r chi.Router) {
		r.Get("/", handle(s.handleListReports))
		r.Post("/", handle(s.handleCreateReport))
		r.Post("/{"+paramID+"}/sync", handle(s.handleSyncReport))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.With(logger.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"status":     ww.Status(),
		}).Debug("control: %s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
