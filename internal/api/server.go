// Package api exposes the custody pipeline over HTTP.
package api

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/lockdrop/internal/custody"
	"github.com/dharsanguruparan/lockdrop/internal/token"
)

//go:embed web
var webFS embed.FS

// Enqueuer schedules background reconcile runs. *queue.Client implements it.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, recatalog bool) (string, error)
}

// Hasher verifies the admin password. *passhash.Hasher implements it.
type Hasher interface {
	Verify(hash, candidate string) bool
}

// Options configure the HTTP surface.
type Options struct {
	Address string
	// PublicURL prefixes links handed to clients. Empty means relative links.
	PublicURL string
	// MaxFileSize caps the file part; the request body may carry a little
	// more for the other form fields.
	MaxFileSize int64
	// AdminPasswordHash is a bcrypt hash. Empty disables admin login.
	AdminPasswordHash string
}

// Server exposes HTTP endpoints for uploads, downloads and administration.
type Server struct {
	opts   Options
	svc    *custody.Service
	tokens *token.Service
	hasher Hasher
	queue  Enqueuer
	log    *zap.Logger

	server  *http.Server
	once    sync.Once
	handler http.Handler
}

// New constructs a Server. queue may be nil, in which case async reconcile
// requests are refused.
func New(opts Options, svc *custody.Service, tokens *token.Service, hasher Hasher, queue Enqueuer, log *zap.Logger) *Server {
	return &Server{
		opts:   opts,
		svc:    svc,
		tokens: tokens,
		hasher: hasher,
		queue:  queue,
		log:    log.Named("api"),
	}
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /healthz", s.handleHealth)
		mux.HandleFunc("POST /api/upload", s.handleUpload)
		mux.HandleFunc("POST /api/files/{id}", s.handleAuthorize)
		mux.HandleFunc("GET /api/download/{id}", s.handleDownload)
		mux.HandleFunc("POST /api/token/refresh", s.handleRefresh)
		mux.HandleFunc("POST /api/admin/login", s.handleAdminLogin)
		mux.Handle("GET /api/logs", s.requireAdmin(http.HandlerFunc(s.handleLogs)))
		mux.Handle("POST /api/admin/reconcile", s.requireAdmin(http.HandlerFunc(s.handleReconcile)))
		mux.Handle("DELETE /api/admin/files/{id}", s.requireAdmin(http.HandlerFunc(s.handlePurge)))

		static, err := fs.Sub(webFS, "web")
		if err != nil {
			panic(err)
		}
		mux.Handle("GET /", http.FileServerFS(static))

		s.handler = s.recoverMiddleware(s.loggingMiddleware(corsMiddleware(mux)))
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", zap.String("addr", s.opts.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
