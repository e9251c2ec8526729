package http

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"gastos/internal/cache"
	"gastos/internal/log"
	"gastos/internal/middleware/ratelimit"
	"gastos/internal/middleware/security"
	"gastos/internal/middleware/trace"
	"gastos/internal/services"
)

// defaultMaxUpload caps backup uploads.
const defaultMaxUpload = 256 << 20

// Deps are the collaborators the HTTP layer drives.
type Deps struct {
	Expenses *services.ExpenseService
	Backups  *services.BackupService
	Logger   *log.Logger
	// Ready reports whether the record store is usable; nil means always.
	Ready func(ctx context.Context) error
	// UploadDir receives imported files while they are processed.
	UploadDir      string
	MaxUploadBytes int64
	RateLimit      ratelimit.Config
}

type Server struct {
	http.Server
	expenses  *services.ExpenseService
	backups   *services.BackupService
	logger    *log.Logger
	ready     func(ctx context.Context) error
	uploadDir string
	maxUpload int64
	now       func() time.Time

	detector *security.Detector
	limiter  *ratelimit.Limiter
	caches   *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}
	uploadDir := deps.UploadDir
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}

	s := &Server{
		expenses:  deps.Expenses,
		backups:   deps.Backups,
		logger:    logger.WithComponent(log.ComponentHTTP),
		ready:     deps.Ready,
		uploadDir: uploadDir,
		maxUpload: maxUpload,
		now:       time.Now,
		detector:  security.NewDetector(logger),
		limiter:   ratelimit.NewLimiter(deps.RateLimit),
		caches:    cache.NewManager(logger),
	}

	// Backup writes bypass ExpenseService, so summaries are dropped here.
	s.backups.OnChange(s.expenses.InvalidateSummaries)
	s.caches.Register(s.expenses.SummaryCache())
	s.caches.StartCleanup(10 * time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /backup/export", s.handleExport)
	mux.HandleFunc("POST /backup/import", s.handleImport)
	mux.HandleFunc("GET /backup/conflicts/next", s.handleNextConflict)
	mux.HandleFunc("POST /backup/conflicts/decision", s.handleDecision)
	mux.HandleFunc("POST /backup/conflicts/resolve", s.handleResolve)

	mux.HandleFunc("GET /summary", s.handleSummary)
	mux.HandleFunc("GET /expenses", s.handleListExpenses)
	mux.HandleFunc("POST /expenses", s.handleCreateExpense)
	mux.HandleFunc("DELETE /expenses/{id}", s.handleDeleteExpense)
	mux.HandleFunc("GET /categories", s.handleListCategories)
	mux.HandleFunc("POST /categories", s.handleCreateCategory)
	mux.HandleFunc("DELETE /categories/{name}", s.handleDeleteCategory)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(s.detector.ExtractClientIP, ratelimit.Mutating, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded", log.NewFields().
			WithClientIP(s.detector.ExtractClientIP(r)).
			WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "").
			ToSlice()...)
		_ = ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.").Write(w)
	})(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = log.RequestIDMiddleware(trace.RequestID)(handler)
	handler = trace.NewMiddleware(logger, s.detector.ExtractClientIP).Middleware(handler)
	handler = log.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16, // 64KB
	}
	return s
}

// Shutdown stops background cleanup and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.requestLogger(r).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err.Error())
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// requestLogger returns the request-scoped logger carrying the request ID.
func (s *Server) requestLogger(r *http.Request) *log.Logger {
	return log.FromContext(r.Context()).WithComponent(log.ComponentHTTP)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, b *ResponseBuilder) {
	if err := b.Write(w); err != nil {
		s.requestLogger(r).DebugContext(r.Context(), "Response write failed", log.FieldError, err.Error())
	}
}
