package http

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"curetrack/infrastructure/argon"
	"curetrack/infrastructure/audit"
	"curetrack/infrastructure/cache"
	"curetrack/infrastructure/logging"
	"curetrack/infrastructure/rbac"
	"curetrack/infrastructure/respond"
	"curetrack/infrastructure/session"
	"curetrack/infrastructure/sqlite"
	"curetrack/models"
	"curetrack/processing/batches"
	"curetrack/processing/failure"
	"curetrack/processing/sales"
	"curetrack/processing/stages"
)

var ShutdownTimeout = 2 * time.Second

// Deps are the collaborators the routes are wired to.
type Deps struct {
	DB           *sqlite.DB
	SessionCache *cache.UserSessionCache
	RbacCache    *cache.RbacRolesCache
	Rbac         *rbac.Rbac
	Hasher       *argon.Hasher
	Audit        *audit.Service
	Batches      *batches.Service
	Stages       *stages.Service
	Sales        *sales.Service
	Gatherer     prometheus.Gatherer
	Log          *zap.Logger
	SessionTTL   time.Duration
}

// Server bundles dependencies and route wiring.
type Server struct {
	Deps

	Addr   string
	ln     net.Listener
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new http server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = 12 * time.Hour
	}
	s := &Server{
		Deps:   deps,
		Addr:   addr,
		router: chi.NewRouter(),
		server: &http.Server{
			MaxHeaderBytes:    1 << 20,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	// Secure headers first.
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	})

	s.router.Use(middleware.RequestID)
	s.router.Use(logging.RequestLogger(s.Log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.DB.ReadSQL.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if s.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	s.RegisterLoginRoutes()

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.AuthenticateMiddleware)
		s.RegisterProcurementRoutes(r)
		s.RegisterBatchRoutes(r)
		s.RegisterStageRoutes(r)
		s.RegisterExportRoutes(r)
		s.RegisterAccountRoutes(r)
	})

	s.server.Handler = s.router
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AuthenticateMiddleware loads the bearer session and applies RBAC checks.
func (s *Server) AuthenticateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := session.BearerToken(r)
		if token == "" {
			respond.Unauthenticated(w)
			return
		}

		sess, ok := s.resolveSession(r.Context(), token)
		if !ok {
			s.Log.Debug("session not found", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			respond.Unauthenticated(w)
			return
		}

		if sess.Expired() {
			s.SessionCache.DeleteSessionBySessionToken(token)
			if err := session.Delete(r.Context(), s.DB, token); err != nil {
				s.Log.Error("cannot delete expired session", zap.Error(err))
			}
			respond.Unauthenticated(w)
			return
		}

		if !s.Rbac.Permits(sess.User.Role, r.URL.Path, r.Method) {
			s.Log.Warn("rbac denied",
				zap.Int64("user_id", sess.UserID),
				zap.String("role", sess.User.Role),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path))
			respond.JSON(w, http.StatusForbidden, respond.ErrorBody{
				Code:      failure.Unauthorized,
				Message:   "operation not permitted for role",
				RequestID: middleware.GetReqID(r.Context()),
			})
			return
		}

		ctx := session.NewContextWithSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) resolveSession(ctx context.Context, token string) (models.Session, bool) {
	if cached, found := s.SessionCache.FindSessionBySessionToken(token); found {
		return cached, true
	}

	dbSession, err := session.Load(ctx, s.DB, token)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.Log.Error("load session from db failed", zap.Error(err))
		}
		return models.Session{}, false
	}

	s.SessionCache.AddSession(dbSession)
	return dbSession, true
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	var err error
	if s.ln, err = net.Listen("tcp", s.Addr); err != nil {
		return err
	}
	go func() {
		if err := s.server.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.ln == nil {
		return fmt.Errorf("HTTP server has not been started or is already stopped")
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	s.ln = nil
	return nil
}
