package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/execd/internal/auth"
	"github.com/danmuck/execd/internal/config"
	"github.com/danmuck/execd/internal/executor"
	"github.com/danmuck/execd/internal/node"
	"github.com/danmuck/execd/internal/observability"
	"github.com/danmuck/execd/internal/tasks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Server is the HTTP surface over managed processes and background tasks.
type Server struct {
	Name     string
	Addr     string
	Appeared time.Time

	exec   *executor.Executor
	tasks  *tasks.Scheduler
	guard  gin.HandlerFunc
	log    zerolog.Logger
	router *gin.Engine
}

var _ node.Node = (*Server)(nil)

func New(cfg config.DaemonConfig, exec *executor.Executor, sched *tasks.Scheduler, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(cfg.CorsOrigins),
		AllowMethods:  []string{"GET", "POST", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Name:     cfg.Name,
		Addr:     cfg.Addr,
		Appeared: time.Now(),
		exec:     exec,
		tasks:    sched,
		guard:    auth.Middleware(validator(cfg), logger),
		log:      logger,
		router:   r,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) NodeID() string {
	return s.Name
}

func (s *Server) Kind() string {
	return "execd"
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens on Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.Addr).Msg("http listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func validator(cfg config.DaemonConfig) auth.Validator {
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil
	}
	return auth.StaticToken{Token: strings.TrimSpace(cfg.AuthToken)}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
