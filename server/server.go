// Package server exposes the admin API: menu CRUD, the sales dashboard and
// per-category forecasts. Chart rendering itself happens client-side; the
// handlers return the combined series and summaries unchanged.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"salesflow/config"
	"salesflow/logger"
	"salesflow/models"
	"salesflow/pipeline"
)

// MenuStore is the menu CRUD surface of the order store.
type MenuStore interface {
	ListMenu(ctx context.Context) ([]models.MenuItem, error)
	AddMenuItem(ctx context.Context, item models.MenuItem) (int, error)
	UpdateMenuItem(ctx context.Context, item models.MenuItem) error
	DeleteMenuItem(ctx context.Context, id int) error
	Categories(ctx context.Context) ([]string, error)
	HealthCheck(ctx context.Context) error
}

// PipelineRunner runs one dashboard/forecast request.
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Server hosts the Gin-powered admin API.
type Server struct {
	cfg        config.ServerConfig
	defaults   config.PipelineConfig
	log        *logger.Log
	menu       MenuStore
	runner     PipelineRunner
	httpServer *http.Server
}

func NewServer(cfg config.ServerConfig, defaults config.PipelineConfig, menu MenuStore, runner PipelineRunner, log *logger.Log) *Server {
	cfg.Address = normalizeAddress(cfg.Address)

	return &Server{
		cfg:      cfg,
		defaults: defaults,
		log:      log,
		menu:     menu,
		runner:   runner,
	}
}

// Run starts the HTTP server and blocks until the provided context is
// cancelled or the underlying server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.WithComponent("server").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("starting admin API server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(s.log))
	if s.cfg.RateLimit.RequestsPerSecond > 0 {
		router.Use(rateLimiter(s.cfg.RateLimit))
	}

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/menu", s.handleListMenu)
		api.POST("/menu", s.handleAddMenuItem)
		api.PUT("/menu/:id", s.handleUpdateMenuItem)
		api.DELETE("/menu/:id", s.handleDeleteMenuItem)
		api.GET("/categories", s.handleCategories)
		api.GET("/dashboard", s.handleDashboard)
		api.GET("/forecast", s.handleForecast)
	}

	return router
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	return s.cfg.Address
}

func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ":8080"
	}
	if !strings.Contains(address, ":") {
		return net.JoinHostPort(address, "8080")
	}
	if strings.HasPrefix(address, ":") {
		return address
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return ":8080"
	}
	return address
}
