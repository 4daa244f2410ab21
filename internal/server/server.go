package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"marketstream/internal/history"
	"marketstream/internal/market"
	"marketstream/internal/stream"
	"marketstream/internal/symbols"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Streams starts and stops upstream channels.
type Streams interface {
	EnsureConnection(symbol, interval string) error
	Stop(symbol, interval string) bool
}

// Feed hands out live bar subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, symbol, interval string) (*stream.Subscription, error)
}

type History interface {
	History(ctx context.Context, q history.Query) ([]market.Bar, error)
}

type Catalog interface {
	List(ctx context.Context, req symbols.PageRequest) (symbols.Page, error)
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

type Config struct {
	Addr            string
	Mode            string
	ShutdownTimeout time.Duration
}

type Deps struct {
	Streams Streams
	Feed    Feed
	History History
	Catalog Catalog
	Checks  map[string]Check
}

// Server exposes the market API over HTTP.
type Server struct {
	cfg    Config
	deps   Deps
	engine *gin.Engine
	logger *zap.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

func New(cfg Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Streams == nil || deps.Feed == nil || deps.History == nil || deps.Catalog == nil {
		return nil, errors.New("server: missing dependency")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = gin.ReleaseMode
	}
	gin.SetMode(cfg.Mode)

	logger = logger.With(zap.String("component", "http"))
	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), accessLog(logger))

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		engine:  engine,
		logger:  logger,
		closing: make(chan struct{}),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	market := s.engine.Group("/market")
	market.POST("/stream/start", s.handleStart)
	market.POST("/stream/stop", s.handleStop)
	market.GET("/stream/:symbol", s.handleStream)
	market.GET("/history/:symbol", s.handleHistory)
	market.GET("/symbols", s.handleSymbols)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then ends open event streams and shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Close ends every open event stream.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}
