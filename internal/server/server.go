// Package server exposes the dosing engine over HTTP: REST endpoints
// under /api/v1, a websocket stream, health, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrcode/glucocalc/internal/accuracy"
	"github.com/mrcode/glucocalc/internal/board"
	"github.com/mrcode/glucocalc/internal/config"
	"github.com/mrcode/glucocalc/internal/prediction"
	"github.com/mrcode/glucocalc/internal/storage"
)

// Server wires the calculation engine, storage, and stream hub behind
// a gin router.
type Server struct {
	cfg        *config.Config
	store      *storage.SQLiteStore
	aggregator *board.Aggregator
	tracker    *accuracy.Tracker
	predictor  *prediction.LinearPredictor
	oracle     prediction.Oracle
	hub        *Hub
	logger     *slog.Logger

	defaultUserID string
	engine        *gin.Engine
}

// New assembles a server. oracle may be nil, in which case predictions
// are linear-only.
func New(cfg *config.Config, store *storage.SQLiteStore, aggregator *board.Aggregator,
	tracker *accuracy.Tracker, oracle prediction.Oracle, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:           cfg,
		store:         store,
		aggregator:    aggregator,
		tracker:       tracker,
		predictor:     prediction.NewLinearPredictor(),
		oracle:        oracle,
		hub:           NewHub(logger),
		logger:        logger,
		defaultUserID: cfg.Feed.UserID,
	}
	s.engine = s.buildRouter()
	return s
}

// Hub exposes the stream hub so the feed poller can push readings.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router returns the configured gin engine, used directly by handler
// tests.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(s.logger))

	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	v1.Use(rateLimitMiddleware(s.cfg.Server.RateLimitPerMinute))
	{
		v1.GET("/board", s.handleBoard)
		v1.GET("/board/active-insulin", s.handleActiveInsulin)
		v1.POST("/dose", s.handleDose)
		v1.GET("/summary", s.handleSummary)

		v1.POST("/treatments", s.handleCreateTreatment)
		v1.GET("/treatments", s.handleListTreatments)

		v1.GET("/glucose/current", s.handleCurrentGlucose)
		v1.GET("/glucose/history", s.handleGlucoseHistory)

		v1.GET("/predictions", s.handlePredictions)
		v1.POST("/comparisons", s.handleRecordComparison)
		v1.GET("/accuracy", s.handleAccuracy)

		v1.GET("/stream", s.handleStream)
	}

	return engine
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
