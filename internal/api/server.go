// Package api wires the gateway HTTP surface: REST routes, realtime
// websocket endpoint, and operational endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/statforge/statstream/internal/auth"
	"github.com/statforge/statstream/internal/handlers"
	"github.com/statforge/statstream/internal/realtime"
)

// Options configures the HTTP server wiring.
type Options struct {
	Auth *auth.Manager
	Hub  *realtime.Hub
}

// Server wraps the Gin engine and associated configuration.
type Server struct {
	engine *gin.Engine
}

// NewServer constructs a Server with all HTTP routes configured.
func NewServer(handler *handlers.Handler, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), metricsMiddleware(), requestLogger())

	// Health + meta
	engine.GET("/healthz", handler.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.POST("/auth/login", handler.Login)

	if opts.Hub != nil {
		engine.GET("/ws", opts.Hub.Handler)
	}

	protected := engine.Group("/")
	protected.Use(authMiddleware(opts.Auth))

	// Datasets + analysis
	protected.POST("/upload/", handler.UploadDataset)
	protected.POST("/crosstab/", handler.Crosstab)
	protected.POST("/api/analyze/descriptive", handler.AnalyzeDescriptive)
	protected.POST("/api/analyze/frequency", handler.AnalyzeFrequency)
	protected.POST("/api/analyze/clean", handler.CleanDataset)

	// Machine learning
	protected.POST("/api/ml/train", handler.TrainModel)
	protected.GET("/api/ml/models", handler.ListModels)

	// Export transforms
	protected.POST("/api/export-transform/validate", handler.ValidateTransform)
	protected.POST("/api/export-transform/run", handler.RunTransform)
	protected.GET("/api/export-transform/:id/result", handler.TransformResult)

	// Jobs + activity
	protected.GET("/jobs", handler.ListJobs)
	protected.GET("/jobs/:id", handler.GetJob)
	protected.GET("/notifications", handler.ListNotifications)
	protected.GET("/history", handler.ListHistory)

	// Federation
	fed := protected.Group("/api/v1/federation")
	fed.GET("/catalog", handler.FederationCatalog)
	fed.GET("/catalog/:id", handler.FederationDataset)
	fed.POST("/catalog/reload", handler.ReloadFederationCatalog)
	fed.GET("/partners", handler.ListPartners)
	fed.POST("/partners", handler.RegisterPartner)
	fed.GET("/partners/:id", handler.GetPartner)
	fed.PUT("/partners/:id/status", handler.SetPartnerStatus)

	return &Server{engine: engine}
}

// Engine exposes the underlying Gin engine for advanced use (testing, etc.).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start launches the HTTP server on the provided address.
func (s *Server) Start(addr string) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()
	return srv
}
