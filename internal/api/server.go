package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/receipt-reconciler/internal/api/handlers"
	"github.com/eshaffer321/receipt-reconciler/internal/api/middleware"
	"github.com/eshaffer321/receipt-reconciler/internal/application/service"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string

	// MatchOnIngest runs a pass after receipt uploads and bank-record
	// pushes. Requests override it with ?match_on_ingest=.
	MatchOnIngest bool
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		MatchOnIngest:  true,
	}
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger
	svc        *service.ReconcileService
}

// NewServer creates a new API server.
func NewServer(cfg Config, svc *service.ReconcileService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		router: gin.New(),
		logger: logger,
		svc:    svc,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())

	// CORS
	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = s.config.AllowedOrigins
	s.router.Use(middleware.CORS(corsConfig))

	// Request logging
	s.router.Use(middleware.Logging(s.logger))
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	s.router.GET("/health", handlers.NewHealthHandler().Get)

	api := s.router.Group("/api")

	accounts := handlers.NewAccountsHandler(s.svc, s.logger)
	ingest := handlers.NewIngestHandler(s.svc, s.config.MatchOnIngest, s.logger)
	api.GET("/accounts", accounts.List)

	account := api.Group("/accounts/:account")
	account.GET("/candidates", accounts.Candidates)
	account.POST("/match", accounts.Match)
	account.POST("/undo", accounts.Undo)
	account.GET("/audit", accounts.Audit)
	account.GET("/runs", accounts.Runs)
	account.GET("/stats", accounts.Stats)
	account.GET("/expenses", accounts.Expenses)
	account.GET("/review", accounts.Review)
	account.POST("/expenses", ingest.CreateExpense)
	account.POST("/bank-records", ingest.BankRecords)
	account.POST("/receipts", ingest.Receipt)

	links := handlers.NewLinksHandler(s.svc, s.logger)
	api.GET("/expenses/:id", links.GetExpense)
	api.DELETE("/expenses/:id/match", links.Unlink)
	api.GET("/receipts/:id", links.GetReceipt)
	api.POST("/matches", links.Match)

	review := handlers.NewReviewHandler(s.svc, s.logger)
	api.POST("/review/:id/resolve", review.Resolve)
	api.DELETE("/review/:id", review.Dismiss)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the gin engine for testing.
func (s *Server) Router() http.Handler {
	return s.router
}
