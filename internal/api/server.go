// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/eco-assistant/internal/cache"
	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/models"
	"github.com/eco-assistant/internal/service"
	"github.com/eco-assistant/internal/types"
)

// Service interfaces for dependency injection and testing

// CacheReader exposes the cached state the API reads
type CacheReader interface {
	GetUser(id int64) (*models.User, bool)
	GetTopN() []int64
	Counts() (users, chats int)
	PointStats() *cache.PointStats
	GetOrCreatePoints(ctx context.Context, locationKey string) (models.PointSet, error)
}

// BotHandler answers incoming bot messages
type BotHandler interface {
	HandleMessage(ctx context.Context, msg *service.IncomingMessage) (*service.Reply, error)
}

// ActionCrediter credits gamification actions
type ActionCrediter interface {
	Credit(ctx context.Context, userID int64, action types.ActionType) (*service.CreditResult, error)
}

// ActionHistory reads the persisted action log
type ActionHistory interface {
	GetUserActions(ctx context.Context, userID int64, limit int) ([]models.ActionRecord, error)
}

// MessageSender delivers replies to VK
type MessageSender interface {
	Send(ctx context.Context, peerID int64, text string) error
}

// Dependencies are the services behind the API. History and Sender are optional.
type Dependencies struct {
	Cache   CacheReader
	Bot     BotHandler
	Credits ActionCrediter
	History ActionHistory
	Sender  MessageSender
	Logger  *logging.Logger
	// Workers reports background worker stats on /health
	Workers func() map[string]interface{}
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	deps       *Dependencies
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond int
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps *Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		logger: logger.WithField("component", "api"),
		config: config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// order matters: ids and logging wrap everything, limiting runs after CORS preflight
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods("GET")

	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/users/{id}/actions", s.handleCreditAction).Methods("POST")
	api.HandleFunc("/users/{id}/actions", s.handleListActions).Methods("GET")

	api.HandleFunc("/points/{location}", s.handleGetPoints).Methods("GET")

	api.HandleFunc("/messages", s.handleMessage).Methods("POST")
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
