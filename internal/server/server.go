// Package server exposes the chat core over HTTP with SSE streaming
// responses.
package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"CareChat/internal/assistant"
	"CareChat/internal/config"
	"CareChat/internal/files"
	"CareChat/internal/health"
)

// TokenVerifier resolves a bearer token to a user id. Authentication
// itself is an external collaborator; this is its seam.
type TokenVerifier interface {
	Verify(token string) (userID string, ok bool)
}

// StaticVerifier maps tokens to user ids, for development and tests.
type StaticVerifier map[string]string

func (v StaticVerifier) Verify(token string) (string, bool) {
	userID, ok := v[token]
	return userID, ok
}

// Server wires the HTTP surface to per-user session managers.
type Server struct {
	cfg      config.Config
	store    assistant.Store
	records  health.Records
	uploads  *files.DiskStore
	verifier TokenVerifier
	client   assistant.Doer
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter

	mu       sync.Mutex
	sessions map[string]*assistant.Manager
}

// Options configures a Server.
type Options struct {
	Config   config.Config
	Store    assistant.Store
	Records  health.Records
	Uploads  *files.DiskStore
	Verifier TokenVerifier
	// HTTPClient overrides the upstream completions client, for tests.
	HTTPClient assistant.Doer
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      opts.Config,
		store:    opts.Store,
		records:  opts.Records,
		uploads:  opts.Uploads,
		verifier: opts.Verifier,
		client:   opts.HTTPClient,
		logger:   logger,
		tracer:   opts.Tracer,
		meter:    opts.Meter,
		sessions: make(map[string]*assistant.Manager),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", s.authenticate)
	{
		api.GET("/conversations", s.listConversations)
		api.POST("/conversations", s.createConversation)
		api.DELETE("/conversations/:id", s.deleteConversation)
		api.GET("/conversations/:id/messages", s.listMessages)
		api.POST("/attachments", s.uploadAttachment)
		api.GET("/attachments/:id", s.downloadAttachment)
		api.POST("/chat", s.chat)
	}

	return router
}

// session returns the user's manager, creating and activating it on
// first use.
func (s *Server) session(c *gin.Context) *assistant.Manager {
	userID := c.GetString("user_id")
	token := c.GetString("token")

	s.mu.Lock()
	mgr, ok := s.sessions[userID]
	if !ok {
		mgr = assistant.NewManager(assistant.Options{
			Store:          s.store,
			Contexts:       health.Loader{Records: s.records},
			HTTPClient:     s.client,
			Logger:         s.logger,
			Tracer:         s.tracer,
			Meter:          s.meter,
			CompletionsURL: s.cfg.CompletionsURL,
			Model:          s.cfg.Model,
			PublicKey:      s.cfg.PublicKey,
			UserID:         userID,
			Token:          token,
		})
		s.sessions[userID] = mgr
	}
	s.mu.Unlock()

	// The caller may have re-authenticated since the manager was cached.
	mgr.SetToken(token)
	mgr.Activate(c.Request.Context())
	return mgr
}
