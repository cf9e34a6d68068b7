// Package proxy serves the OpenAI-compatible HTTP API on top of the request router.
package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	app_errors "doubao-api/internal/errors"
	"doubao-api/internal/i18n"
	"doubao-api/internal/transformer"
	"doubao-api/internal/transformer/model"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// APIPrefixes are the mount points of the API routes.
var APIPrefixes = []string{"/v1", "/api/doubao/v1"}

// Router is the routing surface the handlers depend on.
type Router interface {
	RouteChatStream(ctx context.Context, sessionKey string, req *model.ChatCompletionRequest, sink transformer.Sink) error
	RouteChatOnce(ctx context.Context, sessionKey string, req *model.ChatCompletionRequest) (*model.ChatCompletion, error)
	RouteImageStream(ctx context.Context, sessionKey string, req *model.ImageGenerationRequest, sink transformer.Sink) error
	RouteImageOnce(ctx context.Context, sessionKey string, req *model.ImageGenerationRequest) (*model.ImageGenerationResponse, error)
	HealthSummary() (healthy, total int)
}

// Config holds the handler settings.
type Config struct {
	APIKey             string
	DefaultModel       string
	ImageModel         string
	ChatStreamTimeout  time.Duration
	ImageStreamTimeout time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	router  Router
	config  Config
	i18n    *i18n.Translator
	metrics http.Handler
	logger  *logrus.Entry
}

// NewServer creates a Server. metrics may be nil.
func NewServer(router Router, config Config, translator *i18n.Translator, metrics http.Handler) *Server {
	if translator == nil {
		translator = i18n.New()
	}
	return &Server{
		router:  router,
		config:  config,
		i18n:    translator,
		metrics: metrics,
		logger:  logrus.WithField("component", "proxy"),
	}
}

// Engine builds the gin engine with every route registered.
func (s *Server) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), requestLogger())

	compress := gzip.Gzip(gzip.DefaultCompression)
	engine.GET("/health", compress, s.handleHealth)
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	for _, prefix := range APIPrefixes {
		api := engine.Group(prefix, s.auth())
		api.POST("/chat/completions", s.handleChat)
		api.POST("/images/generations", s.handleImage)
		api.GET("/models", compress, s.handleModelList)
	}

	engine.NoRoute(func(c *gin.Context) {
		s.writeError(c, app_errors.ErrResourceNotFound)
	})
	return engine
}

func (s *Server) handleHealth(c *gin.Context) {
	healthy, total := s.router.HealthSummary()
	status, code := "ok", http.StatusOK
	if healthy == 0 {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":           status,
		"healthy_accounts": healthy,
		"total_accounts":   total,
	})
}

func (s *Server) handleChat(c *gin.Context) {
	var req model.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, app_errors.NewAPIError(app_errors.ErrBadRequest, "Invalid JSON body: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(c, app_errors.NewAPIError(app_errors.ErrBadRequest, err.Error()))
		return
	}

	sessionKey := chatSessionKey(req.UserID())
	if !req.IsStreaming() {
		resp, err := s.router.RouteChatOnce(c.Request.Context(), sessionKey, &req)
		if err != nil {
			logUpstreamError("chat completion", err)
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.config.DefaultModel
	}
	s.stream(c, s.config.ChatStreamTimeout,
		func(ctx context.Context, sink transformer.Sink) error {
			return s.router.RouteChatStream(ctx, sessionKey, &req, sink)
		},
		func(message string) any {
			return transformer.ChatErrorChunk(c.GetString(requestIDKey), modelName, message)
		})
}

func (s *Server) handleImage(c *gin.Context) {
	var req model.ImageGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, app_errors.NewAPIError(app_errors.ErrBadRequest, "Invalid JSON body: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(c, app_errors.NewAPIError(app_errors.ErrBadRequest, err.Error()))
		return
	}

	sessionKey := imageSessionKey(req.UserID())
	if !req.IsStreaming() {
		resp, err := s.router.RouteImageOnce(c.Request.Context(), sessionKey, &req)
		if err != nil {
			logUpstreamError("image generation", err)
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	s.stream(c, s.config.ImageStreamTimeout,
		func(ctx context.Context, sink transformer.Sink) error {
			return s.router.RouteImageStream(ctx, sessionKey, &req, sink)
		},
		func(message string) any {
			return transformer.ImageErrorChunk(c.GetString(requestIDKey), message)
		})
}

// stream runs route under the stream deadline and reports failures. Before the
// first frame a failure is a JSON error; after it, an error event.
func (s *Server) stream(
	c *gin.Context,
	timeout time.Duration,
	route func(ctx context.Context, sink transformer.Sink) error,
	errorChunk func(message string) any,
) {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(c.Request.Context(), timeout)
	} else {
		ctx, cancel = context.WithCancel(c.Request.Context())
	}
	defer cancel()

	sink := newSSESink(c)
	err := route(ctx, sink)
	if sink.finished {
		return
	}
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = context.DeadlineExceeded
	}
	if err == nil {
		return
	}

	logUpstreamError("stream", err)
	if c.Request.Context().Err() != nil {
		return
	}
	if !sink.started {
		s.writeError(c, err)
		return
	}
	_, message := s.localizedError(c, err)
	sink.Fail(errorChunk(message))
}
