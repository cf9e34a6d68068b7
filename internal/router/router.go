// Package router runs one call end to end: account selection, session lookup,
// URL signing, the upstream request and stream translation.
package router

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"doubao-api/internal/accountpool"
	"doubao-api/internal/doubao"
	app_errors "doubao-api/internal/errors"
	"doubao-api/internal/models"
	"doubao-api/internal/session"
	"doubao-api/internal/signature"
	"doubao-api/internal/transformer"
	"doubao-api/internal/transformer/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Transport sends a request upstream.
type Transport interface {
	Send(ctx context.Context, req *doubao.Request, streaming bool) (io.ReadCloser, error)
}

// TokenProvider returns the msToken of an account.
type TokenProvider interface {
	MsToken(ctx context.Context, acc *models.Account) (string, error)
}

// RequestRecorder persists request logs.
type RequestRecorder interface {
	Record(entry *models.RequestLog) error
}

// Observer receives per-call outcomes for metrics.
type Observer interface {
	ObserveRequest(flow string, streaming bool, outcome string, elapsed time.Duration)
}

// Settings are the upstream defaults used by the router.
type Settings struct {
	BaseURL       string
	DefaultModel  string
	ImageModel    string
	FallbackReply string
}

// Router is the request orchestrator shared by the chat and image flows.
type Router struct {
	pool       *accountpool.Registry
	sessions   *session.Registry
	signer     signature.Signer
	tokens     TokenProvider
	transport  Transport
	translator *transformer.Translator
	recorder   RequestRecorder
	observer   Observer
	settings   Settings
	logger     *logrus.Entry
}

// Option configures optional collaborators.
type Option func(*Router)

// WithRecorder sets the request log recorder.
func WithRecorder(rec RequestRecorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option {
	return func(r *Router) { r.observer = obs }
}

// NewRouter creates a Router.
func NewRouter(
	pool *accountpool.Registry,
	sessions *session.Registry,
	signer signature.Signer,
	tokens TokenProvider,
	transport Transport,
	translator *transformer.Translator,
	settings Settings,
	opts ...Option,
) *Router {
	r := &Router{
		pool:       pool,
		sessions:   sessions,
		signer:     signer,
		tokens:     tokens,
		transport:  transport,
		translator: translator,
		settings:   settings,
		logger:     logrus.WithField("component", "request_router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HealthSummary returns the healthy and total account counts.
func (r *Router) HealthSummary() (healthy, total int) {
	return r.pool.HealthSummary()
}

// call describes one routed request.
type call struct {
	flow       string
	streaming  bool
	sessionKey string
	model      string
	requestID  string
	// accountIndex is the pool index of the account serving the call, set once selected.
	accountIndex int
	buildBody    func(conversationID string) ([]byte, error)
	// consume reads the upstream body. It returns the outcome and the error to report.
	consume func(ctx context.Context, body io.Reader) (transformer.Outcome, error)
	meta    map[string]any
}

// execute runs the shared pipeline. The selected account is released exactly once.
func (r *Router) execute(ctx context.Context, c *call) (err error) {
	start := time.Now()
	entry := &models.RequestLog{
		RequestID:  c.requestID,
		Timestamp:  start,
		Flow:       c.flow,
		SessionKey: c.sessionKey,
		Model:      c.model,
		IsStream:   c.streaming,
		Outcome:    models.OutcomeSuccess,
	}
	logger := r.logger.WithFields(logrus.Fields{
		"request_id": c.requestID,
		"flow":       c.flow,
		"session":    c.sessionKey,
	})
	defer func() {
		entry.Duration = time.Since(start).Milliseconds()
		if rec, ok := r.sessions.Get(c.sessionKey); ok {
			entry.ConversationID = rec.ConversationID
		}
		if len(c.meta) > 0 {
			entry.Metadata = c.meta
		}
		r.finish(ctx, entry, err)
	}()

	r.sessions.GetOrCreate(c.sessionKey)

	lease, err := r.pool.Select(c.sessionKey)
	if err != nil {
		logger.WithError(err).Warn("No account available")
		return err
	}
	defer r.pool.Release(lease.Key)
	c.accountIndex = lease.Index
	entry.AccountKey = lease.Key
	logger = logger.WithField("account", lease.Key)

	msToken, tokenErr := r.tokens.MsToken(ctx, &lease.Account)
	if tokenErr != nil {
		logger.WithError(tokenErr).Warn("Failed to get msToken, sending without it")
	}

	endpoint := doubao.Endpoint(r.settings.BaseURL)
	query := doubao.BuildQuery(&lease.Account, msToken, c.flow)
	target, signErr := r.signer.Sign(ctx, endpoint, lease.Account.Cookie, query)
	if signErr != nil {
		logger.WithError(signErr).Warn("Signing failed, using unsigned URL")
		target = signature.UnsignedURL(endpoint, query)
	}

	// read after Select: a conversation created on another account must not be sent here
	body, err := c.buildBody(r.sessions.ConversationFor(c.sessionKey, lease.Index))
	if err != nil {
		return app_errors.NewAPIError(app_errors.ErrInternalServer, "failed to build upstream request: "+err.Error())
	}

	resp, err := r.transport.Send(ctx, &doubao.Request{URL: target, Cookie: lease.Account.Cookie, Body: body}, c.streaming)
	if err != nil {
		r.reportFailure(ctx, logger, lease.Key, err)
		return err
	}
	defer resp.Close()

	outcome, err := c.consume(ctx, resp)
	if err != nil {
		r.reportFailure(ctx, logger, lease.Key, err)
		return err
	}
	if outcome == transformer.OutcomeAborted {
		entry.Outcome = models.OutcomeAborted
		logger.Info("Client disconnected, stream aborted")
	}
	return nil
}

// endedByCaller reports whether err is the call's own context ending rather than
// an upstream fault. Upstream status and read errors count as upstream faults
// unless they merely wrap the context error.
func endedByCaller(ctx context.Context, err error) bool {
	ctxErr := ctx.Err()
	if ctxErr == nil {
		return false
	}
	if errors.Is(err, ctxErr) {
		return true
	}
	var statusErr *app_errors.UpstreamStatusError
	var ioErr *app_errors.StreamIOError
	return !errors.As(err, &statusErr) && !errors.As(err, &ioErr)
}

// reportFailure marks the account unhealthy unless the error is not the account's fault.
func (r *Router) reportFailure(ctx context.Context, logger *logrus.Entry, accountKey string, err error) {
	switch {
	case errors.Is(err, app_errors.ErrEmptyResult):
		logger.Warn("Upstream returned no images")
	case endedByCaller(ctx, err):
		logger.WithError(err).Debug("Call ended by the client")
	default:
		r.pool.MarkUnhealthy(accountKey, err)
	}
}

func (r *Router) finish(ctx context.Context, entry *models.RequestLog, err error) {
	if err != nil {
		entry.Outcome = models.OutcomeFailed
		entry.ErrorMessage = err.Error()
		var statusErr *app_errors.UpstreamStatusError
		if errors.As(err, &statusErr) {
			entry.UpstreamStatus = statusErr.StatusCode
		}
		if endedByCaller(ctx, err) && errors.Is(ctx.Err(), context.Canceled) {
			entry.Outcome = models.OutcomeAborted
		}
	}

	if r.observer != nil {
		r.observer.ObserveRequest(entry.Flow, entry.IsStream, entry.Outcome, time.Duration(entry.Duration)*time.Millisecond)
	}
	if r.recorder != nil {
		if recErr := r.recorder.Record(entry); recErr != nil {
			r.logger.WithError(recErr).Error("Failed to record request log")
		}
	}
}

// RouteChatStream streams a chat completion to sink.
func (r *Router) RouteChatStream(ctx context.Context, sessionKey string, req *model.ChatCompletionRequest, sink transformer.Sink) error {
	c, adapter := r.chatCall(sessionKey, req, true)
	c.consume = func(ctx context.Context, body io.Reader) (transformer.Outcome, error) {
		return r.translator.Stream(ctx, body, adapter, sink)
	}
	return r.execute(ctx, c)
}

// RouteChatOnce returns the full chat completion. An empty upstream reply is
// replaced by the fallback text.
func (r *Router) RouteChatOnce(ctx context.Context, sessionKey string, req *model.ChatCompletionRequest) (*model.ChatCompletion, error) {
	c, adapter := r.chatCall(sessionKey, req, false)
	c.consume = func(ctx context.Context, body io.Reader) (transformer.Outcome, error) {
		if err := r.translator.Collect(ctx, body, adapter); err != nil {
			return transformer.OutcomeFailed, err
		}
		if adapter.UsedFallback() {
			c.meta["fallback"] = true
		}
		return transformer.OutcomeCompleted, nil
	}
	if err := r.execute(ctx, c); err != nil {
		return nil, err
	}
	return adapter.Completion(), nil
}

// RouteImageStream streams image generation progress and results to sink.
func (r *Router) RouteImageStream(ctx context.Context, sessionKey string, req *model.ImageGenerationRequest, sink transformer.Sink) error {
	c, adapter := r.imageCall(sessionKey, req, true)
	c.consume = func(ctx context.Context, body io.Reader) (transformer.Outcome, error) {
		return r.translator.Stream(ctx, body, adapter, sink)
	}
	return r.execute(ctx, c)
}

// RouteImageOnce returns every generated image. Zero images is an error.
func (r *Router) RouteImageOnce(ctx context.Context, sessionKey string, req *model.ImageGenerationRequest) (*model.ImageGenerationResponse, error) {
	c, adapter := r.imageCall(sessionKey, req, false)
	var result *model.ImageGenerationResponse
	c.consume = func(ctx context.Context, body io.Reader) (transformer.Outcome, error) {
		if err := r.translator.Collect(ctx, body, adapter); err != nil {
			return transformer.OutcomeFailed, err
		}
		res, err := adapter.Result()
		if err != nil {
			return transformer.OutcomeFailed, err
		}
		c.meta["images"] = len(res.Data)
		result = res
		return transformer.OutcomeCompleted, nil
	}
	if err := r.execute(ctx, c); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Router) chatCall(sessionKey string, req *model.ChatCompletionRequest, streaming bool) (*call, *transformer.ChatAdapter) {
	modelName := req.Model
	if modelName == "" {
		modelName = r.settings.DefaultModel
	}

	messages := make([]doubao.Message, 0, len(req.Messages))
	prompt := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		text := m.Content.GetText()
		messages = append(messages, doubao.Message{Role: m.Role, Text: text})
		prompt = append(prompt, text)
	}

	requestID := "chatcmpl-" + uuid.NewString()
	c := &call{
		flow:       models.FlowChat,
		streaming:  streaming,
		sessionKey: sessionKey,
		model:      modelName,
		requestID:  requestID,
		meta:       map[string]any{},
		buildBody: func(conversationID string) ([]byte, error) {
			return doubao.BuildChatBody(conversationID, modelName, messages)
		},
	}
	adapter := transformer.NewChatAdapter(requestID, modelName, strings.Join(prompt, "\n"), r.settings.FallbackReply, r.conversationSetter(c))
	return c, adapter
}

func (r *Router) imageCall(sessionKey string, req *model.ImageGenerationRequest, streaming bool) (*call, *transformer.ImageAdapter) {
	modelName := req.Model
	if modelName == "" {
		modelName = r.settings.ImageModel
	}

	requestID := "img-" + uuid.NewString()
	prompt := strings.TrimSpace(req.Prompt)
	c := &call{
		flow:       models.FlowImage,
		streaming:  streaming,
		sessionKey: sessionKey,
		model:      modelName,
		requestID:  requestID,
		meta:       map[string]any{},
		buildBody: func(conversationID string) ([]byte, error) {
			return doubao.BuildImageBody(conversationID, prompt)
		},
	}
	adapter := transformer.NewImageAdapter(requestID, modelName, r.conversationSetter(c))
	return c, adapter
}

// conversationSetter stores the conversation id while the session is still bound
// to the account serving c.
func (r *Router) conversationSetter(c *call) func(string) {
	return func(id string) {
		if !r.sessions.UpdateConversationID(c.sessionKey, id, c.accountIndex) {
			r.logger.WithFields(logrus.Fields{
				"session":         c.sessionKey,
				"conversation_id": id,
			}).Debug("Session gone or rebound before conversation id was stored")
		}
	}
}
