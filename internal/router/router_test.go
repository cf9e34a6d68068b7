package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"doubao-api/internal/accountpool"
	"doubao-api/internal/doubao"
	app_errors "doubao-api/internal/errors"
	"doubao-api/internal/models"
	"doubao-api/internal/session"
	"doubao-api/internal/signature"
	"doubao-api/internal/store"
	"doubao-api/internal/transformer"
	"doubao-api/internal/transformer/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func eventLine(eventType string, eventData any) string {
	return "data: " + mustJSON(map[string]any{"event_type": eventType, "event_data": mustJSON(eventData)})
}

func textLine(text string) string {
	return eventLine("2001", map[string]any{"message": map[string]any{"content": mustJSON(map[string]any{"text": text})}})
}

func conversationLine(id string) string {
	return eventLine("2002", map[string]any{"conversation_id": id})
}

func imageLine(urls ...string) string {
	data := make([]any, len(urls))
	for i, u := range urls {
		data[i] = map[string]any{"image_ori": map[string]any{"url": u}}
	}
	return eventLine("2001", map[string]any{"message": map[string]any{
		"content_type": "2010",
		"content":      mustJSON(map[string]any{"data": data}),
	}})
}

func body(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

type sentRequest struct {
	URL    string
	Cookie string
	Body   map[string]any
}

type fakeTransport struct {
	mu       sync.Mutex
	requests []sentRequest
	respond  func(req *doubao.Request) (string, error)
	// stream, when set, supplies the response body reader instead of respond.
	stream func(req *doubao.Request) io.Reader
	// gate, when set, blocks calls until it is closed. gateCookie limits it to one account.
	gate       chan struct{}
	gateCookie string
	arrived    chan struct{}
}

func (f *fakeTransport) Send(ctx context.Context, req *doubao.Request, _ bool) (io.ReadCloser, error) {
	var payload map[string]any
	_ = json.Unmarshal(req.Body, &payload)

	f.mu.Lock()
	f.requests = append(f.requests, sentRequest{URL: req.URL, Cookie: req.Cookie, Body: payload})
	f.mu.Unlock()

	if f.arrived != nil {
		f.arrived <- struct{}{}
	}
	if f.gate != nil && (f.gateCookie == "" || f.gateCookie == req.Cookie) {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.stream != nil {
		return io.NopCloser(f.stream(req)), nil
	}
	text, err := f.respond(req)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(text)), nil
}

func (f *fakeTransport) sent() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentRequest(nil), f.requests...)
}

type failingSigner struct{}

func (failingSigner) Sign(context.Context, string, string, string) (string, error) {
	return "", errors.New("signer offline")
}

type recordingRecorder struct {
	mu      sync.Mutex
	entries []*models.RequestLog
}

func (r *recordingRecorder) Record(entry *models.RequestLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingRecorder) last() *models.RequestLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	return r.entries[len(r.entries)-1]
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *countingObserver) ObserveRequest(_ string, _ bool, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

type collectingSink struct {
	chunks []any
	done   bool
}

func (s *collectingSink) Send(chunk any) error {
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *collectingSink) Done() error {
	s.done = true
	return nil
}

type fixture struct {
	router    *Router
	pool      *accountpool.Registry
	sessions  *session.Registry
	transport *fakeTransport
	recorder  *recordingRecorder
	observer  *countingObserver
}

func newFixture(t *testing.T, accounts int, signer signature.Signer, respond func(*doubao.Request) (string, error)) *fixture {
	t.Helper()
	accs := make([]models.Account, accounts)
	for i := range accs {
		accs[i] = models.Account{Cookie: fmt.Sprintf("sessionid=acc%d", i), DeviceID: fmt.Sprintf("dev-%d", i)}
	}
	sessions := session.NewRegistry()
	pool := accountpool.NewRegistry(accs, sessions, nil, time.Minute)
	transport := &fakeTransport{respond: respond}
	recorder := &recordingRecorder{}
	observer := &countingObserver{}
	if signer == nil {
		signer = signature.NewLocalSigner("test-bogus")
	}
	r := NewRouter(pool, sessions, signer, signature.NewTokenSource(store.NewMemoryStore()), transport,
		transformer.NewTranslator(), Settings{
			BaseURL:       "https://www.doubao.com",
			DefaultModel:  doubao.ModelPro,
			ImageModel:    "Seedream 4.0",
			FallbackReply: "fallback reply",
		}, WithRecorder(recorder), WithObserver(observer))
	return &fixture{router: r, pool: pool, sessions: sessions, transport: transport, recorder: recorder, observer: observer}
}

func chatRequest(text string) *model.ChatCompletionRequest {
	return &model.ChatCompletionRequest{
		Messages: []model.Message{{Role: "user", Content: model.MessageContent{Content: &text}}},
	}
}

func activeConnections(pool *accountpool.Registry) int {
	total := 0
	for _, s := range pool.Snapshot() {
		total += s.ActiveConnections
	}
	return total
}

func TestRouteChatOnce_AssemblesReplyAndStoresConversation(t *testing.T) {
	f := newFixture(t, 1, nil, func(*doubao.Request) (string, error) {
		return body(conversationLine("conv-42"), textLine("Hel"), textLine("lo"), "data: [DONE]"), nil
	})

	resp, err := f.router.RouteChatOnce(context.Background(), "alice", chatRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", replyText(resp))
	assert.Equal(t, model.ObjectChatCompletion, resp.Object)
	assert.Equal(t, doubao.ModelPro, resp.Model)

	rec, ok := f.sessions.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "conv-42", rec.ConversationID)
	assert.Zero(t, activeConnections(f.pool))

	sent := f.transport.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].URL, "a_bogus=test-bogus")
	assert.Contains(t, sent[0].URL, "device_id=dev-0")
	assert.Equal(t, "sessionid=acc0", sent[0].Cookie)
	assert.Equal(t, models.ConversationPending, sent[0].Body["conversation_id"])

	entry := f.recorder.last()
	require.NotNil(t, entry)
	assert.Equal(t, models.OutcomeSuccess, entry.Outcome)
	assert.Equal(t, "conv-42", entry.ConversationID)
	assert.Equal(t, models.FlowChat, entry.Flow)
	assert.False(t, entry.IsStream)
}

func TestRouteChatOnce_ReusesConversationOnNextCall(t *testing.T) {
	f := newFixture(t, 2, nil, func(*doubao.Request) (string, error) {
		return body(conversationLine("conv-7"), textLine("ok")), nil
	})

	_, err := f.router.RouteChatOnce(context.Background(), "alice", chatRequest("one"))
	require.NoError(t, err)
	_, err = f.router.RouteChatOnce(context.Background(), "alice", chatRequest("two"))
	require.NoError(t, err)

	sent := f.transport.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "conv-7", sent[1].Body["conversation_id"])
	assert.Equal(t, sent[0].Cookie, sent[1].Cookie, "session should stay on its account")
}

func TestRouteChatOnce_EmptyReplyUsesFallback(t *testing.T) {
	f := newFixture(t, 1, nil, func(*doubao.Request) (string, error) {
		return body("data: [DONE]"), nil
	})

	resp, err := f.router.RouteChatOnce(context.Background(), "s", chatRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "fallback reply", replyText(resp))
	assert.Equal(t, true, f.recorder.last().Metadata["fallback"])
}

func TestRouteChatOnce_SignerFailureFallsBackToUnsignedURL(t *testing.T) {
	f := newFixture(t, 1, failingSigner{}, func(*doubao.Request) (string, error) {
		return body(textLine("ok")), nil
	})

	_, err := f.router.RouteChatOnce(context.Background(), "s", chatRequest("hi"))
	require.NoError(t, err)

	sent := f.transport.sent()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0].URL, "https://www.doubao.com/samantha/chat/completion?"))
	assert.NotContains(t, sent[0].URL, "a_bogus")
}

func TestRouteChatOnce_UpstreamErrorMarksAccountUnhealthy(t *testing.T) {
	f := newFixture(t, 2, nil, func(req *doubao.Request) (string, error) {
		if req.Cookie == "sessionid=acc0" {
			return "", &app_errors.UpstreamStatusError{StatusCode: 403, Body: "forbidden"}
		}
		return body(textLine("from acc1")), nil
	})

	_, err := f.router.RouteChatOnce(context.Background(), "s", chatRequest("hi"))
	var statusErr *app_errors.UpstreamStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, models.OutcomeFailed, f.recorder.last().Outcome)
	assert.Equal(t, 403, f.recorder.last().UpstreamStatus)

	healthy, total := f.router.HealthSummary()
	assert.Equal(t, 1, healthy)
	assert.Equal(t, 2, total)
	_, ok := f.sessions.Get("s")
	assert.False(t, ok, "sessions of the failed account are dropped")

	resp, err := f.router.RouteChatOnce(context.Background(), "s", chatRequest("again"))
	require.NoError(t, err)
	assert.Equal(t, "from acc1", replyText(resp))
	assert.Zero(t, activeConnections(f.pool))
}

func TestRouteChatOnce_NoHealthyAccount(t *testing.T) {
	f := newFixture(t, 0, nil, func(*doubao.Request) (string, error) {
		t.Fatal("transport must not be called")
		return "", nil
	})

	_, err := f.router.RouteChatOnce(context.Background(), "s", chatRequest("hi"))
	assert.ErrorIs(t, err, app_errors.ErrNoHealthyAccount)
	assert.Equal(t, []string{models.OutcomeFailed}, f.observer.outcomes)
}

func TestRouteChatOnce_CanceledContextKeepsAccountHealthy(t *testing.T) {
	f := newFixture(t, 1, nil, func(*doubao.Request) (string, error) {
		return "", context.Canceled
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.router.RouteChatOnce(ctx, "s", chatRequest("hi"))
	require.Error(t, err)
	healthy, _ := f.router.HealthSummary()
	assert.Equal(t, 1, healthy)
}

func TestRouteChatStream_EmitsChunksAndDone(t *testing.T) {
	f := newFixture(t, 1, nil, func(*doubao.Request) (string, error) {
		return body(conversationLine("c1"), textLine("a"), textLine("b")), nil
	})
	sink := &collectingSink{}

	require.NoError(t, f.router.RouteChatStream(context.Background(), "s", chatRequest("hi"), sink))
	assert.True(t, sink.done)
	require.Len(t, sink.chunks, 3)

	first := sink.chunks[0].(*model.ChatCompletion)
	assert.Equal(t, "assistant", first.Choices[0].Delta.Role)
	assert.Equal(t, "a", replyText(first))
	last := sink.chunks[2].(*model.ChatCompletion)
	require.NotNil(t, last.Choices[0].FinishReason)
	assert.Equal(t, model.FinishReasonStop, *last.Choices[0].FinishReason)
	assert.True(t, f.recorder.last().IsStream)
}

func TestRouteImageOnce_CollectsImages(t *testing.T) {
	f := newFixture(t, 1, nil, func(*doubao.Request) (string, error) {
		return body(conversationLine("img-conv"), imageLine("https://cdn/a.webp"), imageLine("https://cdn/a.webp", "https://cdn/b.png")), nil
	})

	resp, err := f.router.RouteImageOnce(context.Background(), "img:bob", &model.ImageGenerationRequest{Prompt: " a cat "})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "webp", resp.Data[0].Format)
	assert.Equal(t, "Seedream 4.0", resp.Model)

	rec, ok := f.sessions.Get("img:bob")
	require.True(t, ok)
	assert.Equal(t, "img-conv", rec.ConversationID)
	assert.Equal(t, 2, f.recorder.last().Metadata["images"])

	sent := f.transport.sent()
	require.Len(t, sent, 1)
	assert.NotContains(t, sent[0].URL, "fp=")
}

func TestRouteImageOnce_NoImagesKeepsAccountHealthy(t *testing.T) {
	f := newFixture(t, 1, nil, func(*doubao.Request) (string, error) {
		return body(textLine("sorry"), "data: [DONE]"), nil
	})

	_, err := f.router.RouteImageOnce(context.Background(), "img:s", &model.ImageGenerationRequest{Prompt: "x"})
	assert.ErrorIs(t, err, app_errors.ErrEmptyResult)
	healthy, _ := f.router.HealthSummary()
	assert.Equal(t, 1, healthy)
}

func TestRouteImageStream_ReportsEmptyResult(t *testing.T) {
	f := newFixture(t, 1, nil, func(*doubao.Request) (string, error) {
		return body("data: [DONE]"), nil
	})
	sink := &collectingSink{}

	err := f.router.RouteImageStream(context.Background(), "img:s", &model.ImageGenerationRequest{Prompt: "x"}, sink)
	assert.ErrorIs(t, err, app_errors.ErrEmptyResult)
	assert.False(t, sink.done)
}

func TestRouter_ConcurrentSessionsSpreadAcrossAccounts(t *testing.T) {
	f := newFixture(t, 2, nil, func(*doubao.Request) (string, error) {
		return body(textLine("ok")), nil
	})
	f.transport.gate = make(chan struct{})
	f.transport.arrived = make(chan struct{}, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, key := range []string{"s1", "s2"} {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			_, errs[i] = f.router.RouteChatOnce(context.Background(), key, chatRequest("hi"))
		}(i, key)
	}

	for range 2 {
		select {
		case <-f.transport.arrived:
		case <-time.After(2 * time.Second):
			t.Fatal("requests did not reach the transport")
		}
	}
	assert.Equal(t, 2, activeConnections(f.pool))
	close(f.transport.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	sent := f.transport.sent()
	require.Len(t, sent, 2)
	assert.NotEqual(t, sent[0].Cookie, sent[1].Cookie)
	assert.Zero(t, activeConnections(f.pool))
}

func replyText(c *model.ChatCompletion) string {
	if len(c.Choices) == 0 {
		return ""
	}
	if m := c.Choices[0].Message; m != nil {
		return m.Content.GetText()
	}
	if d := c.Choices[0].Delta; d != nil {
		return d.Content.GetText()
	}
	return ""
}

func TestRouteChatStream_UpstreamResetMarksAccountUnhealthy(t *testing.T) {
	f := newFixture(t, 1, nil, nil)
	f.transport.stream = func(*doubao.Request) io.Reader {
		return io.MultiReader(
			strings.NewReader(body(textLine("partial"))),
			iotest.ErrReader(errors.New("read tcp 10.0.0.2:51234->1.2.3.4:443: read: connection reset by peer")),
		)
	}
	sink := &collectingSink{}

	err := f.router.RouteChatStream(context.Background(), "s", chatRequest("hi"), sink)
	var ioErr *app_errors.StreamIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Len(t, sink.chunks, 1, "chunk before the failure is delivered")
	assert.False(t, sink.done)

	healthy, total := f.router.HealthSummary()
	assert.Equal(t, 0, healthy)
	assert.Equal(t, 1, total)
	assert.Equal(t, models.OutcomeFailed, f.recorder.last().Outcome)
	assert.Equal(t, []string{models.OutcomeFailed}, f.observer.outcomes)
	assert.Zero(t, activeConnections(f.pool))
}

func TestRouteChatOnce_LateConversationFromReplacedAccountIsDropped(t *testing.T) {
	f := newFixture(t, 2, nil, func(req *doubao.Request) (string, error) {
		if req.Cookie == "sessionid=acc0" {
			return body(conversationLine("conv-on-acc0"), textLine("stale")), nil
		}
		return body(conversationLine("conv-on-acc1"), textLine("fresh")), nil
	})
	f.transport.gate = make(chan struct{})
	f.transport.gateCookie = "sessionid=acc0"
	f.transport.arrived = make(chan struct{}, 2)

	staleDone := make(chan error, 1)
	go func() {
		_, err := f.router.RouteChatOnce(context.Background(), "S", chatRequest("one"))
		staleDone <- err
	}()
	select {
	case <-f.transport.arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("first call did not reach the transport")
	}

	f.pool.MarkUnhealthy("dev-0", errors.New("upstream 500"))

	resp, err := f.router.RouteChatOnce(context.Background(), "S", chatRequest("two"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", replyText(resp))
	idx, ok := f.sessions.Binding("S")
	require.True(t, ok)
	require.Equal(t, 1, idx)

	close(f.transport.gate)
	select {
	case err := <-staleDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first call did not finish")
	}

	rec, ok := f.sessions.Get("S")
	require.True(t, ok)
	assert.Equal(t, "conv-on-acc1", rec.ConversationID)
	idx, _ = f.sessions.Binding("S")
	assert.Equal(t, 1, idx)
	assert.Equal(t, "conv-on-acc1", f.sessions.ConversationFor("S", 1))
}

func TestEndedByCaller(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	reset := errors.New("read: connection reset by peer")

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{"live context, reset", context.Background(), &app_errors.StreamIOError{Err: reset}, false},
		{"live context, plain reset", context.Background(), reset, false},
		{"canceled, wrapped cancel", canceled, fmt.Errorf("post: %w", context.Canceled), true},
		{"canceled, read error wrapping cancel", canceled, &app_errors.StreamIOError{Err: context.Canceled}, true},
		{"canceled, upstream reset", canceled, &app_errors.StreamIOError{Err: reset}, false},
		{"canceled, upstream status", canceled, &app_errors.UpstreamStatusError{StatusCode: 500}, false},
		{"canceled, other error", canceled, reset, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, endedByCaller(tt.ctx, tt.err))
		})
	}
}
