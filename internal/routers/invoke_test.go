package routers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"inference-gateway/internal/middleware"
	"inference-gateway/internal/telemetry"
	"inference-gateway/internal/tokenstore"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	records map[string]*tokenstore.Record
	err     error
}

func (f *fakeStore) Get(_ context.Context, token string) (*tokenstore.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	record, ok := f.records[token]
	if !ok {
		return nil, tokenstore.ErrNotFound
	}
	return record, nil
}

type memorySink struct {
	mu      sync.Mutex
	records []*telemetry.Record
}

func (m *memorySink) Append(_ context.Context, record *telemetry.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memorySink) all() []*telemetry.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*telemetry.Record{}, m.records...)
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) bool { return true }

type fakeBackend struct {
	mu         sync.Mutex
	response   map[string]any
	invokeErr  error
	chunks     []map[string]any
	streamErr  error
	afterChunk func(delivered int)
	calls      int
	gotModel   string
	gotPayload map[string]any
}

func (f *fakeBackend) Invoke(_ context.Context, modelID string, payload map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotModel = modelID
	f.gotPayload = payload
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return f.response, nil
}

func (f *fakeBackend) InvokeStream(_ context.Context, modelID string, payload map[string]any, onChunk func(map[string]any) error) error {
	f.mu.Lock()
	f.calls++
	f.gotModel = modelID
	f.gotPayload = payload
	chunks := f.chunks
	streamErr := f.streamErr
	afterChunk := f.afterChunk
	f.mu.Unlock()

	for i, chunk := range chunks {
		if err := onChunk(chunk); err != nil {
			return err
		}
		if afterChunk != nil {
			afterChunk(i + 1)
		}
	}
	return streamErr
}

func activeStore() *fakeStore {
	return &fakeStore{records: map[string]*tokenstore.Record{
		"T": {Token: "T", CustomerID: "c1", Status: tokenstore.StatusActive},
	}}
}

func newGateway(t *testing.T, b *fakeBackend, store tokenstore.Store, sink telemetry.Sink) *echo.Echo {
	t.Helper()
	log := zap.NewNop().Sugar()

	e := echo.New()
	base := e.Group("")
	base.Use(middleware.NewCORSMiddleware())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))

	err := RegisterInvokeRoutes(base, Config{
		Store:   store,
		Backend: b,
		Sink:    sink,
		Limiter: allowAll{},
	}, log)
	require.NoError(t, err)
	return e
}

func doInvoke(e *echo.Echo, body, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestInvokeSyncEndToEnd(t *testing.T) {
	b := &fakeBackend{response: map[string]any{"content": "hi there"}}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	rec := doInvoke(e, `{"modelId":"m1","messages":[{"content":"hello"}]}`, "Bearer T")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hi there", body["content"])

	// The backend saw the verbatim payload with control fields removed.
	assert.Equal(t, "m1", b.gotModel)
	assert.Contains(t, b.gotPayload, "messages")
	assert.NotContains(t, b.gotPayload, "modelId")
	assert.NotContains(t, b.gotPayload, "stream")

	records := sink.all()
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, telemetry.EventInvoke, record.EventType)
	assert.Equal(t, "c1", record.CustomerID)
	assert.Equal(t, "m1", record.ModelID)
	assert.Equal(t, 1, record.InputTokens)
	assert.Equal(t, 2, record.OutputTokens)
	assert.Equal(t, 3, record.TokenCount)
	assert.NotEmpty(t, record.RequestID)
}

func TestInvokeMissingAuth(t *testing.T) {
	b := &fakeBackend{}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	rec := doInvoke(e, `{"modelId":"m1"}`, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authorization header missing or invalid format. Use Bearer token.", errorBody(t, rec))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, sink.all())
	assert.Equal(t, 0, b.calls)
}

func TestInvokeInvalidToken(t *testing.T) {
	b := &fakeBackend{}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	rec := doInvoke(e, `{"modelId":"m1"}`, "Bearer wrong")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired token", errorBody(t, rec))
	assert.Empty(t, sink.all())
}

func TestInvokeStoreUnavailable(t *testing.T) {
	b := &fakeBackend{}
	sink := &memorySink{}
	e := newGateway(t, b, &fakeStore{err: errors.New("connection refused")}, sink)

	rec := doInvoke(e, `{"modelId":"m1"}`, "Bearer T")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error authenticating request", errorBody(t, rec))
	assert.Empty(t, sink.all())
}

func TestInvokeDeprecatedTokenStillServes(t *testing.T) {
	b := &fakeBackend{response: map[string]any{"content": "ok"}}
	sink := &memorySink{}
	store := &fakeStore{records: map[string]*tokenstore.Record{
		"T": {Token: "T", CustomerID: "c2", Status: tokenstore.StatusDeprecated},
	}}
	e := newGateway(t, b, store, sink)

	rec := doInvoke(e, `{"modelId":"m1"}`, "Bearer T")

	assert.Equal(t, http.StatusOK, rec.Code)
	records := sink.all()
	require.Len(t, records, 1)
	assert.True(t, records[0].Deprecated)
}

func TestInvokeMissingModelID(t *testing.T) {
	b := &fakeBackend{}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	rec := doInvoke(e, `{"messages":[]}`, "Bearer T")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "modelId is required", errorBody(t, rec))
	// No backend call, but the caller is known so the failure is accounted.
	assert.Equal(t, 0, b.calls)
	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, telemetry.EventError, records[0].EventType)
	assert.Equal(t, "c1", records[0].CustomerID)
}

func TestInvokeBackendError(t *testing.T) {
	b := &fakeBackend{invokeErr: errors.New("model not ready")}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	rec := doInvoke(e, `{"modelId":"m1","messages":[{"content":"hello"}]}`, "Bearer T")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "model not ready", errorBody(t, rec))

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, telemetry.EventError, records[0].EventType)
	assert.Equal(t, "model not ready", records[0].Error)
}

func TestPreflightShortCircuits(t *testing.T) {
	b := &fakeBackend{}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	req := httptest.NewRequest(http.MethodOptions, "/v1/invoke", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OPTIONS,POST", rec.Header().Get("Access-Control-Allow-Methods"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "CORS preflight response", body["message"])
	assert.Empty(t, sink.all())
}

func streamChunks() []map[string]any {
	return []map[string]any{
		{"content": []any{map[string]any{"type": "text", "text": "a"}}},
		{"completion": "b"},
		{"unknown_shape": true},
	}
}

func TestStreamLive(t *testing.T) {
	b := &fakeBackend{chunks: streamChunks()}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	rec := doInvoke(e, `{"modelId":"m1","stream":true,"messages":[{"content":"hello"}]}`, "Bearer T")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "data: {\"content\":\"a\"}\n\n")
	assert.Contains(t, body, "data: {\"content\":\"b\"}\n\n")
	assert.True(t, strings.HasSuffix(body, "data: [END]\n\n"), body)

	records := sink.all()
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, telemetry.EventStream, record.EventType)
	// Output tokens come from the concatenation of forwarded fragments.
	assert.Equal(t, 1, record.OutputTokens)
}

func TestStreamLiveMidStreamFault(t *testing.T) {
	b := &fakeBackend{chunks: streamChunks(), streamErr: errors.New("stream cut")}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	rec := doInvoke(e, `{"modelId":"m1","stream":true}`, "Bearer T")

	body := rec.Body.String()
	// Already-produced fragments are on the wire, then the failure signal
	// replaces the end marker.
	assert.Contains(t, body, "data: {\"content\":\"a\"}\n\n")
	assert.True(t, strings.HasSuffix(body, "data: [ERROR]\n\n"), body)
	assert.NotContains(t, body, "data: [END]")

	records := sink.all()
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, telemetry.EventError, record.EventType)
	assert.Equal(t, "c1", record.CustomerID)
	assert.Equal(t, "m1", record.ModelID)
	// Partial output accounting covers what was already forwarded.
	assert.Equal(t, 1, record.OutputTokens)
	assert.Contains(t, record.Error, "stream cut")
}

func TestStreamLiveClientDisconnect(t *testing.T) {
	b := &fakeBackend{chunks: []map[string]any{{"content": "a"}, {"content": "b"}}}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", strings.NewReader(`{"modelId":"m1","stream":true,"messages":[{"content":"hello"}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer T")
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	req = req.WithContext(ctx)

	// The caller goes away after the first fragment reaches the wire.
	b.afterChunk = func(delivered int) {
		if delivered == 1 {
			cancel()
		}
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	// Production stops at the disconnect; nothing past the first fragment
	// goes out and the stream terminates with the failure signal.
	body := rec.Body.String()
	assert.Contains(t, body, "data: {\"content\":\"a\"}\n\n")
	assert.NotContains(t, body, `"content":"b"`)
	assert.True(t, strings.HasSuffix(body, "data: [ERROR]\n\n"), body)

	// The partial record still lands even though the request context is gone.
	records := sink.all()
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, telemetry.EventError, record.EventType)
	assert.Equal(t, "c1", record.CustomerID)
	assert.Equal(t, 1, record.OutputTokens)
	assert.Contains(t, record.Error, context.Canceled.Error())
}

func TestStreamLivePreStreamFault(t *testing.T) {
	b := &fakeBackend{streamErr: errors.New("connection refused")}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	rec := doInvoke(e, `{"modelId":"m1","stream":true}`, "Bearer T")

	// No frames were written, so the fault is still a plain error response.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, errorBody(t, rec), "connection refused")

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, telemetry.EventError, records[0].EventType)
	assert.Equal(t, 0, records[0].OutputTokens)
}

// noFlushWriter hides the recorder's Flusher so the handler takes the
// buffered delivery mode.
type noFlushWriter struct {
	http.ResponseWriter
}

func doBufferedInvoke(e *echo.Echo, body, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authorization)
	rec := httptest.NewRecorder()
	e.ServeHTTP(noFlushWriter{rec}, req)
	return rec
}

func TestStreamBuffered(t *testing.T) {
	b := &fakeBackend{chunks: streamChunks()}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	rec := doBufferedInvoke(e, `{"modelId":"m1","stream":true}`, "Bearer T")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sequence []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sequence))
	require.Len(t, sequence, 3)
	assert.Equal(t, "a", sequence[0]["content"])
	assert.Equal(t, "b", sequence[1]["content"])
	assert.Equal(t, true, sequence[2]["done"])

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, telemetry.EventStream, records[0].EventType)
}

func TestStreamBufferedFaultReturnsNoPartialContent(t *testing.T) {
	b := &fakeBackend{chunks: streamChunks(), streamErr: errors.New("stream cut")}
	sink := &memorySink{}
	e := newGateway(t, b, activeStore(), sink)

	rec := doBufferedInvoke(e, `{"modelId":"m1","stream":true}`, "Bearer T")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, errorBody(t, rec), "stream cut")
	assert.NotContains(t, rec.Body.String(), `"content":"a"`)

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, telemetry.EventError, records[0].EventType)
}

func TestCrossModeEquivalence(t *testing.T) {
	chunks := []map[string]any{
		{"completion": "The"},
		{"content": " quick"},
		{"content": []any{map[string]any{"type": "text", "text": " brown fox"}}},
	}

	liveBackend := &fakeBackend{chunks: chunks}
	liveSink := &memorySink{}
	liveRec := doInvoke(newGateway(t, liveBackend, activeStore(), liveSink), `{"modelId":"m1","stream":true}`, "Bearer T")

	var liveText strings.Builder
	for _, line := range strings.Split(liveRec.Body.String(), "\n\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "[END]" {
			continue
		}
		var fragment map[string]string
		require.NoError(t, json.Unmarshal([]byte(data), &fragment))
		liveText.WriteString(fragment["content"])
	}

	bufferedBackend := &fakeBackend{chunks: chunks}
	bufferedSink := &memorySink{}
	bufferedRec := doBufferedInvoke(newGateway(t, bufferedBackend, activeStore(), bufferedSink), `{"modelId":"m1","stream":true}`, "Bearer T")

	var sequence []map[string]any
	require.NoError(t, json.Unmarshal(bufferedRec.Body.Bytes(), &sequence))
	var bufferedText strings.Builder
	for _, entry := range sequence {
		if text, ok := entry["content"].(string); ok {
			bufferedText.WriteString(text)
		}
	}

	assert.Equal(t, "The quick brown fox", liveText.String())
	assert.Equal(t, liveText.String(), bufferedText.String())

	liveRecords := liveSink.all()
	bufferedRecords := bufferedSink.all()
	require.Len(t, liveRecords, 1)
	require.Len(t, bufferedRecords, 1)
	assert.Equal(t, liveRecords[0].OutputTokens, bufferedRecords[0].OutputTokens)
}
