package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/tcwebhook/internal/api"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/config"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/engine"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/event"
	"github.com/gyaneshwarpardhi/tcwebhook/internal/fetch"
)

const buildDoc = `{"buildTypeId":"MyProj_Build","webUrl":"http://x/build/1","statusText":"FAILURE","triggered":{"user":{"username":"alice"}}}`

const testConfig = `
version: v1
resource_api:
  base_url: http://teamcity:8111
  fields: id,webUrl
engine:
  workers: 2
  queue_depth: 10
  event_timeout_ms: 2000
`

type testServer struct {
	handler http.Handler
	path    string

	mu     sync.Mutex
	fields []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	path := filepath.Join(t.TempDir(), "webhook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	loader, err := config.NewLoader(path)
	require.NoError(t, err)

	ts := &testServer{path: path}
	docs := map[string]string{
		"/resource/builds/promotionId:12": buildDoc,
		"/resource/builds/promotionId:13": `{"buildTypeId":"MyProj_Build"}`,
		"/resource/agents/id:4":           `{"id":4,"name":"agent-4"}`,
	}
	f := fetch.FetcherFunc(func(ctx context.Context, p, fields string) ([]byte, error) {
		ts.mu.Lock()
		ts.fields = append(ts.fields, fields)
		ts.mu.Unlock()
		doc, ok := docs[p]
		if !ok {
			return nil, errors.New("status 404")
		}
		return []byte(doc), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New(ctx, f, engine.DefaultRegistry(slog.Default()), loader.Config().Engine)
	t.Cleanup(func() {
		cancel()
		eng.Shutdown()
	})
	ts.handler = api.New(eng, loader)
	return ts
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestRenderPayload_Feishu(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(http.MethodPost, "/v1/payloads",
		`{"id":"evt-1","event_type":"BUILD_FINISHED","object_id":12,"format":"feishu"}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "evt-1", rr.Header().Get("X-Event-Id"))
	assert.Equal(t, "feishu", rr.Header().Get("X-Payload-Format"))
	assert.Empty(t, rr.Header().Get("X-Payload-Partial"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), `{"msg_type":"post"`))
	assert.Equal(t, []string{"id,webUrl"}, ts.fields)
}

func TestRenderPayload_DefaultsToGeneric(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(http.MethodPost, "/v1/payloads",
		`{"event_type":"AGENT_REGISTERED","object_id":"4","fields":"id"}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"eventType":"AGENT_REGISTERED","payload":{"id":4,"name":"agent-4"}}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Event-Id"))
	assert.Equal(t, []string{"id"}, ts.fields)
}

func TestRenderPayload_Partial(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(http.MethodPost, "/v1/payloads",
		`{"event_type":"BUILD_FINISHED","object_id":13,"format":"feishu"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "true", rr.Header().Get("X-Payload-Partial"))
	assert.Contains(t, rr.Header().Get("X-Payload-Diagnostic"), "webUrl")
	assert.Contains(t, rr.Body.String(), "project: MyProj_Build")
}

func TestRenderPayload_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "bad json", body: `{`, code: http.StatusBadRequest},
		{name: "missing type", body: `{"object_id":1}`, code: http.StatusBadRequest},
		{name: "missing object", body: `{"event_type":"BUILD_FINISHED"}`, code: http.StatusBadRequest},
		{name: "traversal object", body: `{"event_type":"BUILD_FINISHED","object_id":"1/../../users"}`, code: http.StatusBadRequest},
		{name: "dot object", body: `{"event_type":"AGENT_REMOVED","object_id":".."}`, code: http.StatusBadRequest},
		{name: "unsupported", body: `{"event_type":"PROJECT_CREATED","object_id":1}`, code: http.StatusUnprocessableEntity},
		{name: "fetch failure", body: `{"event_type":"BUILD_FINISHED","object_id":404}`, code: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rr := ts.do(http.MethodPost, "/v1/payloads", tt.body)
			assert.Equal(t, tt.code, rr.Code)

			var out map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestRenderBatch(t *testing.T) {
	ts := newTestServer(t)
	body := `[
		{"id":"a","event_type":"BUILD_FINISHED","object_id":12,"format":"feishu"},
		{"id":"b","event_type":"UNKNOWN","object_id":1},
		{"id":"c","event_type":"BUILD_STARTED","object_id":13,"format":"feishu"}
	]`
	rr := ts.do(http.MethodPost, "/v1/payloads/batch", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var out struct {
		JobID    string `json:"job_id"`
		Total    int    `json:"total"`
		Rendered int    `json:"rendered"`
		Failed   int    `json:"failed"`
		Results  []struct {
			EventID    string          `json:"event_id"`
			Payload    json.RawMessage `json:"payload"`
			Partial    bool            `json:"partial"`
			Diagnostic string          `json:"diagnostic"`
			Error      string          `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.NotEmpty(t, out.JobID)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.Rendered)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Results, 3)

	assert.Equal(t, "a", out.Results[0].EventID)
	assert.Contains(t, string(out.Results[0].Payload), "triggerman: alice")
	assert.Contains(t, out.Results[1].Error, "unsupported event type")
	assert.True(t, out.Results[2].Partial)
	assert.NotEmpty(t, out.Results[2].Diagnostic)
}

func TestRenderBatch_Limits(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/payloads/batch", `[]`).Code)

	items := make([]string, 101)
	for i := range items {
		items[i] = `{"event_type":"BUILD_FINISHED","object_id":12}`
	}
	rr := ts.do(http.MethodPost, "/v1/payloads/batch", "["+strings.Join(items, ",")+"]")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEventSupport(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodGet, "/v1/events/BUILD_INTERRUPTED/support", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"event_type":"BUILD_INTERRUPTED","supported":true,"kind":"BUILD","path_prefix":"/resource/builds/promotionId:"}`, rr.Body.String())

	rr = ts.do(http.MethodGet, "/v1/events/SERVER_STARTUP/support", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"event_type":"SERVER_STARTUP","supported":false}`, rr.Body.String())
}

func TestListKindsAndFormats(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodGet, "/v1/kinds", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"AGENT"`)
	assert.Contains(t, rr.Body.String(), `"name":"BUILD"`)

	rr = ts.do(http.MethodGet, "/v1/formats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"formats":["feishu","generic-chat"],"fallback":"generic-chat","default":"generic-chat"}`, rr.Body.String())
}

func TestReloadConfig(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, os.WriteFile(ts.path, []byte(testConfig+"render:\n  default_format: feishu\n"), 0o600))

	rr := ts.do(http.MethodPost, "/v1/config/reload", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"default_format":"feishu"`)

	rr = ts.do(http.MethodPost, "/v1/payloads", `{"event_type":"BUILD_FINISHED","object_id":12}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "feishu", rr.Header().Get("X-Payload-Format"))

	require.NoError(t, os.WriteFile(ts.path, []byte("version: v1\n"), 0o600))
	rr = ts.do(http.MethodPost, "/v1/config/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "").Code)

	rr := ts.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ready"`)
}

func TestReadyz_OverloadedQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	loader, err := config.NewLoader(path)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	blocking := fetch.FetcherFunc(func(ctx context.Context, p, fields string) ([]byte, error) {
		started <- struct{}{}
		<-release
		return []byte(buildDoc), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New(ctx, blocking, engine.DefaultRegistry(slog.Default()), config.EngineConf{
		Workers:        1,
		QueueDepth:     1,
		EventTimeoutMs: 5000,
	})
	handler := api.New(eng, loader)

	req := engine.Request{Event: event.Event{Type: event.BuildFinished, ObjectID: "12"}}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = eng.ProcessSync(context.Background(), req)
	}()
	<-started // the only worker is busy
	go func() {
		defer wg.Done()
		_, _ = eng.ProcessSync(context.Background(), req)
	}()
	require.Eventually(t, func() bool { return eng.QueueUtilization() == 1 }, time.Second, 5*time.Millisecond)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"overloaded"`)

	close(release)
	wg.Wait()
	cancel()
	eng.Shutdown()

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/v1/payloads", `{"event_type":"BUILD_FINISHED","object_id":12}`)

	rr := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, bytes.Contains(rr.Body.Bytes(), []byte("webhook_payloads_rendered_total")))
}
