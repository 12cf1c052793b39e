package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/gazou/internal/artifact"
	"github.com/ashita-ai/gazou/internal/mcp"
	"github.com/ashita-ai/gazou/internal/model"
	"github.com/ashita-ai/gazou/internal/ratelimit"
	"github.com/ashita-ai/gazou/internal/server"
	"github.com/ashita-ai/gazou/internal/service/generation"
	"github.com/ashita-ai/gazou/internal/service/imagegen"
	"github.com/ashita-ai/gazou/internal/service/selection"
	"github.com/ashita-ai/gazou/internal/testutil"
)

type testServer struct {
	url    string
	store  *artifact.Store
	broker *server.Broker
}

type serverOption func(*server.ServerConfig)

func withLimiter(l ratelimit.Limiter) serverOption {
	return func(c *server.ServerConfig) { c.Limiter = l }
}

func withoutBroker() serverOption {
	return func(c *server.ServerConfig) { c.Broker = nil }
}

// downIndex is an index that cannot be reached.
type downIndex struct{}

func (downIndex) Ping(context.Context) error                    { return fmt.Errorf("closed") }
func (downIndex) CountArtifacts(context.Context) (int, error) { return 0, fmt.Errorf("closed") }

func withIndex(idx server.IndexHealth) serverOption {
	return func(c *server.ServerConfig) { c.Index = idx }
}

func withMaxBody(n int64) serverOption {
	return func(c *server.ServerConfig) { c.MaxRequestBodyBytes = n }
}

// newTestServer wires the full HTTP stack over a SQLite index and
// synthetic backends. A nil adapters map gets both tiers.
func newTestServer(t *testing.T, adapters map[model.Tier]imagegen.Adapter, opts ...serverOption) *testServer {
	t.Helper()
	logger := testutil.TestLogger()
	db := testutil.NewLiteDB(t)
	store, err := artifact.New(db, t.TempDir(), logger, artifact.WithThumbnailSize(32))
	require.NoError(t, err)

	if adapters == nil {
		adapters = map[model.Tier]imagegen.Adapter{
			model.TierFast:    imagegen.NewSyntheticAdapter("synthetic-flash"),
			model.TierQuality: imagegen.NewSyntheticAdapter("synthetic-pro"),
		}
	}
	gen := generation.New(selection.New(selection.DefaultLexicon()), adapters, store, logger,
		generation.WithMaxEdge(model.TierFast, 64),
		generation.WithMaxEdge(model.TierQuality, 96),
	)
	catalogue := selection.NewCatalogue("synthetic-flash", 64, "synthetic-pro", 96)
	broker := server.NewBroker(logger)
	mcpSrv := mcp.New(mcp.Deps{
		Generation:         gen,
		Artifacts:          store,
		Catalogue:          catalogue,
		Events:             broker,
		Logger:             logger,
		Version:            "test",
		MaxInputImageBytes: 1 << 20,
	})

	cfg := server.ServerConfig{
		Generation:          gen,
		Artifacts:           store,
		Catalogue:           catalogue,
		Logger:              logger,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Index:               db,
		Version:             "test",
		MaxRequestBodyBytes: 8 << 20,
		MaxInputImageBytes:  1 << 20,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv := httptest.NewServer(server.New(cfg).Handler())
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, store: store, broker: cfg.Broker}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// decodeData unwraps the standard response envelope into target.
func decodeData(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	var env struct {
		Data json.RawMessage    `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.NotEmpty(t, env.Meta.RequestID)
	require.NoError(t, json.Unmarshal(env.Data, target))
}

func decodeError(t *testing.T, resp *http.Response) model.ErrorDetail {
	t.Helper()
	var env model.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env.Error
}

func intPtr(n int) *int { return &n }

func generate(t *testing.T, ts *testServer, body model.GenerateRequest) model.GenerateResponse {
	t.Helper()
	resp := postJSON(t, ts.url+"/v1/generate", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out model.GenerateResponse
	decodeData(t, resp, &out)
	return out
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := get(t, ts.url+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health model.HealthResponse
	decodeData(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Index)
	assert.Equal(t, "test", health.Version)
	assert.Zero(t, health.Artifacts)

	generate(t, ts, model.GenerateRequest{Prompt: "a lighthouse", N: intPtr(2)})
	resp = get(t, ts.url+"/health")
	decodeData(t, resp, &health)
	assert.Equal(t, 2, health.Artifacts)
}

func TestHealthEndpointIndexDown(t *testing.T) {
	ts := newTestServer(t, nil, withIndex(downIndex{}))

	resp := get(t, ts.url+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var health model.HealthResponse
	decodeData(t, resp, &health)
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "disconnected", health.Index)
}

func TestTiersEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := get(t, ts.url+"/v1/tiers")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Tiers []selection.TierInfo `json:"tiers"`
	}
	decodeData(t, resp, &out)
	require.Len(t, out.Tiers, 2)
	assert.Equal(t, "synthetic-flash", out.Tiers[0].Model)
	assert.Equal(t, "synthetic-pro", out.Tiers[1].Model)
}

func TestGenerateEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	events := ts.broker.Subscribe()
	defer ts.broker.Unsubscribe(events)

	out := generate(t, ts, model.GenerateRequest{Prompt: "quick sketch of a lighthouse", N: intPtr(2)})

	assert.Equal(t, model.TierFast, out.Tier)
	assert.True(t, out.AutoSelected)
	assert.Equal(t, string(selection.RuleSpeedTerm), out.Rule)
	assert.Equal(t, "synthetic-flash", out.Model)
	assert.Equal(t, 2, out.Requested)
	assert.Equal(t, 2, out.Succeeded)
	assert.Zero(t, out.Failed)
	require.Len(t, out.Artifacts, 2)
	for _, a := range out.Artifacts {
		assert.NotEmpty(t, a.Thumbnail, "thumbnail should be inlined")
		assert.Equal(t, artifact.ThumbnailMIMEType, a.ThumbnailMIMEType)
		assert.Equal(t, "image/png", a.MIMEType)
	}

	select {
	case ev := <-events:
		assert.Contains(t, string(ev), "event: "+model.EventArtifactsCreated)
		assert.Contains(t, string(ev), out.Artifacts[0].ID.String())
	case <-time.After(time.Second):
		t.Fatal("expected an artifacts.created event")
	}
}

func TestGenerateExplicitTierOverridesLexicon(t *testing.T) {
	ts := newTestServer(t, nil)

	out := generate(t, ts, model.GenerateRequest{Prompt: "quick sketch", ModelTier: "pro"})
	assert.Equal(t, model.TierQuality, out.Tier)
	assert.False(t, out.AutoSelected)
	assert.Equal(t, "synthetic-pro", out.Model)
}

func TestGenerateLenientFieldsWarn(t *testing.T) {
	ts := newTestServer(t, nil)

	out := generate(t, ts, model.GenerateRequest{Prompt: "a lighthouse", ModelTier: "turbo"})
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "model_tier")
	assert.Equal(t, 1, out.Returned)
}

func TestGenerateValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name  string
		body  model.GenerateRequest
		field string
		code  string
	}{
		{"empty prompt", model.GenerateRequest{Prompt: "  "}, "prompt", model.CodeEmptyInput},
		{"too many images", model.GenerateRequest{Prompt: "x", N: intPtr(5)}, "n", model.CodeInvalidFormat},
		{"zero images", model.GenerateRequest{Prompt: "x", N: intPtr(0)}, "n", model.CodeInvalidFormat},
		{"bad resolution", model.GenerateRequest{Prompt: "x", Resolution: "8k"}, "resolution", model.CodeInvalidFormat},
		{"edit without reference", model.GenerateRequest{Prompt: "x", Mode: "edit"}, "mode", model.CodeInvalidMode},
		{"bad aspect ratio", model.GenerateRequest{Prompt: "x", AspectRatio: "7:3"}, "aspect_ratio", model.CodeInvalidFormat},
		{"empty inline image", model.GenerateRequest{Prompt: "x", InputImages: []model.InlineImageDTO{{}}}, "input_images[0]", model.CodeEmptyInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.url+"/v1/generate", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			detail := decodeError(t, resp)
			assert.Equal(t, model.ErrCodeInvalidInput, detail.Code)
			details, ok := detail.Details.(map[string]any)
			require.True(t, ok, "expected field details, got %T", detail.Details)
			assert.Equal(t, tt.field, details["field"])
			assert.Equal(t, tt.code, details["code"])
		})
	}
}

func TestGenerateRejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.url+"/v1/generate", "application/json",
		strings.NewReader(`{"prompt":"x","style":"noir"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, resp).Code)
}

func TestGenerateBodyTooLarge(t *testing.T) {
	ts := newTestServer(t, nil, withMaxBody(64))

	resp := postJSON(t, ts.url+"/v1/generate", model.GenerateRequest{Prompt: strings.Repeat("a", 200)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestGenerateInlineImageTooLarge(t *testing.T) {
	ts := newTestServer(t, nil)

	big := make([]byte, (1<<20)+1)
	resp := postJSON(t, ts.url+"/v1/generate", model.GenerateRequest{
		Prompt:      "make it blue",
		Mode:        "edit",
		InputImages: []model.InlineImageDTO{{Data: big, MIMEType: "image/png"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	details, ok := decodeError(t, resp).Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, model.CodeSizeExceeded, details["code"])
}

func TestGenerateEditWithInlineImage(t *testing.T) {
	var seen imagegen.Call
	edit := imagegen.Func(func(ctx context.Context, call imagegen.Call) ([]model.Image, error) {
		seen = call
		return []model.Image{{Data: testutil.PNG(t, 16, 16), MIMEType: "image/png"}}, nil
	})
	ts := newTestServer(t, map[model.Tier]imagegen.Adapter{model.TierFast: edit, model.TierQuality: edit})

	out := generate(t, ts, model.GenerateRequest{
		Prompt:      "make the sky orange",
		Mode:        "edit",
		InputImages: []model.InlineImageDTO{{Data: testutil.PNG(t, 8, 8)}},
	})
	assert.Equal(t, 1, out.Returned)
	require.Len(t, seen.References, 1)
	assert.Equal(t, "image/png", seen.References[0].MIMEType, "type sniffed from content")
}

func TestGeneratePartialFailure(t *testing.T) {
	var calls atomic.Int32
	flaky := imagegen.Func(func(ctx context.Context, call imagegen.Call) ([]model.Image, error) {
		if calls.Add(1) == 1 {
			return nil, &imagegen.Error{Kind: imagegen.Permanent, Op: "test", Err: assert.AnError}
		}
		return []model.Image{{Data: testutil.PNG(t, 8, 8), MIMEType: "image/png"}}, nil
	})
	ts := newTestServer(t, map[model.Tier]imagegen.Adapter{model.TierQuality: flaky})

	// Which attempt fails depends on scheduling; the totals do not.
	out := generate(t, ts, model.GenerateRequest{Prompt: "a lighthouse", N: intPtr(2)})
	assert.Equal(t, 2, out.Requested)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	assert.Len(t, out.Artifacts, 1)
}

func TestGenerateNoAdapter(t *testing.T) {
	ts := newTestServer(t, map[model.Tier]imagegen.Adapter{
		model.TierFast: imagegen.NewSyntheticAdapter("synthetic-flash"),
	})

	resp := postJSON(t, ts.url+"/v1/generate", model.GenerateRequest{Prompt: "a lighthouse", ModelTier: "pro"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, model.ErrCodeUnavailable, decodeError(t, resp).Code)
}

// readSSE collects (event, data) pairs until the stream closes.
func readSSE(t *testing.T, body io.Reader) [][2]string {
	t.Helper()
	var (
		out   [][2]string
		event string
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			out = append(out, [2]string{event, strings.TrimPrefix(line, "data: ")})
		}
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestGenerateEventStream(t *testing.T) {
	ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodPost, ts.url+"/v1/generate",
		strings.NewReader(`{"prompt":"quick sketch of a fox","n":3}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp.Body)
	require.NotEmpty(t, events)

	last := -1
	progress := 0
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, "progress", ev[0])
		var p struct {
			Percent int `json:"percent"`
		}
		require.NoError(t, json.Unmarshal([]byte(ev[1]), &p))
		assert.GreaterOrEqual(t, p.Percent, last, "progress must not go backwards")
		last = p.Percent
		progress++
	}
	assert.Equal(t, 100, last)
	assert.GreaterOrEqual(t, progress, 3)

	final := events[len(events)-1]
	require.Equal(t, "result", final[0])
	var out model.GenerateResponse
	require.NoError(t, json.Unmarshal([]byte(final[1]), &out))
	assert.Equal(t, 3, out.Returned)
}

func TestGenerateEventStreamError(t *testing.T) {
	ts := newTestServer(t, map[model.Tier]imagegen.Adapter{
		model.TierFast: imagegen.NewSyntheticAdapter("synthetic-flash"),
	})

	req, err := http.NewRequest(http.MethodPost, ts.url+"/v1/generate",
		strings.NewReader(`{"prompt":"a lighthouse","model_tier":"pro"}`))
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	events := readSSE(t, resp.Body)
	require.NotEmpty(t, events)
	final := events[len(events)-1]
	assert.Equal(t, "error", final[0])
	assert.Contains(t, final[1], model.ErrCodeUnavailable)
}

func TestArtifactLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	out := generate(t, ts, model.GenerateRequest{Prompt: "a lighthouse at dusk"})
	require.Len(t, out.Artifacts, 1)
	id := out.Artifacts[0].ID.String()

	full := get(t, ts.url+"/v1/artifacts/"+id)
	require.Equal(t, http.StatusOK, full.StatusCode)
	assert.Equal(t, "image/png", full.Header.Get("Content-Type"))
	fullBytes, err := io.ReadAll(full.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, fullBytes)

	thumb := get(t, ts.url+"/v1/artifacts/"+id+"/thumbnail")
	require.Equal(t, http.StatusOK, thumb.StatusCode)
	assert.Equal(t, artifact.ThumbnailMIMEType, thumb.Header.Get("Content-Type"))

	meta := get(t, ts.url+"/v1/artifacts/"+id+"/meta")
	require.Equal(t, http.StatusOK, meta.StatusCode)
	var a model.Artifact
	decodeData(t, meta, &a)
	assert.Equal(t, out.Artifacts[0].ID, a.ID)
	assert.Equal(t, int64(len(fullBytes)), a.SizeBytes)

	events := ts.broker.Subscribe()
	defer ts.broker.Unsubscribe(events)

	req, err := http.NewRequest(http.MethodDelete, ts.url+"/v1/artifacts/"+id, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	select {
	case ev := <-events:
		assert.Contains(t, string(ev), "event: "+model.EventArtifactsDeleted)
	case <-time.After(time.Second):
		t.Fatal("expected an artifacts.deleted event")
	}

	gone := get(t, ts.url+"/v1/artifacts/"+id)
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
	assert.Equal(t, model.ErrCodeNotFound, decodeError(t, gone).Code)
}

func TestArtifactInvalidID(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := get(t, ts.url+"/v1/artifacts/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, resp).Code)
}

func TestGenerateRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 1)
	defer func() { _ = limiter.Close() }()
	ts := newTestServer(t, nil, withLimiter(limiter))

	first := postJSON(t, ts.url+"/v1/generate", model.GenerateRequest{Prompt: "a lighthouse"})
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := postJSON(t, ts.url+"/v1/generate", model.GenerateRequest{Prompt: "a lighthouse"})
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.NotEmpty(t, second.Header.Get("Retry-After"))
	assert.Equal(t, model.ErrCodeRateLimited, decodeError(t, second).Code)

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, get(t, ts.url+"/v1/tiers").StatusCode)
}

func TestEventsWithoutBroker(t *testing.T) {
	ts := newTestServer(t, nil, withoutBroker())

	resp := get(t, ts.url+"/v1/events")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEventsStream(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.url+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return ts.broker.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	ts.broker.Publish(model.EventArtifactsEvicted, model.ArtifactEvent{Count: 2})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: artifacts.evicted\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"count":2`)
}

func TestMCPOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)

	c, err := mcpclient.NewStreamableHttpClient(ts.url + "/mcp")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	initResult, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "gazou", initResult.ServerInfo.Name)
	assert.Equal(t, "test", initResult.ServerInfo.Version)

	tools, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"generate_image", "get_artifact", "delete_artifact", "show_tiers"} {
		assert.True(t, names[want], "expected %s tool", want)
	}

	result, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "generate_image",
			Arguments: map[string]any{"prompt": "quick sketch of a boat"},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	var images int
	for _, content := range result.Content {
		if _, ok := content.(mcplib.ImageContent); ok {
			images++
		}
	}
	assert.Equal(t, 1, images, "one thumbnail per generated image")
}

func TestSecurityAndRequestIDHeaders(t *testing.T) {
	ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodGet, ts.url+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	var env model.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "req-123", env.Meta.RequestID)
}
