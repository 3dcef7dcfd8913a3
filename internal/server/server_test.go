package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sojourn/internal/bundle"
	"github.com/conneroisu/sojourn/internal/config"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/registry"
)

const site = `
templates:
  - name: greet
    params:
      - {name: name, type: string}
      - {name: user, type: "?string", injected: true, optional: true}
    body:
      - "Hello, "
      - print: {param: name}
      - if: {op: "!=", args: [{ij: user}, null]}
        then: [" from ", {print: {ij: user}}]
  - name: rows
    params: [{name: items}]
    body:
      - for: item
        in: {param: items}
        body: [{print: {var: item}}, ";"]
  - name: style
    kind: css
    body: ["a{}"]
`

func buildRegistry(t *testing.T, src string) *registry.Registry {
	t.Helper()
	ts, err := bundle.Parse([]byte(src), "site.yaml")
	require.NoError(t, err)
	reg, err := registry.Build(ts, registry.Options{})
	require.NoError(t, err)
	return reg
}

func testConfig(port int) *config.Config {
	return &config.Config{
		Render: config.RenderConfig{SoftLimit: 2},
		Server: config.ServerConfig{Host: "127.0.0.1", Port: port},
		Log:    config.LogConfig{Level: "info"},
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(testConfig(0), registry.NewHolder(buildRegistry(t, site)), nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHandleRender(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name        string
		path        string
		status      int
		contentType string
		body        string
	}{
		{"query params", "/render/greet?name=Ann", 200, "text/html; charset=utf-8", "Hello, Ann"},
		{"injected query params", "/render/greet?name=Ann&ij.user=Bo", 200, "text/html; charset=utf-8", "Hello, Ann from Bo"},
		{"repeated params form a list", "/render/rows?items=a&items=b&items=c", 200, "text/html; charset=utf-8", "a;b;c;"},
		{"content kind picks the type", "/render/style", 200, "text/css; charset=utf-8", "a{}"},
		{"unknown template", "/render/nope", 404, "application/json", serrors.ErrCodeTemplateNotFound},
		{"missing param", "/render/greet", 400, "application/json", serrors.ErrCodeMissingParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, ts.URL+tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.contentType, resp.Header.Get("Content-Type"))
			assert.Contains(t, body, tt.body)
		})
	}
}

func TestHandleRenderPostJSON(t *testing.T) {
	_, ts := newTestServer(t)

	body := `{"params": {"items": [1, 2.5, "x"]}}`
	resp, err := http.Post(ts.URL+"/render/rows", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1;2.5;x;", string(got))

	resp, err = http.Post(ts.URL+"/render/rows", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleTemplates(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/templates")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []registry.TemplateInfo
	require.NoError(t, json.Unmarshal([]byte(body), &infos))
	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"greet", "rows", "style"}, names)
	assert.Equal(t, "css", infos[2].Kind)
	require.Len(t, infos[0].Params, 2)
	assert.True(t, infos[0].Params[1].Injected)
}

func TestHandleHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := get(t, ts.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(3), health["templates"])

	empty := httptest.NewServer(New(testConfig(0), registry.NewHolder(nil), nil).Handler())
	defer empty.Close()
	_, body = get(t, empty.URL+"/health")
	assert.Contains(t, body, `"degraded"`)
	resp, _ = get(t, empty.URL+"/templates")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	s := New(testConfig(8080), registry.NewHolder(nil), nil)
	handler := s.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/templates", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:8080", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/templates", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestWebSocketRenderStreamsFlushes(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts.URL, "/ws/render/rows?items=aa&items=bb&items=cc"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var messages []string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err), "got %v", err)
			break
		}
		messages = append(messages, string(data))
	}
	assert.Equal(t, "aa;bb;cc;", strings.Join(messages, ""))
	assert.Greater(t, len(messages), 1, "the soft limit splits output into several messages")
}

func TestWebSocketRenderError(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts.URL, "/ws/render/nope"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestReloadNotifications(t *testing.T) {
	holder := registry.NewHolder(buildRegistry(t, site))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	s := New(testConfig(port), holder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	base := "http://127.0.0.1:" + strconv.Itoa(port)
	conn, _, err := websocket.Dial(ctx, wsURL(base, "/ws"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	holder.Swap(buildRegistry(t, "templates: [{name: greet, body: [hi]}, {name: fresh, body: [new]}]"))

	got := map[string]string{}
	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	for len(got) < 4 {
		_, data, err := conn.Read(readCtx)
		require.NoError(t, err)
		var msg UpdateMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		got[msg.Target] = msg.Type
	}
	assert.Equal(t, map[string]string{
		"fresh": "template_added",
		"greet": "template_updated",
		"rows":  "template_removed",
		"style": "template_removed",
	}, got)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, s.Shutdown(shutdownCtx))
	require.NoError(t, <-done)
	assert.Equal(t, 0, s.ClientCount())
}
