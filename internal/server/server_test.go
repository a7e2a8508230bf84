package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiuxsgit/pdf-mcp/internal/db"
	"github.com/qiuxsgit/pdf-mcp/internal/mcp"
	"github.com/qiuxsgit/pdf-mcp/internal/pdf"
	"github.com/qiuxsgit/pdf-mcp/internal/pdf/pdftest"
	"github.com/qiuxsgit/pdf-mcp/internal/security"
)

type harness struct {
	dir     string
	sandbox *security.Sandbox
	journal *db.Store
	http    *httptest.Server
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	journal, err := db.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	sb := security.NewSandbox([]string{dir}, security.Options{
		Convention: security.HostConvention(),
		Logger:     zerolog.Nop(),
		OnRootsReplaced: func(source string, dirs []string) {
			_ = journal.RecordRootEvent(context.Background(), db.RootEvent{Source: source, Dirs: dirs})
		},
	})
	ex, err := pdf.NewExtractor(sb, pdf.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	mcpServer := mcp.NewServer(sb, ex, journal, mcp.Options{IgnoreFile: opts.IgnoreFile, Logger: zerolog.Nop()})
	opts.Logger = zerolog.Nop()
	srv := New(mcpServer, sb, journal, opts)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &harness{dir: dir, sandbox: sb, journal: journal, http: ts}
}

func (h *harness) do(t *testing.T, method, path, body, token string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, h.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func signToken(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, jwt.MapClaims{"sub": "tester", "exp": exp.Unix()}).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestHealthAndDirectories(t *testing.T) {
	h := newHarness(t, Options{})

	resp, body := h.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)

	resp, body = h.do(t, http.MethodGet, "/api/directories", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Directories []string `json:"directories"`
		Ready       bool     `json:"ready"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, []string{h.dir}, got.Directories)
	assert.True(t, got.Ready)
}

func TestMCPOverHTTPIsJournaled(t *testing.T) {
	h := newHarness(t, Options{})
	path := filepath.Join(h.dir, "doc.pdf")
	require.NoError(t, os.WriteFile(path, pdftest.Document("journal me"), 0o644))

	call := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"extract_pdf_text","arguments":{"path":` +
		strings.TrimSpace(mustJSON(t, path)) + `}}}`
	resp, body := h.do(t, http.MethodPost, "/mcp", call, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "journal me")

	resp, body = h.do(t, http.MethodGet, "/api/access-log?limit=5", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []db.AccessEntry
	require.NoError(t, json.Unmarshal([]byte(body), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "extract_pdf_text", entries[0].Tool)
	assert.Equal(t, path, entries[0].Resolved)
	assert.Equal(t, "approved", entries[0].Decision)
}

func TestWebSocketSessionAppliesRoots(t *testing.T) {
	h := newHarness(t, Options{})
	other, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{"roots": map[string]any{"listChanged": true}},
		"clientInfo":      map[string]any{"name": "ws-test", "version": "1"},
	}}))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, float64(1), msg["id"])

	require.NoError(t, conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "notifications/initialized"}))
	msg = nil
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "roots/list", msg["method"])
	require.NoError(t, conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": msg["id"], "result": map[string]any{
		"roots": []any{map[string]any{"uri": "file://" + filepath.ToSlash(other)}},
	}}))

	require.Eventually(t, func() bool {
		got := h.sandbox.ListAllowed()
		return len(got) == 1 && got[0] == other
	}, 5*time.Second, 10*time.Millisecond)

	var events []db.RootEvent
	require.Eventually(t, func() bool {
		_, body := h.do(t, http.MethodGet, "/api/root-events", "", "")
		events = nil
		return json.Unmarshal([]byte(body), &events) == nil && len(events) > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "roots/list", events[0].Source)
	assert.Equal(t, []string{other}, events[0].Dirs)
}

func TestWebSocketOriginCheck(t *testing.T) {
	h := newHarness(t, Options{AllowedOrigins: []string{"https://app.example.com"}})
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://APP.example.com"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestOriginCheckerDefaults(t *testing.T) {
	check := buildOriginChecker(nil)
	req := httptest.NewRequest(http.MethodGet, "http://localhost:6688/ws", nil)
	assert.True(t, check(req), "no Origin header")

	req.Header.Set("Origin", "http://localhost:6688")
	assert.True(t, check(req), "same host")

	req.Header.Set("Origin", "http://attacker.test")
	assert.False(t, check(req))

	req.Header.Set("Origin", "not a url")
	assert.False(t, check(req))
}

func TestAuth(t *testing.T) {
	const secret = "test-secret"
	h := newHarness(t, Options{JWTSecret: secret})

	resp, _ := h.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/directories", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")

	good := signToken(t, secret, jwt.SigningMethodHS256, time.Now().Add(time.Hour))
	resp, _ = h.do(t, http.MethodGet, "/api/directories", "", good)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for name, tok := range map[string]string{
		"wrong secret": signToken(t, "other", jwt.SigningMethodHS256, time.Now().Add(time.Hour)),
		"expired":      signToken(t, secret, jwt.SigningMethodHS256, time.Now().Add(-time.Hour)),
		"wrong alg":    signToken(t, secret, jwt.SigningMethodHS512, time.Now().Add(time.Hour)),
		"garbage":      "abc.def.ghi",
	} {
		resp, _ = h.do(t, http.MethodGet, "/api/directories", "", tok)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, name)
	}

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	_, wsResp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, wsResp.StatusCode)
	conn, _, err := websocket.DefaultDialer.Dial(url+"?access_token="+good, nil)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestIgnoreFileAPI(t *testing.T) {
	ignore := filepath.Join(t.TempDir(), "pdf-ignore")
	h := newHarness(t, Options{IgnoreFile: ignore})

	resp, body := h.do(t, http.MethodGet, "/api/ignore-file", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "pdf-mcp ignore rules")

	resp, _ = h.do(t, http.MethodPut, "/api/ignore-file", "drafts/\n", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	data, err := os.ReadFile(ignore)
	require.NoError(t, err)
	assert.Equal(t, "drafts/\n", string(data))

	h2 := newHarness(t, Options{})
	resp, _ = h2.do(t, http.MethodGet, "/api/ignore-file", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
