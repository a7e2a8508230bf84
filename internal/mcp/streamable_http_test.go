package mcp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postMCP(t *testing.T, s *Server, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeStreamableHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		return rec, nil
	}
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return rec, m
}

func TestStreamableHTTP(t *testing.T) {
	e := newEnv(t, true)

	rec, resp := postMCP(t, e.server, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{"roots":{}},"clientInfo":{"name":"inspector","version":"0"}}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))
	result := resp["result"].(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	assert.Equal(t, "pdf-mcp", result["serverInfo"].(map[string]any)["name"])

	rec, _ = postMCP(t, e.server, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{e.dir}, e.sandbox.ListAllowed(), "no roots are fetched over stateless HTTP")

	_, resp = postMCP(t, e.server, `{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{"name":"list_allowed_directories","arguments":{}}}`)
	assert.Equal(t, "a", resp["id"])
	text, isErr := toolText(t, resp)
	assert.False(t, isErr)
	assert.Equal(t, e.dir, text)

	_, resp = postMCP(t, e.server, `{"jsonrpc":"2.0","id":2,"method":"nope"}`)
	assert.Equal(t, float64(codeMethodNotFound), resp["error"].(map[string]any)["code"])

	_, resp = postMCP(t, e.server, `{"jsonrpc":"2.0","id":3`)
	assert.Equal(t, float64(codeParseError), resp["error"].(map[string]any)["code"])
	assert.Contains(t, resp, "id")

	_, resp = postMCP(t, e.server, `{"jsonrpc":"2.0","id":4}`)
	assert.Equal(t, float64(codeInvalidRequest), resp["error"].(map[string]any)["code"])
}

func TestStreamableHTTPRejectsGet(t *testing.T) {
	e := newEnv(t, true)
	rec := httptest.NewRecorder()
	e.server.ServeStreamableHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
