package mcp

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

const maxHTTPBody = 4 << 20

// ServeStreamableHTTP handles POST /mcp for MCP Streamable HTTP (JSON-RPC 2.0).
// It is stateless: there is no back-channel, so roots are never requested
// here and the allowed directories come from startup or a stateful session.
func (s *Server) ServeStreamableHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxHTTPBody)).Decode(&msg); err != nil {
		writeJSONRPCError(w, nil, codeParseError, "Parse error")
		return
	}
	if msg.JSONRPC != jsonRPCVersion || msg.Method == "" {
		writeJSONRPCError(w, msg.ID, codeInvalidRequest, "Invalid Request")
		return
	}
	if msg.isNotification() {
		s.notify(r.Context(), nil, &msg)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, rpcErr := s.handle(r.Context(), nil, &msg)
	if rpcErr != nil {
		writeJSONRPCError(w, msg.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	if msg.Method == "initialize" {
		w.Header().Set("Mcp-Session-Id", uuid.NewString())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{
		JSONRPC: jsonRPCVersion,
		ID:      msg.ID,
		Result:  result,
	})
}

func writeJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: msg},
	})
}
