package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/qiuxsgit/pdf-mcp/internal/config"
	"github.com/qiuxsgit/pdf-mcp/internal/db"
	"github.com/qiuxsgit/pdf-mcp/internal/mcp"
	"github.com/qiuxsgit/pdf-mcp/internal/security"
	"github.com/qiuxsgit/pdf-mcp/internal/transport"
)

// Options configure the HTTP surface.
type Options struct {
	Addr       string
	IgnoreFile string
	// JWTSecret enables bearer-token auth (HS256) on every route but /health.
	JWTSecret      string
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Server holds config and serves HTTP.
type Server struct {
	Addr       string
	IgnoreFile string
	mcp        *mcp.Server
	sandbox    *security.Sandbox
	journal    *db.Store
	auth       *tokenAuth
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// New creates a new Server. journal may be nil (journal disabled).
func New(mcpServer *mcp.Server, sb *security.Sandbox, journal *db.Store, opts Options) *Server {
	s := &Server{
		Addr:       opts.Addr,
		IgnoreFile: opts.IgnoreFile,
		mcp:        mcpServer,
		sandbox:    sb,
		journal:    journal,
		logger:     opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     buildOriginChecker(opts.AllowedOrigins),
		},
	}
	if opts.JWTSecret != "" {
		s.auth = &tokenAuth{secret: []byte(opts.JWTSecret)}
	}
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// MCP Streamable HTTP (stateless) and a stateful MCP session per websocket.
	mux.HandleFunc("POST /mcp", s.mcp.ServeStreamableHTTP)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// API: allowed directories and the journal
	mux.HandleFunc("GET /api/directories", s.apiListDirectories)
	mux.HandleFunc("GET /api/access-log", s.apiAccessLog)
	mux.HandleFunc("GET /api/root-events", s.apiRootEvents)

	// API: ignore file for find_pdf_files (gitignore format)
	mux.HandleFunc("GET /api/ignore-file", s.apiGetIgnoreFile)
	mux.HandleFunc("PUT /api/ignore-file", s.apiPutIgnoreFile)

	if s.auth != nil {
		return s.auth.middleware(mux)
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	sess := s.mcp.NewSession(transport.NewWebSocket(conn))
	log := s.logger.With().Str("session", sess.ID).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("websocket session started")
	if err := sess.Serve(r.Context()); err != nil {
		log.Warn().Err(err).Msg("websocket session ended")
		return
	}
	log.Info().Msg("websocket session closed")
}

func (s *Server) apiListDirectories(w http.ResponseWriter, r *http.Request) {
	dirs := s.sandbox.ListAllowed()
	if dirs == nil {
		dirs = []string{}
	}
	writeJSON(w, map[string]any{"directories": dirs, "ready": len(dirs) > 0})
}

func (s *Server) apiAccessLog(w http.ResponseWriter, r *http.Request) {
	list, err := s.journal.RecentAccess(r.Context(), queryLimit(r))
	if err != nil {
		s.logger.Error().Err(err).Msg("list access log")
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (s *Server) apiRootEvents(w http.ResponseWriter, r *http.Request) {
	list, err := s.journal.RecentRootEvents(r.Context(), queryLimit(r))
	if err != nil {
		s.logger.Error().Err(err).Msg("list root events")
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (s *Server) apiGetIgnoreFile(w http.ResponseWriter, r *http.Request) {
	if s.IgnoreFile == "" {
		http.Error(w, "ignore file not configured", http.StatusNotFound)
		return
	}
	data, err := config.ReadIgnoreFile(s.IgnoreFile)
	if err != nil {
		s.logger.Error().Err(err).Msg("read ignore file")
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) apiPutIgnoreFile(w http.ResponseWriter, r *http.Request) {
	if s.IgnoreFile == "" {
		http.Error(w, "ignore file not configured", http.StatusNotFound)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "body read failed", http.StatusBadRequest)
		return
	}
	if err := config.WriteIgnoreFile(s.IgnoreFile, data); err != nil {
		s.logger.Error().Err(err).Msg("write ignore file")
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
