package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/qiuxsgit/pdf-mcp/internal/db"
	"github.com/qiuxsgit/pdf-mcp/internal/search"
	"github.com/qiuxsgit/pdf-mcp/internal/security"
)

type extractArgs struct {
	Path     string `json:"path"`
	MaxChars int    `json:"max_chars,omitempty"`
}

type findArgs struct {
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// FindResponse is the JSON text returned by find_pdf_files.
type FindResponse struct {
	Matches []search.Match `json:"matches"`
}

func (s *Server) handleToolsList() *toolsListResult {
	return &toolsListResult{
		Tools: []toolDef{
			{
				Name: "extract_pdf_text",
				Description: "Extract text content from PDF files with optional character limiting. " +
					"This tool reads PDF files and extracts their text content. Supports limiting the output " +
					"size via max_chars parameter to prevent context overflow. Only works with PDF files " +
					"containing embedded text - scanned PDFs without OCR won't work. Only works within allowed directories.",
				InputSchema: inputSchema{
					Type: "object",
					Properties: map[string]propDef{
						"path":      {Type: "string", Description: "Path to PDF file within allowed directories"},
						"max_chars": {Type: "number", Description: "Maximum characters to return (default: unlimited)"},
					},
					Required: []string{"path"},
				},
			},
			{
				Name: "list_allowed_directories",
				Description: "Returns the list of directories that this server is allowed to access. " +
					"Subdirectories within these allowed directories are also accessible. Use this to understand " +
					"which directories and their nested paths are available before trying to access PDF files.",
				InputSchema: inputSchema{
					Type:       "object",
					Properties: map[string]propDef{},
					Required:   []string{},
				},
			},
			{
				Name: "find_pdf_files",
				Description: "Find PDF files inside the allowed directories whose path contains the query " +
					"(case-insensitive). Returns path, size and modification time for each file. " +
					"Use the returned paths with extract_pdf_text.",
				InputSchema: inputSchema{
					Type: "object",
					Properties: map[string]propDef{
						"query": {Type: "string", Description: "Optional. Substring of the file path relative to its allowed directory. Omit to list all PDFs."},
						"limit": {Type: "number", Description: "Optional. Max number of files to return. Default 10, max 50."},
					},
					Required: []string{},
				},
			},
		},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (*toolsCallResult, *RPCError) {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: "Invalid params"}
	}

	var text string
	var err error
	switch p.Name {
	case "extract_pdf_text":
		text, err = s.extractPDFText(ctx, p.Arguments)
	case "list_allowed_directories":
		text = s.listAllowedDirectories()
	case "find_pdf_files":
		text, err = s.findPDFFiles(ctx, p.Arguments)
	default:
		err = fmt.Errorf("unknown tool: %s", p.Name)
	}
	if err != nil {
		s.logger.Debug().Str("tool", p.Name).Err(err).Msg("tool failed")
		return &toolsCallResult{
			Content: []contentItem{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		}, nil
	}
	return &toolsCallResult{Content: []contentItem{{Type: "text", Text: text}}}, nil
}

func (s *Server) extractPDFText(ctx context.Context, raw map[string]any) (string, error) {
	var args extractArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments for extract_pdf_text: %w", err)
	}
	if strings.TrimSpace(args.Path) == "" {
		return "", errors.New("invalid arguments for extract_pdf_text: path is required")
	}

	out := s.sandbox.Validate(args.Path)
	s.record(ctx, "extract_pdf_text", args.Path, out)
	if !out.OK() {
		return "", out.Err()
	}
	res, err := s.extractor.Extract(ctx, out.Path, args.MaxChars)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (s *Server) listAllowedDirectories() string {
	dirs := s.sandbox.ListAllowed()
	if len(dirs) == 0 {
		return "No allowed directories configured"
	}
	return strings.Join(dirs, "\n")
}

func (s *Server) findPDFFiles(ctx context.Context, raw map[string]any) (string, error) {
	var args findArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments for find_pdf_files: %w", err)
	}
	matches, err := search.Search(ctx, search.Params{
		Query:      args.Query,
		Limit:      args.Limit,
		IgnorePath: s.opts.IgnoreFile,
	}, s.sandbox, s.logger)
	if err != nil {
		return "", err
	}
	text, err := json.Marshal(FindResponse{Matches: matches})
	if err != nil {
		return "", err
	}
	return string(text), nil
}

// record journals a path decision; journal failures are only logged.
func (s *Server) record(ctx context.Context, tool, requested string, out security.Outcome) {
	if s.journal == nil {
		return
	}
	decision := "approved"
	if !out.OK() {
		decision = "denied"
	}
	err := s.journal.RecordAccess(ctx, db.AccessEntry{
		Tool:      tool,
		Requested: requested,
		Resolved:  out.Path,
		Decision:  decision,
		Reason:    out.Reason.String(),
		LinkCount: out.LinkCount,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("journal access")
	}
}

func decodeArgs(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: out, TagName: "json"})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
