// Package search finds PDF files inside the allowed directories.
package search

import (
	"bufio"
	"bytes"
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/qiuxsgit/pdf-mcp/internal/config"
	"github.com/qiuxsgit/pdf-mcp/internal/security"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50
)

var rgWarnOnce sync.Once

// RgAvailable returns true if ripgrep (rg) is installed and on PATH.
func RgAvailable() bool {
	_, err := exec.LookPath("rg")
	return err == nil
}

// Match is one PDF found.
type Match struct {
	Path     string    `json:"path"`
	Size     string    `json:"size"`
	Bytes    int64     `json:"bytes"`
	Modified time.Time `json:"modified"`
}

// Params for search.
type Params struct {
	// Query must occur, case-insensitively, in the path relative to its allowed directory.
	Query      string
	Limit      int
	IgnorePath string
}

// Sandbox is what Search needs from *security.Sandbox.
type Sandbox interface {
	ListAllowed() []string
	Validate(path string) security.Outcome
}

// Search lists PDFs under the current allowed directories. Every hit is
// validated through sb before it is reported. If ripgrep is installed it
// enumerates files; otherwise a built-in walk is used.
func Search(ctx context.Context, p Params, sb Sandbox, logger zerolog.Logger) ([]Match, error) {
	p.Limit = ClampLimit(p.Limit)
	roots := sb.ListAllowed()
	if len(roots) == 0 {
		return []Match{}, security.ErrNoAllowedDirectories
	}

	data, err := config.ReadIgnoreFile(p.IgnorePath)
	if err != nil {
		logger.Warn().Err(err).Str("path", p.IgnorePath).Msg("cannot read ignore file, using defaults")
		data = []byte(config.DefaultIgnoreContent)
	}
	rules := ParseIgnoreRules(data)

	var found []string
	if RgAvailable() {
		found, err = listWithRg(ctx, roots, p.IgnorePath)
		if err != nil {
			logger.Warn().Err(err).Msg("ripgrep failed, falling back to built-in walk")
			found = nil
		}
	} else {
		rgWarnOnce.Do(func() {
			logger.Info().Msg("ripgrep (rg) not installed, using built-in directory walk")
		})
	}
	if found == nil {
		found = walk(ctx, roots, rules)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return collect(found, roots, p, rules, sb), nil
}

// ClampLimit applies the default and maximum result counts.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// listWithRg asks ripgrep for the PDF files under roots.
func listWithRg(ctx context.Context, roots []string, ignorePath string) ([]string, error) {
	args := []string{"--files", "--no-messages", "--iglob", "*.pdf"}
	for dir := range fixedIgnoreDirs {
		args = append(args, "-g", "!"+dir)
	}
	if ignorePath != "" {
		args = append(args, "--ignore-file", ignorePath)
	}
	args = append(args, "--")
	args = append(args, roots...)

	cmd := exec.CommandContext(ctx, "rg", args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		// rg exits 1 when nothing matched.
		if cmd.ProcessState == nil || cmd.ProcessState.ExitCode() != 1 {
			return nil, err
		}
	}
	found := []string{}
	sc := bufio.NewScanner(&stdout)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			found = append(found, line)
		}
	}
	return found, sc.Err()
}

// walk lists the PDF files under roots, pruning ignored directories.
func walk(ctx context.Context, roots []string, rules *IgnoreRules) []string {
	found := []string{}
	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return filepath.SkipAll
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			if d.IsDir() {
				if path != root && rules.ShouldIgnore(filepath.ToSlash(rel), true) {
					return filepath.SkipDir
				}
				return nil
			}
			if isPDFName(path) {
				found = append(found, path)
			}
			return nil
		})
	}
	return found
}

func collect(found, roots []string, p Params, rules *IgnoreRules, sb Sandbox) []Match {
	query := strings.ToLower(strings.TrimSpace(p.Query))
	seen := make(map[string]bool, len(found))
	matches := []Match{}
	for _, path := range found {
		if !isPDFName(path) {
			continue
		}
		rel := relativeToAny(roots, path)
		if rules.ShouldIgnore(rel, false) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(rel), query) {
			continue
		}
		out := sb.Validate(path)
		if !out.OK() || seen[out.Path] {
			continue
		}
		info, err := os.Stat(out.Path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		seen[out.Path] = true
		matches = append(matches, Match{
			Path:     out.Path,
			Size:     humanize.IBytes(uint64(info.Size())),
			Bytes:    info.Size(),
			Modified: info.ModTime().UTC(),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
	if len(matches) > p.Limit {
		matches = matches[:p.Limit]
	}
	return matches
}

func isPDFName(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// relativeToAny returns path relative to the first root containing it, slash-separated.
func relativeToAny(roots []string, path string) string {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(filepath.Base(path))
}
