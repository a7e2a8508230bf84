package search

import (
	"path"
	"strings"
)

// Directories never searched, whatever the ignore file says.
var fixedIgnoreDirs = map[string]bool{
	".git": true, "node_modules": true, ".Trash": true, "$RECYCLE.BIN": true,
}

// IgnoreRules is a parsed gitignore-style file: one pattern per non-empty,
// non-comment line.
type IgnoreRules struct {
	patterns []string
}

// ParseIgnoreRules parses raw gitignore-style content.
func ParseIgnoreRules(data []byte) *IgnoreRules {
	r := &IgnoreRules{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r.patterns = append(r.patterns, line)
	}
	return r
}

// ShouldIgnore reports whether rel, a slash-separated path relative to the
// searched directory, is excluded. Supports "name", "dir/", "a/b", "*.ext"
// and "**/*.ext".
func (r *IgnoreRules) ShouldIgnore(rel string, isDir bool) bool {
	rel = strings.Trim(rel, "/")
	if rel == "" || rel == "." {
		return false
	}
	segments := strings.Split(rel, "/")
	for _, seg := range segments {
		if fixedIgnoreDirs[seg] {
			return true
		}
	}
	base := segments[len(segments)-1]

	for _, pat := range r.patterns {
		dirOnly := strings.HasSuffix(pat, "/")
		pat = strings.Trim(pat, "/")
		if pat == "" || (dirOnly && !isDir) {
			continue
		}
		pat = strings.TrimPrefix(pat, "**/")
		if strings.Contains(pat, "/") {
			if ok, _ := path.Match(pat, rel); ok || strings.HasPrefix(rel, pat+"/") {
				return true
			}
			continue
		}
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
	}
	return false
}
