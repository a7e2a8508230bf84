package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// buildOriginChecker returns the websocket CheckOrigin function. With no
// configured origins, requests without an Origin header (non-browser
// clients) and same-host origins pass.
func buildOriginChecker(allowed []string) func(*http.Request) bool {
	allowedSet := make(map[string]struct{})
	for _, origin := range allowed {
		if normalized, ok := normalizeOrigin(origin); ok {
			allowedSet[normalized] = struct{}{}
		}
	}
	configured := len(allowedSet) > 0

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return !configured
		}
		normalized, ok := normalizeOrigin(origin)
		if !ok {
			return false
		}
		if !configured {
			u, _ := url.Parse(normalized)
			return strings.EqualFold(u.Host, r.Host)
		}
		_, ok = allowedSet[normalized]
		return ok
	}
}

func normalizeOrigin(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(parsed.Scheme), strings.ToLower(parsed.Host)), true
}
