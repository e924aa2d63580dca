package observability

import (
	"strings"
	"unicode"
)

// Caps for request attributes that end up in log fields, span names and metric labels.
const (
	maxRouteLen    = 180
	maxMethodLen   = 10
	maxUserIDLen   = 64
	maxRemoteIPLen = 64
)

// clip drops control characters and keeps at most limit runes.
func clip(value string, limit int) string {
	var b strings.Builder
	kept := 0
	for _, r := range value {
		if kept == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

// SanitizeRoute normalises a path or route pattern; an empty route logs as "/".
func SanitizeRoute(route string) string {
	if route = clip(route, maxRouteLen); route == "" {
		return "/"
	}
	return route
}

func SanitizeMethod(method string) string {
	return strings.ToUpper(clip(strings.TrimSpace(method), maxMethodLen))
}

func SanitizeUserID(uid string) string {
	return clip(strings.TrimSpace(uid), maxUserIDLen)
}
