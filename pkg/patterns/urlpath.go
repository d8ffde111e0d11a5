package patterns

import (
	"net/url"
	"strings"
)

// checkoutPaths are URL path segments that indicate a purchase flow.
// Each entry matches both the bare form and the variant beneath /api.
var checkoutPaths = []string{
	"/checkout",
	"/pay",
	"/payment",
	"/payments",
	"/buy",
	"/purchase",
	"/order",
	"/orders",
	"/subscribe",
	"/subscription",
	"/billing",
	"/upgrade",
}

// MatchURLPath reports whether the URL's path looks like a purchase or
// checkout endpoint, returning the matched segment.
func MatchURLPath(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	path := strings.ToLower(u.EscapedPath())
	if path == "" {
		return "", false
	}
	for _, p := range checkoutPaths {
		if pathHasSegment(path, p) || pathHasSegment(path, "/api"+p) {
			return p, true
		}
	}
	return "", false
}

// pathHasSegment matches prefix as a whole path segment: "/pay" matches
// "/pay" and "/pay/now" but not "/payroll".
func pathHasSegment(path, prefix string) bool {
	for off := 0; ; {
		idx := strings.Index(path[off:], prefix)
		if idx < 0 {
			return false
		}
		abs := off + idx
		end := abs + len(prefix)
		atStart := abs == 0 || path[abs-1] == '/'
		atEnd := end == len(path) || path[end] == '/'
		// The prefix starts with '/', so abs > 0 means a mid-segment hit
		// like "/x/pay"; that still counts as a segment boundary.
		if atStart || path[abs] == '/' {
			if atEnd {
				return true
			}
		}
		off = abs + 1
	}
}
