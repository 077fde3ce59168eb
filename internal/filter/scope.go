// Package filter decides which transactions are tracked and which response
// bodies are worth retrieving.
package filter

import (
	"net/url"
	"strings"
)

// InScope reports whether a request to rawURL should be tracked.
//
// Requests to the indexing server itself are never in scope. With no scope
// domains every other URL is in scope; otherwise the URL's host must end
// with one of the domains. URLs that cannot be parsed are out of scope.
func InScope(rawURL, serverEndpoint string, scopeDomains []string) bool {
	if serverEndpoint != "" && strings.HasPrefix(rawURL, serverEndpoint) {
		return false
	}
	if len(scopeDomains) == 0 {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	for _, d := range scopeDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && strings.HasSuffix(host, d) {
			return true
		}
	}
	return false
}
