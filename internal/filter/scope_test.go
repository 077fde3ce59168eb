package filter

import "testing"

const serverURL = "http://localhost:8000"

func TestInScope(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		domains []string
		want    bool
	}{
		{"no domains tracks everything", "https://news.example.org/a", nil, true},
		{"no domains tracks unparsable urls", "https://exa mple.com:port/", nil, true},
		{"own endpoint excluded", "http://localhost:8000/index", nil, false},
		{"own endpoint excluded with domains", "http://localhost:8000/index", []string{"localhost"}, false},
		{"own endpoint prefix only", "http://localhost:8000", []string{}, false},
		{"exact domain", "https://example.com/", []string{"example.com"}, true},
		{"subdomain", "https://api.example.com/users", []string{"example.com"}, true},
		{"port ignored", "https://api.example.com:8443/users", []string{"example.com"}, true},
		{"host case folded", "https://API.Example.COM/users", []string{"example.com"}, true},
		{"domain case folded", "https://api.example.com/users", []string{"Example.COM"}, true},
		{"second domain matches", "https://cdn.test.io/x", []string{"example.com", "test.io"}, true},
		{"other host", "https://example.org/", []string{"example.com"}, false},
		{"domain in path only", "https://evil.org/example.com", []string{"example.com"}, false},
		{"malformed url", "http://[::1", []string{"example.com"}, false},
		{"no host", "data:text/plain,hi", []string{"example.com"}, false},
		{"blank domain entries ignored", "https://example.org/", []string{" ", ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InScope(tt.url, serverURL, tt.domains)
			if got != tt.want {
				t.Errorf("InScope(%q, %v) = %v, want %v", tt.url, tt.domains, got, tt.want)
			}
		})
	}
}

func TestInScopeEmptyDomainsAcceptsAllButServer(t *testing.T) {
	urls := []string{
		"https://a.b.c/",
		"http://127.0.0.1:3000/api",
		"wss://socket.example.com/ws",
		"http://localhost:8001/index",
	}
	for _, u := range urls {
		if !InScope(u, serverURL, nil) {
			t.Errorf("InScope(%q) = false with no scope domains", u)
		}
	}
}

func TestInScopeNonMatchingHostRejected(t *testing.T) {
	domains := []string{"example.com", "corp.internal"}
	urls := []string{
		"https://example.net/",
		"https://internal/",
		"https://example.com.evil.org/",
	}
	for _, u := range urls {
		if InScope(u, serverURL, domains) {
			t.Errorf("InScope(%q) = true, want false", u)
		}
	}
}

func TestInScopeEmptyServerEndpoint(t *testing.T) {
	if !InScope("http://localhost:8000/index", "", nil) {
		t.Error("empty server endpoint must not exclude anything")
	}
}
