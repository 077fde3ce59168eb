package filter

import (
	"strings"
	"testing"
)

func TestIsRelevant(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"", true},
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"text/html", true},
		{"text/javascript", true},
		{"application/x-www-form-urlencoded", true},
		{"application/vnd.api+json", true},
		{"application/atom+xml", true},
		{"image/svg+xml", true},
		{"image/svg", true},
		{"image/png", false},
		{"image/jpeg", false},
		{"image/webp", false},
		{"audio/mpeg", false},
		{"video/mp4", false},
		{"font/woff2", false},
		{"binary/octet-stream", false},
		{"application/octet-stream", false},
		{"application/pdf", false},
		{"application/x-pdf", false},
		{"application/zip", false},
		{"application/x-zip-compressed", false},
		{"application/x-protobuf", false},
		{"application/font-woff", false},
		{"application/font-woff2", false},
		{"application/vnd.ms-fontobject", false},
		{"application/pdf; name=report.pdf", false},
		{"application/x-protobuf+json", true},
		{"video/vnd.foo+xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := IsRelevant(tt.contentType); got != tt.want {
				t.Errorf("IsRelevant(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestIsRelevantCaseInsensitive(t *testing.T) {
	types := []string{
		"Application/JSON",
		"IMAGE/PNG",
		"Image/Svg+Xml",
		"APPLICATION/ZIP",
		"Font/Woff",
		"text/HTML; Charset=UTF-8",
	}
	for _, ct := range types {
		if IsRelevant(ct) != IsRelevant(strings.ToUpper(ct)) {
			t.Errorf("IsRelevant differs for %q and its upper case", ct)
		}
		if IsRelevant(ct) != IsRelevant(strings.ToLower(ct)) {
			t.Errorf("IsRelevant differs for %q and its lower case", ct)
		}
		first := IsRelevant(ct)
		if IsRelevant(ct) != first {
			t.Errorf("IsRelevant(%q) not stable", ct)
		}
	}
}
