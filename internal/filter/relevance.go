package filter

import "strings"

var skipPrefixes = []string{"audio/", "video/", "font/", "binary/"}

var skipTypes = map[string]struct{}{
	"application/octet-stream":      {},
	"application/pdf":               {},
	"application/x-pdf":             {},
	"application/zip":               {},
	"application/x-zip-compressed":  {},
	"application/x-protobuf":        {},
	"application/font-woff":         {},
	"application/font-woff2":        {},
	"application/vnd.ms-fontobject": {},
}

// IsRelevant reports whether a response with the given content type is worth
// retrieving. Unknown and empty types are relevant.
func IsRelevant(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(ct, "+json") || strings.Contains(ct, "+xml") {
		return true
	}
	for _, p := range skipPrefixes {
		if strings.HasPrefix(ct, p) {
			return false
		}
	}
	if strings.HasPrefix(ct, "image/") && !strings.Contains(ct, "svg") {
		return false
	}
	if _, ok := skipTypes[mediaType(ct)]; ok {
		return false
	}
	return true
}

// mediaType strips parameters such as charset.
func mediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i != -1 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
