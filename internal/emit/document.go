// Package emit turns completed transactions into index documents and hands
// them to the delivery transport.
package emit

import (
	"encoding/base64"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/rsclarke/netcap/internal/headers"
)

// TimestampFormat is ISO-8601 in UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// EncodingBase64 marks a body that was not valid UTF-8 and is sent as
// standard base64 in the document's body string.
const EncodingBase64 = "base64"

// Payload is a raw request or response body. A nil Payload is absent; an
// empty non-nil Payload is a body of zero length.
// UTF-8 payloads encode as JSON strings; anything else is base64-encoded
// and reported by Encoding.
type Payload []byte

// TextPayload returns s as a Payload, or nil when s is nil.
func TextPayload(s *string) Payload {
	if s == nil {
		return nil
	}
	out := make(Payload, len(*s))
	copy(out, *s)
	return out
}

// Encoding returns EncodingBase64 when p marshals as base64, or "" when it
// marshals as text or is absent.
func (p Payload) Encoding() string {
	if p == nil || utf8.Valid(p) {
		return ""
	}
	return EncodingBase64
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	if utf8.Valid(p) {
		return json.Marshal(string(p))
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(p))
}

// Exchange is a value copy of a completed transaction.
type Exchange struct {
	Method          string
	Endpoint        string
	RequestHeaders  headers.Map
	RequestBody     Payload
	Status          *int
	ResponseHeaders headers.Map
	ResponseBody    Payload
}

// Document is the JSON body posted to the index endpoint.
type Document struct {
	Timestamp string   `json:"timestamp"`
	Request   Request  `json:"request"`
	Response  Response `json:"response"`
}

// Request is the request half of a Document. Body is nil when the request
// carried none.
type Request struct {
	Method       string      `json:"method"`
	Endpoint     string      `json:"endpoint"`
	Headers      headers.Map `json:"headers"`
	Body         *Payload    `json:"body,omitempty"`
	BodyEncoding string      `json:"body_encoding,omitempty"`
}

// Response is the response half of a Document. Body is nil when it could
// not be retrieved.
type Response struct {
	StatusCode   *int        `json:"status_code,omitempty"`
	Headers      headers.Map `json:"headers"`
	Body         *Payload    `json:"body,omitempty"`
	BodyEncoding string      `json:"body_encoding,omitempty"`
}

// NewDocument builds the index document for x captured at t.
func NewDocument(x Exchange, t time.Time) Document {
	return Document{
		Timestamp: t.UTC().Format(TimestampFormat),
		Request: Request{
			Method:       x.Method,
			Endpoint:     x.Endpoint,
			Headers:      nonNil(x.RequestHeaders),
			Body:         present(x.RequestBody),
			BodyEncoding: x.RequestBody.Encoding(),
		},
		Response: Response{
			StatusCode:   x.Status,
			Headers:      nonNil(x.ResponseHeaders),
			Body:         present(x.ResponseBody),
			BodyEncoding: x.ResponseBody.Encoding(),
		},
	}
}

func present(p Payload) *Payload {
	if p == nil {
		return nil
	}
	return &p
}

func nonNil(m headers.Map) headers.Map {
	if m == nil {
		return headers.Map{}
	}
	return m
}
