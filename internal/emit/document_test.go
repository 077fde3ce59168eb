package emit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rsclarke/netcap/internal/headers"
)

func TestPayloadMarshal(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    string
	}{
		{"nil", nil, `null`},
		{"text", Payload("hello"), `"hello"`},
		{"utf8", Payload("héllo ✓"), `"héllo ✓"`},
		{"binary", Payload([]byte{0xff, 0x00, 0x10}), `"/wAQ"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.payload)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTextPayload(t *testing.T) {
	if TextPayload(nil) != nil {
		t.Error("TextPayload(nil) must be nil")
	}
	s := "a=1&b=2"
	if string(TextPayload(&s)) != s {
		t.Errorf("TextPayload() = %q", TextPayload(&s))
	}
	empty := ""
	if p := TextPayload(&empty); p == nil || len(p) != 0 {
		t.Errorf("TextPayload(\"\") = %#v, want empty non-nil", p)
	}
}

func TestPayloadEncoding(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    string
	}{
		{"absent", nil, ""},
		{"empty", Payload{}, ""},
		{"text", Payload("hello"), ""},
		{"binary", Payload([]byte{0xff, 0x00}), EncodingBase64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.payload.Encoding(); got != tt.want {
				t.Errorf("Encoding() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewDocumentEmptyBodies(t *testing.T) {
	empty := ""
	status := 204
	doc := NewDocument(Exchange{
		Method:       "POST",
		Endpoint:     "https://api.example.com/ping",
		RequestBody:  TextPayload(&empty),
		Status:       &status,
		ResponseBody: Payload{},
	}, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC))

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"timestamp":"2026-01-02T15:04:05.000Z",` +
		`"request":{"method":"POST","endpoint":"https://api.example.com/ping","headers":{},"body":""},` +
		`"response":{"status_code":204,"headers":{},"body":""}}`
	if string(data) != want {
		t.Errorf("document =\n%s\nwant\n%s", data, want)
	}
}

func TestNewDocumentBinaryBody(t *testing.T) {
	status := 200
	doc := NewDocument(Exchange{
		Method:       "GET",
		Endpoint:     "https://api.example.com/blob",
		Status:       &status,
		ResponseBody: Payload([]byte{0xff, 0x00, 0x10}),
	}, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC))

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"timestamp":"2026-01-02T15:04:05.000Z",` +
		`"request":{"method":"GET","endpoint":"https://api.example.com/blob","headers":{}},` +
		`"response":{"status_code":200,"headers":{},"body":"/wAQ","body_encoding":"base64"}}`
	if string(data) != want {
		t.Errorf("document =\n%s\nwant\n%s", data, want)
	}
}

func TestNewDocumentShape(t *testing.T) {
	body := "name=x"
	x := Exchange{
		Method:         "POST",
		Endpoint:       "https://api.example.com/form",
		RequestHeaders: headers.Map{"content-type": "application/x-www-form-urlencoded"},
		RequestBody:    TextPayload(&body),
	}
	loc := time.FixedZone("UTC+2", 2*60*60)
	doc := NewDocument(x, time.Date(2026, 1, 2, 17, 4, 5, 0, loc))

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"timestamp":"2026-01-02T15:04:05.000Z",` +
		`"request":{"method":"POST","endpoint":"https://api.example.com/form",` +
		`"headers":{"content-type":"application/x-www-form-urlencoded"},"body":"name=x"},` +
		`"response":{"headers":{}}}`
	if string(data) != want {
		t.Errorf("document =\n%s\nwant\n%s", data, want)
	}
}
