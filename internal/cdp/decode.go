package cdp

import (
	"encoding/json"
	"fmt"

	"github.com/rsclarke/netcap/internal/events"
	"github.com/rsclarke/netcap/internal/headers"
)

// Network domain events consumed by the capture engine.
const (
	RequestWillBeSent                  = "Network.requestWillBeSent"
	RequestWillBeSentExtraInfo         = "Network.requestWillBeSentExtraInfo"
	ResponseReceived                   = "Network.responseReceived"
	LoadingFinished                    = "Network.loadingFinished"
	LoadingFailed                      = "Network.loadingFailed"
	WebSocketClosed                    = "Network.webSocketClosed"
	WebSocketHandshakeResponseReceived = "Network.webSocketHandshakeResponseReceived"
)

type requestWillBeSent struct {
	RequestID string `json:"requestId"`
	Request   struct {
		URL         string  `json:"url"`
		URLFragment string  `json:"urlFragment"`
		Method      string  `json:"method"`
		PostData    *string `json:"postData"`
	} `json:"request"`
}

type requestWillBeSentExtraInfo struct {
	RequestID string         `json:"requestId"`
	Headers   headers.Fields `json:"headers"`
}

type responseReceived struct {
	RequestID string `json:"requestId"`
	Response  struct {
		Status   int            `json:"status"`
		Headers  headers.Fields `json:"headers"`
		MIMEType string         `json:"mimeType"`
	} `json:"response"`
}

type loadingFailed struct {
	RequestID string `json:"requestId"`
	ErrorText string `json:"errorText"`
	Canceled  bool   `json:"canceled"`
}

type requestRef struct {
	RequestID string `json:"requestId"`
}

// DecodeEvent maps a Network domain event to a capture event. ok is false
// for methods the engine does not consume.
func DecodeEvent(method string, params json.RawMessage) (ev events.Event, ok bool, err error) {
	switch method {
	case RequestWillBeSent:
		var p requestWillBeSent
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", method, err)
		}
		return events.RequestInitiated{
			ID:       events.TxID(p.RequestID),
			Method:   p.Request.Method,
			URL:      p.Request.URL + p.Request.URLFragment,
			PostData: p.Request.PostData,
		}, true, nil

	case RequestWillBeSentExtraInfo:
		var p requestWillBeSentExtraInfo
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", method, err)
		}
		return events.RequestHeaders{ID: events.TxID(p.RequestID), Headers: p.Headers}, true, nil

	case ResponseReceived:
		var p responseReceived
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", method, err)
		}
		return events.ResponseMetadata{
			ID:       events.TxID(p.RequestID),
			Status:   p.Response.Status,
			Headers:  p.Response.Headers,
			MIMEType: p.Response.MIMEType,
		}, true, nil

	case LoadingFinished:
		var p requestRef
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", method, err)
		}
		return events.LoadingFinished{ID: events.TxID(p.RequestID)}, true, nil

	case LoadingFailed:
		var p loadingFailed
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", method, err)
		}
		return events.LoadingFailed{ID: events.TxID(p.RequestID), ErrorText: p.ErrorText, Canceled: p.Canceled}, true, nil

	case WebSocketClosed, WebSocketHandshakeResponseReceived:
		var p requestRef
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, false, fmt.Errorf("decode %s: %w", method, err)
		}
		return events.ConnectionClosed{ID: events.TxID(p.RequestID)}, true, nil
	}
	return nil, false, nil
}
