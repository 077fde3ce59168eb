// Package events defines the instrumentation events consumed by the correlation engine.
//
// Event is a closed set: only the types in this package implement it, so a
// type switch over Event in another package can list every kind.
package events

import "github.com/rsclarke/netcap/internal/headers"

// ConnID identifies one observed connection (a DevTools page session).
type ConnID string

// TxID identifies a transaction within a connection. The host recycles these,
// so they are only unique among the transactions currently in flight.
type TxID string

// Kind names an event type.
type Kind string

// Event kinds.
const (
	KindRequestInitiated Kind = "request_initiated"
	KindRequestHeaders   Kind = "request_headers"
	KindResponseMetadata Kind = "response_metadata"
	KindLoadingFinished  Kind = "loading_finished"
	KindLoadingFailed    Kind = "loading_failed"
	KindConnectionClosed Kind = "connection_closed"
)

// Kinds lists every event kind.
var Kinds = []Kind{
	KindRequestInitiated,
	KindRequestHeaders,
	KindResponseMetadata,
	KindLoadingFinished,
	KindLoadingFailed,
	KindConnectionClosed,
}

// Event is one instrumentation event for a single transaction.
type Event interface {
	Tx() TxID
	Kind() Kind
	event()
}

// RequestInitiated is emitted when the host is about to send a request.
type RequestInitiated struct {
	ID       TxID
	Method   string
	URL      string
	PostData *string
}

// RequestHeaders carries the headers actually put on the wire.
type RequestHeaders struct {
	ID      TxID
	Headers headers.Fields
}

// ResponseMetadata carries the response status line and headers.
type ResponseMetadata struct {
	ID       TxID
	Status   int
	Headers  headers.Fields
	MIMEType string
}

// LoadingFinished signals that the response body is complete.
type LoadingFinished struct {
	ID TxID
}

// LoadingFailed signals that the request failed or was cancelled.
type LoadingFailed struct {
	ID        TxID
	ErrorText string
	Canceled  bool
}

// ConnectionClosed signals that no more data will arrive for the transaction
// (websocket close or upgrade).
type ConnectionClosed struct {
	ID TxID
}

func (e RequestInitiated) Tx() TxID { return e.ID }
func (e RequestHeaders) Tx() TxID   { return e.ID }
func (e ResponseMetadata) Tx() TxID { return e.ID }
func (e LoadingFinished) Tx() TxID  { return e.ID }
func (e LoadingFailed) Tx() TxID    { return e.ID }
func (e ConnectionClosed) Tx() TxID { return e.ID }

func (RequestInitiated) Kind() Kind { return KindRequestInitiated }
func (RequestHeaders) Kind() Kind   { return KindRequestHeaders }
func (ResponseMetadata) Kind() Kind { return KindResponseMetadata }
func (LoadingFinished) Kind() Kind  { return KindLoadingFinished }
func (LoadingFailed) Kind() Kind    { return KindLoadingFailed }
func (ConnectionClosed) Kind() Kind { return KindConnectionClosed }

func (RequestInitiated) event() {}
func (RequestHeaders) event()   {}
func (ResponseMetadata) event() {}
func (LoadingFinished) event()  {}
func (LoadingFailed) event()    {}
func (ConnectionClosed) event() {}
