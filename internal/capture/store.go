// Package capture correlates instrumentation events into complete
// request/response transactions.
package capture

import (
	"github.com/rsclarke/netcap/internal/emit"
	"github.com/rsclarke/netcap/internal/events"
	"github.com/rsclarke/netcap/internal/headers"
)

// State is the position of a transaction in its lifecycle.
type State int

// Transaction states. Discarded is reachable from every other state.
const (
	PendingRequestDetails State = iota
	PendingResponse
	PendingBody
	Complete
	Discarded
)

func (s State) String() string {
	switch s {
	case PendingRequestDetails:
		return "pending_request_details"
	case PendingResponse:
		return "pending_response"
	case PendingBody:
		return "pending_body"
	case Complete:
		return "complete"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Record is one transaction in progress.
type Record struct {
	ID              events.TxID
	Method          string
	Endpoint        string
	RequestHeaders  headers.Map
	RequestBody     emit.Payload
	ResponseHeaders headers.Map
	Status          *int
	State           State

	// mimeType is the host's parsed content type, used when the response
	// carries no content-type header.
	mimeType string
	// fetching is set once a body request has been issued for this record.
	fetching bool
}

func (r *Record) contentType() string {
	if ct, ok := r.ResponseHeaders.Get("content-type"); ok {
		return ct
	}
	return r.mimeType
}

// exchange copies the record into an emit.Exchange with the given response body.
func (r *Record) exchange(body emit.Payload) emit.Exchange {
	x := emit.Exchange{
		Method:          r.Method,
		Endpoint:        r.Endpoint,
		RequestHeaders:  copyMap(r.RequestHeaders),
		RequestBody:     r.RequestBody,
		ResponseHeaders: copyMap(r.ResponseHeaders),
		ResponseBody:    body,
	}
	if r.Status != nil {
		status := *r.Status
		x.Status = &status
	}
	return x
}

func copyMap(m headers.Map) headers.Map {
	out := make(headers.Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store holds the in-flight records of one connection. It is not safe for
// concurrent use; the engine goroutine is its only user.
type Store struct {
	records map[events.TxID]*Record
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[events.TxID]*Record)}
}

// Create inserts r, replacing any record with the same ID.
// It returns the replaced record, if any.
func (s *Store) Create(r *Record) *Record {
	prev := s.records[r.ID]
	s.records[r.ID] = r
	return prev
}

// Get returns the record for id.
func (s *Store) Get(id events.TxID) (*Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

// Update applies fn to the record for id. Unknown ids are a no-op and
// report false.
func (s *Store) Update(id events.TxID, fn func(*Record)) bool {
	r, ok := s.records[id]
	if !ok {
		return false
	}
	fn(r)
	return true
}

// Remove deletes the record for id. Unknown ids are a no-op and report false.
func (s *Store) Remove(id events.TxID) bool {
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	return true
}

// Len returns the number of in-flight records.
func (s *Store) Len() int {
	return len(s.records)
}
