package capture

import "github.com/rsclarke/netcap/internal/events"

// defaultTombstones is the number of recently dropped ids remembered per connection.
const defaultTombstones = 1024

// tombstones remembers the most recently dropped transaction ids of a
// connection so late events for them can be told apart from events that
// never matched anything. Oldest entries are forgotten first.
type tombstones struct {
	seq   uint64
	ids   map[events.TxID]uint64
	ring  []events.TxID
	ringQ []uint64
	next  int
}

func newTombstones(size int) *tombstones {
	if size <= 0 {
		size = defaultTombstones
	}
	return &tombstones{
		ids:   make(map[events.TxID]uint64, size),
		ring:  make([]events.TxID, size),
		ringQ: make([]uint64, size),
	}
}

func (t *tombstones) add(id events.TxID) {
	t.seq++
	if old := t.ringQ[t.next]; old != 0 {
		oldID := t.ring[t.next]
		if t.ids[oldID] == old {
			delete(t.ids, oldID)
		}
	}
	t.ring[t.next] = id
	t.ringQ[t.next] = t.seq
	t.ids[id] = t.seq
	t.next = (t.next + 1) % len(t.ring)
}

func (t *tombstones) has(id events.TxID) bool {
	_, ok := t.ids[id]
	return ok
}

// forget drops id so a recycled identifier starts clean.
func (t *tombstones) forget(id events.TxID) {
	delete(t.ids, id)
}

func (t *tombstones) len() int {
	return len(t.ids)
}
