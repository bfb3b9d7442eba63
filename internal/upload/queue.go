package upload

import (
	"sync"
)

// Record is one work-hour position pending remote delivery. Attempts
// counts failed upload tries, advisory only.
type Record struct {
	Latitude   float64
	Longitude  float64
	Accuracy   float32
	Altitude   float64
	Speed      float32
	Heading    float32
	Timestamp  int64
	EngineerId string
	Attempts   int
}

// Queue is the FIFO of records awaiting upload. A cap of 0 means
// unbounded; when full the oldest record is dropped.
type Queue struct {
	mu   sync.Mutex
	list []*Record
	cap  int
}

func NewQueue(cap int) *Queue {
	q := &Queue{}
	q.list = make([]*Record, 0, 16)
	q.cap = cap
	return q
}

func (q *Queue) Push(rec *Record) {
	q.mu.Lock()
	if q.cap > 0 && len(q.list) >= q.cap {
		q.list = q.list[1:]
	}
	q.list = append(q.list, rec)
	q.mu.Unlock()
}

// Snapshot returns the records currently queued. Records pushed after
// the snapshot are not part of it and survive a Remove of the snapshot.
func (q *Queue) Snapshot() []*Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	snap := make([]*Record, len(q.list))
	copy(snap, q.list)
	return snap
}

// Remove deletes exactly the given records from the queue, matched by
// identity. Unknown records are ignored.
func (q *Queue) Remove(recs []*Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	drop := make(map[*Record]struct{}, len(recs))
	for _, r := range recs {
		drop[r] = struct{}{}
	}
	kept := q.list[:0]
	for _, r := range q.list {
		if _, ok := drop[r]; !ok {
			kept = append(kept, r)
		}
	}
	q.list = kept
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.list)
}

func (q *Queue) Clear() {
	q.mu.Lock()
	q.list = q.list[:0]
	q.mu.Unlock()
}
