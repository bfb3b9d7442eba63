package memstore

import (
	"sort"
	"sync"
	"time"

	"nuha.dev/loctrack/internal/fix"
	"nuha.dev/loctrack/internal/store"
)

// Store keeps samples in memory. It backs tests and the no-database
// deployment mode; the semantics match pgstore, including max+1 index
// assignment from the stored data rather than a running counter.
type Store struct {
	mu      sync.Mutex
	samples map[string][]store.Sample
}

func NewStore() *Store {
	o := &Store{}
	o.samples = make(map[string][]store.Sample)
	return o
}

func (m *Store) Append(reference string, f fix.Fix) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := 1
	list := m.samples[reference]
	for _, s := range list {
		if s.Index >= idx {
			idx = s.Index + 1
		}
	}
	m.samples[reference] = append(list, store.Sample{
		Reference:        reference,
		Index:            idx,
		Latitude:         f.Latitude,
		Longitude:        f.Longitude,
		Altitude:         f.Altitude,
		Accuracy:         f.Accuracy,
		Speed:            f.Speed,
		Heading:          f.Heading,
		AltitudeAccuracy: f.AltitudeAccuracy,
		Timestamp:        f.Time.UnixNano() / int64(time.Millisecond),
	})
	return idx, nil
}

func (m *Store) ListFor(reference string) ([]store.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.samples[reference]
	out := make([]store.Sample, len(list))
	copy(out, list)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *Store) LastFor(reference string) (*store.Sample, error) {
	list, err := m.ListFor(reference)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	last := list[len(list)-1]
	return &last, nil
}

func (m *Store) TotalDistance(reference string) (float64, error) {
	list, err := m.ListFor(reference)
	if err != nil {
		return 0, err
	}
	return store.TotalDistance(list), nil
}

func (m *Store) Clear(reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reference == "" {
		m.samples = make(map[string][]store.Sample)
	} else {
		delete(m.samples, reference)
	}
	return nil
}
