package store

import (
	"nuha.dev/loctrack/internal/fix"
)

// Sample is one accepted fix persisted under a tracking reference.
// (Reference, Index) is unique; indices start at 1 and are strictly
// increasing within a reference, assigned exactly once.
type Sample struct {
	Reference        string  `json:"reference"`
	Index            int     `json:"index"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Altitude         float64 `json:"altitude"`
	Accuracy         float32 `json:"accuracy"`
	Speed            float32 `json:"speed"`
	Heading          float32 `json:"heading"`
	AltitudeAccuracy float32 `json:"altitudeAccuracy"`
	Timestamp        int64   `json:"timestamp"`
}

func (s Sample) Fix() fix.Fix {
	return fix.Fix{
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		Altitude:         s.Altitude,
		Accuracy:         s.Accuracy,
		AltitudeAccuracy: s.AltitudeAccuracy,
		Speed:            s.Speed,
		Heading:          s.Heading,
	}
}

// SampleStore is append-only, per-reference-ordered persistent storage
// of accepted fixes. The next index is always derived from the stored
// maximum, never from an in-memory counter, so sequences survive a
// process restart.
type SampleStore interface {
	// Append persists f under reference and returns the assigned index
	// (max existing + 1, or 1 for a fresh reference).
	Append(reference string, f fix.Fix) (int, error)
	// ListFor returns all samples for reference in ascending index order.
	ListFor(reference string) ([]Sample, error)
	// LastFor returns the highest-index sample, nil when none exist.
	LastFor(reference string) (*Sample, error)
	// TotalDistance sums the haversine distance over consecutive
	// samples of reference, in meters. Recomputed on every call.
	TotalDistance(reference string) (float64, error)
	// Clear deletes all samples for reference, or everything when
	// reference is empty.
	Clear(reference string) error
}

// Distance over an ordered sample slice, shared by implementations.
func TotalDistance(samples []Sample) float64 {
	var total float64
	for i := 1; i < len(samples); i++ {
		total += fix.Distance(samples[i-1].Fix(), samples[i].Fix())
	}
	return total
}
