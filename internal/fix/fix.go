package fix

import (
	"math"
	"time"
)

// Fix is one raw position reading from the positioning source.
// Accuracy and AltitudeAccuracy are 0 when unknown, Heading is -1 when unknown.
type Fix struct {
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Altitude         float64   `json:"altitude"`
	Accuracy         float32   `json:"accuracy"`
	AltitudeAccuracy float32   `json:"altitude_accuracy"`
	Speed            float32   `json:"speed"`
	Heading          float32   `json:"heading"`
	Time             time.Time `json:"time"`
}

func (f Fix) HasAccuracy() bool {
	return f.Accuracy > 0
}

func (f Fix) HasHeading() bool {
	return f.Heading >= 0
}

const earthRadius = 6371000.0

// Distance returns the great-circle distance between two fixes in meters.
func Distance(a, b Fix) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dlat := (b.Latitude - a.Latitude) * math.Pi / 180
	dlon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return earthRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// BearingDelta returns the absolute heading change in degrees, folded
// into [0,180] to handle the 0/360 wrap.
func BearingDelta(a, b Fix) float64 {
	d := math.Abs(float64(a.Heading) - float64(b.Heading))
	if d > 180 {
		d = 360 - d
	}
	return d
}
