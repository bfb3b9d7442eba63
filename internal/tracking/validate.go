package tracking

import (
	"math"
	"time"

	"nuha.dev/loctrack/internal/fix"
)

// acceptFix applies the persistence rules for task tracking. It
// returns an empty string when the fix should be saved, otherwise the
// rejection reason. Called with sess.mu held.
func (m *Manager) acceptFix(sess *taskSession, f fix.Fix) string {
	if f.Latitude == 0 && f.Longitude == 0 {
		return "null island"
	}
	if math.Abs(f.Latitude) > 90 || math.Abs(f.Longitude) > 180 {
		return "coordinates out of range"
	}
	// A fix exactly at the ceiling is still acceptable.
	if f.HasAccuracy() && f.Accuracy > m.config.MaxAccuracy {
		return "poor accuracy"
	}
	if time.Since(f.Time) > m.config.MaxFixAge {
		return "stale fix"
	}
	if sess.lastAccepted == nil {
		return ""
	}
	if fix.Distance(*sess.lastAccepted, f) >= sess.config.MinDistance {
		return ""
	}
	// A significant turn is save-worthy even under the distance
	// threshold.
	if sess.lastAccepted.HasHeading() && f.HasHeading() && fix.BearingDelta(*sess.lastAccepted, f) > m.config.TurnThreshold {
		return ""
	}
	return "below movement threshold"
}
