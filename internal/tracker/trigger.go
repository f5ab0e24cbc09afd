package tracker

import (
	"time"

	"findme-ng/internal/geo"
	"findme-ng/internal/gnss"
)

// Trigger decides when a fix is worth reporting.
type Trigger interface {
	// OnFix is consulted for every fresh fix once a first report has been
	// attempted. speed, when non-nil, is in km/h.
	OnFix(baseline Position, fix gnss.Fix, now time.Time) (report bool, speed *float64)
	// OnHeartbeat is consulted when the heartbeat interval expires.
	OnHeartbeat(baseline Position, last gnss.Fix) bool
}

// MotionTrigger reports on displacement beyond ThresholdM from the last
// reported position, and on heartbeat when there was any displacement.
type MotionTrigger struct {
	ThresholdM float64
}

func (m MotionTrigger) OnFix(baseline Position, fix gnss.Fix, now time.Time) (bool, *float64) {
	if !fix.Valid {
		return false, nil
	}
	if !baseline.Valid {
		return true, nil
	}
	d := geo.DistanceMeters(baseline.Lat, baseline.Lon, fix.Lat, fix.Lon)
	if d <= m.ThresholdM {
		return false, nil
	}
	speed := geo.SpeedKmh(d, now.Sub(baseline.ReportedAt).Seconds())
	return true, &speed
}

func (m MotionTrigger) OnHeartbeat(baseline Position, last gnss.Fix) bool {
	if !last.Valid {
		return false
	}
	if !baseline.Valid {
		return true
	}
	return geo.DistanceMeters(baseline.Lat, baseline.Lon, last.Lat, last.Lon) > 0
}
