package gps

import (
	"math"
	"time"
)

const (
	// ReportInterval is the time threshold after which a fix is always
	// reported regardless of how far the device moved.
	ReportInterval = 60 * time.Second
	// ReportDistance is the minimum movement in meters that forces a
	// report inside the time window.
	ReportDistance = 50.0

	earthRadius = 6371000 // meters
)

// Fix is a raw location sample from the platform location provider.
type Fix struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"captured_at"`
}

// AcceptedFix is the single "last reported" slot the decision engine
// evaluates against. The owning reporter serializes access to it.
type AcceptedFix struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

type Reason int

const (
	ReasonNone Reason = iota
	ReasonInitialFix
	ReasonTimeElapsed
	ReasonDistanceMoved
)

func (r Reason) String() string {
	switch r {
	case ReasonInitialFix:
		return "initial fix"
	case ReasonTimeElapsed:
		return "time interval elapsed"
	case ReasonDistanceMoved:
		return "distance moved"
	default:
		return "none"
	}
}

type Decision struct {
	Accept bool
	Reason Reason
}

// ShouldReport decides whether cand warrants a GPS report given the last
// accepted fix. Pure function: same inputs, same verdict.
//
// Rules, in order: no prior fix accepts; 60s elapsed accepts; 50m moved
// accepts; everything else is rejected.
func ShouldReport(last *AcceptedFix, cand Fix) Decision {
	if last == nil {
		return Decision{Accept: true, Reason: ReasonInitialFix}
	}
	if cand.CapturedAt.Sub(last.Timestamp) >= ReportInterval {
		return Decision{Accept: true, Reason: ReasonTimeElapsed}
	}
	if HaversineMeters(last.Latitude, last.Longitude, cand.Latitude, cand.Longitude) >= ReportDistance {
		return Decision{Accept: true, Reason: ReasonDistanceMoved}
	}
	return Decision{}
}

// HaversineMeters calculates the great-circle distance between two points
// in meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
