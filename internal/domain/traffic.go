package domain

import (
	"fmt"
	"strings"
	"time"
)

// CongestionLevel is the ordinal category of traffic flow severity.
type CongestionLevel string

const (
	CongestionSmooth    CongestionLevel = "SMOOTH"
	CongestionNormal    CongestionLevel = "NORMAL"
	CongestionSlow      CongestionLevel = "SLOW"
	CongestionCongested CongestionLevel = "CONGESTED"
)

// ParseCongestionLevel maps a wire value onto a known level.
// Matching is case-insensitive; unknown values are rejected.
func ParseCongestionLevel(s string) (CongestionLevel, error) {
	switch CongestionLevel(strings.ToUpper(s)) {
	case CongestionSmooth:
		return CongestionSmooth, nil
	case CongestionNormal:
		return CongestionNormal, nil
	case CongestionSlow:
		return CongestionSlow, nil
	case CongestionCongested:
		return CongestionCongested, nil
	default:
		return "", fmt.Errorf("unknown congestion level %q", s)
	}
}

// Observation is a real traffic measurement for a location at a point in
// time. Observations come from the ingestion pipeline and are read-only
// to this service.
type Observation struct {
	LocationID      int64           `json:"location_id"`
	RecordedAt      time.Time       `json:"recorded_at"`
	VehicleCount    int             `json:"vehicle_count"`
	AverageSpeed    float64         `json:"average_speed"`
	CongestionLevel CongestionLevel `json:"congestion_level"`
}
