package domain

// Location is a geographic point traffic is measured and predicted for.
// Registration and soft-deletion of locations are handled elsewhere; this
// service only resolves and lists them.
type Location struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	RoadType   string  `json:"road_type,omitempty"`
	LaneCount  int     `json:"lane_count,omitempty"`
	SpeedLimit int     `json:"speed_limit,omitempty"`
	Address    string  `json:"address,omitempty"`
}
