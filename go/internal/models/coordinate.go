package models

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is inside WGS84 bounds.
// The null island (0,0) is treated as "no fix", which is what devices report
// before the first location callback.
func (c Coordinate) Valid() bool {
	if c.Lat == 0 && c.Lng == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// SafeZone is the shrinking circular playable area.
type SafeZone struct {
	Center    Coordinate `json:"center"`
	Radius    float64    `json:"radius_m"`
	Shrinking bool       `json:"shrinking"`
}

// Region is a geofence region a room can be assigned to.
type Region struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	Center        Coordinate `json:"center" yaml:"center"`
	InitialRadius float64    `json:"initial_radius_m" yaml:"initial_radius_m"`
}
