package geo

import (
	"math"

	"github.com/mcdev12/geotag/go/internal/models"
)

// EarthRadiusMeters is the mean earth radius used for great-circle distances.
const EarthRadiusMeters = 6371008.8

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b models.Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Offset returns the coordinate dNorth/dEast meters away from c.
// Flat-earth approximation; good to well under a meter at game scale.
func Offset(c models.Coordinate, dNorth, dEast float64) models.Coordinate {
	dLat := dNorth / EarthRadiusMeters
	dLng := dEast / (EarthRadiusMeters * math.Cos(toRadians(c.Lat)))
	return models.Coordinate{
		Lat: c.Lat + dLat*180/math.Pi,
		Lng: c.Lng + dLng*180/math.Pi,
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
