// Package geo holds great-circle helpers.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371000.0

func degToRad(d float64) float64 { return d * math.Pi / 180.0 }

// DistanceMeters is the haversine distance between two points in decimal
// degrees.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := degToRad(lat2 - lat1)
	dLon := degToRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degToRad(lat1))*math.Cos(degToRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// SpeedKmh converts a distance covered over elapsed into km/h. A
// non-positive elapsed yields 0.
func SpeedKmh(meters float64, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	return meters / elapsedSeconds * 3.6
}
