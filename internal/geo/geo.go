package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for all great-circle math
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in degrees
type Point struct {
	Lat float64
	Lon float64
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Distance returns the Haversine great-circle distance between a and b in meters
func Distance(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	la1 := toRad(a.Lat)
	la2 := toRad(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Valid reports whether p is a finite coordinate within |lat|<=90 and |lon|<=180
func Valid(p Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Within reports whether b lies at most meters away from a
func Within(a, b Point, meters float64) bool {
	return Distance(a, b) <= meters
}
