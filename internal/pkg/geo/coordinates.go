package geo

import (
	"math"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 latitude/longitude pair.
type Point struct {
	Lat float64
	Lng float64
}

// ValidateCoordinates checks if latitude and longitude are within range.
// Latitude must be between -90 and 90
// Longitude must be between -180 and 180
func ValidateCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// HasValidCoordinates treats the zero point as missing data.
func HasValidCoordinates(p Point) bool {
	if p.Lat == 0 && p.Lng == 0 {
		return false
	}
	return ValidateCoordinates(p.Lat, p.Lng)
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// PathLength sums the distance between consecutive points. Points without
// usable coordinates are skipped.
func PathLength(points []Point) float64 {
	var total float64
	var prev *Point
	for i := range points {
		if !HasValidCoordinates(points[i]) {
			continue
		}
		if prev != nil {
			total += Haversine(*prev, points[i])
		}
		prev = &points[i]
	}
	return total
}

// CenterPoint averages the valid points, returning fallback if none are valid.
func CenterPoint(points []Point, fallback Point) Point {
	var latSum, lngSum float64
	n := 0
	for _, p := range points {
		if !HasValidCoordinates(p) {
			continue
		}
		latSum += p.Lat
		lngSum += p.Lng
		n++
	}
	if n == 0 {
		return fallback
	}
	return Point{Lat: latSum / float64(n), Lng: lngSum / float64(n)}
}
