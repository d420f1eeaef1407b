// Package geo holds the point-to-point math the relay needs: great-circle
// distance, initial bearing, and a coarse ETA. No geospatial indexing.
package geo

import "math"

const earthRadiusKM = 6371.0

// DistanceKM returns the haversine distance between two points in km.
func DistanceKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

// BearingDegrees returns the initial bearing from point 1 to point 2,
// normalized to [0, 360).
func BearingDegrees(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dLon := radians(lon2 - lon1)

	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)

	deg := degrees(math.Atan2(y, x))
	deg = math.Mod(deg+360, 360)
	if deg == 360 {
		deg = 0
	}
	return deg
}

// ETAMinutes estimates travel time for distanceKM at speedKMH. A
// non-positive speed falls back to a 30 km/h urban average.
func ETAMinutes(distanceKM, speedKMH float64) float64 {
	if speedKMH <= 0 {
		speedKMH = 30
	}
	return distanceKM / speedKMH * 60
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
