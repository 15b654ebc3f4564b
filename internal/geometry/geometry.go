// Package geometry has great circle helpers. Distances are in nautical
// miles, angles in degrees.
package geometry

import (
	"math"
)

func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	radlat1 := math.Pi * lat1 / 180
	radlat2 := math.Pi * lat2 / 180
	radtheta := math.Pi * (lon1 - lon2) / 180
	dist := math.Sin(radlat1)*math.Sin(radlat2) + math.Cos(radlat1)*math.Cos(radlat2)*math.Cos(radtheta)

	if dist > 1 {
		dist = 1
	}
	return math.Acos(dist) * 180 / math.Pi * 60
}

// Bearing is the initial course from the first position to the second,
// 0-360.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	// β = atan2(X,Y),
	// X = cos θb * sin ∆L
	// Y = cos θa * sin θb – sin θa * cos θb * cos ∆L
	lat1 *= math.Pi / 180
	lon1 *= math.Pi / 180
	lat2 *= math.Pi / 180
	lon2 *= math.Pi / 180
	X := math.Cos(lat2) * math.Sin(lon2-lon1)
	Y := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(lon2-lon1)
	v := math.Atan2(X, Y) / math.Pi * 180
	if v < 0 {
		v += 360
	}
	return v
}

func CardinalDirection(degrees int) string {
	if degrees < 23 {
		return "N"
	} else if degrees < 68 {
		return "NE"
	} else if degrees < 113 {
		return "E"
	} else if degrees < 158 {
		return "SE"
	} else if degrees < 203 {
		return "S"
	} else if degrees < 248 {
		return "SW"
	} else if degrees < 293 {
		return "W"
	} else if degrees < 338 {
		return "NW"
	} else {
		return "N"
	}
}
