// README: Pure geographic computation helpers.
package geo

import (
	"math"

	"relaydispatch/internal/types"
)

const earthRadiusKm = 6371.0

// etaMinutesPerKm is the empirical Lagos traffic constant used for the
// degraded ETA estimate when no routed duration is available.
const etaMinutesPerKm = 4.0

// HaversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DistanceKm is the Point form of HaversineKm.
func DistanceKm(a, b types.Point) float64 {
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

// EstimateEtaMinutes converts a distance to a rough travel time. Never the
// authoritative duration once a routed value exists.
func EstimateEtaMinutes(distanceKm float64) int {
	m := int(math.Round(distanceKm * etaMinutesPerKm))
	if m < 1 {
		return 1
	}
	return m
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
