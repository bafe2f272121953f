// Package geo contains the pure distance and proximity-matching helpers
// used by the dispatch engine.
package geo

import (
	"math"
	"sort"

	"dispatch/internal/domain"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the Haversine great-circle distance in kilometres
// between two points. Symmetric, and zero for identical points.
func DistanceKm(a, b domain.Location) float64 {
	dLat := degreesToRadians(b.Latitude - a.Latitude)
	dLng := degreesToRadians(b.Longitude - a.Longitude)

	rLat1 := degreesToRadians(a.Latitude)
	rLat2 := degreesToRadians(b.Latitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Match pairs a candidate index with its distance from the origin.
type Match struct {
	Index      int
	DistanceKm float64
}

// Nearby returns the candidates within radiusKm of origin, nearest first.
// The sort is stable: candidates at equal distance keep their input order.
func Nearby(origin domain.Location, candidates []domain.Location, radiusKm float64) []Match {
	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		d := DistanceKm(origin, c)
		if d <= radiusKm {
			matches = append(matches, Match{Index: i, DistanceKm: d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
	return matches
}

// ETAMinutes estimates travel time for a distance at the given average
// speed, rounded half-up to whole minutes. Never negative.
func ETAMinutes(distanceKm, avgSpeedKmh float64) int {
	if avgSpeedKmh <= 0 || distanceKm <= 0 {
		return 0
	}
	return int(math.Round(distanceKm / avgSpeedKmh * 60))
}
