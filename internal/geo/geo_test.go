package geo

import (
	"math"
	"testing"

	"relaydispatch/internal/types"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lng1      float64
		lat2      float64
		lng2      float64
		wantKm    float64
		tolerance float64
	}{
		{
			name: "same point",
			lat1: 6.4550, lng1: 3.4050,
			lat2: 6.4550, lng2: 3.4050,
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name: "Lagos Island to Lekki (~18.4km)",
			lat1: 6.4550, lng1: 3.4050,
			lat2: 6.4520, lng2: 3.5700,
			wantKm:    18.4,
			tolerance: 1.0,
		},
		{
			name: "Lagos to Ibadan (~128km)",
			lat1: 6.5244, lng1: 3.3792,
			lat2: 7.3775, lng2: 3.9470,
			wantKm:    113,
			tolerance: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("HaversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	d1 := HaversineKm(6.45, 3.40, 6.60, 3.35)
	d2 := HaversineKm(6.60, 3.35, 6.45, 3.40)
	if math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestDistanceKm_MatchesHaversine(t *testing.T) {
	a := types.Point{Lat: 6.4550, Lng: 3.4050}
	b := types.Point{Lat: 6.4520, Lng: 3.5700}
	if got, want := DistanceKm(a, b), HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng); got != want {
		t.Errorf("DistanceKm() = %f, want %f", got, want)
	}
}

func TestEstimateEtaMinutes(t *testing.T) {
	tests := []struct {
		name       string
		distanceKm float64
		want       int
	}{
		{"zero distance floors at one minute", 0, 1},
		{"tiny distance floors at one minute", 0.1, 1},
		{"ten km", 10, 40},
		{"rounds to nearest", 2.6, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateEtaMinutes(tt.distanceKm); got != tt.want {
				t.Errorf("EstimateEtaMinutes(%f) = %d, want %d", tt.distanceKm, got, tt.want)
			}
		})
	}
}
