package location

import (
	"math"
	"testing"

	"namma/internal/types"
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
			lat1: 12.9716, lng1: 77.5946,
			lat2: 12.9716, lng2: 77.5946,
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name: "MG Road to Koramangala (~6km)",
			lat1: 12.9716, lng1: 77.5946,
			lat2: 12.9279, lng2: 77.6271,
			wantKm:    5.97,
			tolerance: 0.5,
		},
		{
			name: "MG Road to Bangalore Airport (~28km)",
			lat1: 12.9716, lng1: 77.5946,
			lat2: 13.1986, lng2: 77.7066,
			wantKm:    27.9,
			tolerance: 1.5,
		},
		{
			name: "New York to Los Angeles (~3944km)",
			lat1: 40.7128, lng1: -74.0060,
			lat2: 34.0522, lng2: -118.2437,
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := haversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("haversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestDistanceKm_SamePointIsZero(t *testing.T) {
	points := []types.Point{
		{Lat: 0, Lng: 0},
		{Lat: 13.1986, Lng: 77.7066},
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: 89.9, Lng: -179.9},
	}
	for _, p := range points {
		if d := DistanceKm(p, p); d != 0 {
			t.Errorf("DistanceKm(%v, %v) = %f, want 0", p, p, d)
		}
	}
}

func TestDistanceKm_Symmetry(t *testing.T) {
	pairs := [][2]types.Point{
		{{Lat: 25.0, Lng: 121.0}, {Lat: 26.0, Lng: 122.0}},
		{{Lat: 12.9716, Lng: 77.5946}, {Lat: 12.8456, Lng: 77.6603}},
		{{Lat: -10, Lng: 170}, {Lat: 10, Lng: -170}},
	}
	for _, p := range pairs {
		d1 := DistanceKm(p[0], p[1])
		d2 := DistanceKm(p[1], p[0])
		if math.Abs(d1-d2) > 1e-9 {
			t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
		}
		if d1 < 0 {
			t.Errorf("distance must be non-negative, got %f", d1)
		}
	}
}

func antipode(p types.Point) types.Point {
	lng := p.Lng + 180
	if lng > 180 {
		lng -= 360
	}
	return types.Point{Lat: -p.Lat, Lng: lng}
}

func TestDistanceKm_Antipodal(t *testing.T) {
	halfCircumference := math.Pi * earthRadiusKm
	check := func(p types.Point) {
		t.Helper()
		d := DistanceKm(p, antipode(p))
		if math.IsNaN(d) || d < 0 || math.Abs(d-halfCircumference) > 1e-3 {
			t.Fatalf("DistanceKm(%v, antipode) = %v, want %.3f", p, d, halfCircumference)
		}
	}

	check(types.Point{Lat: 18.83885183633153, Lng: 158.58327169620446})
	for lat := -89.5; lat <= 89.5; lat += 0.37 {
		for lng := -179.0; lng <= 179; lng += 1.13 {
			check(types.Point{Lat: lat, Lng: lng})
		}
	}
}

func TestSortByDistance_Locations(t *testing.T) {
	origin := types.Point{Lat: 12.9716, Lng: 77.5946} // MG Road
	locs := []Location{fallbackLocations[0], fallbackLocations[3], fallbackLocations[1], fallbackLocations[2]}

	sortByDistance(locs, func(l Location) float64 { return DistanceKm(origin, l.Point()) })

	want := []string{"MG Road", "Koramangala", "Electronic City", "Bangalore Airport"}
	for i, name := range want {
		if locs[i].Name != name {
			t.Fatalf("position %d = %s, want %s (order %v)", i, locs[i].Name, name, locs)
		}
	}
}

func TestSortByDistance_Empty(t *testing.T) {
	var locs []Location
	sortByDistance(locs, func(l Location) float64 { return 0 })
}
