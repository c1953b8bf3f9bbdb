package pricing

import (
	"context"
	"errors"
	"math"
	"testing"

	"namma/internal/config"
	"namma/internal/modules/vehicle"
	"namma/internal/types"
)

var sedan = vehicle.Vehicle{ID: "2", Type: "Sedan", PricePerKm: 16, Capacity: 4}

func TestService_Calculate(t *testing.T) {
	tests := []struct {
		name       string
		distanceKm float64
		pricePerKm float64
		wantFare   int64
		wantToll   int64
	}{
		{
			name:       "Exactly at toll threshold (no toll)",
			distanceKm: 10.0,
			pricePerKm: 16,
			// 50 + 160 + 20 + 0
			wantFare: 230,
			wantToll: 0,
		},
		{
			name:       "Just past toll threshold",
			distanceKm: 10.01,
			pricePerKm: 16,
			// 50 + 160.16 + 20 + 40 = 270.16 -> 270
			wantFare: 270,
			wantToll: 40,
		},
		{
			name:       "Zero distance",
			distanceKm: 0,
			pricePerKm: 22,
			wantFare:   70,
		},
		{
			name:       "Rounds half away from zero",
			distanceKm: 2.5,
			pricePerKm: 13,
			// 50 + 32.5 + 20 = 102.5 -> 103
			wantFare: 103,
		},
		{
			name:       "Rounds down below half",
			distanceKm: 3.1,
			pricePerKm: 12,
			// 50 + 37.2 + 20 = 107.2 -> 107
			wantFare: 107,
		},
		{
			name:       "Long premium ride",
			distanceKm: 27.9,
			pricePerKm: 28,
			// 50 + 781.2 + 20 + 40 = 891.2 -> 891
			wantFare: 891,
			wantToll: 40,
		},
		{
			name:       "Negative distance treated as zero",
			distanceKm: -5,
			pricePerKm: 16,
			wantFare:   70,
		},
		{
			name:       "Negative rate treated as zero",
			distanceKm: 12,
			pricePerKm: -3,
			wantFare:   110,
			wantToll:   40,
		},
	}

	s := NewService(DefaultPolicy(), nil, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Calculate(tt.distanceKm, vehicle.Vehicle{PricePerKm: tt.pricePerKm})
			if got.Total.Amount != tt.wantFare {
				t.Errorf("Calculate() = %v, want %v", got.Total.Amount, tt.wantFare)
			}
			if got.Breakdown == nil {
				t.Fatalf("expected a breakdown for a local quote")
			}
			if got.Breakdown.Toll != tt.wantToll {
				t.Errorf("toll = %d, want %d", got.Breakdown.Toll, tt.wantToll)
			}
			b := got.Breakdown
			if sum := b.Base + b.Distance + b.DriverFee + b.Toll; sum != got.Total.Amount {
				t.Errorf("breakdown sums to %d, total is %d", sum, got.Total.Amount)
			}
			if got.Total.Currency != "INR" {
				t.Errorf("currency = %q, want INR", got.Total.Currency)
			}
		})
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.FareConfig{BaseFare: 30, DriverFee: 10, Toll: 25, TollThresholdKm: 5})
	q := p.Calculate(6, 10)
	// 30 + 60 + 10 + 25
	if q.Total.Amount != 125 {
		t.Errorf("Calculate() = %d, want 125", q.Total.Amount)
	}
	if q.Total.Currency != "INR" {
		t.Errorf("empty currency should default to INR, got %q", q.Total.Currency)
	}
}

type fakeBackend struct {
	fare float64
	err  error

	gotDistance float64
	gotType     string
}

func (f *fakeBackend) FareQuote(_ context.Context, distanceKm float64, vehicleType string) (float64, error) {
	f.gotDistance = distanceKm
	f.gotType = vehicleType
	return f.fare, f.err
}

var (
	mgRoad      = types.Point{Lat: 12.9716, Lng: 77.5946}
	koramangala = types.Point{Lat: 12.9279, Lng: 77.6271}
)

func TestService_Quote_Backend(t *testing.T) {
	backend := &fakeBackend{fare: 187.6}
	s := NewService(DefaultPolicy(), backend, nil)

	q := s.Quote(context.Background(), mgRoad, koramangala, sedan)
	if q.Source != SourceBackend {
		t.Fatalf("source = %s, want backend", q.Source)
	}
	if q.Total.Amount != 188 {
		t.Errorf("total = %d, want 188", q.Total.Amount)
	}
	if q.Breakdown != nil {
		t.Errorf("backend quotes carry no breakdown")
	}
	if backend.gotType != "Sedan" || math.Abs(backend.gotDistance-q.DistanceKm) > 1e-9 {
		t.Errorf("backend called with (%v, %q)", backend.gotDistance, backend.gotType)
	}
}

func TestService_Quote_FallbackOnError(t *testing.T) {
	s := NewService(DefaultPolicy(), &fakeBackend{err: errors.New("timeout")}, nil)

	q := s.Quote(context.Background(), mgRoad, koramangala, sedan)
	if q.Source != SourceLocal {
		t.Fatalf("source = %s, want local", q.Source)
	}
	want := s.Calculate(q.DistanceKm, sedan).Total.Amount
	if q.Total.Amount != want {
		t.Errorf("total = %d, want %d", q.Total.Amount, want)
	}
}

func TestService_Quote_RejectsNegativeBackendFare(t *testing.T) {
	s := NewService(DefaultPolicy(), &fakeBackend{fare: -10}, nil)
	if q := s.Quote(context.Background(), mgRoad, koramangala, sedan); q.Source != SourceLocal {
		t.Errorf("source = %s, want local", q.Source)
	}
}

func TestService_Quote_SamePoint(t *testing.T) {
	s := NewService(DefaultPolicy(), nil, nil)
	q := s.Quote(context.Background(), mgRoad, mgRoad, sedan)
	if q.DistanceKm != 0 || q.Total.Amount != 70 {
		t.Errorf("unexpected quote for zero-length trip: %+v", q)
	}
}
