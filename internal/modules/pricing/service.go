// README: Pricing service computes fare quotes, preferring the backend and falling back to the local formula.
package pricing

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"namma/internal/modules/location"
	"namma/internal/modules/vehicle"
	"namma/internal/types"
)

type Backend interface {
	FareQuote(ctx context.Context, distanceKm float64, vehicleType string) (float64, error)
}

type Service struct {
	policy  Policy
	backend Backend
	log     logrus.FieldLogger
}

func NewService(policy Policy, backend Backend, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{policy: policy, backend: backend, log: log.WithField("module", "pricing")}
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Calculate applies the local formula:
// base + distance*pricePerKm + driverFee + (toll if distance > threshold), rounded to whole units.
// Negative or non-finite inputs are treated as zero so the function stays total.
func (s *Service) Calculate(distanceKm float64, v vehicle.Vehicle) Quote {
	return s.policy.Calculate(distanceKm, v.PricePerKm)
}

func (p Policy) Calculate(distanceKm, pricePerKm float64) Quote {
	distanceKm = nonNegative(distanceKm)
	pricePerKm = nonNegative(pricePerKm)

	var toll int64
	if distanceKm > p.TollThresholdKm {
		toll = p.Toll
	}

	fixed := p.BaseFare + p.DriverFee + toll
	total := types.RoundUnits(float64(fixed) + distanceKm*pricePerKm)

	return Quote{
		Total:      types.Money{Amount: total, Currency: p.Currency},
		DistanceKm: distanceKm,
		Breakdown: &Breakdown{
			Base:      p.BaseFare,
			Distance:  total - fixed,
			DriverFee: p.DriverFee,
			Toll:      toll,
		},
		Source: SourceLocal,
	}
}

// Quote prices a trip between two points. Backend failures are recovered with the local formula.
func (s *Service) Quote(ctx context.Context, start, end types.Point, v vehicle.Vehicle) Quote {
	distance := location.DistanceKm(start, end)
	local := s.Calculate(distance, v)

	if s.backend == nil {
		return local
	}
	fare, err := s.backend.FareQuote(ctx, distance, v.Type)
	if err != nil {
		s.log.WithError(err).WithField("vehicle_type", v.Type).Warn("backend fare quote failed, using local formula")
		return local
	}
	if fare < 0 || math.IsNaN(fare) || math.IsInf(fare, 0) {
		s.log.WithField("fare", fare).Warn("backend returned unusable fare, using local formula")
		return local
	}
	return Quote{
		Total:      types.Money{Amount: types.RoundUnits(fare), Currency: s.policy.Currency},
		DistanceKm: distance,
		Source:     SourceBackend,
	}
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
