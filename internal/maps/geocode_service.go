package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"namma/internal/types"
)

// Address is a reverse-geocoded, human-readable description of a point.
type Address struct {
	Name      string
	Formatted string
	PlaceID   string
}

// GeocodeService handles reverse geocoding through the Google Maps Geocoding API.
type GeocodeService struct {
	client *maps.Client
}

// NewGeocodeService creates a GeocodeService with the given API Key.
func NewGeocodeService(apiKey string) (*GeocodeService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GeocodeService{client: client}, nil
}

// ReverseGeocode returns the best address for p. The first result is the most specific one.
func (s *GeocodeService) ReverseGeocode(ctx context.Context, p types.Point) (Address, error) {
	resp, err := s.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
	})
	if err != nil {
		return Address{}, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(resp) == 0 {
		return Address{}, fmt.Errorf("no address found for %s", p)
	}

	best := resp[0]
	return Address{
		Name:      shortName(best),
		Formatted: best.FormattedAddress,
		PlaceID:   best.PlaceID,
	}, nil
}

// shortName prefers a named point of interest or neighbourhood over the full address.
func shortName(r maps.GeocodingResult) string {
	preferred := []string{"point_of_interest", "premise", "sublocality_level_1", "sublocality", "neighborhood", "route"}
	for _, want := range preferred {
		for _, c := range r.AddressComponents {
			for _, t := range c.Types {
				if t == want {
					return c.LongName
				}
			}
		}
	}
	return r.FormattedAddress
}
