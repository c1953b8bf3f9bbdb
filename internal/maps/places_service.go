package maps

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"namma/internal/types"
)

// Place represents a simplified location result.
type Place struct {
	PlaceID string
	Name    string
	Address string
	Point   types.Point
}

// PlacesService handles interactions with Google Places API.
type PlacesService struct {
	client   *maps.Client
	radiusM  uint
	maxItems int
}

// NewPlacesService creates a new PlacesService with the given API Key.
func NewPlacesService(apiKey string) (*PlacesService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &PlacesService{client: client, radiusM: 50000, maxItems: 8}, nil
}

// TextSearch looks up places matching query. When near is set, results are biased
// towards that point.
func (s *PlacesService) TextSearch(ctx context.Context, query string, near *types.Point) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	r := &maps.TextSearchRequest{Query: query}
	if near != nil {
		r.Location = &maps.LatLng{Lat: near.Lat, Lng: near.Lng}
		r.Radius = s.radiusM
	}

	resp, err := s.client.TextSearch(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("places api error: %w", err)
	}

	results := make([]Place, 0, len(resp.Results))
	for _, result := range resp.Results {
		results = append(results, Place{
			PlaceID: result.PlaceID,
			Name:    result.Name,
			Address: result.FormattedAddress,
			Point: types.Point{
				Lat: result.Geometry.Location.Lat,
				Lng: result.Geometry.Location.Lng,
			},
		})
		if len(results) >= s.maxItems {
			break
		}
	}
	return results, nil
}
