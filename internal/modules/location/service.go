// README: Location service resolves search queries and device coordinates with local fallbacks.
package location

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"namma/internal/domain"
	"namma/internal/maps"
	"namma/internal/types"
)

const (
	SourceBackend = "backend"
	SourcePlaces  = "places"
	SourceStatic  = "static"
)

type Backend interface {
	SearchLocations(ctx context.Context, query string) ([]Location, error)
}

type PlaceSearcher interface {
	TextSearch(ctx context.Context, query string, near *types.Point) ([]maps.Place, error)
}

type Geocoder interface {
	ReverseGeocode(ctx context.Context, p types.Point) (maps.Address, error)
}

type Deps struct {
	Backend  Backend
	Places   PlaceSearcher
	Geocoder Geocoder
	Store    *Store
	Log      logrus.FieldLogger
}

type Service struct {
	backend  Backend
	places   PlaceSearcher
	geocoder Geocoder
	store    *Store
	seq      *domain.Sequencer
	log      logrus.FieldLogger
}

func NewService(deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		backend:  deps.Backend,
		places:   deps.Places,
		geocoder: deps.Geocoder,
		store:    deps.Store,
		seq:      domain.NewSequencer(),
		log:      log.WithField("module", "location"),
	}
}

type SearchQuery struct {
	TravelerID types.ID
	Query      string
	Near       *types.Point
}

type SearchResult struct {
	Locations []Location `json:"locations"`
	Source    string     `json:"source"`
}

// Search never fails on collaborator errors; it only reports ErrStaleResponse when
// a newer search from the same traveler was issued while this one was in flight.
func (s *Service) Search(ctx context.Context, q SearchQuery) (SearchResult, error) {
	query := strings.TrimSpace(q.Query)
	if query == "" {
		return SearchResult{Locations: []Location{}, Source: SourceStatic}, nil
	}

	key := "search:" + string(q.TravelerID)
	tag := s.seq.Next(key)
	res := s.search(ctx, query, q.Near)
	if !s.seq.IsLatest(key, tag) {
		return SearchResult{}, domain.ErrStaleResponse
	}
	return res, nil
}

func (s *Service) search(ctx context.Context, query string, near *types.Point) SearchResult {
	log := s.log.WithField("query", query)

	if s.backend != nil {
		locs, err := s.backend.SearchLocations(ctx, query)
		if err == nil {
			if locs == nil {
				locs = []Location{}
			}
			return SearchResult{Locations: locs, Source: SourceBackend}
		}
		log.WithError(err).Warn("backend location search failed")
	}

	if s.places != nil {
		places, err := s.places.TextSearch(ctx, query, near)
		if err == nil && len(places) > 0 {
			locs := make([]Location, 0, len(places))
			for _, p := range places {
				locs = append(locs, Location{
					ID:        p.PlaceID,
					Name:      p.Name,
					Address:   p.Address,
					Latitude:  p.Point.Lat,
					Longitude: p.Point.Lng,
				})
			}
			sortNear(locs, near)
			return SearchResult{Locations: locs, Source: SourcePlaces}
		}
		if err != nil {
			log.WithError(err).Warn("places search failed")
		}
	}

	locs := filterFallback(query)
	sortNear(locs, near)
	return SearchResult{Locations: locs, Source: SourceStatic}
}

// CurrentLocation resolves device coordinates to a named Location. Geocoding
// failures degrade to a generic name rather than an error.
func (s *Service) CurrentLocation(ctx context.Context, p types.Point) (Location, error) {
	if !p.Valid() {
		return Location{}, &domain.ValidationError{Field: "coordinates", Msg: "latitude/longitude out of range"}
	}

	loc := Location{
		ID:        "current",
		Name:      currentLocationName,
		Latitude:  p.Lat,
		Longitude: p.Lng,
	}

	if cached, ok, err := s.store.GetAddress(ctx, p); err != nil {
		s.log.WithError(err).Debug("reverse geocode cache read failed")
	} else if ok {
		cached.Latitude, cached.Longitude = p.Lat, p.Lng
		return cached, nil
	}

	if s.geocoder == nil {
		return loc, nil
	}
	addr, err := s.geocoder.ReverseGeocode(ctx, p)
	if err != nil {
		s.log.WithError(err).WithField("point", p.String()).Warn("reverse geocode failed")
		return loc, nil
	}
	if addr.Name != "" {
		loc.Name = addr.Name
	}
	loc.Address = addr.Formatted

	if err := s.store.PutAddress(ctx, p, loc); err != nil {
		s.log.WithError(err).Debug("reverse geocode cache write failed")
	}
	return loc, nil
}

func filterFallback(query string) []Location {
	q := strings.ToLower(query)
	out := []Location{}
	for _, loc := range fallbackLocations {
		if strings.Contains(strings.ToLower(loc.Name), q) || strings.Contains(strings.ToLower(loc.Address), q) {
			out = append(out, loc)
		}
	}
	return out
}

func sortNear(locs []Location, near *types.Point) {
	if near == nil {
		return
	}
	origin := *near
	sortByDistance(locs, func(l Location) float64 { return DistanceKm(origin, l.Point()) })
}
