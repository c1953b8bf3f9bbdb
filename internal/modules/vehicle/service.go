// README: Vehicle service lists the catalog with cache and built-in fallbacks.
package vehicle

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("vehicle not found")

const (
	SourceBackend = "backend"
	SourceCache   = "cache"
	SourceStatic  = "static"
)

type Backend interface {
	ListVehicles(ctx context.Context) ([]Vehicle, error)
}

type Service struct {
	backend Backend
	store   *Store
	log     logrus.FieldLogger
}

func NewService(backend Backend, store *Store, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{backend: backend, store: store, log: log.WithField("module", "vehicle")}
}

type Catalog struct {
	Vehicles []Vehicle `json:"vehicles"`
	Source   string    `json:"source"`
}

// List never fails: backend errors fall back to the cached catalog, then the built-in one.
func (s *Service) List(ctx context.Context) Catalog {
	if s.backend != nil {
		vehicles, err := s.backend.ListVehicles(ctx)
		if err == nil && len(vehicles) > 0 {
			if err := s.store.SaveCatalog(ctx, vehicles); err != nil {
				s.log.WithError(err).Debug("catalog cache write failed")
			}
			return Catalog{Vehicles: vehicles, Source: SourceBackend}
		}
		if err != nil {
			s.log.WithError(err).Warn("backend vehicle list failed")
		}
	}

	cached, ok, err := s.store.LoadCatalog(ctx)
	if err != nil {
		s.log.WithError(err).Debug("catalog cache read failed")
	}
	if ok {
		return Catalog{Vehicles: cached, Source: SourceCache}
	}
	return Catalog{Vehicles: DefaultCatalog(), Source: SourceStatic}
}

func (s *Service) Get(ctx context.Context, id string) (Vehicle, error) {
	for _, v := range s.List(ctx).Vehicles {
		if v.ID == id {
			return v, nil
		}
	}
	return Vehicle{}, ErrNotFound
}
