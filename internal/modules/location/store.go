// README: Location store backed by Redis; caches reverse-geocoded addresses.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"namma/internal/types"
)

const (
	reverseKeyPrefix = "location:rgeo:%.4f,%.4f"
	reverseTTL       = 24 * time.Hour
)

type Store struct {
	redis *redis.Client
}

// NewStore returns a Store. A nil client disables caching.
func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// GetAddress returns the cached location for p, rounded to ~11m.
func (s *Store) GetAddress(ctx context.Context, p types.Point) (Location, bool, error) {
	if s == nil || s.redis == nil {
		return Location{}, false, nil
	}
	val, err := s.redis.Get(ctx, reverseKey(p)).Result()
	if err == redis.Nil {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, err
	}
	var loc Location
	if err := json.Unmarshal([]byte(val), &loc); err != nil {
		return Location{}, false, err
	}
	return loc, true, nil
}

func (s *Store) PutAddress(ctx context.Context, p types.Point, loc Location) error {
	if s == nil || s.redis == nil {
		return nil
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, reverseKey(p), data, reverseTTL).Err()
}

func reverseKey(p types.Point) string {
	return fmt.Sprintf(reverseKeyPrefix, p.Lat, p.Lng)
}
