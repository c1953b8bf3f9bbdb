// README: Vehicle catalog cache backed by Redis.
package vehicle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	catalogKey = "vehicle:catalog"
	catalogTTL = 24 * time.Hour
)

type Store struct {
	redis *redis.Client
}

// NewStore returns a Store. A nil client disables caching.
func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) SaveCatalog(ctx context.Context, vehicles []Vehicle) error {
	if s == nil || s.redis == nil {
		return nil
	}
	data, err := json.Marshal(vehicles)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, catalogKey, data, catalogTTL).Err()
}

// LoadCatalog returns the last catalog fetched from the backend, if any.
func (s *Store) LoadCatalog(ctx context.Context) ([]Vehicle, bool, error) {
	if s == nil || s.redis == nil {
		return nil, false, nil
	}
	val, err := s.redis.Get(ctx, catalogKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []Vehicle
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return nil, false, err
	}
	return out, len(out) > 0, nil
}
