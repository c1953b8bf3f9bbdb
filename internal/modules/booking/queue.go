// README: Offline submission queue; Redis list in production, in-memory for single-process use.
package booking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"namma/internal/types"
)

// Submission is a booking request accepted while the backend was unreachable.
type Submission struct {
	LocalID    types.ID      `json:"localId"`
	TravelerID types.ID      `json:"travelerId"`
	Request    CreateRequest `json:"request"`
	QueuedAt   time.Time     `json:"queuedAt"`
	Attempts   int           `json:"attempts"`
	// Booking is the provisional booking as created. Any replica can resubmit
	// from it, including one that never held the traveler's session.
	Booking Booking `json:"booking"`
}

type OfflineQueue interface {
	Push(ctx context.Context, sub Submission) error
	// PushFront returns a submission to the head so ordering survives a failed retry.
	PushFront(ctx context.Context, sub Submission) error
	Pop(ctx context.Context) (Submission, bool, error)
	// Abandon marks a queued submission the traveler walked away from.
	Abandon(ctx context.Context, localID types.ID) error
	// TakeAbandoned reports whether localID was abandoned and clears the mark.
	TakeAbandoned(ctx context.Context, localID types.ID) (bool, error)
}

const (
	offlineQueueKey = "booking:offline"
	abandonedTTL    = 7 * 24 * time.Hour
)

type RedisQueue struct {
	redis *redis.Client
	key   string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{redis: client, key: offlineQueueKey}
}

func (q *RedisQueue) Push(ctx context.Context, sub Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return q.redis.RPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) PushFront(ctx context.Context, sub Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return q.redis.LPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (Submission, bool, error) {
	val, err := q.redis.LPop(ctx, q.key).Result()
	if err == redis.Nil {
		return Submission{}, false, nil
	}
	if err != nil {
		return Submission{}, false, err
	}
	var sub Submission
	if err := json.Unmarshal([]byte(val), &sub); err != nil {
		return Submission{}, false, err
	}
	return sub, true, nil
}

func (q *RedisQueue) Abandon(ctx context.Context, localID types.ID) error {
	return q.redis.Set(ctx, q.abandonedKey(localID), 1, abandonedTTL).Err()
}

func (q *RedisQueue) TakeAbandoned(ctx context.Context, localID types.ID) (bool, error) {
	n, err := q.redis.Del(ctx, q.abandonedKey(localID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (q *RedisQueue) abandonedKey(localID types.ID) string {
	return q.key + ":abandoned:" + string(localID)
}

type MemoryQueue struct {
	mu        sync.Mutex
	items     []Submission
	abandoned map[types.ID]struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{abandoned: make(map[types.ID]struct{})}
}

func (q *MemoryQueue) Push(_ context.Context, sub Submission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, sub)
	return nil
}

func (q *MemoryQueue) PushFront(_ context.Context, sub Submission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Submission{sub}, q.items...)
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context) (Submission, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Submission{}, false, nil
	}
	sub := q.items[0]
	q.items = q.items[1:]
	return sub, true, nil
}

func (q *MemoryQueue) Abandon(_ context.Context, localID types.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.abandoned[localID] = struct{}{}
	return nil
}

func (q *MemoryQueue) TakeAbandoned(_ context.Context, localID types.ID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.abandoned[localID]
	delete(q.abandoned, localID)
	return ok, nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
