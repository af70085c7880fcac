// README: Location store backed by Redis string keys with expiry and capped trail lists.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"haul/internal/types"
)

type Store struct {
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

func NewStore(redis *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: redis, ttl: ttl, now: time.Now}
}

// Set overwrites the record under key and resets its expiry to the store TTL.
func (s *Store) Set(ctx context.Context, key string, p types.Point) error {
	b, err := json.Marshal(Record{Point: p, RecordedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, b, s.ttl).Err()
}

// Get returns ok=false when the key is absent or has expired.
func (s *Store) Get(ctx context.Context, key string) (Fix, bool, error) {
	val, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Fix{}, false, nil
	}
	if err != nil {
		return Fix{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Fix{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	age := s.now().Sub(rec.RecordedAt)
	if age < 0 {
		age = 0
	}
	return Fix{Point: rec.Point, Age: age}, true, nil
}

func (s *Store) AppendTrail(ctx context.Context, bookingID types.ID, p types.Point) error {
	b, err := json.Marshal(Record{Point: p, RecordedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	key := trailKey(bookingID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.LTrim(ctx, key, -maxTrailPoints, -1)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Trail returns the recorded points for a booking, oldest first.
func (s *Store) Trail(ctx context.Context, bookingID types.ID) ([]Record, error) {
	vals, err := s.redis.LRange(ctx, trailKey(bookingID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(vals))
	for _, v := range vals {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
