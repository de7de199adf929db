package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps backend failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store persists session state in Redis as JSON value maps with a
// fixed lifetime.
type Store struct {
	redis    redis.UniversalClient
	prefix   string
	lifetime time.Duration
}

// NewStore creates a Store namespacing keys under prefix.
func NewStore(client redis.UniversalClient, prefix string, lifetime time.Duration) *Store {
	return &Store{redis: client, prefix: prefix, lifetime: lifetime}
}

// Load fetches the state for id. A missing or expired session loads as
// an empty state bound to the same id, so callers need not distinguish
// first visits from expiries.
func (s *Store) Load(ctx context.Context, id string) (*State, error) {
	if id == "" {
		return NewState()
	}

	raw, err := s.redis.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &State{id: id, values: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	values := map[string]string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		// Corrupt blob: start clean rather than failing the request.
		values = map[string]string{}
	}

	return &State{id: id, values: values}, nil
}

// Save writes the state under its current id and deletes any ids it
// superseded through RegenerateID. Unmodified states are a no-op.
func (s *Store) Save(ctx context.Context, st *State) error {
	if !st.dirty {
		return nil
	}

	raw, err := json.Marshal(st.values)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	for _, prev := range st.prevIDs {
		pipe.Del(ctx, s.prefix+prev)
	}
	pipe.Set(ctx, s.prefix+st.id, raw, s.lifetime)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	st.prevIDs = nil
	st.dirty = false
	return nil
}

// Delete removes the state for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
