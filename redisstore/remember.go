package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daycry/auth"
)

// rotateScript swaps the stored validator hash only when the caller
// still holds the current one. Fields live in a hash so the compare
// and swap stay server-side without JSON in Lua.
//
// KEYS[1] selector key
// ARGV[1] expected validator hash
// ARGV[2] replacement validator hash
// ARGV[3] new expiry, unix seconds
// ARGV[4] key TTL in milliseconds
//
// Returns 1 on swap, 0 when the key is gone or the hash moved on.
var rotateScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'validator')
if not current or current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'validator', ARGV[2], 'expires', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// RememberStore keeps remember-me tokens as one hash per selector with
// a per-user selector set for bulk revocation. Key TTLs track token
// expiry so abandoned tokens fall out on their own; PurgeExpired only
// has to clean the user sets.
type RememberStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRememberStore creates a RememberStore namespacing keys under
// prefix.
func NewRememberStore(client redis.UniversalClient, prefix string) *RememberStore {
	return &RememberStore{redis: client, prefix: prefix}
}

func (s *RememberStore) selectorKey(selector string) string {
	return s.prefix + "sel:" + selector
}

func (s *RememberStore) userSetKey(userID string) string {
	return s.prefix + "user:" + userID
}

// Save stores a new token. The key expires with the token.
func (s *RememberStore) Save(ctx context.Context, tok *auth.RememberToken) error {
	ttl := time.Until(tok.Expires)
	if ttl <= 0 {
		return fmt.Errorf("remember token already expired at %s", tok.Expires)
	}

	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, s.selectorKey(tok.Selector),
		"user_id", tok.UserID,
		"validator", tok.HashedValidator,
		"expires", strconv.FormatInt(tok.Expires.Unix(), 10),
	)
	pipe.PExpire(ctx, s.selectorKey(tok.Selector), ttl)
	pipe.SAdd(ctx, s.userSetKey(tok.UserID), tok.Selector)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// FindBySelector returns the token for selector, or
// [auth.ErrTokenNotFound].
func (s *RememberStore) FindBySelector(ctx context.Context, selector string) (*auth.RememberToken, error) {
	fields, err := s.redis.HGetAll(ctx, s.selectorKey(selector)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, auth.ErrTokenNotFound
	}

	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt remember token %q: %w", selector, err)
	}
	return &auth.RememberToken{
		Selector:        selector,
		HashedValidator: fields["validator"],
		UserID:          fields["user_id"],
		Expires:         time.Unix(expires, 0),
	}, nil
}

// Rotate atomically replaces oldHash with newHash under selector and
// extends expiry. It reports false when the stored hash is no longer
// oldHash, which a concurrent rotation or theft response causes.
func (s *RememberStore) Rotate(ctx context.Context, selector, oldHash, newHash string, expires time.Time) (bool, error) {
	ttl := time.Until(expires)
	if ttl <= 0 {
		return false, fmt.Errorf("remember token already expired at %s", expires)
	}

	res, err := rotateScript.Run(ctx, s.redis,
		[]string{s.selectorKey(selector)},
		oldHash, newHash, expires.Unix(), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// DeleteBySelector removes one token.
func (s *RememberStore) DeleteBySelector(ctx context.Context, selector string) error {
	tok, err := s.FindBySelector(ctx, selector)
	if errors.Is(err, auth.ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.selectorKey(selector))
	pipe.SRem(ctx, s.userSetKey(tok.UserID), selector)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteForUser revokes every token the user holds, across all of
// their devices.
func (s *RememberStore) DeleteForUser(ctx context.Context, userID string) error {
	selectors, err := s.redis.SMembers(ctx, s.userSetKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	pipe := s.redis.TxPipeline()
	for _, sel := range selectors {
		pipe.Del(ctx, s.selectorKey(sel))
	}
	pipe.Del(ctx, s.userSetKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// PurgeExpired drops user-set entries whose token keys have already
// expired. Token records themselves expire via TTL.
func (s *RememberStore) PurgeExpired(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+"user:*", 100).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, key := range keys {
			selectors, err := s.redis.SMembers(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			for _, sel := range selectors {
				exists, err := s.redis.Exists(ctx, s.selectorKey(sel)).Result()
				if err != nil {
					return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
				if exists == 0 {
					if err := s.redis.SRem(ctx, key, sel).Err(); err != nil {
						return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
					}
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
