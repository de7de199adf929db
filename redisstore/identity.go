// Package redisstore implements the engine's identity and remember-me
// store contracts on Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daycry/auth"
	"github.com/daycry/auth/internal"
)

// ErrRedisUnavailable wraps backend failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// IdentityStore keeps identity records as JSON blobs with two indexes:
// a per-(user, kind) id set and a per-(kind, secret) lookup key.
// Single-use consumption serializes on the DEL of the record key, so
// only one of two concurrent consumers observes a successful delete.
type IdentityStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewIdentityStore creates an IdentityStore namespacing keys under
// prefix.
func NewIdentityStore(client redis.UniversalClient, prefix string) *IdentityStore {
	return &IdentityStore{redis: client, prefix: prefix}
}

type identityRecord struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Kind       auth.IdentityKind `json:"kind"`
	Name       string            `json:"name,omitempty"`
	Secret     string            `json:"secret,omitempty"`
	Secret2    string            `json:"secret2,omitempty"`
	Extra      string            `json:"extra,omitempty"`
	Expires    int64             `json:"expires,omitempty"`
	ForceReset bool              `json:"force_reset,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	LastUsedAt int64             `json:"last_used_at,omitempty"`
}

func (s *IdentityStore) idKey(id string) string {
	return s.prefix + "id:" + id
}

func (s *IdentityStore) userKey(userID string, kind auth.IdentityKind) string {
	return s.prefix + "user:" + userID + ":" + string(kind)
}

func (s *IdentityStore) secretKey(kind auth.IdentityKind, secret string) string {
	return s.prefix + "secret:" + string(kind) + ":" + secret
}

// Create persists a new identity, assigning an ID when absent.
func (s *IdentityStore) Create(ctx context.Context, ident *auth.Identity) error {
	if ident.ID == "" {
		ident.ID = internal.NewID()
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now()
	}

	raw, err := json.Marshal(toRecord(ident))
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.idKey(ident.ID), raw, 0)
	pipe.SAdd(ctx, s.userKey(ident.UserID, ident.Kind), ident.ID)
	if ident.Secret != "" {
		pipe.Set(ctx, s.secretKey(ident.Kind, ident.Secret), ident.ID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Update rewrites an existing identity, re-pointing the secret index
// when the secret changed.
func (s *IdentityStore) Update(ctx context.Context, ident *auth.Identity) error {
	old, err := s.getByID(ctx, ident.ID)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(toRecord(ident))
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	if old.Secret != "" && old.Secret != ident.Secret {
		pipe.Del(ctx, s.secretKey(old.Kind, old.Secret))
	}
	pipe.Set(ctx, s.idKey(ident.ID), raw, 0)
	if ident.Secret != "" {
		pipe.Set(ctx, s.secretKey(ident.Kind, ident.Secret), ident.ID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// GetByKind returns the oldest identity of the given kind owned by the
// user, or [auth.ErrIdentityNotFound].
func (s *IdentityStore) GetByKind(ctx context.Context, userID string, kind auth.IdentityKind) (*auth.Identity, error) {
	idents, err := s.GetAllByKinds(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	if len(idents) == 0 {
		return nil, auth.ErrIdentityNotFound
	}
	return &idents[0], nil
}

// GetAllByKinds returns the user's identities for the given kinds, in
// kind-argument order and oldest-first within a kind.
func (s *IdentityStore) GetAllByKinds(ctx context.Context, userID string, kinds ...auth.IdentityKind) ([]auth.Identity, error) {
	var out []auth.Identity
	for _, kind := range kinds {
		ids, err := s.redis.SMembers(ctx, s.userKey(userID, kind)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(ids) == 0 {
			continue
		}

		var batch []auth.Identity
		for _, id := range ids {
			ident, err := s.getByID(ctx, id)
			if errors.Is(err, auth.ErrIdentityNotFound) {
				// Dangling index entry left by a concurrent delete.
				_ = s.redis.SRem(ctx, s.userKey(userID, kind), id).Err()
				continue
			}
			if err != nil {
				return nil, err
			}
			batch = append(batch, *ident)
		}
		sort.Slice(batch, func(i, j int) bool {
			return batch[i].CreatedAt.Before(batch[j].CreatedAt)
		})
		out = append(out, batch...)
	}
	return out, nil
}

// FindBySecret resolves an identity through the (kind, secret) index.
// Callers pass the stored form: hashed for access tokens, raw for
// magic-link and one-time codes.
func (s *IdentityStore) FindBySecret(ctx context.Context, kind auth.IdentityKind, secret string) (*auth.Identity, error) {
	id, err := s.redis.Get(ctx, s.secretKey(kind, secret)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.getByID(ctx, id)
}

// Delete removes an identity and reports whether this call performed
// the removal. Exactly one of any set of concurrent callers sees true.
func (s *IdentityStore) Delete(ctx context.Context, id string) (bool, error) {
	ident, err := s.getByID(ctx, id)
	if errors.Is(err, auth.ErrIdentityNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	deleted, err := s.redis.Del(ctx, s.idKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	pipe := s.redis.TxPipeline()
	pipe.SRem(ctx, s.userKey(ident.UserID, ident.Kind), id)
	if ident.Secret != "" {
		pipe.Del(ctx, s.secretKey(ident.Kind, ident.Secret))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return deleted == 1, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return deleted == 1, nil
}

// DeleteByKind removes every identity of the given kind owned by the
// user.
func (s *IdentityStore) DeleteByKind(ctx context.Context, userID string, kind auth.IdentityKind) error {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID, kind)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	for _, id := range ids {
		if _, err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	if err := s.redis.Del(ctx, s.userKey(userID, kind)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Touch updates the identity's last-used timestamp.
func (s *IdentityStore) Touch(ctx context.Context, id string, at time.Time) error {
	ident, err := s.getByID(ctx, id)
	if err != nil {
		return err
	}
	ident.LastUsedAt = at

	raw, err := json.Marshal(toRecord(ident))
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.idKey(id), raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *IdentityStore) getByID(ctx context.Context, id string) (*auth.Identity, error) {
	raw, err := s.redis.Get(ctx, s.idKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var rec identityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt identity record %q: %w", id, err)
	}
	return fromRecord(rec), nil
}

func toRecord(ident *auth.Identity) identityRecord {
	rec := identityRecord{
		ID:         ident.ID,
		UserID:     ident.UserID,
		Kind:       ident.Kind,
		Name:       ident.Name,
		Secret:     ident.Secret,
		Secret2:    ident.Secret2,
		Extra:      ident.Extra,
		ForceReset: ident.ForceReset,
		CreatedAt:  ident.CreatedAt.Unix(),
	}
	if !ident.Expires.IsZero() {
		rec.Expires = ident.Expires.Unix()
	}
	if !ident.LastUsedAt.IsZero() {
		rec.LastUsedAt = ident.LastUsedAt.Unix()
	}
	return rec
}

func fromRecord(rec identityRecord) *auth.Identity {
	ident := &auth.Identity{
		ID:         rec.ID,
		UserID:     rec.UserID,
		Kind:       rec.Kind,
		Name:       rec.Name,
		Secret:     rec.Secret,
		Secret2:    rec.Secret2,
		Extra:      rec.Extra,
		ForceReset: rec.ForceReset,
		CreatedAt:  time.Unix(rec.CreatedAt, 0),
	}
	if rec.Expires != 0 {
		ident.Expires = time.Unix(rec.Expires, 0)
	}
	if rec.LastUsedAt != 0 {
		ident.LastUsedAt = time.Unix(rec.LastUsedAt, 0)
	}
	return ident
}
