package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daycry/auth"
)

func TestRememberSaveAndFind(t *testing.T) {
	_, rdb := newTestClient(t)
	store := NewRememberStore(rdb, "auth:rem:")
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := &auth.RememberToken{
		Selector:        "sel-1",
		HashedValidator: "hash-1",
		UserID:          "u1",
		Expires:         expires,
	}
	require.NoError(t, store.Save(ctx, tok))

	got, err := store.FindBySelector(ctx, "sel-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "hash-1", got.HashedValidator)
	assert.True(t, got.Expires.Equal(expires))

	_, err = store.FindBySelector(ctx, "missing")
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
}

func TestRememberSaveRejectsExpired(t *testing.T) {
	_, rdb := newTestClient(t)
	store := NewRememberStore(rdb, "auth:rem:")

	err := store.Save(context.Background(), &auth.RememberToken{
		Selector:        "sel-1",
		HashedValidator: "hash-1",
		UserID:          "u1",
		Expires:         time.Now().Add(-time.Minute),
	})
	assert.Error(t, err)
}

func TestRememberRotate(t *testing.T) {
	_, rdb := newTestClient(t)
	store := NewRememberStore(rdb, "auth:rem:")
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	require.NoError(t, store.Save(ctx, &auth.RememberToken{
		Selector:        "sel-1",
		HashedValidator: "hash-1",
		UserID:          "u1",
		Expires:         expires,
	}))

	ok, err := store.Rotate(ctx, "sel-1", "hash-1", "hash-2", time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.FindBySelector(ctx, "sel-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", got.HashedValidator)

	// Replay with the superseded hash loses the race.
	ok, err = store.Rotate(ctx, "sel-1", "hash-1", "hash-3", time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	// As does rotating a selector that never existed.
	ok, err = store.Rotate(ctx, "ghost", "hash-1", "hash-3", time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRememberDeleteBySelector(t *testing.T) {
	_, rdb := newTestClient(t)
	store := NewRememberStore(rdb, "auth:rem:")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &auth.RememberToken{
		Selector:        "sel-1",
		HashedValidator: "hash-1",
		UserID:          "u1",
		Expires:         time.Now().Add(time.Hour),
	}))

	require.NoError(t, store.DeleteBySelector(ctx, "sel-1"))
	_, err := store.FindBySelector(ctx, "sel-1")
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, store.DeleteBySelector(ctx, "sel-1"))
}

func TestRememberDeleteForUser(t *testing.T) {
	_, rdb := newTestClient(t)
	store := NewRememberStore(rdb, "auth:rem:")
	ctx := context.Background()

	for _, sel := range []string{"laptop", "phone"} {
		require.NoError(t, store.Save(ctx, &auth.RememberToken{
			Selector:        sel,
			HashedValidator: "hash-" + sel,
			UserID:          "u1",
			Expires:         time.Now().Add(time.Hour),
		}))
	}
	require.NoError(t, store.Save(ctx, &auth.RememberToken{
		Selector:        "other",
		HashedValidator: "hash-other",
		UserID:          "u2",
		Expires:         time.Now().Add(time.Hour),
	}))

	require.NoError(t, store.DeleteForUser(ctx, "u1"))

	_, err := store.FindBySelector(ctx, "laptop")
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
	_, err = store.FindBySelector(ctx, "phone")
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)

	_, err = store.FindBySelector(ctx, "other")
	assert.NoError(t, err)
}

func TestRememberPurgeExpired(t *testing.T) {
	mr, rdb := newTestClient(t)
	store := NewRememberStore(rdb, "auth:rem:")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &auth.RememberToken{
		Selector:        "stale",
		HashedValidator: "hash-1",
		UserID:          "u1",
		Expires:         time.Now().Add(time.Minute),
	}))
	require.NoError(t, store.Save(ctx, &auth.RememberToken{
		Selector:        "fresh",
		HashedValidator: "hash-2",
		UserID:          "u1",
		Expires:         time.Now().Add(time.Hour),
	}))

	mr.FastForward(2 * time.Minute)

	require.NoError(t, store.PurgeExpired(ctx))

	members, err := rdb.SMembers(ctx, "auth:rem:user:u1").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, members)
}

func TestRememberRedisDown(t *testing.T) {
	mr, rdb := newTestClient(t)
	store := NewRememberStore(rdb, "auth:rem:")
	ctx := context.Background()

	mr.Close()

	err := store.Save(ctx, &auth.RememberToken{
		Selector:        "sel-1",
		HashedValidator: "hash-1",
		UserID:          "u1",
		Expires:         time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrRedisUnavailable)

	_, err = store.FindBySelector(ctx, "sel-1")
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}
