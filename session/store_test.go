package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	return NewStore(rdb, "sess:", time.Hour), mr
}

func TestStoreRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	st, err := NewState()
	require.NoError(t, err)
	st.Set("auth.user_id", "u1")
	st.Set("theme", "dark")
	require.NoError(t, store.Save(ctx, st))

	loaded, err := store.Load(ctx, st.ID())
	require.NoError(t, err)
	assert.Equal(t, st.ID(), loaded.ID())

	uid, ok := loaded.Get("auth.user_id")
	assert.True(t, ok)
	assert.Equal(t, "u1", uid)
}

func TestStoreLoadMissing(t *testing.T) {
	store, _ := newTestStore(t)

	st, err := store.Load(context.Background(), "never-saved")
	require.NoError(t, err)
	assert.Equal(t, "never-saved", st.ID())
	_, ok := st.Get("anything")
	assert.False(t, ok)
}

func TestStoreLoadEmptyIDMintsFresh(t *testing.T) {
	store, _ := newTestStore(t)

	a, err := store.Load(context.Background(), "")
	require.NoError(t, err)
	b, err := store.Load(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestStoreSaveSkipsCleanState(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	st, err := store.Load(ctx, "clean")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, st))
	assert.False(t, mr.Exists("sess:clean"))
}

func TestStoreRegenerateDropsOldID(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	st, err := NewState()
	require.NoError(t, err)
	st.Set("auth.user_id", "u1")
	require.NoError(t, store.Save(ctx, st))
	oldID := st.ID()

	require.NoError(t, st.RegenerateID())
	require.NotEqual(t, oldID, st.ID())
	require.NoError(t, store.Save(ctx, st))

	assert.False(t, mr.Exists("sess:"+oldID), "superseded session id must be deleted")

	loaded, err := store.Load(ctx, st.ID())
	require.NoError(t, err)
	uid, ok := loaded.Get("auth.user_id")
	assert.True(t, ok)
	assert.Equal(t, "u1", uid)
}

func TestStoreLifetime(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	st, err := NewState()
	require.NoError(t, err)
	st.Set("k", "v")
	require.NoError(t, store.Save(ctx, st))

	mr.FastForward(time.Hour + time.Second)

	loaded, err := store.Load(ctx, st.ID())
	require.NoError(t, err)
	_, ok := loaded.Get("k")
	assert.False(t, ok, "expired session must load empty")
}

func TestStoreCorruptBlobLoadsClean(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set("sess:broken", "{not json"))

	st, err := store.Load(context.Background(), "broken")
	require.NoError(t, err)
	_, ok := st.Get("anything")
	assert.False(t, ok)
}

func TestStateValues(t *testing.T) {
	st, err := NewState()
	require.NoError(t, err)
	require.NotEmpty(t, st.ID())

	_, ok := st.Get("missing")
	assert.False(t, ok)

	st.Set("k", "v")
	v, ok := st.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	st.Remove("k")
	_, ok = st.Get("k")
	assert.False(t, ok)
}
