package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis is a map-backed stand-in for the go-redis client.
type fakeRedis struct {
	values map[string]string
	sets   map[string][]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string), sets: make(map[string][]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SAdd(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	for _, m := range members {
		f.sets[key] = append(f.sets[key], m.(string))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(f.sets[key], nil)
}

func (f *fakeRedis) Expire(_ context.Context, _ string, _ time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func stores() map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  newRedisStore(newFakeRedis(), RedisConfig{}),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, store := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("%PDF-1.3 report bytes")

			id, err := store.Put(ctx, &Artifact{
				Kind:      KindReport,
				Filename:  "informe_20250110_1000.pdf",
				MIMEType:  "application/pdf",
				Data:      data,
				SessionID: "s1",
			})
			require.NoError(t, err)
			require.NotEmpty(t, id)

			// Mutating the caller's buffer must not change what is served.
			data[0] = 'X'

			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, id, got.ID)
			assert.Equal(t, "informe_20250110_1000.pdf", got.Filename)
			assert.Equal(t, "application/pdf", got.MIMEType)
			assert.Equal(t, []byte("%PDF-1.3 report bytes"), got.Data)

			again, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, got.Data, again.Data)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, store := range stores() {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListBySession(t *testing.T) {
	for name, store := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			t0 := time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)

			first, err := store.Put(ctx, &Artifact{Kind: KindChart, Filename: "a.png", SessionID: "s1", CreatedAt: t0, Data: []byte("a")})
			require.NoError(t, err)
			second, err := store.Put(ctx, &Artifact{Kind: KindReport, Filename: "b.pdf", SessionID: "s1", CreatedAt: t0.Add(time.Minute), Data: []byte("b")})
			require.NoError(t, err)
			_, err = store.Put(ctx, &Artifact{Kind: KindChart, Filename: "c.png", SessionID: "s2", CreatedAt: t0, Data: []byte("c")})
			require.NoError(t, err)

			items, err := store.List(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, items, 2)
			assert.Equal(t, first, items[0].ID)
			assert.Equal(t, second, items[1].ID)
			assert.Nil(t, items[0].Data)

			// Listing does not disturb the stored payload.
			got, err := store.Get(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, []byte("a"), got.Data)
		})
	}
}

func TestMemoryStore_EvictsOldestPastCap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStoreWithConfig(MemoryConfig{MaxItems: 2})

	first, err := store.Put(ctx, &Artifact{Kind: KindChart, Filename: "a.png", Data: []byte("a")})
	require.NoError(t, err)
	second, err := store.Put(ctx, &Artifact{Kind: KindChart, Filename: "b.png", Data: []byte("b")})
	require.NoError(t, err)
	third, err := store.Put(ctx, &Artifact{Kind: KindChart, Filename: "c.png", Data: []byte("c")})
	require.NoError(t, err)

	assert.Equal(t, 2, store.Len())
	_, err = store.Get(ctx, first)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, id := range []string{second, third} {
		_, err := store.Get(ctx, id)
		assert.NoError(t, err)
	}
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStoreWithConfig(MemoryConfig{TTL: time.Hour})
	store.now = func() time.Time { return clock }

	old, err := store.Put(ctx, &Artifact{Kind: KindReport, Filename: "old.pdf", SessionID: "s1", Data: []byte("old")})
	require.NoError(t, err)

	clock = clock.Add(90 * time.Minute)
	_, err = store.Get(ctx, old)
	assert.ErrorIs(t, err, ErrNotFound)
	items, err := store.List(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, items)

	fresh, err := store.Put(ctx, &Artifact{Kind: KindReport, Filename: "new.pdf", SessionID: "s1", Data: []byte("new")})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	got, err := store.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, "new.pdf", got.Filename)
}
