package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"www.github.com/Wanderer0074348/VirtualTutor/src/cache"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
	"www.github.com/Wanderer0074348/VirtualTutor/src/throttle"
)

func memoryFactory(string) models.CacheStore {
	return cache.NewMemoryCache(8)
}

func TestRegistry_CreateGetDelete(t *testing.T) {
	r := NewRegistry(throttle.Config{Cooldown: time.Second}, memoryFactory)

	s := r.Create()
	assert.True(t, strings.HasPrefix(s.ID, "sess_"))
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, r.Delete(context.Background(), s.ID))
	_, err = r.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Delete(context.Background(), s.ID), ErrNotFound)
}

func TestRegistry_SessionsAreIndependent(t *testing.T) {
	r := NewRegistry(throttle.Config{Cooldown: time.Minute}, memoryFactory)
	a, b := r.Create(), r.Create()
	now := time.Now()

	a.Throttle.Accept(now)
	assert.False(t, a.Throttle.Check(now).Allowed)
	assert.True(t, b.Throttle.Check(now).Allowed)

	ctx := context.Background()
	require.NoError(t, a.Cache.Set(ctx, "k", &models.Completion{Text: "a"}))
	got, _ := b.Cache.Get(ctx, "k")
	assert.Nil(t, got)
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(throttle.Config{}, memoryFactory)

	s, created := r.GetOrCreate("")
	assert.True(t, created)

	again, created := r.GetOrCreate(s.ID)
	assert.False(t, created)
	assert.Same(t, s, again)

	_, created = r.GetOrCreate("sess_unknown")
	assert.True(t, created)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Sweep(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	r := NewRegistry(throttle.Config{}, memoryFactory,
		WithClock(func() time.Time { return now }),
		WithIdleTTL(time.Hour),
	)

	old := r.Create()
	now = now.Add(30 * time.Minute)
	fresh := r.Create()

	now = now.Add(45 * time.Minute)
	assert.Equal(t, 1, r.Sweep(context.Background()))

	_, err := r.Get(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestRegistry_List(t *testing.T) {
	now := time.Now()
	r := NewRegistry(throttle.Config{MaxCalls: 5}, memoryFactory, WithClock(func() time.Time { return now }))

	first := r.Create()
	now = now.Add(time.Second)
	r.Create()
	first.Throttle.Record()

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].SessionID)
	assert.Equal(t, 1, list[0].Calls)
	assert.Equal(t, 5, list[0].MaxCalls)
}
