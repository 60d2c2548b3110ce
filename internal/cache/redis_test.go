package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tulivucare/tulivu-backend/internal/domain"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis, func()) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(client)

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return cache, mr, cleanup
}

func testSession() *domain.Session {
	return &domain.Session{
		ID:             uuid.New(),
		ClientID:       uuid.New(),
		PsychologistID: uuid.New(),
		State:          domain.SessionApproved,
		ScheduledAt:    time.Now().Add(24 * time.Hour),
		Version:        2,
	}
}

func TestGet_Success(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	session := testSession()

	data, _ := json.Marshal(session)
	mr.Set(cacheKey(session.ID.String()), string(data))

	result, err := cache.Get(ctx, session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, session.ID, result.ID)
	assert.Equal(t, domain.SessionApproved, result.State)
	assert.Equal(t, int64(2), result.Version)
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	result, err := cache.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	id := uuid.NewString()
	mr.Set(cacheKey(id), "{not json")

	result, err := cache.Get(context.Background(), id)
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestSetAndGet_RoundTrip(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	session := testSession()

	require.NoError(t, cache.Set(ctx, session))
	assert.True(t, mr.Exists(cacheKey(session.ID.String())))

	result, err := cache.Get(ctx, session.ID.String())
	require.NoError(t, err)
	assert.Equal(t, session.ID, result.ID)
}

func TestDelete(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	session := testSession()
	require.NoError(t, cache.Set(ctx, session))

	require.NoError(t, cache.Delete(ctx, session.ID.String()))
	assert.False(t, mr.Exists(cacheKey(session.ID.String())))
}

func TestSet_TTLApplied(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	session := testSession()
	require.NoError(t, cache.Set(context.Background(), session))

	ttl := mr.TTL(cacheKey(session.ID.String()))
	assert.GreaterOrEqual(t, ttl, 10*time.Minute)
}
