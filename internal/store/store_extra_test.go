package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- HealthCheck Tests ---

func TestHealthCheck_Success(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()

	err := store.HealthCheck(context.Background())
	require.NoError(t, err)
}

func TestHealthCheck_RedisNil(t *testing.T) {
	store := &HybridStore{redis: nil}
	err := store.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis not initialized")
}

func TestHealthCheck_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := &HybridStore{redis: rdb}

	// Close miniredis to simulate failure
	mr.Close()

	err = store.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

// --- Close Tests ---

func TestClose_RedisOnly(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()

	err := store.Close()
	require.NoError(t, err)
}

func TestClose_NilComponents(t *testing.T) {
	store := &HybridStore{}
	err := store.Close()
	require.NoError(t, err)
}

// --- Event / snapshot writes with nil PG ---

func TestRecordReading_NilPG(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()

	// Should return nil (no-op) when PG is nil
	err := store.RecordReading(context.Background(), sampleReading("CAISO_NORTH"))
	require.NoError(t, err)
}

func TestGetRegionHistory_NilPG(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	results, err := store.GetRegionHistory(context.Background(), "CAISO_NORTH", start, end)
	assert.Nil(t, results)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "postgres unavailable")
}

// --- GetLatestReading edge cases ---

func TestGetLatestReading_InvalidJSON(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	// Store invalid JSON in Redis
	require.NoError(t, mr.Set("signal:latest:CAISO_NORTH", "not-json"))

	reading, err := store.GetLatestReading(ctx, "CAISO_NORTH")
	assert.Nil(t, reading)
	assert.Error(t, err)
}

func TestGetLatestForecast_InvalidJSON(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, mr.Set("forecast:latest:PJM_NJ", "not-json"))

	curve, err := store.GetLatestForecast(ctx, "PJM_NJ")
	assert.Nil(t, curve)
	assert.Error(t, err)
}

// --- SetJSON / GetJSON edge cases ---

func TestGetJSON_KeyNotFound(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	var dest map[string]string
	err := store.GetJSON(ctx, "nonexistent:key", &dest)
	assert.Error(t, err)
}

func TestSetJSON_NilValue(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	// nil marshals to "null" — should not error
	err := store.SetJSON(ctx, "test:nil", nil, 0)
	require.NoError(t, err)
}

// --- NewHybrid construction ---

func TestNewHybrid_NilLoggerDefaults(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	// nil logger should default to zap.NewNop
	st, err := NewHybrid(mr.Addr(), 0, "", PGPoolConfig{}, time.Minute, nil)
	require.NoError(t, err)
	require.NotNil(t, st)

	err = st.Close()
	require.NoError(t, err)
}

func TestNewHybrid_WithExplicitLogger(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st, err := NewHybrid(mr.Addr(), 0, "", PGPoolConfig{}, time.Minute, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, st)

	err = st.Close()
	require.NoError(t, err)
}

func TestNewHybrid_InvalidRedis(t *testing.T) {
	_, err := NewHybrid("localhost:1", 0, "", PGPoolConfig{}, time.Minute, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestNewHybrid_InvalidPGURL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	_, err = NewHybrid(mr.Addr(), 0, "not-a-valid-pg-url", PGPoolConfig{}, time.Minute, nil)
	assert.Error(t, err)
}
