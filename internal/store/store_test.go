package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- HealthCheck Tests ---

func TestHealthCheck_Success(t *testing.T) {
	st, _ := newTestStore(t)

	err := st.HealthCheck(context.Background())
	require.NoError(t, err)
}

func TestHealthCheck_RedisNil(t *testing.T) {
	st := &HybridStore{redis: nil}
	err := st.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis not initialized")
}

func TestHealthCheck_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := &HybridStore{redis: rdb}

	// Close miniredis to simulate failure
	mr.Close()

	err = st.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

// --- Close Tests ---

func TestClose_RedisOnly(t *testing.T) {
	st, _ := newTestStore(t)

	err := st.Close()
	require.NoError(t, err)
}

func TestClose_NilComponents(t *testing.T) {
	st := &HybridStore{}
	err := st.Close()
	require.NoError(t, err)
}

// --- Catalog calls without Postgres ---

func TestCatalog_NilPG(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	_, err := st.ListActiveProducts(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "postgres unavailable")

	_, err = st.GetProduct(ctx, "prod-1")
	assert.Error(t, err)
}

// --- NewHybrid ---

func TestNewHybrid_NilLoggerDefaults(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st, err := NewHybrid(mr.Addr(), 0, "", "", PGPoolConfig{}, nil)
	require.NoError(t, err)
	require.NotNil(t, st)

	require.NoError(t, st.Close())
}

func TestNewHybrid_WithExplicitLogger(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st, err := NewHybrid(mr.Addr(), 0, "", "", PGPoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, st)

	require.NoError(t, st.Close())
}

func TestNewHybrid_InvalidRedis(t *testing.T) {
	_, err := NewHybrid("localhost:1", 0, "", "", PGPoolConfig{}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestNewHybrid_InvalidPGURL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	_, err = NewHybrid(mr.Addr(), 0, "", "not-a-valid-pg-url", PGPoolConfig{}, nil)
	assert.Error(t, err)
}
