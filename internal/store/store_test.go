package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"owl-thermo/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisKV(t *testing.T) (*miniredis.Miniredis, *RedisKV) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisKV(rdb)
}

func TestRedisKV_GetSetDeleteScan(t *testing.T) {
	_, kv := newRedisKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "cfg:a", "1", 0))
	require.NoError(t, kv.Set(ctx, "cfg:b", "2", 0))
	require.NoError(t, kv.Set(ctx, "other", "3", 0))

	v, err := kv.Get(ctx, "cfg:a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	keys, err := kv.ScanKeys(ctx, "cfg:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cfg:a", "cfg:b"}, keys)

	require.NoError(t, kv.Delete(ctx, "cfg:a"))
	_, err = kv.Get(ctx, "cfg:a")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryKV_TTLAndScan(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "cfg:a", "1", time.Minute))
	require.NoError(t, kv.Set(ctx, "cfg:b", "2", 0))

	keys, err := kv.ScanKeys(ctx, "cfg:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"cfg:a", "cfg:b"}, keys)

	now = now.Add(2 * time.Minute)
	_, err = kv.Get(ctx, "cfg:a")
	assert.ErrorIs(t, err, ErrMiss)

	keys, err = kv.ScanKeys(ctx, "cfg:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"cfg:b"}, keys)
}

func TestMemoryKV_ScanMatchesKeysWithSlash(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "cfg:floor2/room7", "1", 0))
	require.NoError(t, kv.Set(ctx, "cfg2:x", "2", 0))

	keys, err := kv.ScanKeys(ctx, "cfg:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"cfg:floor2/room7"}, keys)

	keys, err = kv.ScanKeys(ctx, "cfg?:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"cfg2:x"}, keys)
}

func TestConfigStore_DefaultsWhenAbsent(t *testing.T) {
	s := NewConfigStore(NewMemoryKV(), "thermo:device:config:", zap.NewNop())

	cfg, err := s.Get(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, models.DeviceConfig{DeviceID: "dev-1", Alias: "", Threshold: 50, Duration: 10}, cfg)
}

func TestConfigStore_SaveAndGetAll_Redis(t *testing.T) {
	_, kv := newRedisKV(t)
	s := NewConfigStore(kv, "thermo:device:config:", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, models.DeviceConfig{DeviceID: "dev-1", Alias: "Freezer", Threshold: 40, Duration: 5}))
	require.NoError(t, s.Save(ctx, models.DeviceConfig{DeviceID: "dev-2", Threshold: 60, Duration: 30}))

	cfg, err := s.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "Freezer", cfg.Alias)
	assert.Equal(t, 40.0, cfg.Threshold)
	assert.Equal(t, 5, cfg.Duration)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 60.0, all["dev-2"].Threshold)
	assert.Equal(t, "dev-2", all["dev-2"].DeviceID)
}

func TestConfigStore_SaveRejectsOutOfRange(t *testing.T) {
	kv := NewMemoryKV()
	s := NewConfigStore(kv, "p:", zap.NewNop())
	ctx := context.Background()

	err := s.Save(ctx, models.DeviceConfig{DeviceID: "dev-1", Threshold: 151, Duration: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))

	err = s.Save(ctx, models.DeviceConfig{DeviceID: "dev-1", Threshold: 50, Duration: 0})
	assert.True(t, errors.Is(err, models.ErrValidation))

	keys, err := kv.ScanKeys(ctx, "p:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestConfigStore_GetAllSkipsCorruptEntries(t *testing.T) {
	kv := NewMemoryKV()
	s := NewConfigStore(kv, "p:", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "p:bad", "{not json", 0))
	require.NoError(t, s.Save(ctx, models.DeviceConfig{DeviceID: "good", Threshold: 20, Duration: 3}))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "good")
}

func TestConfigStore_StorageErrorFallsBackToDefaults(t *testing.T) {
	mr, kv := newRedisKV(t)
	s := NewConfigStore(kv, "p:", zap.NewNop())
	mr.Close()

	cfg, err := s.Get(context.Background(), "dev-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStorage))
	assert.Equal(t, models.DefaultThreshold, cfg.Threshold)
}
