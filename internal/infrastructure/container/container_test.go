package container

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pnlrelay/internal/domain/model"
	"pnlrelay/internal/infrastructure/config"
	"pnlrelay/internal/infrastructure/storage"
)

func baseConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}
	cfg.Storage.Positions = "sqlite"
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "relay.db")
	cfg.Storage.Redis.Prefix = "pnlrelay"
	return cfg
}

func TestContainerSQLiteWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.Storage.Redis.Enabled = true
	cfg.Storage.Redis.Addr = mr.Addr()

	c, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	writer, ok := c.Positions().(storage.PositionWriter)
	require.True(t, ok)
	require.NoError(t, writer.CreatePosition(ctx, model.Position{
		ID: "p1", Owner: "ABC123", LongIndex: 0, ShortIndex: 1, EntryRatio: 2, Capital: 1000, Leverage: 5,
	}))
	got, err := c.Positions().FindOpenPositions(ctx, "ABC123")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, c.Recorder().UpsertLatestPrice(ctx, "SOL", 100, 1))
	assert.True(t, mr.Exists("pnlrelay:latest"))
	assert.NotNil(t, c.RedisClient())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestContainerMemoryWithoutRedis(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Storage.Positions = "memory"

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.RedisClient())
	assert.NoError(t, c.Recorder().PublishPrice(context.Background(), "SOL", 1, 1))
}

func TestContainerRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := baseConfig(t)
	cfg.Storage.Redis.Enabled = true
	cfg.Storage.Redis.Addr = addr

	_, err := New(cfg)
	assert.Error(t, err)
}
