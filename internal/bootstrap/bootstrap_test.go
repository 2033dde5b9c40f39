package bootstrap

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/docqueue/internal/config"
	"github.com/cuongbtq/docqueue/internal/domain"
	"github.com/cuongbtq/docqueue/shared/logger"
)

func testConfig(t *testing.T, mr *miniredis.Miniredis) *config.Config {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = port
	cfg.Storage.Root = t.TempDir()
	cfg.Storage.PublicBaseURL = "http://files.test"
	cfg.Renderer.Endpoint = "http://renderer.test/render"
	cfg.ApplyDefaults()
	return cfg
}

func TestNewCore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	log := logger.NewDiscard()

	rdb, err := InitRedis(&cfg.Redis, log.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	core, err := NewCore(cfg, log, rdb)
	require.NoError(t, err)

	ctx := context.Background()
	job, err := core.Store.CreateJob(ctx, domain.NewJob{Type: "markdown", Priority: domain.PriorityNormal})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)

	res, err := core.Cache.Store(ctx, []byte("data"), "Report", cfg.Storage.Namespace, "r-1", "markdown")
	require.NoError(t, err)
	assert.True(t, core.Cache.Exists(ctx, "r-1", "markdown", cfg.Storage.Namespace).Found)
	assert.Contains(t, res.URL, "http://files.test/documents/markdown/")
}

func TestNewPool(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	log := logger.NewDiscard()

	rdb, err := InitRedis(&cfg.Redis, log.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	core, err := NewCore(cfg, log, rdb)
	require.NoError(t, err)

	pool, err := NewPool(cfg, log, core)
	require.NoError(t, err)
	assert.False(t, pool.Running())
}

func TestInitRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	mr.Close()
	cfg.Redis.RetryAttempts = 1

	_, err := InitRedis(&cfg.Redis, logger.NewDiscard().Logger)
	assert.Error(t, err)
}
