package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/config"
)

func unreachableRedis() config.Config {
	var cfg config.Config
	cfg.Cache = config.Cache{
		Enabled:    true,
		Driver:     "redis",
		DefaultTTL: time.Minute,
		Redis: config.Redis{
			Addr:        "127.0.0.1:1",
			KeyPrefix:   "tally:",
			DialTimeout: 100 * time.Millisecond,
			OpTimeout:   100 * time.Millisecond,
		},
	}
	return cfg
}

func TestRedisOutageDoesNotBlockStartup(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	store, err := NewStore(lc, unreachableRedis(), zap.NewNop())
	require.NoError(t, err)

	lc.RequireStart()
	defer lc.RequireStop()

	_, err = store.Get(context.Background(), "tables:4:split")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestRedisKeysAreNamespaced(t *testing.T) {
	s := newRedisStoreWithClient(nil, unreachableRedis().Cache)
	assert.Equal(t, "tally:tables:4:split", s.key("tables:4:split"))
}

func TestRedisEmptyKeys(t *testing.T) {
	s := newRedisStoreWithClient(nil, unreachableRedis().Cache)
	ctx := context.Background()

	_, err := s.Get(ctx, "")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Error(t, s.Set(ctx, "", []byte("x"), 0))
	assert.NoError(t, s.Delete(ctx, ""))
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	cfg := unreachableRedis()
	cfg.Cache.Driver = "memcached"
	_, err := NewStore(fxtest.NewLifecycle(t), cfg, zap.NewNop())
	assert.Error(t, err)
}
