package api

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robodog/simcontroller/domain/simulation"
	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/statecache"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *memoryStore) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (m *memoryStore) Close() error { return nil }

func TestCachedStateRoute(t *testing.T) {
	cache := statecache.New(&memoryStore{data: map[string]string{}}, "dog-1", time.Minute, customlog.NewNopLogger())
	app := NewServer(ServerOptions{AppName: "test"})
	RegisterCacheRoutes(app, cache, customlog.NewNopLogger())

	code, body := do(t, app, "GET", "/api/teleop/cached", "")
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Contains(t, body, "state not found")

	cache.ObserveConnection(simulation.StateConnected)
	cache.ObserveTelemetry(simulation.TelemetrySnapshot{Timestamp: 42, Battery: 88, Mode: simulation.ModeWalk})
	require.NoError(t, cache.Flush(context.Background()))

	code, body = do(t, app, "GET", "/api/teleop/cached", "")
	require.Equal(t, fiber.StatusOK, code)
	var latest statecache.Latest
	require.NoError(t, json.Unmarshal([]byte(body), &latest))
	require.NotNil(t, latest.Telemetry)
	require.NotNil(t, latest.Connection)
	assert.Equal(t, int64(42), latest.Telemetry.Timestamp)
	assert.Equal(t, simulation.ModeWalk, latest.Telemetry.Mode)
	assert.Equal(t, simulation.StateConnected, latest.Connection.State)
}
