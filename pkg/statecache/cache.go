// Package statecache keeps the latest telemetry and connection state of a
// robot in Redis so other processes can read it without subscribing.
package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/robodog/simcontroller/domain/simulation"
	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
)

// ErrNotFound is returned when no value has been cached yet or it expired.
var ErrNotFound = errors.New("state not found")

// Store is the part of *redis.Client the cache uses.
type Store interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// NewRedisStore creates a Redis client from the bootstrap section.
func NewRedisStore(cfg config.RedisBootstrap) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// ConnectionRecord is the cached connection state.
type ConnectionRecord struct {
	State     simulation.ConnectionState `json:"state"`
	UpdatedAt int64                      `json:"updated_at"` // unix milliseconds
}

// Latest is everything cached for one robot.
type Latest struct {
	Telemetry  *simulation.TelemetrySnapshot `json:"telemetry,omitempty"`
	Connection *ConnectionRecord             `json:"connection,omitempty"`
}

// Cache writes the most recent values in the background. Only the newest
// pending value of each kind is written; older ones are overwritten.
type Cache struct {
	store   Store
	robotID string
	ttl     time.Duration
	logger  customlog.Logger

	mu                sync.Mutex
	pendingTelemetry  *simulation.TelemetrySnapshot
	pendingConnection *ConnectionRecord
	wake              chan struct{}
}

// New creates a cache for robotID. A non-positive ttl stores values without expiry.
func New(store Store, robotID string, ttl time.Duration, logger customlog.Logger) *Cache {
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		store:   store,
		robotID: robotID,
		ttl:     ttl,
		logger:  logger.WithField("component", "statecache"),
		wake:    make(chan struct{}, 1),
	}
}

// TelemetryKey is the Redis key holding the latest telemetry JSON.
func (c *Cache) TelemetryKey() string {
	return fmt.Sprintf("robodog:%s:telemetry", c.robotID)
}

// ConnectionKey is the Redis key holding the connection record JSON.
func (c *Cache) ConnectionKey() string {
	return fmt.Sprintf("robodog:%s:connection", c.robotID)
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// ObserveTelemetry queues a snapshot for writing. It never blocks.
func (c *Cache) ObserveTelemetry(snap simulation.TelemetrySnapshot) {
	c.mu.Lock()
	c.pendingTelemetry = &snap
	c.mu.Unlock()
	c.signal()
}

// ObserveConnection queues a connection state change for writing. It never blocks.
func (c *Cache) ObserveConnection(state simulation.ConnectionState) {
	c.mu.Lock()
	c.pendingConnection = &ConnectionRecord{State: state, UpdatedAt: time.Now().UnixMilli()}
	c.mu.Unlock()
	c.signal()
}

func (c *Cache) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run writes queued values until ctx is cancelled, then flushes once more.
func (c *Cache) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := c.Flush(flushCtx); err != nil {
				c.logger.Warnf("Final state cache flush failed: %v", err)
			}
			cancel()
			return
		case <-c.wake:
			if err := c.Flush(ctx); err != nil {
				c.logger.Warnf("State cache write failed: %v", err)
			}
		}
	}
}

// Flush writes the pending values now.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	telemetry, connection := c.pendingTelemetry, c.pendingConnection
	c.pendingTelemetry, c.pendingConnection = nil, nil
	c.mu.Unlock()

	var errs []error
	if connection != nil {
		if err := c.set(ctx, c.ConnectionKey(), connection); err != nil {
			errs = append(errs, err)
		}
	}
	if telemetry != nil {
		if err := c.set(ctx, c.TelemetryKey(), telemetry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) set(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save %s to Redis: %w", key, err)
	}
	return nil
}

func (c *Cache) get(ctx context.Context, key string, v interface{}) error {
	val, err := c.store.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// LatestTelemetry reads the cached snapshot.
func (c *Cache) LatestTelemetry(ctx context.Context) (simulation.TelemetrySnapshot, error) {
	var snap simulation.TelemetrySnapshot
	err := c.get(ctx, c.TelemetryKey(), &snap)
	return snap, err
}

// Connection reads the cached connection record.
func (c *Cache) Connection(ctx context.Context) (ConnectionRecord, error) {
	var rec ConnectionRecord
	err := c.get(ctx, c.ConnectionKey(), &rec)
	return rec, err
}

// Latest reads both values. Missing values are left nil; ErrNotFound is
// returned only when neither is cached.
func (c *Cache) Latest(ctx context.Context) (Latest, error) {
	var out Latest

	snap, err := c.LatestTelemetry(ctx)
	switch {
	case err == nil:
		out.Telemetry = &snap
	case !errors.Is(err, ErrNotFound):
		return Latest{}, err
	}

	rec, err := c.Connection(ctx)
	switch {
	case err == nil:
		out.Connection = &rec
	case !errors.Is(err, ErrNotFound):
		return Latest{}, err
	}

	if out.Telemetry == nil && out.Connection == nil {
		return out, ErrNotFound
	}
	return out, nil
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.store.Close()
}
