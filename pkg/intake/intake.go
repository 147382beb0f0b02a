// Package intake bridges external systems into the event store. The Redis
// intake drains a Redis list of JSON-encoded domain events pushed by
// producers that cannot call the emitter in-process.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/arborops/canopy/pkg/emitter"
	"github.com/arborops/canopy/pkg/log"
)

const DefaultQueue = "canopy:events"

// message is the wire format producers push onto the list.
type message struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// RedisIntake consumes domain events from a Redis list and hands them to
// the emitter. Malformed entries are logged and discarded.
type RedisIntake struct {
	client  redis.UniversalClient
	emitter *emitter.Emitter
	queue   string
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Config holds the Redis connection settings for the intake.
type Config struct {
	Addr     string
	Password string
	DB       int
	Queue    string
}

func NewRedisIntake(cfg Config, em *emitter.Emitter, logger *slog.Logger) *RedisIntake {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}

	if logger == nil {
		logger = log.WithModule("redis_intake")
	} else {
		logger = logger.With("module", "redis_intake")
	}

	return &RedisIntake{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		emitter: em,
		queue:   cfg.Queue,
		logger:  logger.With("queue", cfg.Queue),
		stopCh:  make(chan struct{}),
	}
}

// Start verifies the connection and begins consuming in the background.
func (i *RedisIntake) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := i.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	i.logger.InfoContext(ctx, "Starting Redis intake")

	i.wg.Add(1)

	go i.consume(ctx)

	return nil
}

// Close stops the consumer and releases the connection.
func (i *RedisIntake) Close() error {
	close(i.stopCh)
	i.wg.Wait()

	return i.client.Close()
}

func (i *RedisIntake) consume(ctx context.Context) {
	defer i.wg.Done()

	for {
		select {
		case <-i.stopCh:
			i.logger.Info("Redis intake stopped")

			return
		case <-ctx.Done():
			i.logger.Info("Context cancelled, stopping Redis intake")

			return
		default:
			if err := i.drainOne(ctx); err != nil {
				i.logger.ErrorContext(ctx, "Error consuming intake message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// drainOne pops and emits a single message. A missing message (timeout) is
// not an error.
func (i *RedisIntake) drainOne(ctx context.Context) error {
	result, err := i.client.BLPop(ctx, 1*time.Second, i.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	raw := result[1]

	var msg message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil || msg.Type == "" {
		i.logger.WarnContext(ctx, "Discarding malformed intake message", "message", raw)

		return nil
	}

	i.emitter.Emit(msg.Type, msg.Payload)

	return nil
}
