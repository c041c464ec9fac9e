package services

import (
	"context"
	"encoding/json"
	"fmt"

	"studentquery/internal/models"
)

// RedisWorkEmitter pushes work units onto a Redis list so workers can run
// in separate processes. Delivery is fire-and-forget from the dispatcher's
// point of view; consumers pop with BLPOP.
type RedisWorkEmitter struct {
	redis *RedisService
	queue string
}

// NewRedisWorkEmitter creates an emitter writing to the given queue key
func NewRedisWorkEmitter(redis *RedisService, queue string) *RedisWorkEmitter {
	return &RedisWorkEmitter{redis: redis, queue: queue}
}

func (e *RedisWorkEmitter) Emit(ctx context.Context, unit models.WorkUnit) error {
	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("failed to marshal work unit: %w", err)
	}
	if err := e.redis.Client().RPush(ctx, e.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue work unit: %w", err)
	}
	return nil
}

// ChannelWorkEmitter feeds an in-process worker pool over a channel.
// Used in single-instance dev mode (no Redis) and in tests.
type ChannelWorkEmitter struct {
	ch chan models.WorkUnit
}

// NewChannelWorkEmitter creates an emitter with the given buffer size
func NewChannelWorkEmitter(buffer int) *ChannelWorkEmitter {
	return &ChannelWorkEmitter{ch: make(chan models.WorkUnit, buffer)}
}

// Units exposes the channel consumed by the worker runner
func (e *ChannelWorkEmitter) Units() <-chan models.WorkUnit {
	return e.ch
}

func (e *ChannelWorkEmitter) Emit(_ context.Context, unit models.WorkUnit) error {
	select {
	case e.ch <- unit:
		return nil
	default:
		return fmt.Errorf("work queue full (%d buffered)", cap(e.ch))
	}
}
