package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"studentquery/internal/models"
	"studentquery/internal/services"

	"github.com/redis/go-redis/v9"
)

// WorkQueue delivers work units to the runner. Next blocks until a unit is
// available or the context is cancelled.
type WorkQueue interface {
	Next(ctx context.Context) (models.WorkUnit, error)
}

// RedisWorkQueue pops units from the Redis list the dispatcher pushes to
type RedisWorkQueue struct {
	redis *services.RedisService
	queue string
}

// NewRedisWorkQueue creates a queue reader for the given list key
func NewRedisWorkQueue(redisService *services.RedisService, queue string) *RedisWorkQueue {
	return &RedisWorkQueue{redis: redisService, queue: queue}
}

func (q *RedisWorkQueue) Next(ctx context.Context) (models.WorkUnit, error) {
	var unit models.WorkUnit

	// Short block timeout so cancellation is noticed promptly
	result, err := q.redis.Client().BLPop(ctx, 5*time.Second, q.queue).Result()
	if err == redis.Nil {
		return unit, errNoWork
	}
	if err != nil {
		return unit, fmt.Errorf("failed to pop work unit: %w", err)
	}
	if len(result) != 2 {
		return unit, fmt.Errorf("unexpected BLPOP reply length %d", len(result))
	}

	if err := json.Unmarshal([]byte(result[1]), &unit); err != nil {
		return unit, fmt.Errorf("failed to unmarshal work unit: %w", err)
	}
	return unit, nil
}

// ChannelWorkQueue reads from the in-process emitter channel
type ChannelWorkQueue struct {
	units <-chan models.WorkUnit
}

// NewChannelWorkQueue creates a queue reader over the emitter's channel
func NewChannelWorkQueue(units <-chan models.WorkUnit) *ChannelWorkQueue {
	return &ChannelWorkQueue{units: units}
}

func (q *ChannelWorkQueue) Next(ctx context.Context) (models.WorkUnit, error) {
	select {
	case <-ctx.Done():
		return models.WorkUnit{}, ctx.Err()
	case unit, ok := <-q.units:
		if !ok {
			return models.WorkUnit{}, errors.New("work channel closed")
		}
		return unit, nil
	}
}

// errNoWork signals an empty poll cycle, not a failure
var errNoWork = errors.New("no work available")

// Runner consumes work units, executes the matching fetcher, and delivers
// the result to the aggregation join. Every unit produces a result, success
// or error, so the join can always make progress.
type Runner struct {
	queue        WorkQueue
	registry     *Registry
	aggregator   *services.Aggregator
	cfg          *Config
	fetchTimeout time.Duration

	wg sync.WaitGroup
}

// NewRunner creates a worker pool runner
func NewRunner(queue WorkQueue, registry *Registry, aggregator *services.Aggregator, cfg *Config, fetchTimeout time.Duration) *Runner {
	return &Runner{
		queue:        queue,
		registry:     registry,
		aggregator:   aggregator,
		cfg:          cfg,
		fetchTimeout: fetchTimeout,
	}
}

// Start launches the worker goroutines. They run until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Concurrency; i++ {
		r.wg.Add(1)
		go r.loop(ctx, i)
	}
	log.Printf("✅ [WORKERS] Started %d workers (sources: %v)", r.cfg.Concurrency, r.registry.Sources())
}

// Wait blocks until all workers have exited
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, id int) {
	defer r.wg.Done()

	for {
		unit, err := r.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, errNoWork) {
				continue
			}
			if ctx.Err() != nil {
				log.Printf("🛑 [WORKERS] Worker %d stopping", id)
				return
			}
			log.Printf("⚠️ [WORKERS] Worker %d queue error: %v", id, err)
			time.Sleep(time.Second)
			continue
		}

		r.execute(ctx, unit)
	}
}

func (r *Runner) execute(ctx context.Context, unit models.WorkUnit) {
	var payload interface{}
	var errMsg string

	fetcher, ok := r.registry.Get(unit.Source)
	if !ok {
		errMsg = fmt.Sprintf("unknown source %q", unit.Source)
	} else {
		timeout := r.cfg.SourceTimeout(unit.Source, r.fetchTimeout)
		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		data, err := fetcher.Fetch(fetchCtx, unit.UserID, unit.Params)
		cancel()
		if err != nil {
			errMsg = err.Error()
		} else {
			payload = data
		}
	}

	if errMsg != "" {
		log.Printf("⚠️ [WORKERS] %s/%s failed: %s", unit.CorrelationID, unit.Source, errMsg)
	}

	r.deliver(ctx, unit, payload, errMsg)
}

// deliver absorbs the result into the join, retrying transient failures so
// a completed fetch is not lost to a ledger blip. Delivery is at-least-once;
// the join tolerates duplicates.
func (r *Runner) deliver(ctx context.Context, unit models.WorkUnit, payload interface{}, errMsg string) {
	backoff := 200 * time.Millisecond
	for attempt := 1; attempt <= 3; attempt++ {
		outcome, err := r.aggregator.Absorb(ctx, unit.CorrelationID, unit.Source, payload, errMsg)
		if err == nil {
			if outcome == services.NowComplete {
				log.Printf("🎯 [WORKERS] %s completed the join with %s", unit.CorrelationID, unit.Source)
			}
			return
		}
		if errors.Is(err, services.ErrUnknownRequest) {
			// Request expired or was never recorded; nothing to deliver to
			log.Printf("⚠️ [WORKERS] Dropping result for unknown request %s", unit.CorrelationID)
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Printf("⚠️ [WORKERS] Absorb attempt %d failed for %s/%s: %v",
			attempt, unit.CorrelationID, unit.Source, err)
		time.Sleep(backoff)
		backoff *= 2
	}
	log.Printf("❌ [WORKERS] Gave up delivering %s/%s after 3 attempts", unit.CorrelationID, unit.Source)
}
