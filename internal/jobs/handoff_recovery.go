package jobs

import (
	"context"
	"log"
	"time"

	"studentquery/internal/services"

	"github.com/google/uuid"
)

// HandoffRecoveryJob retries handoffs that completed the join but never got
// an answer stored (synthesis failure or a crash between the completion
// transition and StoreAnswer). Handoff.Run is idempotent, so retrying is
// always safe.
type HandoffRecoveryJob struct {
	ledger   services.Ledger
	handoff  *services.Handoff
	redis    *services.RedisService // optional; guards against double synthesis across instances
	interval time.Duration
	minAge   time.Duration // ignore requests younger than this; their handoff may still be running
	lastRun  time.Time
}

// NewHandoffRecoveryJob creates the handoff recovery job. redis may be nil
// in single-instance deployments.
func NewHandoffRecoveryJob(ledger services.Ledger, handoff *services.Handoff, redis *services.RedisService, interval, minAge time.Duration) *HandoffRecoveryJob {
	return &HandoffRecoveryJob{
		ledger:   ledger,
		handoff:  handoff,
		redis:    redis,
		interval: interval,
		minAge:   minAge,
	}
}

// Run finds complete-but-unanswered requests and re-runs their handoff
func (j *HandoffRecoveryJob) Run(ctx context.Context) error {
	j.lastRun = time.Now()

	ids, err := j.ledger.FindUnanswered(ctx, j.minAge)
	if err != nil {
		log.Printf("[HANDOFF-RECOVERY] Failed to scan for unanswered requests: %v", err)
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	log.Printf("[HANDOFF-RECOVERY] Retrying %d unanswered requests", len(ids))
	for _, id := range ids {
		j.recover(ctx, id)
	}
	return nil
}

func (j *HandoffRecoveryJob) recover(ctx context.Context, correlationID string) {
	// Lock per request so two instances don't synthesize the same answer
	if j.redis != nil {
		lockKey := "handoff:lock:" + correlationID
		lockValue := uuid.New().String()
		acquired, err := j.redis.AcquireLock(ctx, lockKey, lockValue, 2*time.Minute)
		if err != nil {
			log.Printf("[HANDOFF-RECOVERY] Lock error for %s: %v", correlationID, err)
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if _, err := j.redis.ReleaseLock(ctx, lockKey, lockValue); err != nil {
				log.Printf("[HANDOFF-RECOVERY] Failed to release lock for %s: %v", correlationID, err)
			}
		}()
	}

	if err := j.handoff.Run(ctx, correlationID); err != nil {
		log.Printf("[HANDOFF-RECOVERY] Retry failed for %s: %v", correlationID, err)
	}
}

// GetNextRunTime returns when this job should next execute
func (j *HandoffRecoveryJob) GetNextRunTime() time.Time {
	if j.lastRun.IsZero() {
		return time.Now().Add(2 * time.Minute)
	}
	return j.lastRun.Add(j.interval)
}
