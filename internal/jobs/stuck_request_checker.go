package jobs

import (
	"context"
	"log"
	"time"

	"studentquery/internal/services"
)

// StuckRequestCheckerJob surfaces requests that have waited on fan-out
// results past the threshold (lost work units, crashed workers). It only
// reports; the ledger's retention window is the actual cleanup mechanism,
// and a late result can still complete a reported request.
type StuckRequestCheckerJob struct {
	ledger    services.Ledger
	interval  time.Duration
	threshold time.Duration // pending/processing longer than this is stuck
	lastRun   time.Time
}

// NewStuckRequestCheckerJob creates the stuck request checker.
// interval: how often to run (e.g., 1 minute)
// threshold: age at which an unfinished request counts as stuck (e.g., 2 minutes)
func NewStuckRequestCheckerJob(ledger services.Ledger, interval, threshold time.Duration) *StuckRequestCheckerJob {
	return &StuckRequestCheckerJob{
		ledger:    ledger,
		interval:  interval,
		threshold: threshold,
	}
}

// Run scans the ledger for stuck requests and reports them
func (j *StuckRequestCheckerJob) Run(ctx context.Context) error {
	j.lastRun = time.Now()

	stuck, err := j.ledger.FindStuck(ctx, j.threshold)
	if err != nil {
		log.Printf("[STUCK-CHECK] Failed to scan for stuck requests: %v", err)
		return err
	}

	if m := services.GetMetrics(); m != nil {
		m.SetStuckRequests(len(stuck))
	}

	for _, record := range stuck {
		received := record.ReceivedSourceSet()
		var missing []string
		for _, src := range record.RequiredSources {
			if !received[src] {
				missing = append(missing, src)
			}
		}
		log.Printf("[STUCK-CHECK] Request %s (user %s) stuck for %v, waiting on %v",
			record.CorrelationID, record.UserID, time.Since(record.CreatedAt).Round(time.Second), missing)
	}

	return nil
}

// GetNextRunTime returns when this job should next execute
func (j *StuckRequestCheckerJob) GetNextRunTime() time.Time {
	if j.lastRun.IsZero() {
		return time.Now().Add(1 * time.Minute)
	}
	return j.lastRun.Add(j.interval)
}
