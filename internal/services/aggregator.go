package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"studentquery/internal/models"
)

// JoinOutcome is what a single absorb call observed about the join.
type JoinOutcome int

const (
	// StillWaiting: at least one required source has not produced a result yet.
	StillWaiting JoinOutcome = iota
	// NowComplete: this call satisfied the join. Exactly one caller per
	// correlation id ever observes this, even under concurrent delivery.
	NowComplete
	// AlreadyComplete: the join was already satisfied (duplicate or late
	// delivery). Callers must no-op and never re-trigger handoff.
	AlreadyComplete
)

func (o JoinOutcome) String() string {
	switch o {
	case NowComplete:
		return "now_complete"
	case AlreadyComplete:
		return "already_complete"
	default:
		return "still_waiting"
	}
}

// Aggregator is the fan-in join. Workers deliver results here in any order,
// possibly more than once; the completion transition fires exactly once per
// correlation id because it rides the ledger's conditional update.
type Aggregator struct {
	ledger     Ledger
	onComplete func(correlationID string)
}

// NewAggregator creates an aggregation join over the given ledger
func NewAggregator(ledger Ledger) *Aggregator {
	return &Aggregator{ledger: ledger}
}

// SetOnComplete registers the completion handoff hook. It is invoked in its
// own goroutine, exactly once per correlation id, by the absorb call that
// won the completion transition.
func (a *Aggregator) SetOnComplete(fn func(correlationID string)) {
	a.onComplete = fn
}

// Absorb records one worker result and decides whether the join is complete.
// A source outside requiredSources is recorded but never counts toward
// completion. An unknown correlation id returns ErrUnknownRequest.
func (a *Aggregator) Absorb(ctx context.Context, correlationID, source string, payload interface{}, errMsg string) (JoinOutcome, error) {
	result := models.WorkResult{
		Source:     source,
		Data:       payload,
		Error:      errMsg,
		ReceivedAt: time.Now(),
	}

	record, err := a.ledger.AppendResult(ctx, correlationID, result)
	if err != nil {
		if err == ErrUnknownRequest {
			return StillWaiting, err
		}
		return StillWaiting, fmt.Errorf("failed to absorb result for %s: %w", correlationID, err)
	}

	if record.Status == models.RequestStatusPending {
		// First arrival moves the record to processing. Losing this race
		// to a concurrent absorber is fine.
		if err := a.ledger.MarkProcessing(ctx, correlationID); err != nil {
			log.Printf("⚠️ [JOIN] Failed to mark %s processing: %v", correlationID, err)
		}
	}

	if record.Status == models.RequestStatusComplete {
		// Late or duplicate delivery after the join already closed.
		return AlreadyComplete, nil
	}

	if !record.Satisfied() {
		if m := GetMetrics(); m != nil {
			m.RecordAbsorb(StillWaiting.String())
		}
		return StillWaiting, nil
	}

	// Every required source has answered on this snapshot. Several absorb
	// calls may reach this point at the same moment; the ledger's
	// conditional update lets exactly one of them win the transition.
	won, err := a.ledger.MarkComplete(ctx, correlationID)
	if err != nil {
		return StillWaiting, fmt.Errorf("failed to complete join for %s: %w", correlationID, err)
	}
	if !won {
		if m := GetMetrics(); m != nil {
			m.RecordAbsorb(AlreadyComplete.String())
		}
		return AlreadyComplete, nil
	}

	log.Printf("✅ [JOIN] Request %s complete: %d/%d sources (last: %s)",
		correlationID, len(record.ReceivedSourceSet()), len(record.RequiredSources), source)
	if m := GetMetrics(); m != nil {
		m.RecordAbsorb(NowComplete.String())
		m.RecordJoinCompletion()
	}

	if a.onComplete != nil {
		go a.onComplete(correlationID)
	}

	return NowComplete, nil
}
