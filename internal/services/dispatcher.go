package services

import (
	"context"
	"fmt"
	"log"

	"studentquery/internal/models"
)

// WorkEmitter sends one unit of fan-out work toward the workers.
// Emission is fire-and-forget: the dispatcher never waits for or retries a
// failed emission; the failure is reported to the caller and the ledger
// entry survives with that source permanently unsatisfied.
type WorkEmitter interface {
	Emit(ctx context.Context, unit models.WorkUnit) error
}

// Dispatcher fans one analyzed query out into N independent work units,
// creating the ledger entry before any emission so a record always exists
// by the time the first result comes back.
type Dispatcher struct {
	ledger  Ledger
	emitter WorkEmitter
}

// NewDispatcher creates a dispatch router
func NewDispatcher(ledger Ledger, emitter WorkEmitter) *Dispatcher {
	return &Dispatcher{ledger: ledger, emitter: emitter}
}

// Dispatch creates the request record and emits one work unit per required
// source. An empty source list is the only synchronous failure mode.
func (d *Dispatcher) Dispatch(ctx context.Context, correlationID, userID, message string, sources []models.SourceRequest) (*models.DispatchResult, error) {
	if len(sources) == 0 {
		return nil, ErrInvalidRequest
	}

	// Dedupe source names; requiredSources is a set and is immutable after
	// creation.
	seen := make(map[string]bool, len(sources))
	required := make([]string, 0, len(sources))
	units := make([]models.WorkUnit, 0, len(sources))
	for _, src := range sources {
		if src.Source == "" {
			return nil, fmt.Errorf("%w: empty source name", ErrInvalidRequest)
		}
		if seen[src.Source] {
			continue
		}
		seen[src.Source] = true
		required = append(required, src.Source)
		units = append(units, models.WorkUnit{
			CorrelationID: correlationID,
			UserID:        userID,
			Source:        src.Source,
			Params:        src.Params,
		})
	}

	record := &models.RequestRecord{
		CorrelationID:   correlationID,
		UserID:          userID,
		Message:         message,
		RequiredSources: required,
		Status:          models.RequestStatusPending,
	}
	if err := d.ledger.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	result := &models.DispatchResult{CorrelationID: correlationID}
	for _, unit := range units {
		emission := models.EmissionStatus{Source: unit.Source, Status: "dispatched"}
		if err := d.emitter.Emit(ctx, unit); err != nil {
			// The ledger entry stays; this source will show up as a stuck
			// request, not a synchronous rollback.
			emission.Status = "error"
			emission.Error = err.Error()
			log.Printf("❌ [DISPATCH] %s: failed to emit %s: %v", correlationID, unit.Source, err)
		}
		if m := GetMetrics(); m != nil {
			m.RecordDispatch(unit.Source, emission.Status)
		}
		result.Emissions = append(result.Emissions, emission)
	}

	log.Printf("📤 [DISPATCH] %s: %d work units emitted for user %s", correlationID, len(units), userID)
	return result, nil
}
