package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"studentquery/internal/models"
)

// recordingEmitter captures emitted units and can fail selectively
type recordingEmitter struct {
	units   []models.WorkUnit
	failFor map[string]bool
	onEmit  func(unit models.WorkUnit)
}

func (e *recordingEmitter) Emit(_ context.Context, unit models.WorkUnit) error {
	if e.onEmit != nil {
		e.onEmit(unit)
	}
	if e.failFor[unit.Source] {
		return fmt.Errorf("broker unavailable")
	}
	e.units = append(e.units, unit)
	return nil
}

func TestDispatch_EmptySourceListIsInvalid(t *testing.T) {
	ledger := newTestLedger(t)
	dispatcher := NewDispatcher(ledger, &recordingEmitter{})

	_, err := dispatcher.Dispatch(context.Background(), "req-1", "student-1", "hello", nil)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for empty sources, got %v", err)
	}

	if _, err := ledger.Get(context.Background(), "req-1"); !errors.Is(err, ErrUnknownRequest) {
		t.Error("No ledger entry should exist for a rejected dispatch")
	}
}

func TestDispatch_LedgerEntryExistsBeforeFirstEmission(t *testing.T) {
	ledger := newTestLedger(t)
	emitter := &recordingEmitter{}
	// A worker could answer before Dispatch returns, so the record must be
	// visible at emission time
	emitter.onEmit = func(unit models.WorkUnit) {
		if _, err := ledger.Get(context.Background(), unit.CorrelationID); err != nil {
			t.Errorf("Ledger entry missing at emission of %s: %v", unit.Source, err)
		}
	}
	dispatcher := NewDispatcher(ledger, emitter)

	_, err := dispatcher.Dispatch(context.Background(), "req-2", "student-1", "grades?", []models.SourceRequest{
		{Source: "GetStudentData"},
		{Source: "GetStudentCourses"},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(emitter.units) != 2 {
		t.Errorf("Expected 2 emitted units, got %d", len(emitter.units))
	}
}

func TestDispatch_FailedEmissionKeepsLedgerEntry(t *testing.T) {
	ledger := newTestLedger(t)
	emitter := &recordingEmitter{failFor: map[string]bool{"GetStudentCourses": true}}
	dispatcher := NewDispatcher(ledger, emitter)

	result, err := dispatcher.Dispatch(context.Background(), "req-3", "student-1", "grades?", []models.SourceRequest{
		{Source: "GetStudentData"},
		{Source: "GetStudentCourses"},
	})
	if err != nil {
		t.Fatalf("Dispatch should not fail on emission errors: %v", err)
	}

	var failed, dispatched int
	for _, em := range result.Emissions {
		switch em.Status {
		case "error":
			failed++
			if em.Source != "GetStudentCourses" {
				t.Errorf("Wrong source failed: %s", em.Source)
			}
		case "dispatched":
			dispatched++
		}
	}
	if failed != 1 || dispatched != 1 {
		t.Errorf("Expected 1 failed and 1 dispatched emission, got %d/%d", failed, dispatched)
	}

	// The record survives with the failed source permanently outstanding
	record, err := ledger.Get(context.Background(), "req-3")
	if err != nil {
		t.Fatalf("Ledger entry should survive a failed emission: %v", err)
	}
	if len(record.RequiredSources) != 2 {
		t.Errorf("Expected 2 required sources, got %d", len(record.RequiredSources))
	}
}

func TestDispatch_DeduplicatesSources(t *testing.T) {
	ledger := newTestLedger(t)
	emitter := &recordingEmitter{}
	dispatcher := NewDispatcher(ledger, emitter)

	_, err := dispatcher.Dispatch(context.Background(), "req-4", "student-1", "courses?", []models.SourceRequest{
		{Source: "GetStudentCourses"},
		{Source: "GetStudentCourses"},
		{Source: "GetStudentData"},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(emitter.units) != 2 {
		t.Errorf("Expected duplicate source to emit once, got %d units", len(emitter.units))
	}

	record, _ := ledger.Get(context.Background(), "req-4")
	if len(record.RequiredSources) != 2 {
		t.Errorf("Expected deduped requiredSources, got %v", record.RequiredSources)
	}
}

func TestDispatch_EmptySourceNameIsInvalid(t *testing.T) {
	ledger := newTestLedger(t)
	dispatcher := NewDispatcher(ledger, &recordingEmitter{})

	_, err := dispatcher.Dispatch(context.Background(), "req-5", "student-1", "hi", []models.SourceRequest{
		{Source: ""},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for empty source name, got %v", err)
	}
}
