package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studentquery/internal/models"
)

func newTestLedger(t *testing.T) *MemoryLedger {
	t.Helper()
	ledger := NewMemoryLedger(24 * time.Hour)
	t.Cleanup(ledger.Shutdown)
	return ledger
}

func createRequest(t *testing.T, ledger Ledger, correlationID string, sources ...string) {
	t.Helper()
	err := ledger.Create(context.Background(), &models.RequestRecord{
		CorrelationID:   correlationID,
		UserID:          "student-1",
		Message:         "How am I doing this semester?",
		RequiredSources: sources,
		Status:          models.RequestStatusPending,
	})
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
}

// permutations returns every ordering of the given sources
func permutations(sources []string) [][]string {
	if len(sources) <= 1 {
		return [][]string{append([]string(nil), sources...)}
	}
	var result [][]string
	for i := range sources {
		rest := make([]string, 0, len(sources)-1)
		rest = append(rest, sources[:i]...)
		rest = append(rest, sources[i+1:]...)
		for _, perm := range permutations(rest) {
			result = append(result, append([]string{sources[i]}, perm...))
		}
	}
	return result
}

func TestAbsorb_CompletesOnLastArrivalInAnyOrder(t *testing.T) {
	sources := []string{"GetStudentData", "GetStudentCourses", "GetStudentCurrentDegree"}

	for i, order := range permutations(sources) {
		ledger := newTestLedger(t)
		agg := NewAggregator(ledger)
		correlationID := fmt.Sprintf("req-perm-%d", i)
		createRequest(t, ledger, correlationID, sources...)

		for j, source := range order {
			outcome, err := agg.Absorb(context.Background(), correlationID, source, map[string]string{"ok": "yes"}, "")
			if err != nil {
				t.Fatalf("order %v: absorb %s failed: %v", order, source, err)
			}

			if j < len(order)-1 {
				if outcome != StillWaiting {
					t.Errorf("order %v: expected StillWaiting after %d results, got %v", order, j+1, outcome)
				}
			} else if outcome != NowComplete {
				t.Errorf("order %v: expected NowComplete on last arrival, got %v", order, outcome)
			}
		}

		record, err := ledger.Get(context.Background(), correlationID)
		if err != nil {
			t.Fatalf("Failed to load record: %v", err)
		}
		if record.Status != models.RequestStatusComplete {
			t.Errorf("order %v: expected status complete, got %s", order, record.Status)
		}
	}
}

func TestAbsorb_DuplicateResultDoesNotAdvanceJoin(t *testing.T) {
	ledger := newTestLedger(t)
	agg := NewAggregator(ledger)
	createRequest(t, ledger, "req-dup", "GetStudentData", "GetStudentCourses")

	for i := 0; i < 3; i++ {
		outcome, err := agg.Absorb(context.Background(), "req-dup", "GetStudentData", "profile", "")
		if err != nil {
			t.Fatalf("Absorb %d failed: %v", i, err)
		}
		if outcome != StillWaiting {
			t.Errorf("Duplicate absorb %d: expected StillWaiting, got %v", i, outcome)
		}
	}

	outcome, err := agg.Absorb(context.Background(), "req-dup", "GetStudentCourses", "courses", "")
	if err != nil {
		t.Fatalf("Final absorb failed: %v", err)
	}
	if outcome != NowComplete {
		t.Errorf("Expected NowComplete, got %v", outcome)
	}

	// All deliveries stay on the record, duplicates included
	record, _ := ledger.Get(context.Background(), "req-dup")
	if len(record.ReceivedResults) != 4 {
		t.Errorf("Expected 4 received results, got %d", len(record.ReceivedResults))
	}
}

func TestAbsorb_UnrequiredSourceNeverCountsTowardCompletion(t *testing.T) {
	ledger := newTestLedger(t)
	agg := NewAggregator(ledger)
	createRequest(t, ledger, "req-extra", "GetStudentData", "GetStudentCourses")

	outcome, err := agg.Absorb(context.Background(), "req-extra", "GetEnrollmentStatus", "surprise", "")
	if err != nil {
		t.Fatalf("Absorb failed: %v", err)
	}
	if outcome != StillWaiting {
		t.Errorf("Unrequired source: expected StillWaiting, got %v", outcome)
	}

	if outcome, _ := agg.Absorb(context.Background(), "req-extra", "GetStudentData", "profile", ""); outcome != StillWaiting {
		t.Errorf("Expected StillWaiting with one required source outstanding, got %v", outcome)
	}
	if outcome, _ := agg.Absorb(context.Background(), "req-extra", "GetStudentCourses", "courses", ""); outcome != NowComplete {
		t.Errorf("Expected NowComplete once both required sources arrived, got %v", outcome)
	}

	// The unrequired result is still recorded
	record, _ := ledger.Get(context.Background(), "req-extra")
	if !record.ReceivedSourceSet()["GetEnrollmentStatus"] {
		t.Error("Unrequired source result should be recorded")
	}
}

func TestAbsorb_ErrorResultsCountTowardCompletion(t *testing.T) {
	ledger := newTestLedger(t)
	agg := NewAggregator(ledger)
	createRequest(t, ledger, "req-err", "GetStudentData", "GetEnrollmentStatus")

	if outcome, _ := agg.Absorb(context.Background(), "req-err", "GetStudentData", "profile", ""); outcome != StillWaiting {
		t.Fatalf("Expected StillWaiting, got %v", outcome)
	}

	// A failed fetch still satisfies its slot in the join
	outcome, err := agg.Absorb(context.Background(), "req-err", "GetEnrollmentStatus", nil, "no active enrollment found for student-1")
	if err != nil {
		t.Fatalf("Absorb failed: %v", err)
	}
	if outcome != NowComplete {
		t.Errorf("Expected NowComplete with an error result, got %v", outcome)
	}
}

func TestAbsorb_UnknownCorrelationID(t *testing.T) {
	ledger := newTestLedger(t)
	agg := NewAggregator(ledger)

	_, err := agg.Absorb(context.Background(), "no-such-request", "GetStudentData", "data", "")
	if !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("Expected ErrUnknownRequest, got %v", err)
	}
}

func TestAbsorb_LateDeliveryAfterCompletion(t *testing.T) {
	ledger := newTestLedger(t)
	agg := NewAggregator(ledger)
	createRequest(t, ledger, "req-late", "GetStudentData")

	if outcome, _ := agg.Absorb(context.Background(), "req-late", "GetStudentData", "profile", ""); outcome != NowComplete {
		t.Fatalf("Expected NowComplete, got %v", outcome)
	}

	outcome, err := agg.Absorb(context.Background(), "req-late", "GetStudentData", "profile-again", "")
	if err != nil {
		t.Fatalf("Late absorb failed: %v", err)
	}
	if outcome != AlreadyComplete {
		t.Errorf("Expected AlreadyComplete on late delivery, got %v", outcome)
	}
}

func TestAbsorb_ConcurrentDeliveryCompletesExactlyOnce(t *testing.T) {
	const goroutines = 32

	for run := 0; run < 10; run++ {
		ledger := newTestLedger(t)
		agg := NewAggregator(ledger)
		correlationID := fmt.Sprintf("req-race-%d", run)
		createRequest(t, ledger, correlationID, "GetStudentData", "GetStudentCourses")

		if _, err := agg.Absorb(context.Background(), correlationID, "GetStudentData", "profile", ""); err != nil {
			t.Fatalf("Seed absorb failed: %v", err)
		}

		var hookCalls int32
		agg.SetOnComplete(func(string) { atomic.AddInt32(&hookCalls, 1) })

		var nowComplete int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				outcome, err := agg.Absorb(context.Background(), correlationID, "GetStudentCourses", "courses", "")
				if err != nil {
					t.Errorf("Concurrent absorb failed: %v", err)
					return
				}
				if outcome == NowComplete {
					atomic.AddInt32(&nowComplete, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if nowComplete != 1 {
			t.Errorf("Run %d: expected exactly 1 NowComplete, got %d", run, nowComplete)
		}

		// The hook rides the winning transition, so it fires exactly once too
		deadline := time.After(time.Second)
		for atomic.LoadInt32(&hookCalls) < 1 {
			select {
			case <-deadline:
				t.Fatal("Completion hook never fired")
			default:
				time.Sleep(time.Millisecond)
			}
		}
		time.Sleep(10 * time.Millisecond)
		if calls := atomic.LoadInt32(&hookCalls); calls != 1 {
			t.Errorf("Run %d: expected completion hook once, got %d", run, calls)
		}
	}
}

func TestAbsorb_MovesRecordToProcessingOnFirstArrival(t *testing.T) {
	ledger := newTestLedger(t)
	agg := NewAggregator(ledger)
	createRequest(t, ledger, "req-proc", "GetStudentData", "GetStudentCourses")

	if _, err := agg.Absorb(context.Background(), "req-proc", "GetStudentData", "profile", ""); err != nil {
		t.Fatalf("Absorb failed: %v", err)
	}

	record, _ := ledger.Get(context.Background(), "req-proc")
	if record.Status != models.RequestStatusProcessing {
		t.Errorf("Expected status processing after first result, got %s", record.Status)
	}
}
