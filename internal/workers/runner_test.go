package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"studentquery/internal/models"
	"studentquery/internal/services"
)

// stubFetcher answers with a fixed payload or error
type stubFetcher struct {
	name    string
	payload interface{}
	err     error
}

func (f *stubFetcher) Name() string { return f.name }

func (f *stubFetcher) Fetch(_ context.Context, _ string, _ map[string]interface{}) (interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func newTestSetup(t *testing.T, sources ...string) (*services.MemoryLedger, *services.Aggregator, *Registry) {
	t.Helper()
	ledger := services.NewMemoryLedger(time.Hour)
	t.Cleanup(ledger.Shutdown)

	err := ledger.Create(context.Background(), &models.RequestRecord{
		CorrelationID:   "req-1",
		UserID:          "student-1",
		Message:         "test",
		RequiredSources: sources,
		Status:          models.RequestStatusPending,
	})
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	return ledger, services.NewAggregator(ledger), NewRegistry()
}

func newTestRunner(queue WorkQueue, registry *Registry, agg *services.Aggregator) *Runner {
	return NewRunner(queue, registry, agg, DefaultConfig(), time.Second)
}

func TestExecute_SuccessfulFetchCompletesJoin(t *testing.T) {
	ledger, agg, registry := newTestSetup(t, "GetStudentData")
	registry.Register(&stubFetcher{name: "GetStudentData", payload: "profile"})
	runner := newTestRunner(nil, registry, agg)

	runner.execute(context.Background(), models.WorkUnit{
		CorrelationID: "req-1",
		UserID:        "student-1",
		Source:        "GetStudentData",
	})

	record, err := ledger.Get(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != models.RequestStatusComplete {
		t.Errorf("Expected complete, got %s", record.Status)
	}
	if len(record.ReceivedResults) != 1 || record.ReceivedResults[0].Data != "profile" {
		t.Errorf("Unexpected results: %+v", record.ReceivedResults)
	}
}

func TestExecute_FetchErrorStillProducesResult(t *testing.T) {
	ledger, agg, registry := newTestSetup(t, "GetEnrollmentStatus")
	registry.Register(&stubFetcher{name: "GetEnrollmentStatus", err: errors.New("no active enrollment found for student-1")})
	runner := newTestRunner(nil, registry, agg)

	runner.execute(context.Background(), models.WorkUnit{
		CorrelationID: "req-1",
		UserID:        "student-1",
		Source:        "GetEnrollmentStatus",
	})

	record, _ := ledger.Get(context.Background(), "req-1")
	if record.Status != models.RequestStatusComplete {
		t.Errorf("Error result should still complete the join, got %s", record.Status)
	}
	if record.ReceivedResults[0].Error == "" {
		t.Error("Expected the fetch error on the result")
	}
	if record.ReceivedResults[0].Data != nil {
		t.Error("Error result must not carry data")
	}
}

func TestExecute_UnknownSourceProducesErrorResult(t *testing.T) {
	ledger, agg, registry := newTestSetup(t, "GetStudentGym")
	runner := newTestRunner(nil, registry, agg)

	runner.execute(context.Background(), models.WorkUnit{
		CorrelationID: "req-1",
		UserID:        "student-1",
		Source:        "GetStudentGym",
	})

	record, _ := ledger.Get(context.Background(), "req-1")
	if len(record.ReceivedResults) != 1 {
		t.Fatalf("Expected one result, got %d", len(record.ReceivedResults))
	}
	if record.ReceivedResults[0].Error == "" {
		t.Error("Unknown source should produce an error result, not silence")
	}
}

func TestDeliver_DropsResultForUnknownRequest(t *testing.T) {
	_, agg, registry := newTestSetup(t, "GetStudentData")
	runner := newTestRunner(nil, registry, agg)

	// Must return quickly rather than retry an unknown correlation id
	done := make(chan struct{})
	go func() {
		runner.deliver(context.Background(), models.WorkUnit{
			CorrelationID: "expired-req",
			Source:        "GetStudentData",
		}, "data", "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("deliver should drop unknown requests without retrying")
	}
}

func TestChannelWorkQueue_DeliversEmittedUnits(t *testing.T) {
	emitter := services.NewChannelWorkEmitter(4)
	queue := NewChannelWorkQueue(emitter.Units())

	unit := models.WorkUnit{CorrelationID: "req-q", Source: "GetStudentData"}
	if err := emitter.Emit(context.Background(), unit); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	got, err := queue.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got.CorrelationID != "req-q" || got.Source != "GetStudentData" {
		t.Errorf("Unexpected unit: %+v", got)
	}
}

func TestChannelWorkQueue_NextHonorsCancellation(t *testing.T) {
	emitter := services.NewChannelWorkEmitter(1)
	queue := NewChannelWorkQueue(emitter.Units())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := queue.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRunner_ConsumesFromQueueUntilCancelled(t *testing.T) {
	ledger, agg, registry := newTestSetup(t, "GetStudentData", "GetStudentCourses")
	registry.Register(&stubFetcher{name: "GetStudentData", payload: "profile"})
	registry.Register(&stubFetcher{name: "GetStudentCourses", payload: "courses"})

	emitter := services.NewChannelWorkEmitter(8)
	queue := NewChannelWorkQueue(emitter.Units())

	cfg := DefaultConfig()
	cfg.Concurrency = 2
	runner := NewRunner(queue, registry, agg, cfg, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	runner.Start(ctx)

	for _, source := range []string{"GetStudentData", "GetStudentCourses"} {
		err := emitter.Emit(context.Background(), models.WorkUnit{
			CorrelationID: "req-1",
			UserID:        "student-1",
			Source:        source,
		})
		if err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		record, err := ledger.Get(context.Background(), "req-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if record.Status == models.RequestStatusComplete {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Join never completed; status=%s results=%d", record.Status, len(record.ReceivedResults))
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	runner.Wait()
}
