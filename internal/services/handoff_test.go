package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"studentquery/internal/models"
)

// countingSynthesizer records calls and the inputs it saw
type countingSynthesizer struct {
	calls      int32
	lastData   map[string]interface{}
	lastFailed []string
	answer     string
	err        error
}

func (s *countingSynthesizer) Synthesize(_ context.Context, _ string, data map[string]interface{}, failed []string, _ []models.ConversationTurn) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	s.lastData = data
	s.lastFailed = failed
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

type recordingNotifier struct {
	users []string
}

func (n *recordingNotifier) SendToUser(userID string, _ interface{}) bool {
	n.users = append(n.users, userID)
	return true
}

func completedRequest(t *testing.T, ledger Ledger, correlationID string, results []models.WorkResult, sources ...string) {
	t.Helper()
	createRequest(t, ledger, correlationID, sources...)
	for _, res := range results {
		if _, err := ledger.AppendResult(context.Background(), correlationID, res); err != nil {
			t.Fatalf("AppendResult failed: %v", err)
		}
	}
	if _, err := ledger.MarkComplete(context.Background(), correlationID); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}
}

func TestHandoff_SynthesizesStoresAndNotifies(t *testing.T) {
	ledger := newTestLedger(t)
	synth := &countingSynthesizer{answer: "You are on track to graduate."}
	notifier := &recordingNotifier{}
	handoff := NewHandoff(ledger, synth, nil, notifier, nil)

	completedRequest(t, ledger, "req-h1", []models.WorkResult{
		{Source: "GetStudentData", Data: "profile", ReceivedAt: time.Now()},
		{Source: "GetStudentCourses", Data: "courses", ReceivedAt: time.Now()},
	}, "GetStudentData", "GetStudentCourses")

	if err := handoff.Run(context.Background(), "req-h1"); err != nil {
		t.Fatalf("Handoff failed: %v", err)
	}

	record, _ := ledger.Get(context.Background(), "req-h1")
	if record.Answer != "You are on track to graduate." {
		t.Errorf("Answer not stored, got %q", record.Answer)
	}
	if len(notifier.users) != 1 || notifier.users[0] != "student-1" {
		t.Errorf("Expected one notification to student-1, got %v", notifier.users)
	}
	if len(synth.lastData) != 2 {
		t.Errorf("Expected 2 sources in synthesis data, got %d", len(synth.lastData))
	}
}

func TestHandoff_RerunIsIdempotent(t *testing.T) {
	ledger := newTestLedger(t)
	synth := &countingSynthesizer{answer: "Answer."}
	handoff := NewHandoff(ledger, synth, nil, nil, nil)

	completedRequest(t, ledger, "req-h2", []models.WorkResult{
		{Source: "GetStudentData", Data: "profile", ReceivedAt: time.Now()},
	}, "GetStudentData")

	if err := handoff.Run(context.Background(), "req-h2"); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if err := handoff.Run(context.Background(), "req-h2"); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if calls := atomic.LoadInt32(&synth.calls); calls != 1 {
		t.Errorf("Expected synthesis exactly once across reruns, got %d", calls)
	}
}

func TestHandoff_LastWriteWinsPerSource(t *testing.T) {
	ledger := newTestLedger(t)
	synth := &countingSynthesizer{answer: "Answer."}
	handoff := NewHandoff(ledger, synth, nil, nil, nil)

	// Duplicate deliveries for one source: the later one is what the
	// synthesizer sees
	completedRequest(t, ledger, "req-h3", []models.WorkResult{
		{Source: "GetStudentData", Data: "stale", ReceivedAt: time.Now()},
		{Source: "GetStudentData", Data: "fresh", ReceivedAt: time.Now()},
	}, "GetStudentData")

	if err := handoff.Run(context.Background(), "req-h3"); err != nil {
		t.Fatalf("Handoff failed: %v", err)
	}
	if synth.lastData["GetStudentData"] != "fresh" {
		t.Errorf("Expected last delivery to win, got %v", synth.lastData["GetStudentData"])
	}
}

func TestHandoff_FailedSourcesPassedToSynthesis(t *testing.T) {
	ledger := newTestLedger(t)
	synth := &countingSynthesizer{answer: "Partial answer."}
	handoff := NewHandoff(ledger, synth, nil, nil, nil)

	completedRequest(t, ledger, "req-h4", []models.WorkResult{
		{Source: "GetStudentData", Data: "profile", ReceivedAt: time.Now()},
		{Source: "GetEnrollmentStatus", Error: "no active enrollment found", ReceivedAt: time.Now()},
	}, "GetStudentData", "GetEnrollmentStatus")

	if err := handoff.Run(context.Background(), "req-h4"); err != nil {
		t.Fatalf("Handoff failed: %v", err)
	}

	if len(synth.lastFailed) != 1 || synth.lastFailed[0] != "GetEnrollmentStatus" {
		t.Errorf("Expected failed source passed to synthesis, got %v", synth.lastFailed)
	}
	if _, ok := synth.lastData["GetEnrollmentStatus"]; ok {
		t.Error("Failed source must not appear in the data map")
	}
}

func TestHandoff_SynthesisFailureLeavesRecordForRecovery(t *testing.T) {
	ledger := newTestLedger(t)
	synth := &countingSynthesizer{err: context.DeadlineExceeded}
	handoff := NewHandoff(ledger, synth, nil, nil, nil)

	completedRequest(t, ledger, "req-h5", []models.WorkResult{
		{Source: "GetStudentData", Data: "profile", ReceivedAt: time.Now()},
	}, "GetStudentData")

	if err := handoff.Run(context.Background(), "req-h5"); err == nil {
		t.Fatal("Expected handoff to report synthesis failure")
	}

	// Still complete-without-answer, visible to the recovery scan
	record, _ := ledger.Get(context.Background(), "req-h5")
	if record.Status != models.RequestStatusComplete || record.Answer != "" {
		t.Errorf("Record should stay complete without answer, got status=%s answer=%q", record.Status, record.Answer)
	}

	time.Sleep(5 * time.Millisecond)
	ids, _ := ledger.FindUnanswered(context.Background(), time.Millisecond)
	if len(ids) != 1 || ids[0] != "req-h5" {
		t.Errorf("Expected recovery scan to find req-h5, got %v", ids)
	}
}
