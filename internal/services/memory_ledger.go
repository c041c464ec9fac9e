package services

import (
	"context"
	"log"
	"sync"
	"time"

	"studentquery/internal/models"
)

// MemoryLedger is an in-process Ledger used when MongoDB is not configured
// (single-instance dev mode) and by tests. It provides the same atomicity
// contract as the MongoDB ledger via a per-record mutex, and runs a janitor
// goroutine that enforces the retention window in place of a TTL index.
type MemoryLedger struct {
	mu        sync.RWMutex
	records   map[string]*memoryEntry
	retention time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

type memoryEntry struct {
	mu     sync.Mutex
	record models.RequestRecord
}

// NewMemoryLedger creates an in-memory ledger with the given retention window
func NewMemoryLedger(retention time.Duration) *MemoryLedger {
	l := &MemoryLedger{
		records:   make(map[string]*memoryEntry),
		retention: retention,
		done:      make(chan struct{}),
	}
	go l.janitor()
	return l
}

func (l *MemoryLedger) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.purgeExpired()
		}
	}
}

func (l *MemoryLedger) purgeExpired() {
	cutoff := time.Now().Add(-l.retention)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, entry := range l.records {
		entry.mu.Lock()
		expired := entry.record.CreatedAt.Before(cutoff)
		entry.mu.Unlock()
		if expired {
			delete(l.records, id)
			log.Printf("🧹 [LEDGER] Expired request %s (retention %s)", id, l.retention)
		}
	}
}

// Shutdown stops the janitor goroutine
func (l *MemoryLedger) Shutdown() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *MemoryLedger) entry(correlationID string) (*memoryEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.records[correlationID]
	return e, ok
}

func (l *MemoryLedger) Create(_ context.Context, record *models.RequestRecord) error {
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = models.RequestStatusPending
	}
	if record.ReceivedResults == nil {
		record.ReceivedResults = []models.WorkResult{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[record.CorrelationID] = &memoryEntry{record: cloneRecord(record)}
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, correlationID string) (*models.RequestRecord, error) {
	e, ok := l.entry(correlationID)
	if !ok {
		return nil, ErrUnknownRequest
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := cloneRecord(&e.record)
	return &rec, nil
}

func (l *MemoryLedger) AppendResult(_ context.Context, correlationID string, result models.WorkResult) (*models.RequestRecord, error) {
	e, ok := l.entry(correlationID)
	if !ok {
		return nil, ErrUnknownRequest
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record.ReceivedResults = append(e.record.ReceivedResults, result)
	e.record.UpdatedAt = time.Now()
	rec := cloneRecord(&e.record)
	return &rec, nil
}

func (l *MemoryLedger) MarkProcessing(_ context.Context, correlationID string) error {
	e, ok := l.entry(correlationID)
	if !ok {
		return ErrUnknownRequest
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record.Status == models.RequestStatusPending {
		e.record.Status = models.RequestStatusProcessing
		e.record.UpdatedAt = time.Now()
	}
	return nil
}

func (l *MemoryLedger) MarkComplete(_ context.Context, correlationID string) (bool, error) {
	e, ok := l.entry(correlationID)
	if !ok {
		return false, ErrUnknownRequest
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.record.Status {
	case models.RequestStatusPending, models.RequestStatusProcessing:
		e.record.Status = models.RequestStatusComplete
		e.record.UpdatedAt = time.Now()
		return true, nil
	default:
		return false, nil
	}
}

func (l *MemoryLedger) StoreAnswer(_ context.Context, correlationID, answer string) error {
	e, ok := l.entry(correlationID)
	if !ok {
		return ErrUnknownRequest
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record.Answer = answer
	e.record.UpdatedAt = time.Now()
	return nil
}

func (l *MemoryLedger) MarkError(_ context.Context, correlationID, reason string) error {
	e, ok := l.entry(correlationID)
	if !ok {
		return ErrUnknownRequest
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record.Status = models.RequestStatusError
	e.record.Error = reason
	e.record.UpdatedAt = time.Now()
	return nil
}

func (l *MemoryLedger) FindStuck(_ context.Context, olderThan time.Duration) ([]models.RequestRecord, error) {
	cutoff := time.Now().Add(-olderThan)
	l.mu.RLock()
	defer l.mu.RUnlock()

	var records []models.RequestRecord
	for _, e := range l.records {
		e.mu.Lock()
		if !e.record.Status.IsTerminal() && e.record.CreatedAt.Before(cutoff) {
			records = append(records, cloneRecord(&e.record))
		}
		e.mu.Unlock()
	}
	return records, nil
}

func (l *MemoryLedger) FindUnanswered(_ context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-olderThan)
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string
	for id, e := range l.records {
		e.mu.Lock()
		if e.record.Status == models.RequestStatusComplete && e.record.Answer == "" && e.record.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
		e.mu.Unlock()
	}
	return ids, nil
}

// cloneRecord copies a record so callers never share the internal slice
func cloneRecord(r *models.RequestRecord) models.RequestRecord {
	rec := *r
	rec.RequiredSources = append([]string(nil), r.RequiredSources...)
	rec.ReceivedResults = append([]models.WorkResult(nil), r.ReceivedResults...)
	return rec
}
