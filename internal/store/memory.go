package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory bundles in-process implementations of EventStore, ProcessingLedger,
// and DeadLetterStore. It backs unit tests and the cmd/seed demo tool; the
// durable deployment target is Postgres (see postgres.go), grounded on
// original_source's InMemoryEventStore which played the same "MVP / test"
// role ahead of a database-backed store. Each concern gets its own exported
// accessor type since Go interfaces can't share a colliding "Get" method
// name on one struct.
type Memory struct {
	Events     *MemoryEventStore
	Processing *MemoryProcessingLedger
	DLQ        *MemoryDeadLetterStore
}

// NewMemory constructs an empty, wired set of in-memory stores.
func NewMemory() *Memory {
	return &Memory{
		Events:     &MemoryEventStore{records: map[string]EventRecord{}},
		Processing: &MemoryProcessingLedger{records: map[string]ProcessingRecord{}},
		DLQ:        &MemoryDeadLetterStore{},
	}
}

// MemoryEventStore implements EventStore.
type MemoryEventStore struct {
	mu      sync.RWMutex
	records map[string]EventRecord
}

func (s *MemoryEventStore) Store(_ context.Context, rec EventRecord) error {
	if rec.EventID == "" || rec.EventType == "" || rec.TenantID == "" {
		return ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.EventID] = rec
	return nil
}

func (s *MemoryEventStore) Get(_ context.Context, eventID, tenantID string) (EventRecord, error) {
	if tenantID == "" {
		return EventRecord{}, ErrTenantRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[eventID]
	if !ok || rec.TenantID != tenantID {
		return EventRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryEventStore) ByException(_ context.Context, exceptionID, tenantID string, f Filter, p Page) (Result, error) {
	if tenantID == "" {
		return Result{}, ErrTenantRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []EventRecord
	for _, rec := range s.records {
		if rec.TenantID != tenantID {
			continue
		}
		hit := (rec.ExceptionID != nil && *rec.ExceptionID == exceptionID) || rec.CorrelationID == exceptionID
		if hit && matchesFilter(rec, f) {
			matches = append(matches, rec)
		}
	}
	return paginate(matches, p), nil
}

func (s *MemoryEventStore) ByTenant(_ context.Context, tenantID string, f Filter, p Page) (Result, error) {
	if tenantID == "" {
		return Result{}, ErrTenantRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []EventRecord
	for _, rec := range s.records {
		if rec.TenantID == tenantID && matchesFilter(rec, f) {
			matches = append(matches, rec)
		}
	}
	return paginate(matches, p), nil
}

func matchesFilter(rec EventRecord, f Filter) bool {
	if f.EventType != "" && rec.EventType != f.EventType {
		return false
	}
	if f.ExceptionID != "" && (rec.ExceptionID == nil || *rec.ExceptionID != f.ExceptionID) {
		return false
	}
	if f.CorrelationID != "" && rec.CorrelationID != f.CorrelationID {
		return false
	}
	if f.From != nil && rec.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && rec.Timestamp.After(*f.To) {
		return false
	}
	if f.Version != nil && rec.Version != *f.Version {
		return false
	}
	return true
}

func paginate(items []EventRecord, p Page) Result {
	p = p.normalize()
	sort.Slice(items, func(i, j int) bool { return items[i].Timestamp.After(items[j].Timestamp) })

	total := len(items)
	totalPages := (total + p.Size - 1) / p.Size
	start := (p.Number - 1) * p.Size
	if start > total {
		start = total
	}
	end := start + p.Size
	if end > total {
		end = total
	}

	return Result{
		Items:      append([]EventRecord{}, items[start:end]...),
		Total:      total,
		Page:       p.Number,
		PageSize:   p.Size,
		TotalPages: totalPages,
	}
}

func procKey(eventID, workerType string) string { return eventID + "\x00" + workerType }

// MemoryProcessingLedger implements ProcessingLedger.
type MemoryProcessingLedger struct {
	mu      sync.RWMutex
	records map[string]ProcessingRecord
}

func (l *MemoryProcessingLedger) Get(_ context.Context, eventID, workerType string) (ProcessingRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[procKey(eventID, workerType)]
	if !ok {
		return ProcessingRecord{}, ErrNotFound
	}
	return rec, nil
}

// MarkProcessing creates or overwrites the row in the "processing" state.
// error_message is deliberately preserved across this transition (not
// cleared to nil): it carries the "(retry N/M)" marker a prior
// ScheduleRetry call wrote, which the retry scheduler must still be able to
// read back on the next failure (spec section 4.8 step 2). Only
// MarkCompleted/MarkFailed ever change it.
func (l *MemoryProcessingLedger) MarkProcessing(_ context.Context, rec ProcessingRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := procKey(rec.EventID, rec.WorkerType)
	rec.Status = StatusProcessing
	rec.ErrorMessage = l.records[key].ErrorMessage
	l.records[key] = rec
	return nil
}

func (l *MemoryProcessingLedger) MarkCompleted(_ context.Context, eventID, workerType string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := procKey(eventID, workerType)
	rec := l.records[key]
	rec.EventID, rec.WorkerType = eventID, workerType
	rec.Status = StatusCompleted
	t := at
	rec.ProcessedAt = &t
	rec.ErrorMessage = nil
	l.records[key] = rec
	return nil
}

func (l *MemoryProcessingLedger) MarkFailed(_ context.Context, eventID, workerType string, at time.Time, errorMessage string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := procKey(eventID, workerType)
	rec := l.records[key]
	rec.EventID, rec.WorkerType = eventID, workerType
	rec.Status = StatusFailed
	t := at
	rec.ProcessedAt = &t
	rec.ErrorMessage = &errorMessage
	l.records[key] = rec
	return nil
}

// MemoryDeadLetterStore implements DeadLetterStore.
type MemoryDeadLetterStore struct {
	mu     sync.RWMutex
	rows   []DeadLetterRecord
	nextID int64
}

func (d *MemoryDeadLetterStore) Insert(_ context.Context, rec DeadLetterRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	rec.ID = d.nextID
	if rec.Status == "" {
		rec.Status = DLQPending
	}
	d.rows = append(d.rows, rec)
	return nil
}

func (d *MemoryDeadLetterStore) List(_ context.Context, tenantID string, f DLQFilter, p Page) (DLQResult, error) {
	if tenantID == "" {
		return DLQResult{}, ErrTenantRequired
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var matches []DeadLetterRecord
	for _, rec := range d.rows {
		if rec.TenantID != tenantID {
			continue
		}
		if f.EventType != "" && rec.EventType != f.EventType {
			continue
		}
		if f.WorkerType != "" && rec.WorkerType != f.WorkerType {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		matches = append(matches, rec)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].FailedAt.After(matches[j].FailedAt) })

	p = p.normalize()
	total := len(matches)
	totalPages := (total + p.Size - 1) / p.Size
	start := (p.Number - 1) * p.Size
	if start > total {
		start = total
	}
	end := start + p.Size
	if end > total {
		end = total
	}

	return DLQResult{
		Items:      append([]DeadLetterRecord{}, matches[start:end]...),
		Total:      total,
		Page:       p.Number,
		PageSize:   p.Size,
		TotalPages: totalPages,
	}, nil
}

func (d *MemoryDeadLetterStore) Get(_ context.Context, id int64, tenantID string) (DeadLetterRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, rec := range d.rows {
		if rec.ID == id && rec.TenantID == tenantID {
			return rec, nil
		}
	}
	return DeadLetterRecord{}, ErrNotFound
}

func (d *MemoryDeadLetterStore) SetStatus(_ context.Context, id int64, tenantID string, status DLQStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, rec := range d.rows {
		if rec.ID == id && rec.TenantID == tenantID {
			d.rows[i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (d *MemoryDeadLetterStore) Count(_ context.Context, tenantID string, f DLQFilter) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, rec := range d.rows {
		if rec.TenantID != tenantID {
			continue
		}
		if f.EventType != "" && rec.EventType != f.EventType {
			continue
		}
		if f.WorkerType != "" && rec.WorkerType != f.WorkerType {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		n++
	}
	return n, nil
}
