package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// OpenPostgres opens a connection pool against dsn using the pgx stdlib
// driver through sqlx, the persistence stack grounded on
// jordigilh-kubernaut's repository layer (jackc/pgx/v5 + jmoiron/sqlx).
func OpenPostgres(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	return db, nil
}

// Schema is the DDL for the two tables this core owns plus the DLQ table
// (spec section 6 "Persisted state"). Callers run this once at startup or
// via a migration tool; it is intentionally idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS event_log (
	event_id       TEXT PRIMARY KEY,
	event_type     TEXT NOT NULL,
	tenant_id      TEXT NOT NULL,
	exception_id   TEXT,
	timestamp      TIMESTAMPTZ NOT NULL,
	correlation_id TEXT NOT NULL,
	payload        JSONB NOT NULL,
	event_metadata JSONB NOT NULL,
	version        INT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_log_tenant ON event_log (tenant_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_event_log_exception ON event_log (tenant_id, exception_id);
CREATE INDEX IF NOT EXISTS idx_event_log_correlation ON event_log (tenant_id, correlation_id);

CREATE TABLE IF NOT EXISTS event_processing (
	event_id      TEXT NOT NULL,
	worker_type   TEXT NOT NULL,
	tenant_id     TEXT NOT NULL,
	exception_id  TEXT,
	status        TEXT NOT NULL,
	processed_at  TIMESTAMPTZ,
	error_message TEXT,
	PRIMARY KEY (event_id, worker_type)
);

CREATE TABLE IF NOT EXISTS dead_letter_events (
	id             BIGSERIAL PRIMARY KEY,
	event_id       TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	tenant_id      TEXT NOT NULL,
	exception_id   TEXT,
	original_topic TEXT NOT NULL,
	failure_reason TEXT NOT NULL,
	retry_count    INT NOT NULL,
	worker_type    TEXT NOT NULL,
	payload        JSONB NOT NULL,
	event_metadata JSONB NOT NULL,
	failed_at      TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_dlq_tenant ON dead_letter_events (tenant_id, failed_at DESC);
`

// Postgres implements EventStore, ProcessingLedger, and DeadLetterStore
// against the schema above.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an already-open *sqlx.DB.
func NewPostgres(db *sqlx.DB) *Postgres { return &Postgres{db: db} }

type eventRow struct {
	EventID       string    `db:"event_id"`
	EventType     string    `db:"event_type"`
	TenantID      string    `db:"tenant_id"`
	ExceptionID   *string   `db:"exception_id"`
	Timestamp     time.Time `db:"timestamp"`
	CorrelationID string    `db:"correlation_id"`
	Payload       []byte    `db:"payload"`
	EventMetadata []byte    `db:"event_metadata"`
	Version       int       `db:"version"`
}

func toRow(rec EventRecord) (eventRow, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return eventRow{}, err
	}
	md, err := json.Marshal(rec.Metadata)
	if err != nil {
		return eventRow{}, err
	}
	return eventRow{
		EventID:       rec.EventID,
		EventType:     rec.EventType,
		TenantID:      rec.TenantID,
		ExceptionID:   rec.ExceptionID,
		Timestamp:     rec.Timestamp,
		CorrelationID: rec.CorrelationID,
		Payload:       payload,
		EventMetadata: md,
		Version:       rec.Version,
	}, nil
}

func fromRow(r eventRow) (EventRecord, error) {
	var payload, md map[string]any
	if err := json.Unmarshal(r.Payload, &payload); err != nil {
		return EventRecord{}, err
	}
	if err := json.Unmarshal(r.EventMetadata, &md); err != nil {
		return EventRecord{}, err
	}
	return EventRecord{
		EventID:       r.EventID,
		EventType:     r.EventType,
		TenantID:      r.TenantID,
		ExceptionID:   r.ExceptionID,
		Timestamp:     r.Timestamp,
		CorrelationID: r.CorrelationID,
		Payload:       payload,
		Metadata:      md,
		Version:       r.Version,
	}, nil
}

func (p *Postgres) Store(ctx context.Context, rec EventRecord) error {
	if rec.EventID == "" || rec.EventType == "" || rec.TenantID == "" {
		return ErrTenantRequired
	}
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO event_log (event_id, event_type, tenant_id, exception_id, timestamp, correlation_id, payload, event_metadata, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (event_id) DO NOTHING`,
		row.EventID, row.EventType, row.TenantID, row.ExceptionID, row.Timestamp, row.CorrelationID, row.Payload, row.EventMetadata, row.Version)
	return err
}

func (p *Postgres) Get(ctx context.Context, eventID, tenantID string) (EventRecord, error) {
	if tenantID == "" {
		return EventRecord{}, ErrTenantRequired
	}
	var row eventRow
	err := p.db.GetContext(ctx, &row, `
		SELECT event_id, event_type, tenant_id, exception_id, timestamp, correlation_id, payload, event_metadata, version
		FROM event_log WHERE event_id = $1 AND tenant_id = $2`, eventID, tenantID)
	if err != nil {
		return EventRecord{}, ErrNotFound
	}
	return fromRow(row)
}

func (p *Postgres) ByException(ctx context.Context, exceptionID, tenantID string, f Filter, pg Page) (Result, error) {
	return p.query(ctx, tenantID, `(exception_id = $2 OR correlation_id = $2)`, exceptionID, f, pg)
}

func (p *Postgres) ByTenant(ctx context.Context, tenantID string, f Filter, pg Page) (Result, error) {
	return p.query(ctx, tenantID, `TRUE`, nil, f, pg)
}

func (p *Postgres) query(ctx context.Context, tenantID, extraClause string, extraArg any, f Filter, pg Page) (Result, error) {
	if tenantID == "" {
		return Result{}, ErrTenantRequired
	}
	pg = pg.normalize()

	clauses := []string{"tenant_id = $1", extraClause}
	args := []any{tenantID}
	if extraArg != nil {
		args = append(args, extraArg)
	}
	argIdx := len(args)

	addClause := func(clause string, val any) {
		argIdx++
		clauses = append(clauses, fmt.Sprintf(clause, argIdx))
		args = append(args, val)
	}
	if f.EventType != "" {
		addClause("event_type = $%d", f.EventType)
	}
	if f.ExceptionID != "" {
		addClause("exception_id = $%d", f.ExceptionID)
	}
	if f.CorrelationID != "" {
		addClause("correlation_id = $%d", f.CorrelationID)
	}
	if f.From != nil {
		addClause("timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		addClause("timestamp <= $%d", *f.To)
	}
	if f.Version != nil {
		addClause("version = $%d", *f.Version)
	}

	where := ""
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM event_log WHERE %s`, where)
	if err := p.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return Result{}, err
	}

	limitArg := len(args) + 1
	offsetArg := len(args) + 2
	listQuery := fmt.Sprintf(`
		SELECT event_id, event_type, tenant_id, exception_id, timestamp, correlation_id, payload, event_metadata, version
		FROM event_log WHERE %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`, where, limitArg, offsetArg)
	listArgs := append(append([]any{}, args...), pg.Size, (pg.Number-1)*pg.Size)

	var rows []eventRow
	if err := p.db.SelectContext(ctx, &rows, listQuery, listArgs...); err != nil {
		return Result{}, err
	}

	items := make([]EventRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := fromRow(r)
		if err != nil {
			return Result{}, err
		}
		items = append(items, rec)
	}

	totalPages := (total + pg.Size - 1) / pg.Size
	return Result{Items: items, Total: total, Page: pg.Number, PageSize: pg.Size, TotalPages: totalPages}, nil
}

// PostgresLedger implements ProcessingLedger against event_processing.
type PostgresLedger struct{ db *sqlx.DB }

func NewPostgresLedger(db *sqlx.DB) *PostgresLedger { return &PostgresLedger{db: db} }

type processingRow struct {
	EventID      string     `db:"event_id"`
	WorkerType   string     `db:"worker_type"`
	TenantID     string     `db:"tenant_id"`
	ExceptionID  *string    `db:"exception_id"`
	Status       string     `db:"status"`
	ProcessedAt  *time.Time `db:"processed_at"`
	ErrorMessage *string    `db:"error_message"`
}

func (l *PostgresLedger) Get(ctx context.Context, eventID, workerType string) (ProcessingRecord, error) {
	var row processingRow
	err := l.db.GetContext(ctx, &row, `
		SELECT event_id, worker_type, tenant_id, exception_id, status, processed_at, error_message
		FROM event_processing WHERE event_id=$1 AND worker_type=$2`, eventID, workerType)
	if err != nil {
		return ProcessingRecord{}, ErrNotFound
	}
	return ProcessingRecord{
		EventID: row.EventID, WorkerType: row.WorkerType, TenantID: row.TenantID,
		ExceptionID: row.ExceptionID, Status: ProcessingStatus(row.Status),
		ProcessedAt: row.ProcessedAt, ErrorMessage: row.ErrorMessage,
	}, nil
}

// MarkProcessing creates or overwrites the row in the "processing" state.
// On conflict, error_message is left untouched: it carries the
// "(retry N/M)" marker a prior ScheduleRetry call wrote, which the retry
// scheduler must still be able to read back on the next failure (spec
// section 4.8 step 2). Only MarkCompleted/MarkFailed ever change it.
func (l *PostgresLedger) MarkProcessing(ctx context.Context, rec ProcessingRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO event_processing (event_id, worker_type, tenant_id, exception_id, status, processed_at, error_message)
		VALUES ($1,$2,$3,$4,'processing',NULL,NULL)
		ON CONFLICT (event_id, worker_type) DO UPDATE SET status='processing'`,
		rec.EventID, rec.WorkerType, rec.TenantID, rec.ExceptionID)
	return err
}

func (l *PostgresLedger) MarkCompleted(ctx context.Context, eventID, workerType string, at time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE event_processing SET status='completed', processed_at=$3, error_message=NULL
		WHERE event_id=$1 AND worker_type=$2`, eventID, workerType, at)
	return err
}

func (l *PostgresLedger) MarkFailed(ctx context.Context, eventID, workerType string, at time.Time, errorMessage string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE event_processing SET status='failed', processed_at=$3, error_message=$4
		WHERE event_id=$1 AND worker_type=$2`, eventID, workerType, at, errorMessage)
	return err
}

// PostgresDLQ implements DeadLetterStore against dead_letter_events.
type PostgresDLQ struct{ db *sqlx.DB }

func NewPostgresDLQ(db *sqlx.DB) *PostgresDLQ { return &PostgresDLQ{db: db} }

type dlqRow struct {
	ID            int64     `db:"id"`
	EventID       string    `db:"event_id"`
	EventType     string    `db:"event_type"`
	TenantID      string    `db:"tenant_id"`
	ExceptionID   *string   `db:"exception_id"`
	OriginalTopic string    `db:"original_topic"`
	FailureReason string    `db:"failure_reason"`
	RetryCount    int       `db:"retry_count"`
	WorkerType    string    `db:"worker_type"`
	Payload       []byte    `db:"payload"`
	EventMetadata []byte    `db:"event_metadata"`
	FailedAt      time.Time `db:"failed_at"`
	Status        string    `db:"status"`
}

func (d *PostgresDLQ) Insert(ctx context.Context, rec DeadLetterRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	md, err := json.Marshal(rec.EventMetadata)
	if err != nil {
		return err
	}
	status := rec.Status
	if status == "" {
		status = DLQPending
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO dead_letter_events
			(event_id, event_type, tenant_id, exception_id, original_topic, failure_reason, retry_count, worker_type, payload, event_metadata, failed_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.EventID, rec.EventType, rec.TenantID, rec.ExceptionID, rec.OriginalTopic, rec.FailureReason,
		rec.RetryCount, rec.WorkerType, payload, md, rec.FailedAt, status)
	return err
}

func (d *PostgresDLQ) List(ctx context.Context, tenantID string, f DLQFilter, pg Page) (DLQResult, error) {
	if tenantID == "" {
		return DLQResult{}, ErrTenantRequired
	}
	pg = pg.normalize()

	clauses := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if f.EventType != "" {
		args = append(args, f.EventType)
		clauses = append(clauses, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if f.WorkerType != "" {
		args = append(args, f.WorkerType)
		clauses = append(clauses, fmt.Sprintf("worker_type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}

	var total int
	if err := d.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM dead_letter_events WHERE %s`, where), args...); err != nil {
		return DLQResult{}, err
	}

	listArgs := append(append([]any{}, args...), pg.Size, (pg.Number-1)*pg.Size)
	var rows []dlqRow
	q := fmt.Sprintf(`
		SELECT id, event_id, event_type, tenant_id, exception_id, original_topic, failure_reason, retry_count, worker_type, payload, event_metadata, failed_at, status
		FROM dead_letter_events WHERE %s ORDER BY failed_at DESC LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	if err := d.db.SelectContext(ctx, &rows, q, listArgs...); err != nil {
		return DLQResult{}, err
	}

	items := make([]DeadLetterRecord, 0, len(rows))
	for _, r := range rows {
		var payload, md map[string]any
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			return DLQResult{}, err
		}
		if err := json.Unmarshal(r.EventMetadata, &md); err != nil {
			return DLQResult{}, err
		}
		items = append(items, DeadLetterRecord{
			ID: r.ID, EventID: r.EventID, EventType: r.EventType, TenantID: r.TenantID, ExceptionID: r.ExceptionID,
			OriginalTopic: r.OriginalTopic, FailureReason: r.FailureReason, RetryCount: r.RetryCount,
			WorkerType: r.WorkerType, Payload: payload, EventMetadata: md, FailedAt: r.FailedAt, Status: DLQStatus(r.Status),
		})
	}

	totalPages := (total + pg.Size - 1) / pg.Size
	return DLQResult{Items: items, Total: total, Page: pg.Number, PageSize: pg.Size, TotalPages: totalPages}, nil
}

func (d *PostgresDLQ) Get(ctx context.Context, id int64, tenantID string) (DeadLetterRecord, error) {
	var r dlqRow
	err := d.db.GetContext(ctx, &r, `
		SELECT id, event_id, event_type, tenant_id, exception_id, original_topic, failure_reason, retry_count, worker_type, payload, event_metadata, failed_at, status
		FROM dead_letter_events WHERE id=$1 AND tenant_id=$2`, id, tenantID)
	if err != nil {
		return DeadLetterRecord{}, ErrNotFound
	}
	var payload, md map[string]any
	if err := json.Unmarshal(r.Payload, &payload); err != nil {
		return DeadLetterRecord{}, err
	}
	if err := json.Unmarshal(r.EventMetadata, &md); err != nil {
		return DeadLetterRecord{}, err
	}
	return DeadLetterRecord{
		ID: r.ID, EventID: r.EventID, EventType: r.EventType, TenantID: r.TenantID, ExceptionID: r.ExceptionID,
		OriginalTopic: r.OriginalTopic, FailureReason: r.FailureReason, RetryCount: r.RetryCount,
		WorkerType: r.WorkerType, Payload: payload, EventMetadata: md, FailedAt: r.FailedAt, Status: DLQStatus(r.Status),
	}, nil
}

func (d *PostgresDLQ) SetStatus(ctx context.Context, id int64, tenantID string, status DLQStatus) error {
	res, err := d.db.ExecContext(ctx, `UPDATE dead_letter_events SET status=$3 WHERE id=$1 AND tenant_id=$2`, id, tenantID, string(status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *PostgresDLQ) Count(ctx context.Context, tenantID string, f DLQFilter) (int, error) {
	clauses := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if f.EventType != "" {
		args = append(args, f.EventType)
		clauses = append(clauses, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if f.WorkerType != "" {
		args = append(args, f.WorkerType)
		clauses = append(clauses, fmt.Sprintf("worker_type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}
	var n int
	err := d.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM dead_letter_events WHERE %s`, where), args...)
	return n, err
}
