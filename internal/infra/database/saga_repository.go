package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
	"github.com/DioGolang/BookingSaga/internal/domain/entity"
)

const sagaColumns = `correlation_id, status, booking_id, payment_id, invoice_id, customer_id, craftsman_id,
    customer_email, description, address, scheduled_date, payment_reference, amount, currency,
    payment_timeout_token, booking_confirmation_timeout_token, compensation_timeout_token,
    payment_retry_count, booking_confirmation_retry_count, compensation_retry_count,
    pending_reversals, refund_issued, compensation_completed, failure_reason,
    created_at, updated_at, payment_initiated_at, payment_completed_at, booking_confirmed_at,
    completed_at, cancelled_at, failed_at, version`

const sagaColumnCount = 33

// SagaRepository persists sagas and their outbox records with optimistic
// versioning. The same code serves Postgres and SQLite.
type SagaRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSagaRepository(db *sql.DB, d Dialect) *SagaRepository {
	return &SagaRepository{db: db, dialect: d}
}

func (r *SagaRepository) Load(ctx context.Context, correlationID string) (*entity.BookingSaga, error) {
	q := r.dialect.rebind(`SELECT ` + sagaColumns + ` FROM booking_sagas WHERE correlation_id = $1`)
	saga, err := scanSaga(r.db.QueryRowContext(ctx, q, correlationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", outbound.ErrSagaNotFound, correlationID)
	}
	if err != nil {
		return nil, fmt.Errorf("load saga %s: %w", correlationID, err)
	}
	return saga, nil
}

func (r *SagaRepository) FindByStatus(ctx context.Context, status entity.Status, limit int) ([]*entity.BookingSaga, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.dialect.rebind(`SELECT ` + sagaColumns + ` FROM booking_sagas
		WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`)
	rows, err := r.db.QueryContext(ctx, q, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("find sagas by status %s: %w", status, err)
	}
	defer rows.Close()

	var out []*entity.BookingSaga
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, saga)
	}
	return out, rows.Err()
}

func (r *SagaRepository) Save(ctx context.Context, saga *entity.BookingSaga, expectedVersion int64, outbox []outbound.OutboxRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	next := expectedVersion + 1
	var res sql.Result
	if expectedVersion == 0 {
		q := r.dialect.rebind(`INSERT INTO booking_sagas (` + sagaColumns + `)
			VALUES (` + placeholders(1, sagaColumnCount) + `)
			ON CONFLICT (correlation_id) DO NOTHING`)
		res, err = tx.ExecContext(ctx, q, r.sagaArgs(saga, next)...)
	} else {
		res, err = tx.ExecContext(ctx, r.dialect.rebind(updateSagaSQL), append(r.sagaArgs(saga, next), expectedVersion)...)
	}
	if err != nil {
		return fmt.Errorf("write saga %s: %w", saga.CorrelationID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s expected version %d", outbound.ErrVersionConflict, saga.CorrelationID, expectedVersion)
	}

	if err := r.insertOutbox(ctx, tx, outbox); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit saga %s: %w", saga.CorrelationID, err)
	}
	saga.Version = next
	return nil
}

// updateSagaSQL binds the same argument list as the insert, with the expected
// version appended as $34. correlation_id ($1) is immutable.
const updateSagaSQL = `UPDATE booking_sagas SET
    status = $2, booking_id = $3, payment_id = $4, invoice_id = $5, customer_id = $6, craftsman_id = $7,
    customer_email = $8, description = $9, address = $10, scheduled_date = $11, payment_reference = $12,
    amount = $13, currency = $14,
    payment_timeout_token = $15, booking_confirmation_timeout_token = $16, compensation_timeout_token = $17,
    payment_retry_count = $18, booking_confirmation_retry_count = $19, compensation_retry_count = $20,
    pending_reversals = $21, refund_issued = $22, compensation_completed = $23, failure_reason = $24,
    created_at = $25, updated_at = $26, payment_initiated_at = $27, payment_completed_at = $28,
    booking_confirmed_at = $29, completed_at = $30, cancelled_at = $31, failed_at = $32, version = $33
WHERE correlation_id = $1 AND version = $34`

func (r *SagaRepository) insertOutbox(ctx context.Context, tx *sql.Tx, records []outbound.OutboxRecord) error {
	if len(records) == 0 {
		return nil
	}
	q := r.dialect.rebind(`INSERT INTO saga_outbox
		(id, correlation_id, saga_version, seq, topic, name, payload, trace_context, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)`)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare outbox insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.CorrelationID, rec.SagaVersion, rec.Seq, rec.Topic, rec.Name,
			rec.Payload, rec.TraceContext, string(outbound.OutboxPending), r.dialect.timeArg(rec.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert outbox %s: %w", rec.Name, err)
		}
	}
	return nil
}

func (r *SagaRepository) sagaArgs(s *entity.BookingSaga, version int64) []any {
	d := r.dialect
	return []any{
		s.CorrelationID, string(s.Status), s.BookingID, s.PaymentID, s.InvoiceID, s.CustomerID, s.CraftsmanID,
		s.CustomerEmail, s.Description, s.Address, d.nullTimeArg(s.ScheduledDate), s.PaymentReference, s.Amount, s.Currency,
		s.PaymentTimeoutToken, s.BookingConfirmationTimeoutToken, s.CompensationTimeoutToken,
		s.PaymentRetryCount, s.BookingConfirmationRetryCount, s.CompensationRetryCount,
		int(s.PendingReversals), s.RefundIssued, s.CompensationCompleted, s.FailureReason,
		d.timeArg(s.CreatedAt), d.timeArg(s.UpdatedAt), d.nullTimeArg(s.PaymentInitiatedAt), d.nullTimeArg(s.PaymentCompletedAt),
		d.nullTimeArg(s.BookingConfirmedAt), d.nullTimeArg(s.CompletedAt), d.nullTimeArg(s.CancelledAt), d.nullTimeArg(s.FailedAt),
		version,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaga(row rowScanner) (*entity.BookingSaga, error) {
	var (
		s                                     entity.BookingSaga
		status                                string
		pending                               int
		scheduled, created, updated           nullTime
		initiated, paid, confirmed, completed nullTime
		cancelled, failed                     nullTime
	)
	err := row.Scan(
		&s.CorrelationID, &status, &s.BookingID, &s.PaymentID, &s.InvoiceID, &s.CustomerID, &s.CraftsmanID,
		&s.CustomerEmail, &s.Description, &s.Address, &scheduled, &s.PaymentReference, &s.Amount, &s.Currency,
		&s.PaymentTimeoutToken, &s.BookingConfirmationTimeoutToken, &s.CompensationTimeoutToken,
		&s.PaymentRetryCount, &s.BookingConfirmationRetryCount, &s.CompensationRetryCount,
		&pending, &s.RefundIssued, &s.CompensationCompleted, &s.FailureReason,
		&created, &updated, &initiated, &paid, &confirmed,
		&completed, &cancelled, &failed, &s.Version,
	)
	if err != nil {
		return nil, err
	}
	s.Status = entity.Status(status)
	s.PendingReversals = entity.Reversal(pending)
	s.ScheduledDate = scheduled.ptr()
	s.CreatedAt = created.Time
	s.UpdatedAt = updated.Time
	s.PaymentInitiatedAt = initiated.ptr()
	s.PaymentCompletedAt = paid.ptr()
	s.BookingConfirmedAt = confirmed.ptr()
	s.CompletedAt = completed.ptr()
	s.CancelledAt = cancelled.ptr()
	s.FailedAt = failed.ptr()
	return &s, nil
}
