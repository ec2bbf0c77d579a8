package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
)

type OutboxStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewOutboxStore(db *sql.DB, d Dialect) *OutboxStore {
	return &OutboxStore{db: db, dialect: d, now: time.Now}
}

// ClaimPending skips sagas that still have a record in flight, or whose
// records another relay is claiming right now, so per-saga order survives
// several relays polling the same table.
func (s *OutboxStore) ClaimPending(ctx context.Context, limit int) ([]outbound.OutboxRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	q := s.dialect.rebind(`SELECT id, correlation_id, saga_version, seq, topic, name, payload, trace_context, attempts, created_at
		FROM saga_outbox
		WHERE status = $1
		  AND correlation_id NOT IN (SELECT correlation_id FROM saga_outbox WHERE status = $2)` +
		s.dialect.sagaClaimGuard() + `
		ORDER BY created_at, correlation_id, saga_version, seq
		LIMIT $3` + s.dialect.lockSkipLocked())

	rows, err := tx.QueryContext(ctx, q, string(outbound.OutboxPending), string(outbound.OutboxProcessing), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}
	var records []outbound.OutboxRecord
	for rows.Next() {
		var (
			rec     outbound.OutboxRecord
			created nullTime
		)
		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.SagaVersion, &rec.Seq, &rec.Topic, &rec.Name,
			&rec.Payload, &rec.TraceContext, &rec.Attempts, &created); err != nil {
			rows.Close()
			return nil, err
		}
		rec.CreatedAt = created.Time
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	claim := s.dialect.rebind(`UPDATE saga_outbox SET status = $1, attempts = attempts + 1, claimed_at = $2 WHERE id = $3`)
	now := s.dialect.timeArg(s.now())
	for i := range records {
		if _, err := tx.ExecContext(ctx, claim, string(outbound.OutboxProcessing), now, records[i].ID); err != nil {
			return nil, fmt.Errorf("claim outbox %s: %w", records[i].ID, err)
		}
		records[i].Attempts++
	}
	return records, tx.Commit()
}

func (s *OutboxStore) MarkPublished(ctx context.Context, id string) error {
	q := s.dialect.rebind(`UPDATE saga_outbox SET status = $1, processed_at = $2, error_msg = NULL WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, q, string(outbound.OutboxPublished), s.dialect.timeArg(s.now()), id)
	return err
}

// MarkFailed returns the record to PENDING until it has used maxAttempts,
// then parks it as FAILED.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, errMsg string, maxAttempts int) error {
	q := s.dialect.rebind(`UPDATE saga_outbox SET
		status = CASE WHEN attempts >= $1 THEN $2 ELSE $3 END,
		processed_at = $4,
		claimed_at = NULL,
		error_msg = $5
		WHERE id = $6`)
	_, err := s.db.ExecContext(ctx, q, maxAttempts,
		string(outbound.OutboxFailed), string(outbound.OutboxPending),
		s.dialect.timeArg(s.now()), errMsg, id)
	return err
}

func (s *OutboxStore) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := s.dialect.rebind(`UPDATE saga_outbox SET status = $1, attempts = attempts - 1, claimed_at = NULL
		WHERE id = $2 AND status = $3`)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, q, string(outbound.OutboxPending), id, string(outbound.OutboxProcessing)); err != nil {
			return fmt.Errorf("release outbox %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *OutboxStore) ResetStuck(ctx context.Context, claimedBefore time.Time) (int64, error) {
	q := s.dialect.rebind(`UPDATE saga_outbox SET status = $1, claimed_at = NULL
		WHERE status = $2 AND claimed_at < $3`)
	res, err := s.db.ExecContext(ctx, q, string(outbound.OutboxPending), string(outbound.OutboxProcessing), s.dialect.timeArg(claimedBefore))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *OutboxStore) DeleteOld(ctx context.Context, publishedBefore time.Time) (int64, error) {
	q := s.dialect.rebind(`DELETE FROM saga_outbox WHERE status = $1 AND processed_at < $2`)
	res, err := s.db.ExecContext(ctx, q, string(outbound.OutboxPublished), s.dialect.timeArg(publishedBefore))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
