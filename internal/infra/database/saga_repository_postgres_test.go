package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
	"github.com/DioGolang/BookingSaga/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func sagaColumnNames() []string {
	parts := strings.Split(sagaColumns, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func TestPostgresSagaRepository_Load(t *testing.T) {
	//Arrange
	db, mock := newMockDB(t)
	repo := NewSagaRepository(db, Postgres)
	created := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	values := []driver.Value{
		"s1", "COMPENSATING", "b1", "p1", "", "c1", "k1",
		"ana@example.com", "desc", "addr", nil, "ref", int64(900), "USD",
		"", "", "tok-3",
		int64(0), int64(1), int64(2),
		int64(entity.ReversalRefund | entity.ReversalCancelBooking), true, false, "slot taken",
		created, created.Add(time.Hour), created, created, nil,
		nil, nil, nil, int64(5),
	}
	rows := sqlmock.NewRows(sagaColumnNames()).AddRow(values...)
	mock.ExpectQuery(regexp.QuoteMeta("FROM booking_sagas WHERE correlation_id = $1")).
		WithArgs("s1").
		WillReturnRows(rows)

	//Act
	saga, err := repo.Load(context.Background(), "s1")

	//Assert
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompensating, saga.Status)
	assert.Equal(t, "tok-3", saga.CompensationTimeoutToken)
	assert.True(t, saga.PendingReversals.Has(entity.ReversalRefund))
	assert.True(t, saga.RefundIssued)
	assert.Equal(t, 2, saga.CompensationRetryCount)
	require.NotNil(t, saga.PaymentCompletedAt)
	assert.Nil(t, saga.BookingConfirmedAt)
	assert.Nil(t, saga.ScheduledDate)
	assert.Equal(t, int64(5), saga.Version)
}

func TestPostgresSagaRepository_LoadNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSagaRepository(db, Postgres)
	mock.ExpectQuery(regexp.QuoteMeta("FROM booking_sagas")).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.Load(context.Background(), "nope")

	assert.ErrorIs(t, err, outbound.ErrSagaNotFound)
}

func TestPostgresSagaRepository_SaveInsertsOutboxInTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSagaRepository(db, Postgres)
	saga := sampleSaga("s1")
	records := outboxFor("s1", 1, "InitiatePayment", "PaymentTimeoutExpired")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO booking_sagas")).WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO saga_outbox"))
	prep.ExpectExec().
		WithArgs("s1-v1-0", "s1", int64(1), 0, outbound.TopicCommand, "InitiatePayment", sqlmock.AnyArg(), sqlmock.AnyArg(), "PENDING", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Save(context.Background(), saga, 0, records)

	require.NoError(t, err)
	assert.Equal(t, int64(1), saga.Version)
}

func TestPostgresSagaRepository_SaveConflictRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSagaRepository(db, Postgres)
	saga := sampleSaga("s1")
	saga.Version = 3

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE correlation_id = $1 AND version = $34")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), saga, 3, outboxFor("s1", 4, "CancelBooking"))

	assert.ErrorIs(t, err, outbound.ErrVersionConflict)
	assert.Equal(t, int64(3), saga.Version)
}

func TestPostgresSagaRepository_SaveFailureIsNotConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSagaRepository(db, Postgres)
	boom := errors.New("connection refused")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO booking_sagas")).WillReturnError(boom)
	mock.ExpectRollback()

	err := repo.Save(context.Background(), sampleSaga("s1"), 0, nil)

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, outbound.ErrVersionConflict)
}

func TestPostgresOutboxStore_ClaimPendingLocksRows(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore(db, Postgres)
	created := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("AND pg_try_advisory_xact_lock(hashtext(correlation_id))") + `(?s).*` + regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs("PENDING", "PROCESSING", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "correlation_id", "saga_version", "seq", "topic", "name", "payload", "trace_context", "attempts", "created_at"}).
			AddRow("r1", "s1", int64(1), int64(0), "command", "InitiatePayment", []byte(`{}`), nil, int64(0), created))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE saga_outbox SET status = $1, attempts = attempts + 1")).
		WithArgs("PROCESSING", sqlmock.AnyArg(), "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	records, err := store.ClaimPending(context.Background(), 50)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Attempts)
	assert.True(t, created.Equal(records[0].CreatedAt))
}

func TestPostgresOutboxStore_MarkFailed(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore(db, Postgres)
	mock.ExpectExec(regexp.QuoteMeta("CASE WHEN attempts >= $1 THEN $2 ELSE $3 END")).
		WithArgs(3, "FAILED", "PENDING", sqlmock.AnyArg(), "broker down", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkFailed(context.Background(), "r1", "broker down", 3)

	assert.NoError(t, err)
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "SELECT ?1, ?2 WHERE x = '$'", SQLite.rebind("SELECT $1, $2 WHERE x = '$'"))
	assert.Equal(t, "SET a = ?2 WHERE id = ?1 AND v = ?10", SQLite.rebind("SET a = $2 WHERE id = $1 AND v = $10"))
	assert.Equal(t, "SELECT $1", Postgres.rebind("SELECT $1"))
	assert.Equal(t, "$3, $4, $5", placeholders(3, 3))
	assert.Empty(t, SQLite.lockSkipLocked())
	assert.Empty(t, SQLite.sagaClaimGuard())
	assert.Contains(t, Postgres.sagaClaimGuard(), "pg_try_advisory_xact_lock(hashtext(correlation_id))")

	d, err := ParseDialect("SQLite3")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)
	_, err = ParseDialect("mysql")
	assert.Error(t, err)

	at := time.Date(2025, 1, 2, 3, 4, 5, 6, time.FixedZone("X", 3600))
	assert.Equal(t, "2025-01-02T02:04:05.000000006Z", SQLite.timeArg(at))
}

func TestNullTimeScan(t *testing.T) {
	tests := []struct {
		name  string
		src   any
		valid bool
	}{
		{"nil", nil, false},
		{"time", time.Now(), true},
		{"text", "2025-01-02T02:04:05.000000006Z", true},
		{"bytes", []byte("2025-01-02T02:04:05Z"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n nullTime
			require.NoError(t, n.Scan(tt.src))
			assert.Equal(t, tt.valid, n.Valid)
			assert.Equal(t, tt.valid, n.ptr() != nil)
		})
	}

	var n nullTime
	assert.Error(t, n.Scan(42))
	assert.Error(t, n.Scan("yesterday"))
}
