package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
	"github.com/DioGolang/BookingSaga/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStores(t *testing.T) *Stores {
	t.Helper()
	stores, err := NewStores(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })
	return stores
}

func sampleSaga(id string) *entity.BookingSaga {
	created := time.Date(2025, 4, 1, 8, 30, 0, 123456789, time.UTC)
	scheduled := created.Add(72 * time.Hour)
	return &entity.BookingSaga{
		CorrelationID:       id,
		Status:              entity.StatusPaymentInitiated,
		BookingID:           "booking-" + id,
		CustomerID:          "customer-1",
		CraftsmanID:         "craftsman-1",
		CustomerEmail:       "ana@example.com",
		Description:         "paint the fence",
		ScheduledDate:       &scheduled,
		Amount:              4200,
		Currency:            "EUR",
		PaymentTimeoutToken: "tok-" + id,
		PendingReversals:    entity.ReversalCancelBooking,
		CreatedAt:           created,
		UpdatedAt:           created,
		PaymentInitiatedAt:  &created,
	}
}

func outboxFor(id string, version int64, names ...string) []outbound.OutboxRecord {
	records := make([]outbound.OutboxRecord, len(names))
	for i, name := range names {
		records[i] = outbound.OutboxRecord{
			ID:            fmt.Sprintf("%s-v%d-%d", id, version, i),
			CorrelationID: id,
			SagaVersion:   version,
			Seq:           i,
			Topic:         outbound.TopicCommand,
			Name:          name,
			Payload:       []byte(`{}`),
			CreatedAt:     time.Now().UTC(),
		}
	}
	return records
}

func outboxState(t *testing.T, stores *Stores, id string) (string, int) {
	t.Helper()
	var (
		status   string
		attempts int
	)
	err := stores.DB.QueryRow(`SELECT status, attempts FROM saga_outbox WHERE id = ?`, id).Scan(&status, &attempts)
	require.NoError(t, err)
	return status, attempts
}

func TestSQLiteSagaRepository_SaveAndLoad(t *testing.T) {
	//Arrange
	stores := newSQLiteStores(t)
	ctx := context.Background()
	saga := sampleSaga("s1")

	//Act
	err := stores.Saga.Save(ctx, saga, 0, outboxFor("s1", 1, "InitiatePayment"))

	//Assert
	require.NoError(t, err)
	assert.Equal(t, int64(1), saga.Version)

	loaded, err := stores.Saga.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, saga.Status, loaded.Status)
	assert.Equal(t, saga.Amount, loaded.Amount)
	assert.Equal(t, saga.PaymentTimeoutToken, loaded.PaymentTimeoutToken)
	assert.Equal(t, entity.ReversalCancelBooking, loaded.PendingReversals)
	assert.True(t, saga.CreatedAt.Equal(loaded.CreatedAt))
	require.NotNil(t, loaded.ScheduledDate)
	assert.True(t, saga.ScheduledDate.Equal(*loaded.ScheduledDate))
	assert.Nil(t, loaded.CompletedAt)
	assert.Equal(t, int64(1), loaded.Version)
}

func TestSQLiteSagaRepository_LoadNotFound(t *testing.T) {
	stores := newSQLiteStores(t)

	_, err := stores.Saga.Load(context.Background(), "missing")

	assert.ErrorIs(t, err, outbound.ErrSagaNotFound)
}

func TestSQLiteSagaRepository_VersionConflicts(t *testing.T) {
	stores := newSQLiteStores(t)
	ctx := context.Background()
	require.NoError(t, stores.Saga.Save(ctx, sampleSaga("s1"), 0, nil))

	t.Run("insert over an existing row", func(t *testing.T) {
		err := stores.Saga.Save(ctx, sampleSaga("s1"), 0, outboxFor("s1", 1, "Dup"))
		assert.ErrorIs(t, err, outbound.ErrVersionConflict)
	})

	t.Run("update with a stale version leaves no outbox behind", func(t *testing.T) {
		saga := sampleSaga("s1")
		saga.Status = entity.StatusCompensating
		err := stores.Saga.Save(ctx, saga, 7, outboxFor("s1", 8, "CancelBooking"))
		assert.ErrorIs(t, err, outbound.ErrVersionConflict)

		claimed, err := stores.Outbox.ClaimPending(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("update with the current version", func(t *testing.T) {
		saga := sampleSaga("s1")
		saga.Status = entity.StatusBookingConfirming
		require.NoError(t, stores.Saga.Save(ctx, saga, 1, nil))
		assert.Equal(t, int64(2), saga.Version)

		loaded, err := stores.Saga.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, entity.StatusBookingConfirming, loaded.Status)
		assert.Equal(t, int64(2), loaded.Version)
	})
}

func TestSQLiteSagaRepository_UpdateBindsEveryColumn(t *testing.T) {
	//Arrange
	stores := newSQLiteStores(t)
	ctx := context.Background()
	require.NoError(t, stores.Saga.Save(ctx, sampleSaga("s1"), 0, nil))
	require.NoError(t, stores.Saga.Save(ctx, sampleSaga("s2"), 0, nil))

	saga := sampleSaga("s1")
	confirmed := saga.CreatedAt.Add(time.Hour)
	saga.Status = entity.StatusCompleted
	saga.PaymentID = "pay-9"
	saga.PaymentReference = "ref-9"
	saga.Amount = 9900
	saga.Currency = "BRL"
	saga.PaymentTimeoutToken = ""
	saga.BookingConfirmationTimeoutToken = "tok-confirm"
	saga.PaymentRetryCount = 2
	saga.BookingConfirmationRetryCount = 1
	saga.CompensationRetryCount = 3
	saga.FailureReason = "none"
	saga.UpdatedAt = confirmed
	saga.BookingConfirmedAt = &confirmed
	saga.CompletedAt = &confirmed

	//Act
	err := stores.Saga.Save(ctx, saga, 1, nil)

	//Assert
	require.NoError(t, err)
	loaded, err := stores.Saga.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", loaded.CorrelationID)
	assert.Equal(t, entity.StatusCompleted, loaded.Status)
	assert.Equal(t, "pay-9", loaded.PaymentID)
	assert.Equal(t, "ref-9", loaded.PaymentReference)
	assert.Equal(t, int64(9900), loaded.Amount)
	assert.Equal(t, "BRL", loaded.Currency)
	assert.Empty(t, loaded.PaymentTimeoutToken)
	assert.Equal(t, "tok-confirm", loaded.BookingConfirmationTimeoutToken)
	assert.Equal(t, []int{2, 1, 3}, []int{loaded.PaymentRetryCount, loaded.BookingConfirmationRetryCount, loaded.CompensationRetryCount})
	assert.Equal(t, "none", loaded.FailureReason)
	assert.True(t, saga.CreatedAt.Equal(loaded.CreatedAt))
	assert.True(t, confirmed.Equal(loaded.UpdatedAt))
	require.NotNil(t, loaded.CompletedAt)
	assert.True(t, confirmed.Equal(*loaded.CompletedAt))
	assert.Equal(t, int64(2), loaded.Version)

	other, err := stores.Saga.Load(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPaymentInitiated, other.Status)
	assert.Equal(t, int64(1), other.Version)
}

func TestSQLiteSagaRepository_ConcurrentSaves(t *testing.T) {
	//Arrange
	stores := newSQLiteStores(t)
	ctx := context.Background()
	require.NoError(t, stores.Saga.Save(ctx, sampleSaga("s1"), 0, nil))

	//Act
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			saga := sampleSaga("s1")
			saga.FailureReason = fmt.Sprintf("writer %d", i)
			err := stores.Saga.Save(ctx, saga, 1, outboxFor("s1", 2, fmt.Sprintf("Cmd%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, outbound.ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	//Assert
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
	claimed, err := stores.Outbox.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestSQLiteSagaRepository_FindByStatus(t *testing.T) {
	stores := newSQLiteStores(t)
	ctx := context.Background()
	for i, status := range []entity.Status{entity.StatusCompensating, entity.StatusCompensating, entity.StatusCompleted} {
		saga := sampleSaga(fmt.Sprintf("s%d", i))
		saga.Status = status
		saga.UpdatedAt = saga.UpdatedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, stores.Saga.Save(ctx, saga, 0, nil))
	}

	found, err := stores.Saga.FindByStatus(ctx, entity.StatusCompensating, 0)

	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "s1", found[0].CorrelationID)
	assert.Equal(t, "s0", found[1].CorrelationID)

	found, err = stores.Saga.FindByStatus(ctx, entity.StatusCompensating, 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestSQLiteOutboxStore_Lifecycle(t *testing.T) {
	//Arrange
	stores := newSQLiteStores(t)
	ctx := context.Background()
	require.NoError(t, stores.Saga.Save(ctx, sampleSaga("a"), 0, outboxFor("a", 1, "A0", "A1", "A2")))
	require.NoError(t, stores.Saga.Save(ctx, sampleSaga("b"), 0, outboxFor("b", 1, "B0")))

	//Act
	claimed, err := stores.Outbox.ClaimPending(ctx, 10)

	//Assert
	require.NoError(t, err)
	require.Len(t, claimed, 4)
	var names []string
	for _, rec := range claimed {
		if rec.CorrelationID == "a" {
			names = append(names, rec.Name)
		}
		assert.Equal(t, 1, rec.Attempts)
	}
	assert.Equal(t, []string{"A0", "A1", "A2"}, names)

	again, err := stores.Outbox.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, stores.Outbox.MarkPublished(ctx, "a-v1-0"))
	require.NoError(t, stores.Outbox.MarkFailed(ctx, "a-v1-1", "broker down", 3))
	require.NoError(t, stores.Outbox.Release(ctx, []string{"a-v1-2"}))
	require.NoError(t, stores.Outbox.MarkFailed(ctx, "b-v1-0", "poison", 1))

	status, attempts := outboxState(t, stores, "a-v1-0")
	assert.Equal(t, string(outbound.OutboxPublished), status)
	assert.Equal(t, 1, attempts)
	status, attempts = outboxState(t, stores, "a-v1-1")
	assert.Equal(t, string(outbound.OutboxPending), status)
	assert.Equal(t, 1, attempts)
	status, attempts = outboxState(t, stores, "a-v1-2")
	assert.Equal(t, string(outbound.OutboxPending), status)
	assert.Equal(t, 0, attempts)
	status, _ = outboxState(t, stores, "b-v1-0")
	assert.Equal(t, string(outbound.OutboxFailed), status)

	reclaimed, err := stores.Outbox.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 2)
	assert.Equal(t, "A1", reclaimed[0].Name)
	assert.Equal(t, 2, reclaimed[0].Attempts)
	assert.Equal(t, "A2", reclaimed[1].Name)
}

func TestSQLiteOutboxStore_Maintenance(t *testing.T) {
	stores := newSQLiteStores(t)
	ctx := context.Background()
	require.NoError(t, stores.Saga.Save(ctx, sampleSaga("a"), 0, outboxFor("a", 1, "A0", "A1")))
	_, err := stores.Outbox.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, stores.Outbox.MarkPublished(ctx, "a-v1-0"))
	_, err = stores.Outbox.ClaimPending(ctx, 1)
	require.NoError(t, err)

	reset, err := stores.Outbox.ResetStuck(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, reset)

	reset, err = stores.Outbox.ResetStuck(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)
	status, _ := outboxState(t, stores, "a-v1-1")
	assert.Equal(t, string(outbound.OutboxPending), status)

	deleted, err := stores.Outbox.DeleteOld(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
