package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
	"github.com/DioGolang/BookingSaga/internal/application/usecase/saga"
	"github.com/DioGolang/BookingSaga/internal/domain/entity"
	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/DioGolang/BookingSaga/internal/infra/database"
	"github.com/DioGolang/BookingSaga/internal/infra/scheduler"
	"github.com/DioGolang/BookingSaga/pkg/events"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	sent   []events.Envelope
	failOn map[string]error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, env events.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[env.Name]; err != nil {
		return err
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeDispatcher) names(correlationID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, env := range f.sent {
		if env.CorrelationID == correlationID {
			out = append(out, env.Name)
		}
	}
	return out
}

func commandRecords(t *testing.T, id string, version int64, names ...string) []outbound.OutboxRecord {
	t.Helper()
	records := make([]outbound.OutboxRecord, len(names))
	for i, name := range names {
		env, err := events.NewEnvelope(fmt.Sprintf("env-%s-%d", id, i), name, id, time.Now(), map[string]string{"correlation_id": id})
		require.NoError(t, err)
		payload, err := env.Marshal()
		require.NoError(t, err)
		records[i] = outbound.OutboxRecord{
			ID:            fmt.Sprintf("%s-%d-%d", id, version, i),
			CorrelationID: id,
			SagaVersion:   version,
			Seq:           i,
			Topic:         outbound.TopicCommand,
			Name:          name,
			Payload:       payload,
			CreatedAt:     time.Now(),
		}
	}
	return records
}

func seed(t *testing.T, store *database.MemoryStore, id string, records []outbound.OutboxRecord) {
	t.Helper()
	s := &entity.BookingSaga{CorrelationID: id, Status: entity.StatusPaymentInitiated}
	require.NoError(t, store.Save(context.Background(), s, 0, records))
}

func TestOutboxRelay_PreservesPerSagaOrder(t *testing.T) {
	//Arrange
	store := database.NewMemoryStore()
	seed(t, store, "a", commandRecords(t, "a", 1, "CancelPayment", "CancelBooking", "SendBookingFailureNotification"))
	seed(t, store, "b", commandRecords(t, "b", 1, "InitiatePayment"))
	disp := &fakeDispatcher{}
	sched := scheduler.New(scheduler.NewMemoryBackend(), scheduler.Config{}, logger.Nop(), nil)
	relay := NewOutboxRelay(store, disp, sched, logger.Nop(), nil, RelayConfig{Workers: 4})

	//Act
	n, err := relay.ProcessBatch(context.Background())

	//Assert
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"CancelPayment", "CancelBooking", "SendBookingFailureNotification"}, disp.names("a"))
	assert.Equal(t, []string{"InitiatePayment"}, disp.names("b"))
	assert.Len(t, store.Outbox()[outbound.OutboxPublished], 4)
}

func TestOutboxRelay_FailureHoldsBackLaterRecords(t *testing.T) {
	//Arrange
	store := database.NewMemoryStore()
	seed(t, store, "a", commandRecords(t, "a", 1, "InitiateRefund", "CancelBooking"))
	seed(t, store, "b", commandRecords(t, "b", 1, "ConfirmBooking"))
	disp := &fakeDispatcher{failOn: map[string]error{"InitiateRefund": errors.New("nack")}}
	sched := scheduler.New(scheduler.NewMemoryBackend(), scheduler.Config{}, logger.Nop(), nil)
	relay := NewOutboxRelay(store, disp, sched, logger.Nop(), nil, RelayConfig{MaxAttempts: 2})
	ctx := context.Background()

	//Act
	n, err := relay.ProcessBatch(ctx)

	//Assert
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, disp.names("a"))
	assert.Equal(t, []string{"ConfirmBooking"}, disp.names("b"))
	pending := store.Outbox()[outbound.OutboxPending]
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Zero(t, pending[1].Attempts)

	//Act
	delete(disp.failOn, "InitiateRefund")
	n, err = relay.ProcessBatch(ctx)

	//Assert
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"InitiateRefund", "CancelBooking"}, disp.names("a"))
}

func TestOutboxRelay_ParksRecordAfterMaxAttempts(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, "a", commandRecords(t, "a", 1, "InitiatePayment"))
	disp := &fakeDispatcher{failOn: map[string]error{"InitiatePayment": errors.New("nack")}}
	sched := scheduler.New(scheduler.NewMemoryBackend(), scheduler.Config{}, logger.Nop(), nil)
	relay := NewOutboxRelay(store, disp, sched, logger.Nop(), nil, RelayConfig{MaxAttempts: 2})

	for i := 0; i < 3; i++ {
		_, err := relay.ProcessBatch(context.Background())
		require.NoError(t, err)
	}

	assert.Len(t, store.Outbox()[outbound.OutboxFailed], 1)
	assert.Empty(t, store.Outbox()[outbound.OutboxPending])
}

func TestOutboxRelay_UnknownTopicFails(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, "a", []outbound.OutboxRecord{{ID: "x", CorrelationID: "a", SagaVersion: 1, Topic: "mystery", Payload: []byte(`{}`)}})
	sched := scheduler.New(scheduler.NewMemoryBackend(), scheduler.Config{}, logger.Nop(), nil)
	relay := NewOutboxRelay(store, &fakeDispatcher{}, sched, logger.Nop(), nil, RelayConfig{MaxAttempts: 1})

	n, err := relay.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, store.Outbox()[outbound.OutboxFailed], 1)
}

func TestOutboxRelay_Rescue(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, "a", commandRecords(t, "a", 1, "InitiatePayment"))
	_, err := store.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	sched := scheduler.New(scheduler.NewMemoryBackend(), scheduler.Config{}, logger.Nop(), nil)
	relay := NewOutboxRelay(store, &fakeDispatcher{}, sched, logger.Nop(), nil, RelayConfig{StuckAfter: time.Minute})
	relay.now = func() time.Time { return time.Now().Add(time.Hour) }

	relay.Rescue(context.Background())

	assert.Len(t, store.Outbox()[outbound.OutboxPending], 1)
}

func TestOutboxRelay_ScheduleMaintenanceRejectsBadSpec(t *testing.T) {
	sched := scheduler.New(scheduler.NewMemoryBackend(), scheduler.Config{}, logger.Nop(), nil)
	relay := NewOutboxRelay(database.NewMemoryStore(), &fakeDispatcher{}, sched, logger.Nop(), nil, RelayConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := relay.ScheduleMaintenance(ctx, "not a cron")
	assert.Error(t, err)

	c, err := relay.ScheduleMaintenance(ctx, "*/5 * * * *")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
}

// TestSagaRoundTrip drives the orchestrator, the relay and the timeout
// scheduler together over the in-memory store.
func TestSagaRoundTrip(t *testing.T) {
	//Arrange
	ctx := context.Background()
	store := database.NewMemoryStore()
	backend := scheduler.NewMemoryBackend()
	sched := scheduler.New(backend, scheduler.Config{}, logger.Nop(), nil)
	disp := &fakeDispatcher{}
	relay := NewOutboxRelay(store, disp, sched, logger.Nop(), nil, RelayConfig{})
	orchestrator := saga.NewOrchestrator(store, entity.DefaultPolicy(), logger.Nop())

	//Act
	_, err := orchestrator.Handle(ctx, message.BookingRequested{
		CorrelationID: "s1", BookingID: "b1", CustomerID: "c1", Amount: 5000, Currency: "USD",
	})
	require.NoError(t, err)
	_, err = relay.ProcessBatch(ctx)
	require.NoError(t, err)

	//Assert
	assert.Equal(t, []string{message.InitiatePaymentCommand}, disp.names("s1"))
	armed, err := backend.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), armed)

	//Act
	_, err = orchestrator.Handle(ctx, message.PaymentCompleted{CorrelationID: "s1", PaymentID: "p1"})
	require.NoError(t, err)
	_, err = relay.ProcessBatch(ctx)
	require.NoError(t, err)

	//Assert
	assert.Equal(t, []string{message.InitiatePaymentCommand, message.ConfirmBookingCommand}, disp.names("s1"))
	due, err := backend.ClaimDue(ctx, time.Now().Add(time.Hour), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, message.StepBookingConfirmation, due[0].Step)

	//Act
	res, err := orchestrator.Handle(ctx, due[0].Expired())

	//Assert
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saga.BookingConfirmationRetryCount)
}
