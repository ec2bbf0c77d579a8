package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
	"github.com/DioGolang/BookingSaga/internal/domain/entity"
	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/DioGolang/BookingSaga/internal/infra/database"
	"github.com/DioGolang/BookingSaga/pkg/events"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/DioGolang/BookingSaga/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)

type spyMetrics struct {
	metrics.Metrics
	mu          sync.Mutex
	conflicts   int
	ignored     []string
	transitions []string
	finished    []string
}

func newSpyMetrics() *spyMetrics { return &spyMetrics{Metrics: metrics.Nop()} }

func (s *spyMetrics) IncVersionConflict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts++
}

func (s *spyMetrics) RecordEventIgnored(event, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignored = append(s.ignored, event)
}

func (s *spyMetrics) RecordSagaTransition(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, from+"->"+to)
}

func (s *spyMetrics) RecordSagaFinished(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, status)
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Load(ctx context.Context, id string) (*entity.BookingSaga, error) {
	args := m.Called(ctx, id)
	saga, _ := args.Get(0).(*entity.BookingSaga)
	return saga, args.Error(1)
}

func (m *mockRepo) Save(ctx context.Context, saga *entity.BookingSaga, expected int64, outbox []outbound.OutboxRecord) error {
	return m.Called(ctx, saga, expected, outbox).Error(0)
}

func (m *mockRepo) FindByStatus(ctx context.Context, status entity.Status, limit int) ([]*entity.BookingSaga, error) {
	args := m.Called(ctx, status, limit)
	sagas, _ := args.Get(0).([]*entity.BookingSaga)
	return sagas, args.Error(1)
}

// racingRepo runs a competing write right before the first Save goes through.
type racingRepo struct {
	outbound.SagaRepository
	once   sync.Once
	before func()
}

func (r *racingRepo) Save(ctx context.Context, saga *entity.BookingSaga, expected int64, outbox []outbound.OutboxRecord) error {
	r.once.Do(r.before)
	return r.SagaRepository.Save(ctx, saga, expected, outbox)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func newTestOrchestrator(repo outbound.SagaRepository, opts ...Option) *Orchestrator {
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithTokenSource(sequentialIDs()),
	}, opts...)
	return NewOrchestrator(repo, entity.DefaultPolicy(), logger.Nop(), opts...)
}

func request(id string) message.BookingRequested {
	return message.BookingRequested{
		CorrelationID: id,
		BookingID:     "booking-" + id,
		CustomerID:    "customer-1",
		CraftsmanID:   "craftsman-1",
		CustomerEmail: "ana@example.com",
		Amount:        25000,
		Currency:      "BRL",
	}
}

func pending(store *database.MemoryStore) []outbound.OutboxRecord {
	return store.Outbox()[outbound.OutboxPending]
}

func TestOrchestrator_BeginPersistsSagaAndOutbox(t *testing.T) {
	//Arrange
	store := database.NewMemoryStore()
	spy := newSpyMetrics()
	o := newTestOrchestrator(store, WithMetrics(spy))

	//Act
	res, err := o.Handle(context.Background(), request("s1"))

	//Assert
	require.NoError(t, err)
	assert.False(t, res.Ignored)
	assert.Equal(t, entity.StatusPaymentInitiated, res.Saga.Status)
	assert.Equal(t, int64(1), res.Saga.Version)

	stored, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, res.Saga.PaymentTimeoutToken, stored.PaymentTimeoutToken)

	records := pending(store)
	require.Len(t, records, 2)
	assert.Equal(t, outbound.TopicCommand, records[0].Topic)
	assert.Equal(t, message.InitiatePaymentCommand, records[0].Name)
	assert.Equal(t, outbound.TopicTimeoutSchedule, records[1].Topic)
	assert.Equal(t, message.PaymentTimeoutExpiredEvent, records[1].Name)
	for i, rec := range records {
		assert.Equal(t, int64(1), rec.SagaVersion)
		assert.Equal(t, i, rec.Seq)
		assert.Equal(t, "s1", rec.CorrelationID)
	}

	env, err := events.UnmarshalEnvelope(records[0].Payload)
	require.NoError(t, err)
	cmd, err := message.DecodeCommand(env)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), cmd.(message.InitiatePayment).Amount)
	assert.Equal(t, 1, cmd.(message.InitiatePayment).Attempt)

	var timeout message.Timeout
	require.NoError(t, json.Unmarshal(records[1].Payload, &timeout))
	assert.Equal(t, stored.PaymentTimeoutToken, timeout.Token)
	assert.Equal(t, fixedNow.Add(5*time.Minute), timeout.Deadline)

	assert.Equal(t, []string{"CREATED->PAYMENT_INITIATED"}, spy.transitions)
}

func TestOrchestrator_OutboxOrder(t *testing.T) {
	store := database.NewMemoryStore()
	o := newTestOrchestrator(store)
	ctx := context.Background()
	_, err := o.Handle(ctx, request("s1"))
	require.NoError(t, err)
	before := len(pending(store))

	res, err := o.Handle(ctx, message.PaymentCompleted{CorrelationID: "s1", PaymentID: "pay-1"})

	require.NoError(t, err)
	assert.Equal(t, []entity.Status{entity.StatusPaymentCompleted, entity.StatusBookingConfirming}, res.Path)
	records := pending(store)[before:]
	require.Len(t, records, 3)
	assert.Equal(t, outbound.TopicTimeoutCancel, records[0].Topic)
	assert.Equal(t, outbound.TopicCommand, records[1].Topic)
	assert.Equal(t, message.ConfirmBookingCommand, records[1].Name)
	assert.Equal(t, outbound.TopicTimeoutSchedule, records[2].Topic)
	for _, rec := range records {
		assert.Equal(t, int64(2), rec.SagaVersion)
	}
}

func TestOrchestrator_IgnoredInputs(t *testing.T) {
	store := database.NewMemoryStore()
	spy := newSpyMetrics()
	o := newTestOrchestrator(store, WithMetrics(spy))
	ctx := context.Background()
	_, err := o.Handle(ctx, request("s1"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		evt    message.Event
		reason string
	}{
		{"unknown correlation id", message.PaymentCompleted{CorrelationID: "nope"}, "unknown correlation id"},
		{"missing correlation id", message.BookingConfirmed{}, entity.ErrCorrelationIDRequired.Error()},
		{"duplicate request", request("s1"), entity.ErrEventNotApplicable.Error()},
		{"stale timeout", message.TimeoutExpired{CorrelationID: "s1", Token: "old", Step: message.StepPayment}, entity.ErrStaleTimeout.Error()},
		{"wrong status", message.RefundCompleted{CorrelationID: "s1"}, entity.ErrEventNotApplicable.Error()},
		{"failure for a later attempt", message.PaymentFailed{CorrelationID: "s1", Kind: message.FailureTransient, Attempt: 4}, entity.ErrStaleFailure.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := o.Handle(ctx, tt.evt)

			require.NoError(t, err)
			assert.True(t, res.Ignored)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}

	stored, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Len(t, spy.ignored, 5)
}

func TestOrchestrator_InvalidRequestIsIgnored(t *testing.T) {
	store := database.NewMemoryStore()
	o := newTestOrchestrator(store)
	req := request("s1")
	req.Amount = 0

	res, err := o.Handle(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Nil(t, res.Saga)
	_, err = store.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, outbound.ErrSagaNotFound)
}

func TestOrchestrator_TimeoutRoundTrip(t *testing.T) {
	store := database.NewMemoryStore()
	o := newTestOrchestrator(store)
	ctx := context.Background()
	_, err := o.Handle(ctx, request("s1"))
	require.NoError(t, err)

	var armed message.Timeout
	require.NoError(t, json.Unmarshal(pending(store)[1].Payload, &armed))

	res, err := o.Handle(ctx, armed.Expired())

	require.NoError(t, err)
	assert.False(t, res.Ignored)
	assert.Equal(t, 1, res.Saga.PaymentRetryCount)
	assert.NotEqual(t, armed.Token, res.Saga.PaymentTimeoutToken)

	res, err = o.Handle(ctx, armed.Expired())
	require.NoError(t, err)
	assert.True(t, res.Ignored)
}

func TestOrchestrator_ConcurrentWriterWins(t *testing.T) {
	//Arrange
	store := database.NewMemoryStore()
	ctx := context.Background()
	_, err := newTestOrchestrator(store).Handle(ctx, request("s1"))
	require.NoError(t, err)

	competitor := newTestOrchestrator(store)
	repo := &racingRepo{SagaRepository: store, before: func() {
		_, err := competitor.Handle(ctx, message.PaymentCreated{CorrelationID: "s1", PaymentID: "pay-1"})
		require.NoError(t, err)
	}}
	spy := newSpyMetrics()
	o := newTestOrchestrator(repo, WithMetrics(spy))

	//Act
	res, err := o.Handle(ctx, message.PaymentCompleted{CorrelationID: "s1", PaymentID: "pay-1"})

	//Assert
	require.NoError(t, err)
	assert.Equal(t, 1, spy.conflicts)
	assert.Equal(t, int64(3), res.Saga.Version)
	assert.Equal(t, entity.StatusBookingConfirming, res.Saga.Status)
	assert.Equal(t, "pay-1", res.Saga.PaymentID)

	versions := map[int64]int{}
	for _, rec := range pending(store) {
		versions[rec.SagaVersion]++
	}
	assert.Equal(t, map[int64]int{1: 2, 3: 3}, versions)
}

func TestOrchestrator_ConflictRetriesExhausted(t *testing.T) {
	//Arrange
	saga := &entity.BookingSaga{CorrelationID: "s1", Status: entity.StatusBookingConfirming, BookingConfirmationTimeoutToken: "t", Version: 4}
	repo := new(mockRepo)
	repo.On("Load", mock.Anything, "s1").Return(saga, nil)
	repo.On("Save", mock.Anything, mock.Anything, int64(4), mock.Anything).Return(outbound.ErrVersionConflict)
	spy := newSpyMetrics()
	o := newTestOrchestrator(repo, WithMaxConflictRetries(2), WithMetrics(spy))

	//Act
	_, err := o.Handle(context.Background(), message.BookingConfirmed{CorrelationID: "s1"})

	//Assert
	assert.ErrorIs(t, err, ErrConflictRetriesExhausted)
	assert.Equal(t, 3, spy.conflicts)
	repo.AssertNumberOfCalls(t, "Save", 3)
	assert.Equal(t, entity.StatusBookingConfirming, saga.Status)
}

func TestOrchestrator_InfrastructureErrors(t *testing.T) {
	boom := errors.New("connection reset")

	t.Run("load failure", func(t *testing.T) {
		repo := new(mockRepo)
		repo.On("Load", mock.Anything, "s1").Return(nil, boom)

		_, err := newTestOrchestrator(repo).Handle(context.Background(), message.BookingConfirmed{CorrelationID: "s1"})

		assert.ErrorIs(t, err, boom)
	})

	t.Run("save failure", func(t *testing.T) {
		repo := new(mockRepo)
		repo.On("Load", mock.Anything, "s1").Return(nil, outbound.ErrSagaNotFound)
		repo.On("Save", mock.Anything, mock.Anything, int64(0), mock.Anything).Return(boom)

		_, err := newTestOrchestrator(repo).Handle(context.Background(), request("s1"))

		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, outbound.ErrVersionConflict)
		repo.AssertNumberOfCalls(t, "Save", 1)
	})
}

func TestOrchestrator_FullCompensation(t *testing.T) {
	store := database.NewMemoryStore()
	spy := newSpyMetrics()
	uc := &HandleMetricsDecorator{Next: newTestOrchestrator(store, WithMetrics(spy)), Metrics: spy}
	ctx := context.Background()

	inputs := []message.Event{
		request("s1"),
		message.PaymentCompleted{CorrelationID: "s1", PaymentID: "pay-1"},
		message.BookingConfirmationFailed{CorrelationID: "s1", Kind: message.FailureBusiness, Reason: "slot taken"},
		message.RefundCompleted{CorrelationID: "s1"},
		message.BookingCancelled{CorrelationID: "s1"},
	}
	var last Result
	for _, evt := range inputs {
		res, err := uc.Handle(ctx, evt)
		require.NoError(t, err)
		require.False(t, res.Ignored, evt.EventName())
		last = res
	}

	assert.Equal(t, entity.StatusCancelled, last.Saga.Status)
	assert.True(t, last.Saga.CompensationCompleted)
	assert.Equal(t, []string{"CANCELLED"}, spy.finished)
}

func TestHandleTracingDecorator(t *testing.T) {
	store := database.NewMemoryStore()
	uc := NewHandleTracingDecorator(newTestOrchestrator(store))

	res, err := uc.Handle(context.Background(), request("s1"))
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPaymentInitiated, res.Saga.Status)

	res, err = uc.Handle(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Ignored)
}
