package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
	"github.com/DioGolang/BookingSaga/internal/domain/entity"
	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/DioGolang/BookingSaga/pkg/metrics"
	"github.com/google/uuid"
)

const defaultMaxConflictRetries = 5

var ErrConflictRetriesExhausted = errors.New("saga version conflict retries exhausted")

type Orchestrator struct {
	repo               outbound.SagaRepository
	policy             entity.Policy
	logger             logger.Logger
	metrics            metrics.Metrics
	now                func() time.Time
	newID              func() string
	maxConflictRetries int
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTokenSource replaces the generator used for timeout tokens, command ids
// and outbox ids.
func WithTokenSource(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

func WithMaxConflictRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxConflictRetries = n
		}
	}
}

func WithMetrics(m metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func NewOrchestrator(repo outbound.SagaRepository, policy entity.Policy, log logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:               repo,
		policy:             policy,
		logger:             log,
		metrics:            metrics.Nop(),
		now:                func() time.Time { return time.Now().UTC() },
		newID:              func() string { return uuid.NewString() },
		maxConflictRetries: defaultMaxConflictRetries,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle applies one input to its saga instance. Inputs that cannot apply
// (unknown instance, terminal instance, stale timeout, wrong status) come back
// as an ignored Result with a nil error; the error is reserved for
// infrastructure failures, which the caller should redeliver.
func (o *Orchestrator) Handle(ctx context.Context, evt message.Event) (Result, error) {
	if evt == nil || evt.SagaID() == "" {
		return Result{Ignored: true, Reason: entity.ErrCorrelationIDRequired.Error()}, nil
	}

	for attempt := 0; ; attempt++ {
		res, err := o.apply(ctx, evt)
		if !errors.Is(err, outbound.ErrVersionConflict) {
			return res, err
		}
		o.metrics.IncVersionConflict()
		if attempt >= o.maxConflictRetries {
			return Result{}, fmt.Errorf("%w: %s after %d attempts", ErrConflictRetriesExhausted, evt.SagaID(), attempt+1)
		}
		o.logger.Debug(ctx, "version conflict, recomputing",
			logger.CorrelationID(evt.SagaID()),
			logger.String("event", evt.EventName()),
			logger.Int("attempt", attempt+1))
	}
}

func (o *Orchestrator) apply(ctx context.Context, evt message.Event) (Result, error) {
	id := evt.SagaID()
	env := entity.Environment{Policy: o.policy, Now: o.now(), NewToken: o.newID}

	current, err := o.repo.Load(ctx, id)
	var (
		decision *entity.Decision
		expected int64
		from     = entity.StatusCreated
	)
	switch {
	case errors.Is(err, outbound.ErrSagaNotFound):
		req, ok := evt.(message.BookingRequested)
		if !ok {
			return o.ignore(ctx, evt, nil, "unknown correlation id"), nil
		}
		decision, err = entity.Begin(req, env)
	case err != nil:
		return Result{}, fmt.Errorf("load saga %s: %w", id, err)
	default:
		expected = current.Version
		from = current.Status
		decision, err = current.Decide(evt, env)
	}
	if err != nil {
		if !entity.IsDiscard(err) {
			o.logger.Warn(ctx, "input rejected by transition table",
				logger.CorrelationID(id),
				logger.String("event", evt.EventName()),
				logger.WithError(err))
		}
		return o.ignore(ctx, evt, current, err.Error()), nil
	}

	records, err := buildOutbox(ctx, decision, expected+1, env.Now, o.newID)
	if err != nil {
		return Result{}, fmt.Errorf("build outbox for %s: %w", id, err)
	}
	if err := o.repo.Save(ctx, decision.Saga, expected, records); err != nil {
		if errors.Is(err, outbound.ErrVersionConflict) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("save saga %s: %w", id, err)
	}

	o.record(from, decision)
	o.logger.Info(ctx, "saga advanced",
		logger.CorrelationID(id),
		logger.String("event", evt.EventName()),
		logger.String("from", from.String()),
		logger.SagaStatus(decision.Saga.Status.String()),
		logger.Int("commands", len(decision.Commands)),
		logger.Int64("version", decision.Saga.Version))

	return Result{
		Saga:     decision.Saga,
		Commands: decision.Commands,
		Path:     decision.Path,
	}, nil
}

func (o *Orchestrator) ignore(ctx context.Context, evt message.Event, current *entity.BookingSaga, reason string) Result {
	o.metrics.RecordEventIgnored(evt.EventName(), reason)
	o.logger.Debug(ctx, "input discarded",
		logger.CorrelationID(evt.SagaID()),
		logger.String("event", evt.EventName()),
		logger.String("reason", reason))
	return Result{Saga: current, Ignored: true, Reason: reason}
}

func (o *Orchestrator) record(from entity.Status, d *entity.Decision) {
	prev := from
	for _, next := range d.Path {
		o.metrics.RecordSagaTransition(prev.String(), next.String())
		prev = next
	}
	for _, cmd := range d.Commands {
		o.metrics.RecordCommandEmitted(cmd.CommandName())
	}
	if d.Saga.Status.IsTerminal() {
		o.metrics.RecordSagaFinished(d.Saga.Status.String())
	}
}
