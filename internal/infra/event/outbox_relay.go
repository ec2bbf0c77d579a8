package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/DioGolang/BookingSaga/pkg/events"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/DioGolang/BookingSaga/pkg/metrics"
	pkgotel "github.com/DioGolang/BookingSaga/pkg/otel"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type RelayConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	Workers        int
	MaxAttempts    int
	PublishTimeout time.Duration
	StuckAfter     time.Duration
	Retention      time.Duration
}

func (c *RelayConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
}

// OutboxRelay forwards committed outbox records: commands to the broker and
// timeout records to the scheduler. Records of one saga are handled in order;
// different sagas run in parallel.
type OutboxRelay struct {
	store      outbound.OutboxStore
	dispatcher events.EventDispatcher
	scheduler  outbound.TimeoutScheduler
	logger     logger.Logger
	metrics    metrics.Metrics
	cfg        RelayConfig
	now        func() time.Time
}

func NewOutboxRelay(
	store outbound.OutboxStore,
	disp events.EventDispatcher,
	sched outbound.TimeoutScheduler,
	log logger.Logger,
	m metrics.Metrics,
	cfg RelayConfig,
) *OutboxRelay {
	cfg.defaults()
	if m == nil {
		m = metrics.Nop()
	}
	return &OutboxRelay{
		store:      store,
		dispatcher: disp,
		scheduler:  sched,
		logger:     log,
		metrics:    m,
		cfg:        cfg,
		now:        time.Now,
	}
}

func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error(ctx, "Failed to process outbox batch", logger.WithError(err))
			}
		}
	}
}

// ProcessBatch claims one batch and returns how many records were delivered.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	records, err := r.store.ClaimPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	groups, order := groupByCorrelation(records)
	delivered := make([]int, len(order))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, id := range order {
		i, group := i, groups[id]
		g.Go(func() error {
			delivered[i] = r.processGroup(gCtx, group)
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, n := range delivered {
		total += n
	}
	return total, nil
}

func groupByCorrelation(records []outbound.OutboxRecord) (map[string][]outbound.OutboxRecord, []string) {
	groups := make(map[string][]outbound.OutboxRecord)
	var order []string
	for _, rec := range records {
		if _, ok := groups[rec.CorrelationID]; !ok {
			order = append(order, rec.CorrelationID)
		}
		groups[rec.CorrelationID] = append(groups[rec.CorrelationID], rec)
	}
	return groups, order
}

// processGroup stops at the first failure and hands the remaining records
// back, so a later record never overtakes an earlier one.
func (r *OutboxRelay) processGroup(ctx context.Context, group []outbound.OutboxRecord) int {
	for i, rec := range group {
		if err := r.deliver(ctx, rec); err != nil {
			r.logger.Warn(ctx, "Failed to relay outbox record",
				logger.String("id", rec.ID),
				logger.CorrelationID(rec.CorrelationID),
				logger.String("name", rec.Name),
				logger.Int("attempt", rec.Attempts),
				logger.WithError(err))
			r.metrics.IncOutboxEventsProcessed("failed")

			// Bookkeeping must survive a cancelled poll.
			bg := context.WithoutCancel(ctx)
			if mErr := r.store.MarkFailed(bg, rec.ID, err.Error(), r.cfg.MaxAttempts); mErr != nil {
				r.logger.Error(ctx, "Failed to mark outbox record failed", logger.String("id", rec.ID), logger.WithError(mErr))
			}
			rest := make([]string, 0, len(group)-i-1)
			for _, next := range group[i+1:] {
				rest = append(rest, next.ID)
			}
			if rErr := r.store.Release(bg, rest); rErr != nil {
				r.logger.Error(ctx, "Failed to release outbox records", logger.WithError(rErr))
			}
			return i
		}

		if err := r.store.MarkPublished(context.WithoutCancel(ctx), rec.ID); err != nil {
			// The record will be retried after the rescuer resets it;
			// downstream tolerates the duplicate.
			r.logger.Error(ctx, "Failed to mark outbox record published", logger.String("id", rec.ID), logger.WithError(err))
		}
		r.metrics.IncOutboxEventsProcessed("published")
	}
	return len(group)
}

func (r *OutboxRelay) deliver(ctx context.Context, rec outbound.OutboxRecord) error {
	ctx = pkgotel.InjectContextFromJSON(ctx, rec.TraceContext)
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()

	switch rec.Topic {
	case outbound.TopicCommand:
		env, err := events.UnmarshalEnvelope(rec.Payload)
		if err != nil {
			return fmt.Errorf("decode command envelope: %w", err)
		}
		return r.dispatcher.Dispatch(ctx, env)
	case outbound.TopicTimeoutSchedule:
		var t message.Timeout
		if err := json.Unmarshal(rec.Payload, &t); err != nil {
			return fmt.Errorf("decode timeout: %w", err)
		}
		return r.scheduler.Schedule(ctx, t)
	case outbound.TopicTimeoutCancel:
		var t message.Timeout
		if err := json.Unmarshal(rec.Payload, &t); err != nil {
			return fmt.Errorf("decode timeout cancel: %w", err)
		}
		return r.scheduler.Cancel(ctx, t.Token)
	}
	return fmt.Errorf("unknown outbox topic %q", rec.Topic)
}

// Rescue resets records stuck in PROCESSING and purges old published ones.
func (r *OutboxRelay) Rescue(ctx context.Context) {
	now := r.now()
	if n, err := r.store.ResetStuck(ctx, now.Add(-r.cfg.StuckAfter)); err != nil {
		r.logger.Error(ctx, "Failed to reset stuck events", logger.WithError(err))
	} else if n > 0 {
		r.logger.Warn(ctx, "Reset stuck outbox records", logger.Int64("count", n))
	}

	if n, err := r.store.DeleteOld(ctx, now.Add(-r.cfg.Retention)); err != nil {
		r.logger.Error(ctx, "Cleanup failed", logger.WithError(err))
	} else if n > 0 {
		r.logger.Info(ctx, "Purged published outbox records", logger.Int64("count", n))
	}
}

// ScheduleMaintenance runs Rescue on the cron spec until ctx is done.
func (r *OutboxRelay) ScheduleMaintenance(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { r.Rescue(ctx) }); err != nil {
		return nil, fmt.Errorf("invalid outbox rescue schedule %q: %w", spec, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
