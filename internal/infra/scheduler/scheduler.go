package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/DioGolang/BookingSaga/internal/domain/message"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/DioGolang/BookingSaga/pkg/metrics"
	"golang.org/x/time/rate"
)

// FireFunc receives an expired timeout. A nil return removes the entry; an
// error leaves it leased so it fires again once the lease runs out.
type FireFunc func(ctx context.Context, evt message.TimeoutExpired) error

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
	// FireRate caps deliveries per second. Zero means unlimited.
	FireRate float64
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
}

type Scheduler struct {
	backend Backend
	cfg     Config
	limiter *rate.Limiter
	logger  logger.Logger
	metrics metrics.Metrics
	now     func() time.Time
}

func New(backend Backend, cfg Config, log logger.Logger, m metrics.Metrics) *Scheduler {
	cfg.defaults()
	limit := rate.Inf
	burst := cfg.BatchSize
	if cfg.FireRate > 0 {
		limit = rate.Limit(cfg.FireRate)
		burst = max(1, int(cfg.FireRate))
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Scheduler{
		backend: backend,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  log,
		metrics: m,
		now:     time.Now,
	}
}

func (s *Scheduler) Schedule(ctx context.Context, t message.Timeout) error {
	if t.Token == "" || t.CorrelationID == "" {
		return errors.New("timeout token and correlation id are required")
	}
	return s.backend.Add(ctx, t)
}

func (s *Scheduler) Cancel(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.backend.Remove(ctx, token)
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, fire FireFunc) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.FireDue(ctx, fire); err != nil && ctx.Err() == nil {
				s.logger.Error(ctx, "Timeout poll failed", logger.WithError(err))
			}
		}
	}
}

// FireDue delivers one batch of due timeouts and reports how many were
// handled successfully.
func (s *Scheduler) FireDue(ctx context.Context, fire FireFunc) (int, error) {
	due, err := s.backend.ClaimDue(ctx, s.now(), s.cfg.BatchSize, s.cfg.Lease)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, t := range due {
		if err := s.limiter.Wait(ctx); err != nil {
			return fired, err
		}
		evt := t.Expired()
		if err := fire(ctx, evt); err != nil {
			s.logger.Warn(ctx, "Timeout handler failed, will refire after lease",
				logger.CorrelationID(t.CorrelationID),
				logger.String("step", string(t.Step)),
				logger.WithError(err))
			continue
		}
		s.metrics.IncTimeoutFired(string(t.Step))
		if err := s.backend.Remove(ctx, t.Token); err != nil {
			s.logger.Warn(ctx, "Failed to remove fired timeout",
				logger.String("token", t.Token),
				logger.WithError(err))
		}
		fired++
	}
	return fired, nil
}
