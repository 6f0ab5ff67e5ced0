package verification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/obs"
)

// MaxPollInterval caps the interval growth.
const MaxPollInterval = 30 * time.Second

// Options controls one Poll run.
type Options struct {
	MaxAttempts       int
	Interval          time.Duration
	BackoffMultiplier float64
	// MaxInterval defaults to MaxPollInterval.
	MaxInterval time.Duration
}

// DefaultOptions is a reasonable schedule for interactive flows.
func DefaultOptions() Options {
	return Options{MaxAttempts: 10, Interval: 2 * time.Second, BackoffMultiplier: 1.5, MaxInterval: MaxPollInterval}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = 1
	}
	if o.MaxInterval <= 0 || o.MaxInterval > MaxPollInterval {
		o.MaxInterval = MaxPollInterval
	}
	return o
}

// StatusReader is the part of Client the poller needs.
type StatusReader interface {
	Status(ctx context.Context, id string) (Record, error)
}

var _ StatusReader = (*Client)(nil)

// Poller drives one verification to a terminal status.
type Poller struct {
	reader  StatusReader
	log     *zap.Logger
	metrics *obs.Metrics
}

// NewPoller creates a poller over reader.
func NewPoller(reader StatusReader, logger *zap.Logger, metrics *obs.Metrics) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = obs.NewMetrics(nil)
	}
	return &Poller{reader: reader, log: logger.Named("poller"), metrics: metrics}
}

// Poll queries id sequentially until it reaches verified or rejected.
// A not_found answer counts as "not visible yet" while attempts remain; any
// other error ends the poll. Rejection is a successful result. When attempts
// run out the error has CodeTimeout. Cancelling ctx stops the schedule.
func (p *Poller) Poll(ctx context.Context, id string, opts Options) (Record, error) {
	opts = opts.normalized()
	interval := opts.Interval
	log := p.log.With(zap.String("verification_id", id))

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		rec, err := p.reader.Status(ctx, id)
		switch {
		case err == nil && rec.Status.IsTerminal():
			p.metrics.VerificationPolls.WithLabelValues(string(rec.Status)).Inc()
			log.Info("verification settled", zap.String("status", string(rec.Status)), zap.Int("attempts", attempt))
			return rec, nil
		case err == nil:
			log.Debug("verification not settled", zap.String("status", string(rec.Status)), zap.Int("attempt", attempt))
		case IsNotFound(err) && attempt < opts.MaxAttempts:
			log.Debug("verification not visible yet", zap.Int("attempt", attempt))
		default:
			p.metrics.VerificationPolls.WithLabelValues("error").Inc()
			return Record{}, err
		}

		if err := sleep(ctx, interval); err != nil {
			p.metrics.VerificationPolls.WithLabelValues("cancelled").Inc()
			return Record{}, err
		}
		interval = nextInterval(interval, opts)
	}

	p.metrics.VerificationPolls.WithLabelValues("timeout").Inc()
	return Record{}, &Error{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("verification %s not settled after %d attempts", id, opts.MaxAttempts),
	}
}

func nextInterval(cur time.Duration, o Options) time.Duration {
	next := time.Duration(float64(cur) * o.BackoffMultiplier)
	if next > o.MaxInterval {
		return o.MaxInterval
	}
	return next
}

// sleep waits for d or until ctx ends; the timer never outlives the call.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
