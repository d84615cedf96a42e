package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sweeper periodically retries orders that are paid but not active: new
// payments whose background run was lost, failed runs with attempts left,
// and runs interrupted by a restart.
type Sweeper struct {
	store       OrderStore
	fulfiller   *FulfillmentService
	interval    time.Duration
	concurrency int
	maxAttempts int
	retryAfter  time.Duration
	log         *zap.Logger
}

type SweeperOptions struct {
	Interval    time.Duration
	Concurrency int
	MaxAttempts int
	RetryAfter  time.Duration
}

func NewSweeper(store OrderStore, fulfiller *FulfillmentService, opts SweeperOptions, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Sweeper{
		store:       store,
		fulfiller:   fulfiller,
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		maxAttempts: opts.MaxAttempts,
		retryAfter:  opts.RetryAfter,
		log:         log,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep makes one pass and returns how many orders it attempted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	orders, err := s.store.ListRetryable(ctx, s.maxAttempts, s.retryAfter, s.concurrency*10)
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		return 0, nil
	}
	s.log.Info("retrying orders", zap.Int("count", len(orders)))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, o := range orders {
		id := o.ID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := s.fulfiller.Fulfill(ctx, id); err != nil && !errors.Is(err, ErrInFlight) {
				s.log.Debug("retry did not complete", zap.String("order_id", id), zap.Error(err))
			}
			return nil
		})
	}
	return len(orders), g.Wait()
}
