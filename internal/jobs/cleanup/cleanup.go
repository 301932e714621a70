package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type purchaseExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Job expires abandoned PENDING purchases so the table does not accumulate
// open rows that can never settle.
type Job struct {
	purchases purchaseExpirer
	interval  time.Duration
	logger    *zap.Logger
}

func New(purchases purchaseExpirer, interval time.Duration, logger *zap.Logger) *Job {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		purchases: purchases,
		interval:  interval,
		logger:    logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.purchases == nil {
		return nil
	}

	expired, err := j.purchases.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("expire stale purchases: %w", err)
	}
	if expired > 0 {
		j.logger.Info("expired stale purchases", zap.Int64("count", expired))
	}
	return nil
}

// Start loops Run on the configured interval until the context is canceled.
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Warn("purchase cleanup pass failed", zap.Error(err))
			}
		}
	}
}
