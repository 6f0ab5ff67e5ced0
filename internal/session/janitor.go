package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purger deletes expired entries and reports how many went away.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

var _ Purger = (*MemoryStore)(nil)

// RunJanitor purges p every interval until ctx ends. It blocks.
func RunJanitor(ctx context.Context, p Purger, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("janitor")
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.Purge(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("purge expired session entries", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				log.Debug("purged expired session entries", zap.Int64("count", n))
			}
		}
	}
}
