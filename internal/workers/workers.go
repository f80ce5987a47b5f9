package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// LogStore deletes delivery logs older than a cutoff.
type LogStore interface {
	DeleteBefore(ctx context.Context, before int64) (int64, error)
}

// Pruner enforces the delivery log retention window.
type Pruner struct {
	logs      LogStore
	retention time.Duration
	now       func() time.Time
}

func NewPruner(logs LogStore, retention time.Duration) *Pruner {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Pruner{logs: logs, retention: retention, now: time.Now}
}

// PruneDeliveryLogs removes logs older than the retention window and
// returns how many were deleted.
func (p *Pruner) PruneDeliveryLogs(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention).Unix()
	n, err := p.logs.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Time("cutoff", time.Unix(cutoff, 0)).Msg("Worker: pruned webhook delivery logs")
	}
	return n, nil
}

// Run prunes once immediately and then every interval until ctx is done.
func (p *Pruner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.PruneDeliveryLogs(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Worker: delivery log pruning failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
