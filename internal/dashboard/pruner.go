package dashboard

import (
	"context"
	"log/slog"
	"time"
)

// HistoryPruner deletes score snapshots older than the retention window.
type HistoryPruner struct {
	history   History
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewHistoryPruner keeps retentionDays of history and prunes every interval.
func NewHistoryPruner(history History, retentionDays int, interval time.Duration) *HistoryPruner {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &HistoryPruner{
		history:   history,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       time.Now,
	}
}

// Prune removes snapshots older than the retention window once.
func (p *HistoryPruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	removed, err := p.history.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.Info("Pruned score history", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// Run prunes immediately and then on every tick until ctx is done.
func (p *HistoryPruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Prune(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Score history pruning failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
