package lifecycle

import (
	"context"
	"time"
)

// Sweeper periodically re-scans storage.pending_deletes for any orphan
// still unswept after a grace period, so a process crash between
// "schedule" and "execute" in Upload/Copy/Move/Delete never permanently
// loses the cleanup obligation.
type Sweeper struct {
	Coordinator *Coordinator
	Interval    time.Duration
	BatchSize   int
}

// NewSweeper constructs a Sweeper with the stock defaults: a
// 1-minute interval and a 200-row batch, tunable by callers that need
// something tighter for tests.
func NewSweeper(c *Coordinator) *Sweeper {
	return &Sweeper{Coordinator: c, Interval: time.Minute, BatchSize: 200}
}

// Run blocks sweeping on Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	c := s.Coordinator
	pending, err := c.DB.AsSuperUser().ListStaleOrphans(ctx, s.BatchSize)
	if err != nil {
		c.logger().Error("lifecycle: sweep list stale orphans", "error", err)
		return
	}
	for _, p := range pending {
		c.AdminDelete(ctx, p.TenantID, p.BucketID, p.Name, p.Version)
	}
	if len(pending) > 0 {
		c.logger().Info("lifecycle: swept orphans", "count", len(pending))
	}
}
