package feed

import (
	"context"
	"math"
	"time"

	"paintops/internal/logger"
)

// Source is the outbox the relay drains. Repo is the Postgres one.
type Source interface {
	Claim(ctx context.Context, workerID string, limit int) ([]Entry, error)
	MarkDone(ctx context.Context, ids []uint64) error
	MarkFailed(ctx context.Context, id uint64, errMsg string) error
	RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Relay moves outbox entries onto the bus. It polls on Interval and drains
// immediately whenever Wake fires.
type Relay struct {
	ID        string
	Source    Source
	Bus       Bus
	Log       *logger.Logger
	Interval  time.Duration
	BatchSize int
	Wake      <-chan struct{}
	Retention time.Duration
}

func (r *Relay) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		case <-r.Wake:
			r.drain(ctx)
		case <-prune.C:
			r.prune(ctx)
		}
	}
}

// drain claims batches until the outbox has no more due entries.
func (r *Relay) drain(ctx context.Context) {
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}
	for ctx.Err() == nil {
		entries, err := r.Source.Claim(ctx, r.ID, limit)
		if err != nil {
			r.Log.Warn("relay claim error", "error", err)
			return
		}
		if len(entries) == 0 {
			return
		}
		r.handle(ctx, entries)
		if len(entries) < limit {
			return
		}
	}
}

func (r *Relay) handle(ctx context.Context, entries []Entry) {
	done := make([]uint64, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if err := r.Bus.Publish(ctx, e.Event()); err != nil {
			r.retry(ctx, e, err.Error())
			continue
		}
		done = append(done, e.ID)
	}
	if err := r.Source.MarkDone(ctx, done); err != nil {
		r.Log.Warn("relay ack error", "error", err, "count", len(done))
	}
}

func (r *Relay) retry(ctx context.Context, e *Entry, errMsg string) {
	attempts := e.Attempts + 1
	if attempts >= e.MaxAttempts {
		r.Log.Error("change event dropped", "id", e.ID, "job_id", e.JobID, "error", errMsg)
		_ = r.Source.MarkFailed(ctx, e.ID, errMsg)
		return
	}

	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	next := time.Now().Add(time.Duration(sec) * time.Second)

	_ = r.Source.RetryLater(ctx, e.ID, attempts, next, errMsg)
}

func (r *Relay) prune(ctx context.Context) {
	keep := r.Retention
	if keep <= 0 {
		keep = 24 * time.Hour
	}
	n, err := r.Source.Prune(ctx, time.Now().Add(-keep))
	if err != nil {
		r.Log.Warn("relay prune error", "error", err)
		return
	}
	if n > 0 {
		r.Log.Debug("pruned change events", "count", n)
	}
}
