package jobs

import (
	"context"
	"log/slog"
	"time"

	"boxoffice/internal/service"
)

type Sweeper interface {
	Sweep(ctx context.Context, opts service.SweepOptions) (*service.SweepResult, error)
}

// Leaser serializes sweeps across consumer replicas
type Leaser interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// ReservationReaperJob periodically deletes holds that have expired past the grace window
type ReservationReaperJob struct {
	reaper    Sweeper
	lease     Leaser
	interval  time.Duration
	olderThan time.Duration
	ticker    *time.Ticker
	done      chan bool
}

// NewReservationReaperJob creates the job. lease may be nil, in which case every replica sweeps;
// row locks keep concurrent sweeps from deleting the same hold twice.
func NewReservationReaperJob(reaper Sweeper, lease Leaser, interval, olderThan time.Duration) *ReservationReaperJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReservationReaperJob{
		reaper:    reaper,
		lease:     lease,
		interval:  interval,
		olderThan: olderThan,
		done:      make(chan bool),
	}
}

func (j *ReservationReaperJob) Start(ctx context.Context) {
	slog.Info("Starting reservation reaper job", "interval", j.interval, "older_than", j.olderThan, "leased", j.lease != nil)

	j.ticker = time.NewTicker(j.interval)

	go func() {
		j.sweep(ctx)
		for {
			select {
			case <-j.ticker.C:
				j.sweep(ctx)
			case <-ctx.Done():
				return
			case <-j.done:
				slog.Info("Reservation reaper job stopped")
				return
			}
		}
	}()
}

func (j *ReservationReaperJob) Stop() {
	if j.ticker != nil {
		j.ticker.Stop()
	}
	close(j.done)
}

func (j *ReservationReaperJob) sweep(ctx context.Context) {
	if j.lease != nil {
		// Lease outlives a sweep so a slow run is not joined by another replica
		ok, err := j.lease.Acquire(ctx, 2*j.interval)
		if err != nil {
			slog.Error("Failed to acquire reaper lease", "error", err)
			return
		}
		if !ok {
			slog.Debug("Reaper lease held elsewhere, skipping sweep")
			return
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := j.lease.Release(releaseCtx); err != nil {
				slog.Warn("Failed to release reaper lease", "error", err)
			}
		}()
	}

	result, err := j.reaper.Sweep(ctx, service.SweepOptions{OlderThan: j.olderThan})
	if err != nil {
		slog.Error("Reservation sweep failed", "error", err)
		return
	}

	if result.Candidates == 0 {
		slog.Debug("No expired reservations found")
		return
	}

	slog.Info("Reservation sweep finished",
		"cutoff", result.Cutoff,
		"candidates", result.Candidates,
		"deleted", result.Deleted,
		"skipped", result.Skipped,
		"quantity", result.Quantity)
}
