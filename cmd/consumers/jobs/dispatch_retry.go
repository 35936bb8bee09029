package jobs

import (
	"context"
	"log/slog"
	"time"
)

const dispatchRetryBatch = 50

type DispatchRetrier interface {
	RetryFailedDispatches(ctx context.Context, limit int) (int, error)
}

// DispatchRetryJob re-sends confirmations that failed to reach the queue or the mail server
type DispatchRetryJob struct {
	tickets  DispatchRetrier
	interval time.Duration
	ticker   *time.Ticker
	done     chan bool
}

func NewDispatchRetryJob(tickets DispatchRetrier, interval time.Duration) *DispatchRetryJob {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &DispatchRetryJob{
		tickets:  tickets,
		interval: interval,
		done:     make(chan bool),
	}
}

func (j *DispatchRetryJob) Start(ctx context.Context) {
	slog.Info("Starting dispatch retry job", "interval", j.interval)

	j.ticker = time.NewTicker(j.interval)

	go func() {
		for {
			select {
			case <-j.ticker.C:
				j.retry(ctx)
			case <-ctx.Done():
				return
			case <-j.done:
				slog.Info("Dispatch retry job stopped")
				return
			}
		}
	}()
}

func (j *DispatchRetryJob) Stop() {
	if j.ticker != nil {
		j.ticker.Stop()
	}
	close(j.done)
}

func (j *DispatchRetryJob) retry(ctx context.Context) {
	sent, err := j.tickets.RetryFailedDispatches(ctx, dispatchRetryBatch)
	if err != nil {
		slog.Error("Dispatch retry failed", "error", err)
		return
	}
	if sent > 0 {
		slog.Info("Re-sent failed confirmations", "count", sent)
	}
}
