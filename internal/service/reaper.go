package service

import (
	"context"
	"time"

	"boxoffice/internal/config"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
)

const defaultSweepLimit = 2000

type SweepOptions struct {
	OlderThan time.Duration
	Limit     int
	DryRun    bool
}

type SweepResult struct {
	Cutoff     time.Time `json:"cutoff"`
	Candidates int       `json:"candidates"`
	Deleted    int       `json:"deleted"`
	Skipped    int       `json:"skipped"`
	Quantity   int       `json:"quantity"`
	DryRun     bool      `json:"dry_run"`

	Conflicts []apperrors.ReaperConflict `json:"-"`
}

type ReaperService struct {
	tx        Transactor
	holds     ReservationStore
	publisher EventPublisher
	cfg       config.ReservationConfig
	now       func() time.Time
}

func NewReaperService(tx Transactor, holds ReservationStore, publisher EventPublisher, cfg config.ReservationConfig) *ReaperService {
	return &ReaperService{
		tx:        tx,
		holds:     holds,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// window is how far past expiry a hold must be before it is reclaimed. The grace window is a floor.
func (s *ReaperService) window(olderThan time.Duration) time.Duration {
	if olderThan < s.cfg.GraceWindow {
		return s.cfg.GraceWindow
	}
	return olderThan
}

// Sweep deletes unfulfilled holds that expired more than max(OlderThan, GraceWindow) ago.
// Candidates are re-checked under lock right before the delete; those fulfilled, extended or
// locked by a fulfillment in the meantime are skipped.
func (s *ReaperService) Sweep(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.SweepLimit
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	window := s.window(opts.OlderThan)

	result := &SweepResult{
		Cutoff: s.now().Add(-window),
		DryRun: opts.DryRun,
	}
	log := logger.WithContext(ctx).With("cutoff", result.Cutoff, "limit", limit, "dry_run", opts.DryRun)

	candidates, err := s.holds.ListExpired(ctx, result.Cutoff, limit)
	if err != nil {
		return nil, err
	}
	result.Candidates = len(candidates)

	if opts.DryRun || len(candidates) == 0 {
		for _, h := range candidates {
			result.Quantity += h.Quantity
		}
		log.Info("Reaper sweep finished", "candidates", result.Candidates, "quantity", result.Quantity)
		return result, nil
	}

	ids := make([]int64, len(candidates))
	for i, h := range candidates {
		ids[i] = h.ID
	}

	freed := make(map[int64]int)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.holds.LockReclaimable(ctx, ids, s.now().Add(-window))
		if err != nil {
			return err
		}

		reclaim := make(map[int64]bool, len(locked))
		lockedIDs := make([]int64, len(locked))
		for i, h := range locked {
			reclaim[h.ID] = true
			lockedIDs[i] = h.ID
			freed[h.TicketTypeID] += h.Quantity
			result.Quantity += h.Quantity
		}
		for _, h := range candidates {
			if !reclaim[h.ID] {
				result.Conflicts = append(result.Conflicts, apperrors.ReaperConflict{
					ReservationID: h.ID,
					Reason:        "fulfilled, extended or locked since selection",
				})
			}
		}

		n, err := s.holds.DeleteByIDs(ctx, lockedIDs)
		if err != nil {
			return err
		}
		result.Deleted = int(n)
		return nil
	})
	if err != nil {
		log.Error("Reaper sweep failed", "error", err)
		return nil, err
	}

	result.Skipped = len(result.Conflicts)
	for _, c := range result.Conflicts {
		log.Debug("Reaper skipped hold", "reservation_id", c.ReservationID, "reason", c.Reason)
	}

	metrics.ReaperDeleted(result.Deleted)
	metrics.ReaperSkipped(result.Skipped)

	if result.Deleted > 0 {
		publish(ctx, s.publisher, models.EventReservationsReaped, models.ReservationsReapedEvent{
			Deleted:   result.Deleted,
			Skipped:   result.Skipped,
			Freed:     freed,
			Timestamp: s.now(),
		})
	}

	log.Info("Reaper sweep finished",
		"candidates", result.Candidates,
		"deleted", result.Deleted,
		"skipped", result.Skipped,
		"quantity", result.Quantity)

	return result, nil
}
