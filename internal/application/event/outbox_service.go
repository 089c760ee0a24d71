package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/domain/shared"
)

// OutboxMaintenanceService keeps an eye on the transactional outbox from
// the worker process: it reports queue depths and can move dead-lettered
// entries back to pending once the underlying fault is fixed.
type OutboxMaintenanceService struct {
	repo   shared.OutboxRepository
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOutboxMaintenanceService creates a new maintenance service
func NewOutboxMaintenanceService(repo shared.OutboxRepository, logger *zap.Logger) *OutboxMaintenanceService {
	return &OutboxMaintenanceService{
		repo:   repo,
		logger: logger,
	}
}

// OutboxStats holds the per-status entry counts of the outbox
type OutboxStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Dead       int64 `json:"dead"`
	Total      int64 `json:"total"`
}

// Stats returns the current outbox queue depths
func (s *OutboxMaintenanceService) Stats(ctx context.Context) (*OutboxStats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, count := range counts {
		total += count
	}

	return &OutboxStats{
		Pending:    counts[shared.OutboxStatusPending],
		Processing: counts[shared.OutboxStatusProcessing],
		Sent:       counts[shared.OutboxStatusSent],
		Failed:     counts[shared.OutboxStatusFailed],
		Dead:       counts[shared.OutboxStatusDead],
		Total:      total,
	}, nil
}

// RequeueDead resets all dead-lettered entries back to pending so the
// processor picks them up again. Returns the number of requeued entries.
func (s *OutboxMaintenanceService) RequeueDead(ctx context.Context) (int64, error) {
	const batchSize = 100

	var count int64
	for {
		entries, err := s.repo.FindDead(ctx, batchSize)
		if err != nil {
			return count, err
		}
		if len(entries) == 0 {
			break
		}

		requeued := 0
		for _, entry := range entries {
			if err := entry.ResetForRetry(); err != nil {
				continue
			}
			if err := s.repo.Update(ctx, entry); err != nil {
				s.logger.Error("failed to requeue dead entry",
					zap.String("id", entry.ID.String()),
					zap.Error(err),
				)
				continue
			}
			count++
			requeued++
		}

		// Nothing left this round, a concurrent writer may be racing us
		if requeued == 0 {
			break
		}
	}

	if count > 0 {
		s.logger.Info("requeued dead outbox entries", zap.Int64("count", count))
	}

	return count, nil
}

// StartReporting periodically logs outbox queue depths until the
// context is cancelled or Stop is called
func (s *OutboxMaintenanceService) StartReporting(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.reportLoop(ctx, interval)
}

// Stop stops the reporting loop
func (s *OutboxMaintenanceService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *OutboxMaintenanceService) reportLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.Stats(ctx)
			if err != nil {
				s.logger.Error("failed to collect outbox stats", zap.Error(err))
				continue
			}
			s.logger.Info("outbox queue depths",
				zap.Int64("pending", stats.Pending),
				zap.Int64("processing", stats.Processing),
				zap.Int64("failed", stats.Failed),
				zap.Int64("dead", stats.Dead),
			)
			if stats.Dead > 0 {
				s.logger.Warn("outbox has dead-lettered entries",
					zap.Int64("dead", stats.Dead),
				)
			}
		}
	}
}
