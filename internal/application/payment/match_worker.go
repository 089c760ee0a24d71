package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rentledger/backend/internal/domain/payment"
)

// MatchWorkerConfig holds configuration for the match worker
type MatchWorkerConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// DefaultMatchWorkerConfig returns default configuration
func DefaultMatchWorkerConfig() MatchWorkerConfig {
	return MatchWorkerConfig{
		BatchSize:    200,
		PollInterval: time.Minute,
	}
}

// MatchWorker drives the matcher over imported bank payments in the
// background. Each pass picks up payments still in status new and runs
// them through classification; a payment that cannot be placed degrades
// to unspecified and is not picked up again.
type MatchWorker struct {
	uowFactory payment.UnitOfWorkFactory
	service    *PaymentService
	config     MatchWorkerConfig
	logger     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMatchWorker creates a new match worker
func NewMatchWorker(
	uowFactory payment.UnitOfWorkFactory,
	service *PaymentService,
	config MatchWorkerConfig,
	logger *zap.Logger,
) *MatchWorker {
	return &MatchWorker{
		uowFactory: uowFactory,
		service:    service,
		config:     config,
		logger:     logger,
	}
}

// Start starts the background matching loop
func (w *MatchWorker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.matchLoop(ctx)

	w.logger.Info("match worker started",
		zap.Int("batch_size", w.config.BatchSize),
		zap.Duration("poll_interval", w.config.PollInterval),
	)

	return nil
}

// Stop gracefully stops the worker
func (w *MatchWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("match worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *MatchWorker) matchLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch runs one matching pass and returns the number of
// payments that ended up registered
func (w *MatchWorker) ProcessBatch(ctx context.Context) int {
	var ids []uuid.UUID
	err := w.uowFactory.Do(ctx, func(uow payment.UnitOfWork) error {
		pending, err := uow.Payments().FindUnmatched(ctx, w.config.BatchSize)
		if err != nil {
			return err
		}
		ids = make([]uuid.UUID, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
		}
		return nil
	})
	if err != nil {
		w.logger.Error("failed to list unmatched payments", zap.Error(err))
		return 0
	}

	matched := 0
	for _, id := range ids {
		p, err := w.service.MatchBankPayment(ctx, id)
		if err != nil {
			w.logger.Error("failed to match bank payment",
				zap.String("payment_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		if p.Status == payment.StatusRegistered {
			matched++
		}
	}

	if len(ids) > 0 {
		w.logger.Info("matching pass completed",
			zap.Int("processed", len(ids)),
			zap.Int("registered", matched),
		)
	}

	return matched
}
