package services

import (
	"context"
	"log/slog"
	"time"
)

// SettlementRetryService periodically replays owed settlements against the
// asset pools. Run Start on its own goroutine; it exits with the context.
type SettlementRetryService interface {
	Start(ctx context.Context)
}

type settlementRetryService struct {
	settlement SettlementService
	logger     *slog.Logger
	interval   time.Duration
}

func NewSettlementRetryService(settlement SettlementService, logger *slog.Logger, intervalSeconds int) SettlementRetryService {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &settlementRetryService{
		settlement: settlement,
		logger:     logger,
		interval:   time.Duration(intervalSeconds) * time.Second,
	}
}

func (s *settlementRetryService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			paid, err := s.settlement.RetryOwed(ctx)
			if err != nil {
				s.logger.Warn("owed settlement retry failed", "err", err)
				continue
			}
			if paid > 0 {
				s.logger.Info("owed settlements paid", "count", paid)
			}
		}
	}
}
