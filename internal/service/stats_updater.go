package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StatsUpdater handles periodic statistics updates
type StatsUpdater struct {
	monitoringService *MonitoringService
	logger            *zap.Logger
	ticker            *time.Ticker
	retention         time.Duration
	done              chan bool
}

// NewStatsUpdater creates a new stats updater
func NewStatsUpdater(monitoringService *MonitoringService, logger *zap.Logger, interval, retention time.Duration) *StatsUpdater {
	return &StatsUpdater{
		monitoringService: monitoringService,
		logger:            logger,
		ticker:            time.NewTicker(interval),
		retention:         retention,
		done:              make(chan bool),
	}
}

// Start begins the periodic stats update process
func (s *StatsUpdater) Start(ctx context.Context) {
	go func() {
		s.logger.Info("Starting stats updater")
		for {
			select {
			case <-s.done:
				s.logger.Info("Stats updater stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Stats updater stopped due to context cancellation")
				return
			case <-s.ticker.C:
				s.updateStats()
			}
		}
	}()
}

// Stop stops the stats updater
func (s *StatsUpdater) Stop() {
	s.ticker.Stop()
	close(s.done)
}

// updateStats performs the actual stats update
func (s *StatsUpdater) updateStats() {
	s.logger.Debug("Updating statistics")

	if err := s.monitoringService.UpdateDailyStats(); err != nil {
		s.logger.Error("Failed to update daily stats", zap.Error(err))
	}
	if err := s.monitoringService.UpdatePlatformStats(); err != nil {
		s.logger.Error("Failed to update platform stats", zap.Error(err))
	}
	if s.retention > 0 {
		if err := s.monitoringService.CleanupOldData(s.retention); err != nil {
			s.logger.Error("Failed to prune monitoring data", zap.Error(err))
		}
	}
}
