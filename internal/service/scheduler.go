package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/service/publisher"
)

// Scheduler polls for scheduled posts whose due time has passed and
// hands them to the dispatcher. One ticker serves every post; the tick
// interval is configuration, not a per-post concern.
type Scheduler struct {
	config     *config.SchedulerConfig
	logger     *zap.Logger
	db         *gorm.DB
	dispatcher *Dispatcher
	manager    *publisher.Manager
	monitoring *MonitoringService
	ticker     *time.Ticker
	stopCh     chan struct{}
	now        func() time.Time
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger, db *gorm.DB, dispatcher *Dispatcher, manager *publisher.Manager, monitoring *MonitoringService) *Scheduler {
	return &Scheduler{
		config:     cfg,
		logger:     logger,
		db:         db,
		dispatcher: dispatcher,
		manager:    manager,
		monitoring: monitoring,
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	interval, err := time.ParseDuration(s.config.TickInterval)
	if err != nil {
		s.logger.Error("Invalid tick interval", zap.String("interval", s.config.TickInterval), zap.Error(err))
		return err
	}

	s.logger.Info("Starting scheduler", zap.String("tick_interval", s.config.TickInterval))

	s.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.runTick(ctx)
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.logger.Info("Scheduler shutdown completed")
}

func (s *Scheduler) runTick(ctx context.Context) {
	start := s.now()
	claimed, err := s.Tick(ctx, start)
	if err != nil {
		s.logger.Error("Scheduler tick failed", zap.Error(err))
		if s.monitoring != nil {
			s.monitoring.RecordError("ERROR", "scheduler", "Tick failed", err.Error())
		}
		return
	}

	// Fan-out for one post runs independently of every other post; the
	// tick loop never blocks on adapter calls.
	for _, post := range claimed {
		go func(postID uint) {
			if _, err := s.dispatcher.Dispatch(ctx, postID, nil); err != nil {
				s.logger.Error("Scheduled dispatch failed",
					zap.Uint("post_id", postID),
					zap.Error(err))
			}
		}(post.ID)
	}

	if len(claimed) > 0 {
		s.logger.Info("Scheduler tick completed",
			zap.Int("claimed", len(claimed)),
			zap.Duration("duration", time.Since(start)))
	}
}

// Tick claims every scheduled post due at now and returns the claimed
// set. The claim is a conditional update per post, so a concurrent tick
// over the same rows claims each post exactly once.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]models.Post, error) {
	var due []models.Post
	if err := s.db.Where("status = ? AND scheduled_at <= ?", models.StatusScheduled, now).
		Find(&due).Error; err != nil {
		return nil, err
	}

	var claimed []models.Post
	for i := range due {
		post := due[i]

		// A post whose platforms have all been disconnected since it was
		// scheduled fails outright instead of dispatching.
		if s.manager != nil && !s.manager.AnyAuthorized(ctx, &post) {
			if err := s.failNoEligiblePlatforms(&post, now); err != nil {
				s.logger.Error("Failed to mark post as failed",
					zap.String("post", post.PublicID),
					zap.Error(err))
			}
			continue
		}

		res := s.db.Model(&models.Post{}).
			Where("id = ? AND status = ?", post.ID, models.StatusScheduled).
			Updates(map[string]interface{}{
				"status":        models.StatusDispatching,
				"dispatching":   true,
				"dispatched_at": gorm.Expr("COALESCE(dispatched_at, ?)", now),
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the claim to a concurrent tick or a reschedule.
			continue
		}

		post.Status = models.StatusDispatching
		post.Dispatching = true
		claimed = append(claimed, post)
	}

	return claimed, nil
}

// failNoEligiblePlatforms records a structured failure per targeted
// platform so the outcome stays derivable from the result rows.
func (s *Scheduler) failNoEligiblePlatforms(post *models.Post, now time.Time) error {
	res := s.db.Model(&models.Post{}).
		Where("id = ? AND status = ?", post.ID, models.StatusScheduled).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"dispatched_at": gorm.Expr("COALESCE(dispatched_at, ?)", now),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	for _, platform := range post.Platforms {
		var row models.PlatformResult
		err := s.db.Where("post_id = ? AND platform = ?", post.ID, platform).First(&row).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		if row.Success {
			continue
		}
		if err == gorm.ErrRecordNotFound {
			row = models.PlatformResult{PostID: post.ID, Platform: platform}
		}
		row.AttemptCount++
		row.AttemptedAt = now
		row.ErrorKind = string(models.ErrKindUnauthorized)
		row.ErrorMessage = "no eligible platforms: authorization revoked or platform disconnected"
		row.NextRetryAt = nil
		if err := s.db.Save(&row).Error; err != nil {
			return err
		}
	}

	s.logger.Warn("Post failed before dispatch, no eligible platforms",
		zap.String("post", post.PublicID),
		zap.Strings("platforms", post.Platforms))
	if s.monitoring != nil {
		s.monitoring.RecordError("WARN", "scheduler",
			"No eligible platforms", "every target platform is disconnected or revoked",
			WithPost(post.ID))
	}
	return nil
}
