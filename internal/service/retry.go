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

// RetryCoordinator re-attempts failed per-platform publishes. Manual
// retries are always allowed from partial/failed; the automatic policy
// only touches transient failures, with bounded exponential backoff and
// a per-platform attempt cap. Permanent rejections stay put until a
// human intervenes.
type RetryCoordinator struct {
	logger     *zap.Logger
	db         *gorm.DB
	dispatcher *Dispatcher

	enabled      bool
	scanInterval time.Duration
	baseDelay    time.Duration
	maxDelay     time.Duration
	maxAttempts  int

	ticker *time.Ticker
	stopCh chan struct{}
	now    func() time.Time
}

func NewRetryCoordinator(cfg *config.RetryConfig, logger *zap.Logger, db *gorm.DB, dispatcher *Dispatcher) *RetryCoordinator {
	r := &RetryCoordinator{
		logger:       logger,
		db:           db,
		dispatcher:   dispatcher,
		enabled:      cfg.Enabled,
		scanInterval: config.ParseDuration(cfg.ScanInterval, time.Minute),
		baseDelay:    config.ParseDuration(cfg.BaseDelay, time.Minute),
		maxDelay:     config.ParseDuration(cfg.MaxDelay, 30*time.Minute),
		maxAttempts:  cfg.MaxAttempts,
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}

	// The dispatcher stamps next_retry_at on failures using this policy.
	dispatcher.SetBackoff(r.Backoff)
	return r
}

// Backoff returns the next due time for an automatic re-attempt, or nil
// when the failure kind is permanent or the attempt budget is spent.
func (r *RetryCoordinator) Backoff(kind models.ErrorKind, attemptCount int, attemptedAt time.Time) *time.Time {
	if !r.enabled || attemptCount >= r.maxAttempts {
		return nil
	}
	switch kind {
	case models.ErrKindTimeout, models.ErrKindRateLimited, models.ErrKindUnknown:
	default:
		// unauthorized and content_rejected need a human or an edit
		// cycle, never an automatic re-attempt.
		return nil
	}

	delay := r.baseDelay << (attemptCount - 1)
	if delay > r.maxDelay || delay <= 0 {
		delay = r.maxDelay
	}
	due := attemptedAt.Add(delay)
	return &due
}

// Retry re-dispatches the failed platform subset of one post. Invoked by
// the composer API; always permitted from partial or failed.
func (r *RetryCoordinator) Retry(ctx context.Context, postID uint) (map[string]*publisher.PublishResult, error) {
	var post models.Post
	if err := r.db.Preload("Results").First(&post, postID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrPostNotFound
		}
		return nil, err
	}

	if !post.Retryable() {
		return nil, &models.ConsistencyError{Op: "retry", Status: post.Status}
	}

	failed := models.FailedPlatforms(post.Platforms, post.Results)
	if len(failed) == 0 {
		return map[string]*publisher.PublishResult{}, nil
	}

	r.logger.Info("Manual retry requested",
		zap.String("post", post.PublicID),
		zap.Strings("platforms", failed))

	return r.dispatcher.Dispatch(ctx, post.ID, failed)
}

func (r *RetryCoordinator) Start(ctx context.Context) {
	if !r.enabled {
		r.logger.Info("Automatic retry is disabled")
		return
	}

	r.ticker = time.NewTicker(r.scanInterval)

	go func() {
		r.logger.Info("Starting retry coordinator",
			zap.Duration("scan_interval", r.scanInterval),
			zap.Int("max_attempts", r.maxAttempts))
		for {
			select {
			case <-r.stopCh:
				r.logger.Info("Retry coordinator stopped")
				return
			case <-ctx.Done():
				r.logger.Info("Retry coordinator context cancelled")
				return
			case <-r.ticker.C:
				r.scan(ctx)
			}
		}
	}()
}

func (r *RetryCoordinator) Stop() {
	if r.ticker != nil {
		r.ticker.Stop()
	}
	close(r.stopCh)
}

// scan finds result rows whose backoff has elapsed and re-dispatches
// their posts, one dispatch per post with the due subset.
func (r *RetryCoordinator) scan(ctx context.Context) {
	now := r.now()

	var rows []models.PlatformResult
	err := r.db.
		Joins("JOIN posts ON posts.id = platform_results.post_id").
		Where("platform_results.success = ? AND platform_results.next_retry_at IS NOT NULL AND platform_results.next_retry_at <= ?", false, now).
		Where("posts.status IN ? AND posts.cancelled_at IS NULL AND posts.deleted_at IS NULL",
			[]models.PostStatus{models.StatusPartial, models.StatusFailed}).
		Find(&rows).Error
	if err != nil {
		r.logger.Error("Retry scan failed", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	duePlatforms := make(map[uint][]string)
	for _, row := range rows {
		duePlatforms[row.PostID] = append(duePlatforms[row.PostID], row.Platform)
	}

	r.logger.Info("Automatic retry due", zap.Int("posts", len(duePlatforms)))

	for postID, platforms := range duePlatforms {
		go func(postID uint, platforms []string) {
			if _, err := r.dispatcher.Dispatch(ctx, postID, platforms); err != nil {
				r.logger.Error("Automatic retry dispatch failed",
					zap.Uint("post_id", postID),
					zap.Error(err))
			}
		}(postID, platforms)
	}
}
