package service

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/models"
)

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
	}
}

// RecordError persists a structured fault for the operations dashboard.
func (m *MonitoringService) RecordError(level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	for _, option := range options {
		option(errorLog)
	}

	return m.db.Create(errorLog).Error
}

// ErrorLogOption customizes a recorded error.
type ErrorLogOption func(*models.ErrorLog)

func WithPlatform(platformName string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.PlatformName = platformName
	}
}

func WithPost(postID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.PostID = &postID
	}
}

func WithResult(resultID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.ResultID = &resultID
	}
}

func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = string(contextBytes)
		}
	}
}

// RecordMetric stores one raw metric sample.
func (m *MonitoringService) RecordMetric(name, metricType string, value float64, tags map[string]interface{}) {
	sample := &models.MetricsSample{
		MetricName: name,
		MetricType: metricType,
		Value:      value,
		Timestamp:  time.Now(),
	}
	if tags != nil {
		if tagBytes, err := json.Marshal(tags); err == nil {
			sample.Tags = string(tagBytes)
		}
	}

	if err := m.db.Create(sample).Error; err != nil {
		m.logger.Error("Failed to record metric",
			zap.String("metric", name),
			zap.Error(err))
	}
}

// UpdateDailyStats refreshes today's post counters by status.
func (m *MonitoringService) UpdateDailyStats() error {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	counts := map[models.PostStatus]int64{}
	for _, status := range []models.PostStatus{
		models.StatusDraft, models.StatusPending, models.StatusScheduled,
		models.StatusPublished, models.StatusPartial, models.StatusFailed,
	} {
		var n int64
		if err := m.db.Model(&models.Post{}).Where("status = ?", status).Count(&n).Error; err != nil {
			return err
		}
		counts[status] = n
	}

	var total int64
	if err := m.db.Model(&models.Post{}).Count(&total).Error; err != nil {
		return err
	}

	var stats models.DailyStats
	err := m.db.Where("date = ?", today).First(&stats).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	stats.Date = today
	stats.TotalPosts = int(total)
	stats.DraftPosts = int(counts[models.StatusDraft])
	stats.PendingPosts = int(counts[models.StatusPending])
	stats.ScheduledPosts = int(counts[models.StatusScheduled])
	stats.PublishedPosts = int(counts[models.StatusPublished])
	stats.PartialPosts = int(counts[models.StatusPartial])
	stats.FailedPosts = int(counts[models.StatusFailed])

	return m.db.Save(&stats).Error
}

// UpdatePlatformStats refreshes today's per-platform success and failure
// counters from the result rows touched today.
func (m *MonitoringService) UpdatePlatformStats() error {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	for _, platform := range models.KnownPlatforms() {
		var successes, failures int64
		if err := m.db.Model(&models.PlatformResult{}).
			Where("platform = ? AND success = ? AND updated_at >= ?", platform, true, today).
			Count(&successes).Error; err != nil {
			return err
		}
		if err := m.db.Model(&models.PlatformResult{}).
			Where("platform = ? AND success = ? AND updated_at >= ?", platform, false, today).
			Count(&failures).Error; err != nil {
			return err
		}
		if successes == 0 && failures == 0 {
			continue
		}

		var stats models.PlatformDailyStats
		err := m.db.Where("date = ? AND platform_name = ?", today, platform).First(&stats).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		stats.Date = today
		stats.PlatformName = platform
		stats.Successes = int(successes)
		stats.Failures = int(failures)
		now := time.Now()
		if successes > 0 {
			stats.LastSuccessAt = &now
		}
		if failures > 0 {
			stats.LastFailureAt = &now
		}

		if err := m.db.Save(&stats).Error; err != nil {
			return err
		}
	}
	return nil
}

// CleanupOldData prunes raw metric samples and resolved error logs past
// the retention window. Daily rollups are kept indefinitely.
func (m *MonitoringService) CleanupOldData(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)

	res := m.db.Where("timestamp < ?", cutoff).Delete(&models.MetricsSample{})
	if res.Error != nil {
		return fmt.Errorf("failed to prune metric samples: %w", res.Error)
	}
	prunedSamples := res.RowsAffected

	res = m.db.Where("created_at < ? AND resolved = ?", cutoff, true).Delete(&models.ErrorLog{})
	if res.Error != nil {
		return fmt.Errorf("failed to prune error logs: %w", res.Error)
	}

	if prunedSamples+res.RowsAffected > 0 {
		m.logger.Info("Pruned monitoring data",
			zap.Int64("metric_samples", prunedSamples),
			zap.Int64("error_logs", res.RowsAffected))
	}
	return nil
}
