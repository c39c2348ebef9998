package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/service/publisher"
)

// BackoffFunc decides when a failed platform attempt becomes due for
// automatic retry. Returning nil means no automatic retry.
type BackoffFunc func(kind models.ErrorKind, attemptCount int, attemptedAt time.Time) *time.Time

// Dispatcher fans one post out to its platform adapters concurrently and
// aggregates the settled results into the post status. All dispatches of
// the same post are serialized through a per-post lock; platforms that
// already succeeded are filtered out defensively regardless of the set
// the caller passed.
type Dispatcher struct {
	db         *gorm.DB
	logger     *zap.Logger
	manager    *publisher.Manager
	monitoring *MonitoringService
	timeout    time.Duration
	backoff    BackoffFunc

	locks postLocks
	now   func() time.Time
}

// postLocks serializes dispatches per post. Entries are reference
// counted and removed once the last holder releases, so the map stays
// bounded by in-flight dispatches rather than by lifetime post count.
type postLocks struct {
	mu      sync.Mutex
	entries map[uint]*postLock
}

type postLock struct {
	mu   sync.Mutex
	refs int
}

func (l *postLocks) acquire(postID uint) *postLock {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[uint]*postLock)
	}
	entry := l.entries[postID]
	if entry == nil {
		entry = &postLock{}
		l.entries[postID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return entry
}

func (l *postLocks) release(postID uint, entry *postLock) {
	entry.mu.Unlock()

	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, postID)
	}
	l.mu.Unlock()
}

func NewDispatcher(db *gorm.DB, logger *zap.Logger, manager *publisher.Manager, monitoring *MonitoringService, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		db:         db,
		logger:     logger,
		manager:    manager,
		monitoring: monitoring,
		timeout:    timeout,
		now:        time.Now,
	}
}

// SetBackoff wires the automatic retry schedule into recorded failures.
func (d *Dispatcher) SetBackoff(backoff BackoffFunc) {
	d.backoff = backoff
}

type platformOutcome struct {
	platform string
	result   *publisher.PublishResult
}

// Dispatch publishes the post to the requested platforms. A nil or empty
// platform set means the full target set. It returns the per-platform
// results of this attempt only; already-succeeded platforms are skipped
// and absent from the returned map.
func (d *Dispatcher) Dispatch(ctx context.Context, postID uint, platforms []string) (map[string]*publisher.PublishResult, error) {
	lock := d.locks.acquire(postID)
	defer d.locks.release(postID, lock)

	var post models.Post
	if err := d.db.Preload("Results").First(&post, postID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrPostNotFound
		}
		return nil, err
	}

	if post.CancelledAt != nil {
		return nil, &models.ConsistencyError{Op: "dispatch", Status: models.StatusCancelled}
	}

	if err := d.claim(&post); err != nil {
		return nil, err
	}

	attemptSet := d.attemptSet(&post, platforms)
	if len(attemptSet) == 0 {
		// Nothing left to attempt: every requested platform already
		// succeeded. Settle without touching any adapter.
		if err := d.settle(&post); err != nil {
			return nil, err
		}
		return map[string]*publisher.PublishResult{}, nil
	}

	d.logger.Info("Dispatching post",
		zap.String("post", post.PublicID),
		zap.Strings("platforms", attemptSet))

	content := publisher.FromPost(&post)
	outcomes := make(chan platformOutcome, len(attemptSet))

	var wg sync.WaitGroup
	for _, platform := range attemptSet {
		wg.Add(1)
		go func(platform string) {
			defer wg.Done()
			outcomes <- platformOutcome{
				platform: platform,
				result:   d.publishOne(ctx, &post, *content, platform),
			}
		}(platform)
	}

	// Every in-flight call must settle before the status is recomputed;
	// a post is never reported published with a call still outstanding.
	wg.Wait()
	close(outcomes)

	results := make(map[string]*publisher.PublishResult, len(attemptSet))
	for outcome := range outcomes {
		results[outcome.platform] = outcome.result
		if err := d.record(&post, outcome.platform, outcome.result); err != nil {
			d.logger.Error("Failed to record platform result",
				zap.String("post", post.PublicID),
				zap.String("platform", outcome.platform),
				zap.Error(err))
		}
	}

	if err := d.settle(&post); err != nil {
		return nil, err
	}

	return results, nil
}

// claim flips the post into dispatching with a conditional update so a
// competing transition loses cleanly.
func (d *Dispatcher) claim(post *models.Post) error {
	switch post.Status {
	case models.StatusDispatching:
		// Already claimed for us by the scheduler tick.
		return nil
	case models.StatusApproved, models.StatusScheduled, models.StatusPartial, models.StatusFailed:
	default:
		return &models.ConsistencyError{Op: "dispatch", Status: post.Status}
	}

	now := d.now()
	res := d.db.Model(&models.Post{}).
		Where("id = ? AND status = ?", post.ID, post.Status).
		Updates(map[string]interface{}{
			"status":        models.StatusDispatching,
			"dispatching":   true,
			"dispatched_at": gorm.Expr("COALESCE(dispatched_at, ?)", now),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &models.SchedulingConflict{Message: "post state changed concurrently"}
	}

	post.Status = models.StatusDispatching
	post.Dispatching = true
	if post.DispatchedAt == nil {
		post.DispatchedAt = &now
	}
	return nil
}

// attemptSet intersects the requested platforms with the post's targets
// and drops everything that already has a successful result.
func (d *Dispatcher) attemptSet(post *models.Post, requested []string) []string {
	targeted := make(map[string]bool, len(post.Platforms))
	for _, p := range post.Platforms {
		targeted[p] = true
	}

	succeeded := make(map[string]bool, len(post.Results))
	for _, r := range post.Results {
		if r.Success {
			succeeded[r.Platform] = true
		}
	}

	if len(requested) == 0 {
		requested = post.Platforms
	}

	var out []string
	seen := make(map[string]bool, len(requested))
	for _, p := range requested {
		if !targeted[p] || succeeded[p] || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// publishOne runs a single adapter call with a bounded timeout and folds
// every failure mode into a failed PublishResult.
func (d *Dispatcher) publishOne(ctx context.Context, post *models.Post, content publisher.PublishContent, platform string) *publisher.PublishResult {
	failed := func(perr *models.PlatformError) *publisher.PublishResult {
		return &publisher.PublishResult{Success: false, Error: perr}
	}

	if !d.manager.Enabled(platform) {
		return failed(&models.PlatformError{
			Kind:    models.ErrKindUnauthorized,
			Message: "platform is not enabled for this deployment",
		})
	}

	pub, err := d.manager.Get(platform)
	if err != nil {
		return failed(&models.PlatformError{
			Kind:    models.ErrKindUnknown,
			Message: err.Error(),
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := pub.Publish(callCtx, content, post.AccountRef(platform))
	if err != nil {
		perr := models.ClassifyPlatformError(err)
		if callCtx.Err() == context.DeadlineExceeded {
			perr = &models.PlatformError{Kind: models.ErrKindTimeout, Message: err.Error()}
		}
		d.logger.Warn("Platform publish failed",
			zap.String("post", post.PublicID),
			zap.String("platform", platform),
			zap.String("kind", string(perr.Kind)),
			zap.Error(err))
		return failed(perr)
	}
	if result == nil {
		return failed(&models.PlatformError{
			Kind:    models.ErrKindUnknown,
			Message: "adapter returned no result",
		})
	}
	if !result.Success && result.Error == nil {
		result.Error = &models.PlatformError{
			Kind:    models.ErrKindUnknown,
			Message: "adapter reported failure without a reason",
		}
	}
	return result
}

// record upserts the per-platform result row. A row that has already
// succeeded is immutable; later attempts never rewrite it.
func (d *Dispatcher) record(post *models.Post, platform string, result *publisher.PublishResult) error {
	now := d.now()

	var row models.PlatformResult
	err := d.db.Where("post_id = ? AND platform = ?", post.ID, platform).First(&row).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if err == gorm.ErrRecordNotFound {
		row = models.PlatformResult{PostID: post.ID, Platform: platform}
	}
	if row.Success {
		return nil
	}

	row.AttemptCount++
	row.AttemptedAt = now
	row.NextRetryAt = nil

	if result.Success {
		row.Success = true
		row.ExternalID = result.ExternalID
		row.ErrorKind = ""
		row.ErrorMessage = ""
	} else {
		row.ErrorKind = string(result.Error.Kind)
		row.ErrorMessage = result.Error.Message
		if d.backoff != nil {
			row.NextRetryAt = d.backoff(result.Error.Kind, row.AttemptCount, now)
		}
	}

	if err := d.db.Save(&row).Error; err != nil {
		return err
	}

	d.recordMetrics(post, platform, result)
	return nil
}

func (d *Dispatcher) recordMetrics(post *models.Post, platform string, result *publisher.PublishResult) {
	if d.monitoring == nil {
		return
	}
	tags := map[string]interface{}{
		"platform": platform,
		"post_id":  post.PublicID,
	}
	if result.Success {
		d.monitoring.RecordMetric("publish_success", "counter", 1, tags)
		return
	}
	d.monitoring.RecordMetric("publish_failure", "counter", 1, tags)
	d.monitoring.RecordError("ERROR", "dispatcher",
		"Platform publish failed", result.Error.Error(),
		WithPlatform(platform),
		WithPost(post.ID))
}

// settle recomputes the post status from the recorded results once every
// call of this dispatch has finished.
func (d *Dispatcher) settle(post *models.Post) error {
	var results []models.PlatformResult
	if err := d.db.Where("post_id = ?", post.ID).Find(&results).Error; err != nil {
		return err
	}

	post.Dispatching = false
	status := models.DeriveStatus(post, results, d.now())

	updates := map[string]interface{}{
		"status":      status,
		"dispatching": false,
	}
	if status == models.StatusPublished && post.PublishedAt == nil {
		now := d.now()
		updates["published_at"] = now
		post.PublishedAt = &now
	}

	if err := d.db.Model(&models.Post{}).Where("id = ?", post.ID).Updates(updates).Error; err != nil {
		return err
	}
	post.Status = status

	d.logger.Info("Dispatch settled",
		zap.String("post", post.PublicID),
		zap.String("status", string(status)))
	return nil
}
