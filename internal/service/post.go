package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/service/publisher"
	"github.com/beaconhq/beacon/pkg/util"
)

// PostService owns the post lifecycle: composer actions mutate posts
// while they are editable, validation gates the exit from draft, and the
// dispatcher takes over once dispatch begins. Every call is scoped to an
// explicit tenant; there is no ambient "current org" anywhere.
type PostService struct {
	db         *gorm.DB
	logger     *zap.Logger
	validator  *ValidationEngine
	dispatcher *Dispatcher
	retry      *RetryCoordinator
	workflow   config.WorkflowConfig
	now        func() time.Time
}

func NewPostService(db *gorm.DB, logger *zap.Logger, validator *ValidationEngine, dispatcher *Dispatcher, retry *RetryCoordinator, workflow config.WorkflowConfig) *PostService {
	return &PostService{
		db:         db,
		logger:     logger,
		validator:  validator,
		dispatcher: dispatcher,
		retry:      retry,
		workflow:   workflow,
		now:        time.Now,
	}
}

// PostInput carries the composer-editable fields.
type PostInput struct {
	Content     string
	MediaRefs   []string
	Hashtags    []string
	Platforms   []string
	AccountRefs []string
	PostType    models.PostType
	ScheduledAt *time.Time
}

// CreatePost creates a new draft for one tenant.
func (s *PostService) CreatePost(ctx context.Context, tenantID string, input PostInput) (*models.Post, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if len(input.Platforms) == 0 {
		return nil, &models.ConsistencyError{
			Op:      "create",
			Status:  models.StatusDraft,
			Message: "target platforms must be chosen at composition time",
		}
	}
	for _, platform := range input.Platforms {
		if !models.IsKnownPlatform(platform) {
			return nil, &models.ConsistencyError{
				Op:      "create",
				Status:  models.StatusDraft,
				Message: fmt.Sprintf("unknown platform %q", platform),
			}
		}
	}
	if input.ScheduledAt != nil && !input.ScheduledAt.After(s.now()) {
		return nil, &models.ConsistencyError{
			Op:      "schedule",
			Status:  models.StatusDraft,
			Message: "scheduled time must be in the future",
		}
	}

	postType := input.PostType
	if postType == "" {
		postType = models.PostTypeStandard
	}

	post := &models.Post{
		PublicID:    uuid.NewString(),
		TenantID:    tenantID,
		Content:     input.Content,
		MediaRefs:   input.MediaRefs,
		Hashtags:    util.NormalizeHashtags(input.Hashtags),
		Platforms:   input.Platforms,
		AccountRefs: input.AccountRefs,
		PostType:    postType,
		Status:      models.StatusDraft,
		ScheduledAt: input.ScheduledAt,
	}

	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	s.logger.Info("Post created",
		zap.String("post", post.PublicID),
		zap.String("tenant", tenantID),
		zap.Strings("platforms", post.Platforms))
	return post, nil
}

// UpdatePost applies composer edits. Content is mutable only while the
// post is in draft or pending; afterwards the edit is rejected, never
// silently coerced.
func (s *PostService) UpdatePost(ctx context.Context, tenantID, publicID string, input PostInput) (*models.Post, error) {
	post, err := s.GetPost(ctx, tenantID, publicID)
	if err != nil {
		return nil, err
	}
	if !post.Editable() {
		return nil, &models.ConsistencyError{Op: "edit", Status: post.Status}
	}
	if len(input.Platforms) == 0 {
		return nil, &models.ConsistencyError{
			Op:      "edit",
			Status:  post.Status,
			Message: "target platforms must not be empty",
		}
	}
	for _, platform := range input.Platforms {
		if !models.IsKnownPlatform(platform) {
			return nil, &models.ConsistencyError{
				Op:      "edit",
				Status:  post.Status,
				Message: fmt.Sprintf("unknown platform %q", platform),
			}
		}
	}
	if input.ScheduledAt != nil && !input.ScheduledAt.After(s.now()) {
		return nil, &models.ConsistencyError{
			Op:      "schedule",
			Status:  post.Status,
			Message: "scheduled time must be in the future",
		}
	}

	post.Content = input.Content
	post.MediaRefs = input.MediaRefs
	post.Hashtags = util.NormalizeHashtags(input.Hashtags)
	post.Platforms = input.Platforms
	if input.AccountRefs != nil {
		post.AccountRefs = input.AccountRefs
	}
	if input.PostType != "" {
		post.PostType = input.PostType
	}
	post.ScheduledAt = input.ScheduledAt

	if err := s.db.WithContext(ctx).Save(post).Error; err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}
	return post, nil
}

// GetPost reads one post with its platform results.
func (s *PostService) GetPost(ctx context.Context, tenantID, publicID string) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).
		Preload("Results").
		Where("public_id = ? AND tenant_id = ?", publicID, tenantID).
		First(&post).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// ListPosts returns a tenant's posts, optionally filtered by status.
func (s *PostService) ListPosts(ctx context.Context, tenantID string, status models.PostStatus, limit, offset int) ([]models.Post, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := s.db.WithContext(ctx).
		Preload("Results").
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).Offset(offset)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var posts []models.Post
	if err := query.Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// Submit moves a valid draft toward publication. With the approval
// workflow enabled it lands in pending; otherwise it is approved
// outright and routed to the scheduler or an immediate dispatch.
func (s *PostService) Submit(ctx context.Context, tenantID, publicID string) (*models.Post, error) {
	post, err := s.GetPost(ctx, tenantID, publicID)
	if err != nil {
		return nil, err
	}
	if post.Status != models.StatusDraft {
		return nil, &models.ConsistencyError{Op: "submit", Status: post.Status}
	}

	if err := s.validator.Validate(post); err != nil {
		return nil, err
	}

	now := s.now()
	post.SubmittedAt = &now
	post.RejectReason = ""
	if !s.workflow.ApprovalRequired {
		post.ApprovedAt = &now
	}
	post.Status = models.DeriveStatus(post, post.Results, now)

	updates := map[string]interface{}{
		"submitted_at":  now,
		"reject_reason": "",
		"status":        post.Status,
	}
	if !s.workflow.ApprovalRequired {
		updates["approved_at"] = now
	}
	res := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status = ?", post.ID, models.StatusDraft).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to submit post: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &models.SchedulingConflict{Message: "post state changed concurrently, re-read and retry"}
	}

	s.logger.Info("Post submitted",
		zap.String("post", post.PublicID),
		zap.String("status", string(post.Status)))

	s.routeApproved(ctx, post)
	return post, nil
}

// Approve records the reviewer decision and routes the post onward.
func (s *PostService) Approve(ctx context.Context, tenantID, publicID string) (*models.Post, error) {
	post, err := s.GetPost(ctx, tenantID, publicID)
	if err != nil {
		return nil, err
	}
	if post.Status != models.StatusPending {
		return nil, &models.ConsistencyError{Op: "approve", Status: post.Status}
	}

	now := s.now()
	post.ApprovedAt = &now
	post.Status = models.DeriveStatus(post, post.Results, now)

	res := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status = ?", post.ID, models.StatusPending).
		Updates(map[string]interface{}{
			"approved_at": now,
			"status":      post.Status,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to approve post: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &models.SchedulingConflict{Message: "post state changed concurrently, re-read and retry"}
	}

	s.logger.Info("Post approved",
		zap.String("post", post.PublicID),
		zap.String("status", string(post.Status)))

	s.routeApproved(ctx, post)
	return post, nil
}

// Reject returns a post to draft with the reviewer's reason. Allowed
// from pending, and from approved/scheduled while dispatch has not
// begun; prior edits are preserved.
func (s *PostService) Reject(ctx context.Context, tenantID, publicID, reason string) (*models.Post, error) {
	post, err := s.GetPost(ctx, tenantID, publicID)
	if err != nil {
		return nil, err
	}
	switch post.Status {
	case models.StatusPending, models.StatusApproved, models.StatusScheduled:
	default:
		return nil, &models.ConsistencyError{Op: "reject", Status: post.Status}
	}

	// Conditional write: a scheduler claim between the read above and
	// this update must win, or the reject would drag a dispatching post
	// back to draft with result rows attached.
	res := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status = ?", post.ID, post.Status).
		Updates(map[string]interface{}{
			"submitted_at":  nil,
			"approved_at":   nil,
			"reject_reason": reason,
			"status":        models.StatusDraft,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to reject post: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &models.SchedulingConflict{Message: "post state changed concurrently, re-read and retry"}
	}

	post.SubmittedAt = nil
	post.ApprovedAt = nil
	post.RejectReason = reason
	post.Status = models.StatusDraft

	s.logger.Info("Post rejected",
		zap.String("post", post.PublicID),
		zap.String("reason", util.Truncate(reason, 120)))
	return post, nil
}

// Schedule sets or replaces the target time. Rescheduling a post already
// in the scheduler's queue just moves its due time; once dispatch has
// begun the attempt is rejected.
func (s *PostService) Schedule(ctx context.Context, tenantID, publicID string, at time.Time) (*models.Post, error) {
	post, err := s.GetPost(ctx, tenantID, publicID)
	if err != nil {
		return nil, err
	}

	switch post.Status {
	case models.StatusDraft, models.StatusPending, models.StatusApproved, models.StatusScheduled:
	default:
		return nil, &models.ConsistencyError{Op: "reschedule", Status: post.Status}
	}
	if !at.After(s.now()) {
		return nil, &models.ConsistencyError{
			Op:      "schedule",
			Status:  post.Status,
			Message: "scheduled time must be in the future",
		}
	}

	// Conditional write: losing the race against a scheduler claim means
	// the post is no longer reschedulable.
	post.ScheduledAt = &at
	newStatus := models.DeriveStatus(post, post.Results, s.now())
	res := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status = ?", post.ID, post.Status).
		Updates(map[string]interface{}{
			"scheduled_at": at,
			"status":       newStatus,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to schedule post: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &models.SchedulingConflict{Message: "post state changed concurrently, re-read and retry"}
	}
	post.Status = newStatus

	s.logger.Info("Post scheduled",
		zap.String("post", post.PublicID),
		zap.Time("at", at))
	return post, nil
}

// Cancel withdraws a post before dispatch begins. In-flight platform
// calls of a dispatching post cannot be cancelled; their results are
// recorded regardless so no external post goes untracked.
func (s *PostService) Cancel(ctx context.Context, tenantID, publicID string) (*models.Post, error) {
	post, err := s.GetPost(ctx, tenantID, publicID)
	if err != nil {
		return nil, err
	}
	if !post.Cancellable() {
		return nil, &models.ConsistencyError{Op: "cancel", Status: post.Status}
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status = ?", post.ID, post.Status).
		Updates(map[string]interface{}{
			"cancelled_at": now,
			"status":       models.StatusCancelled,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to cancel post: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &models.SchedulingConflict{Message: "post state changed concurrently, re-read and retry"}
	}

	post.CancelledAt = &now
	post.Status = models.StatusCancelled

	s.logger.Info("Post cancelled", zap.String("post", post.PublicID))
	return post, nil
}

// Retry triggers a manual re-dispatch of the failed platform subset.
func (s *PostService) Retry(ctx context.Context, tenantID, publicID string) (map[string]*publisher.PublishResult, error) {
	post, err := s.GetPost(ctx, tenantID, publicID)
	if err != nil {
		return nil, err
	}
	return s.retry.Retry(ctx, post.ID)
}

// routeApproved sends a freshly approved post to its destination: the
// scheduler queue when a future time is set, an immediate dispatch
// otherwise. The dispatch runs off the request goroutine.
func (s *PostService) routeApproved(ctx context.Context, post *models.Post) {
	if post.Status != models.StatusApproved {
		return
	}

	postID := post.ID
	go func() {
		if _, err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), postID, nil); err != nil {
			s.logger.Error("Immediate dispatch failed",
				zap.Uint("post_id", postID),
				zap.Error(err))
		}
	}()
}
