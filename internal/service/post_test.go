package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/models"
)

const tenant = "tenant-1"

func validInput(platforms ...string) PostInput {
	if len(platforms) == 0 {
		platforms = []string{models.PlatformFacebook}
	}
	return PostInput{
		Content:   "spring campaign launch",
		Hashtags:  []string{"#spring", "#launch"},
		Platforms: platforms,
	}
}

func TestCreatePost(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)

	post, err := env.posts.CreatePost(context.Background(), tenant, validInput())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, post.Status)
	assert.NotEmpty(t, post.PublicID)
	assert.Equal(t, []string{"spring", "launch"}, []string(post.Hashtags))
}

func TestCreatePostRequiresPlatforms(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.posts.CreatePost(context.Background(), tenant, PostInput{Content: "x"})
	var consistencyErr *models.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)

	_, err = env.posts.CreatePost(context.Background(), tenant, validInput("myspace"))
	require.ErrorAs(t, err, &consistencyErr)
}

func TestCreatePostRejectsPastSchedule(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)

	past := time.Now().Add(-time.Hour)
	input := validInput()
	input.ScheduledAt = &past

	_, err := env.posts.CreatePost(context.Background(), tenant, input)
	var consistencyErr *models.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
}

func TestSubmitWithApprovalWorkflow(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)

	post, err := env.posts.CreatePost(context.Background(), tenant, validInput())
	require.NoError(t, err)

	submitted, err := env.posts.Submit(context.Background(), tenant, post.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, submitted.Status)

	// Submitting twice is an illegal transition.
	_, err = env.posts.Submit(context.Background(), tenant, post.PublicID)
	var consistencyErr *models.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
}

func TestSubmitBlockedByValidation(t *testing.T) {
	env := newTestEnv(t, models.PlatformLinkedIn)

	input := validInput(models.PlatformLinkedIn)
	input.Content = strings.Repeat("a", 3500) // over linkedin's 3000
	post, err := env.posts.CreatePost(context.Background(), tenant, input)
	require.NoError(t, err)

	_, err = env.posts.Submit(context.Background(), tenant, post.PublicID)
	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, models.StatusDraft, env.reload(t, post.ID).Status)
}

func TestApproveRoutesToScheduler(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)

	future := time.Now().Add(time.Hour)
	input := validInput()
	input.ScheduledAt = &future

	post, err := env.posts.CreatePost(context.Background(), tenant, input)
	require.NoError(t, err)
	_, err = env.posts.Submit(context.Background(), tenant, post.PublicID)
	require.NoError(t, err)

	approved, err := env.posts.Approve(context.Background(), tenant, post.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, approved.Status)

	// Not dispatched yet.
	assert.Zero(t, env.publishers[models.PlatformFacebook].callCount())
}

func TestApproveWithoutScheduleDispatchesImmediately(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)

	post, err := env.posts.CreatePost(context.Background(), tenant, validInput())
	require.NoError(t, err)
	_, err = env.posts.Submit(context.Background(), tenant, post.PublicID)
	require.NoError(t, err)
	_, err = env.posts.Approve(context.Background(), tenant, post.PublicID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.reload(t, post.ID).Status == models.StatusPublished
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, env.publishers[models.PlatformFacebook].callCount())
}

func TestSubmitWithoutApprovalWorkflow(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)
	env.posts.workflow = config.WorkflowConfig{ApprovalRequired: false}

	post, err := env.posts.CreatePost(context.Background(), tenant, validInput())
	require.NoError(t, err)

	_, err = env.posts.Submit(context.Background(), tenant, post.PublicID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.reload(t, post.ID).Status == models.StatusPublished
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRejectReturnsToDraftWithReason(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)

	post, err := env.posts.CreatePost(context.Background(), tenant, validInput())
	require.NoError(t, err)
	_, err = env.posts.Submit(context.Background(), tenant, post.PublicID)
	require.NoError(t, err)

	rejected, err := env.posts.Reject(context.Background(), tenant, post.PublicID, "tone is off-brand")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, rejected.Status)

	reloaded := env.reload(t, post.ID)
	assert.Equal(t, "tone is off-brand", reloaded.RejectReason)
	assert.Nil(t, reloaded.SubmittedAt)
	// Prior edits survive rejection.
	assert.Equal(t, "spring campaign launch", reloaded.Content)
}

func TestEditRejectedAfterDispatch(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)
	post := env.seedPost(t, models.StatusPartial, []string{models.PlatformFacebook}, nil)

	_, err := env.posts.UpdatePost(context.Background(), tenant, post.PublicID, validInput())
	var consistencyErr *models.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
}

func TestScheduleRejectsPastTime(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)
	post := env.seedPost(t, models.StatusScheduled, []string{models.PlatformFacebook}, nil)

	_, err := env.posts.Schedule(context.Background(), tenant, post.PublicID, time.Now().Add(-time.Minute))
	var consistencyErr *models.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
}

func TestRescheduleMovesDueTime(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)
	post := env.seedPost(t, models.StatusScheduled, []string{models.PlatformFacebook}, nil)

	newTime := time.Now().Add(3 * time.Hour)
	rescheduled, err := env.posts.Schedule(context.Background(), tenant, post.PublicID, newTime)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, rescheduled.Status)
	assert.WithinDuration(t, newTime, *env.reload(t, post.ID).ScheduledAt, time.Second)
}

func TestRescheduleRejectedOnceDispatched(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)
	post := env.seedPost(t, models.StatusPartial, []string{models.PlatformFacebook}, nil)

	_, err := env.posts.Schedule(context.Background(), tenant, post.PublicID, time.Now().Add(time.Hour))
	var consistencyErr *models.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
}

func TestCancelBeforeDispatch(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)
	post := env.seedPost(t, models.StatusScheduled, []string{models.PlatformFacebook}, nil)

	cancelled, err := env.posts.Cancel(context.Background(), tenant, post.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	// A cancelled post never reaches the scheduler again.
	claimed, err := env.scheduler.Tick(context.Background(), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestCancelRejectedDuringDispatch(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)
	post := env.seedPost(t, models.StatusDispatching, []string{models.PlatformFacebook}, func(p *models.Post) {
		now := time.Now()
		p.SubmittedAt = &now
		p.ApprovedAt = &now
		p.DispatchedAt = &now
		p.Dispatching = true
	})

	_, err := env.posts.Cancel(context.Background(), tenant, post.PublicID)
	var consistencyErr *models.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
}

func TestGetPostScopedToTenant(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)
	post := env.seedPost(t, models.StatusDraft, []string{models.PlatformFacebook}, nil)

	_, err := env.posts.GetPost(context.Background(), "other-tenant", post.PublicID)
	assert.ErrorIs(t, err, models.ErrPostNotFound)

	found, err := env.posts.GetPost(context.Background(), tenant, post.PublicID)
	require.NoError(t, err)
	assert.Equal(t, post.ID, found.ID)
}

func TestListPostsFiltersByStatus(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)
	env.seedPost(t, models.StatusDraft, []string{models.PlatformFacebook}, nil)
	env.seedPost(t, models.StatusFailed, []string{models.PlatformFacebook}, nil)
	env.seedPost(t, models.StatusFailed, []string{models.PlatformFacebook}, nil)

	failed, err := env.posts.ListPosts(context.Background(), tenant, models.StatusFailed, 50, 0)
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	all, err := env.posts.ListPosts(context.Background(), tenant, "", 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRejectRefusedOnceDispatching(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)
	post := env.seedPost(t, models.StatusDispatching, []string{models.PlatformFacebook}, func(p *models.Post) {
		now := time.Now()
		p.SubmittedAt = &now
		p.ApprovedAt = &now
		p.DispatchedAt = &now
		p.Dispatching = true
	})

	_, err := env.posts.Reject(context.Background(), tenant, post.PublicID, "too late")
	var consistencyErr *models.ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
}

func TestRejectRacingSchedulerClaimStaysConsistent(t *testing.T) {
	// A reject and a tick+dispatch fight over a due scheduled post.
	// Whichever write lands second must lose its claim, never drag a
	// dispatched post back to draft with result rows attached.
	for i := 0; i < 20; i++ {
		env := newTestEnv(t, models.PlatformFacebook)
		due := time.Now().Add(-time.Minute)
		post := env.seedPost(t, models.StatusScheduled, []string{models.PlatformFacebook}, func(p *models.Post) {
			p.ScheduledAt = &due
		})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			claimed, err := env.scheduler.Tick(context.Background(), time.Now())
			require.NoError(t, err)
			for _, c := range claimed {
				_, err := env.dispatcher.Dispatch(context.Background(), c.ID, nil)
				require.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := env.posts.Reject(context.Background(), tenant, post.PublicID, "pulled back")
			if err != nil {
				var consistencyErr *models.ConsistencyError
				var conflict *models.SchedulingConflict
				require.True(t, errors.As(err, &consistencyErr) || errors.As(err, &conflict),
					"unexpected reject error: %v", err)
			}
		}()
		wg.Wait()

		reloaded := env.reload(t, post.ID)
		derived := models.DeriveStatus(reloaded, reloaded.Results, time.Now())
		assert.Equal(t, derived, reloaded.Status)
		if reloaded.Status == models.StatusDraft {
			assert.Empty(t, reloaded.Results)
		}
	}
}

func TestApproveLostToConcurrentCancelIsConflict(t *testing.T) {
	env := newTestEnv(t, models.PlatformFacebook)
	post := env.seedPost(t, models.StatusPending, []string{models.PlatformFacebook}, nil)

	// Another actor cancels after approve has read the post but before
	// its write lands; the stale write must hit zero rows.
	env.posts.now = func() time.Time {
		require.NoError(t, env.db.Model(&models.Post{}).Where("id = ?", post.ID).
			Updates(map[string]interface{}{
				"cancelled_at": time.Now(),
				"status":       models.StatusCancelled,
			}).Error)
		env.posts.now = time.Now
		return time.Now()
	}

	_, err := env.posts.Approve(context.Background(), tenant, post.PublicID)
	var conflict *models.SchedulingConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, models.StatusCancelled, env.reload(t, post.ID).Status)
}
