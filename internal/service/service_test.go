package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/service/publisher"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

// fakePublisher is a scriptable platform adapter that records every
// publish call it receives.
type fakePublisher struct {
	name       string
	authorized bool

	mu    sync.Mutex
	calls int

	publishFn func(ctx context.Context, content publisher.PublishContent, accountRef string) (*publisher.PublishResult, error)
}

func newFakePublisher(name string) *fakePublisher {
	return &fakePublisher{
		name:       name,
		authorized: true,
		publishFn: func(context.Context, publisher.PublishContent, string) (*publisher.PublishResult, error) {
			return &publisher.PublishResult{
				Success:     true,
				ExternalID:  name + "_ext_1",
				PublishedAt: time.Now(),
			}, nil
		},
	}
}

func (f *fakePublisher) PlatformName() string { return f.name }

func (f *fakePublisher) ValidateConfig(publisher.PublishConfig) error { return nil }

func (f *fakePublisher) Initialize(context.Context, publisher.PublishConfig) error { return nil }

func (f *fakePublisher) Publish(ctx context.Context, content publisher.PublishContent, accountRef string) (*publisher.PublishResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.publishFn(ctx, content, accountRef)
}

func (f *fakePublisher) CheckAuthorization(context.Context, string) bool { return f.authorized }

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func failWith(kind models.ErrorKind, message string) func(context.Context, publisher.PublishContent, string) (*publisher.PublishResult, error) {
	return func(context.Context, publisher.PublishContent, string) (*publisher.PublishResult, error) {
		return nil, &models.PlatformError{Kind: kind, Message: message}
	}
}

type testEnv struct {
	db         *gorm.DB
	manager    *publisher.Manager
	dispatcher *Dispatcher
	retry      *RetryCoordinator
	posts      *PostService
	scheduler  *Scheduler
	publishers map[string]*fakePublisher
}

func newTestEnv(t *testing.T, platforms ...string) *testEnv {
	t.Helper()

	db := newTestDB(t)
	logger := zap.NewNop()
	monitoring := NewMonitoringService(db, logger)
	manager := publisher.NewManager(logger, db)

	fakes := make(map[string]*fakePublisher, len(platforms))
	for _, platform := range platforms {
		fake := newFakePublisher(platform)
		require.NoError(t, manager.Register(fake))
		manager.SetConfig(platform, publisher.PublishConfig{
			PlatformName: platform,
			Enabled:      true,
		})
		fakes[platform] = fake
	}

	dispatcher := NewDispatcher(db, logger, manager, monitoring, 200*time.Millisecond)
	retry := NewRetryCoordinator(&config.RetryConfig{
		Enabled:      true,
		ScanInterval: "50ms",
		BaseDelay:    "1m",
		MaxDelay:     "30m",
		MaxAttempts:  3,
	}, logger, db, dispatcher)
	validation := NewValidationEngine()
	posts := NewPostService(db, logger, validation, dispatcher, retry, config.WorkflowConfig{ApprovalRequired: true})
	scheduler := NewScheduler(&config.SchedulerConfig{Enabled: true, TickInterval: "30s"},
		logger, db, dispatcher, manager, monitoring)

	return &testEnv{
		db:         db,
		manager:    manager,
		dispatcher: dispatcher,
		retry:      retry,
		posts:      posts,
		scheduler:  scheduler,
		publishers: fakes,
	}
}

// seedPost writes a post directly, bypassing the composer path, so tests
// can start from any lifecycle position.
func (e *testEnv) seedPost(t *testing.T, status models.PostStatus, platforms []string, mutate func(*models.Post)) *models.Post {
	t.Helper()

	now := time.Now()
	post := &models.Post{
		PublicID:  uuid.NewString(),
		TenantID:  "tenant-1",
		Content:   "hello world",
		Platforms: platforms,
		PostType:  models.PostTypeStandard,
		Status:    status,
	}

	switch status {
	case models.StatusPending:
		post.SubmittedAt = &now
	case models.StatusApproved:
		post.SubmittedAt = &now
		post.ApprovedAt = &now
	case models.StatusScheduled:
		post.SubmittedAt = &now
		post.ApprovedAt = &now
		future := now.Add(time.Hour)
		post.ScheduledAt = &future
	case models.StatusPartial, models.StatusFailed, models.StatusPublished:
		post.SubmittedAt = &now
		post.ApprovedAt = &now
		post.DispatchedAt = &now
	}

	if mutate != nil {
		mutate(post)
	}
	require.NoError(t, e.db.Create(post).Error)
	return post
}

func (e *testEnv) reload(t *testing.T, id uint) *models.Post {
	t.Helper()
	var post models.Post
	require.NoError(t, e.db.Preload("Results").First(&post, id).Error)
	return &post
}
