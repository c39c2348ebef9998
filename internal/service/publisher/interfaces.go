package publisher

import (
	"context"
	"strconv"
	"time"

	"github.com/beaconhq/beacon/internal/models"
)

// PublishContent is the platform-neutral payload handed to an adapter.
type PublishContent struct {
	PostID    string            `json:"post_id"`
	TenantID  string            `json:"tenant_id"`
	Body      string            `json:"body"`
	Hashtags  []string          `json:"hashtags"`
	MediaRefs []string          `json:"media_refs"`
	PostType  string            `json:"post_type"`
	Metadata  map[string]string `json:"metadata"`
}

// PublishResult represents the result of one publish attempt.
type PublishResult struct {
	Success     bool                  `json:"success"`
	ExternalID  string                `json:"external_id,omitempty"`
	Error       *models.PlatformError `json:"error,omitempty"`
	PublishedAt time.Time             `json:"published_at"`
}

// PublishConfig represents platform-specific configuration.
type PublishConfig struct {
	PlatformName string            `json:"platform_name"`
	Enabled      bool              `json:"enabled"`
	Config       map[string]string `json:"config"`
}

// Publisher is the uniform capability contract every platform adapter
// satisfies. Adapters own their tokens and rate limits; the orchestrator
// only sees the classified outcome.
type Publisher interface {
	PlatformName() string

	ValidateConfig(config PublishConfig) error
	Initialize(ctx context.Context, config PublishConfig) error

	Publish(ctx context.Context, content PublishContent, accountRef string) (*PublishResult, error)
	CheckAuthorization(ctx context.Context, accountRef string) bool
}

// FromPost converts a Post into the neutral adapter payload.
func FromPost(post *models.Post) *PublishContent {
	metadata := map[string]string{
		"tenant_id":   post.TenantID,
		"media_count": strconv.Itoa(len(post.MediaRefs)),
	}
	if post.ScheduledAt != nil {
		metadata["scheduled_at"] = post.ScheduledAt.UTC().Format(time.RFC3339)
	}

	return &PublishContent{
		PostID:    post.PublicID,
		TenantID:  post.TenantID,
		Body:      post.Content,
		Hashtags:  []string(post.Hashtags),
		MediaRefs: []string(post.MediaRefs),
		PostType:  string(post.PostType),
		Metadata:  metadata,
	}
}
