package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// PostStatus is the lifecycle position of a post.
type PostStatus string

const (
	StatusDraft       PostStatus = "draft"
	StatusPending     PostStatus = "pending"
	StatusApproved    PostStatus = "approved"
	StatusScheduled   PostStatus = "scheduled"
	StatusDispatching PostStatus = "dispatching"
	StatusPublished   PostStatus = "published"
	StatusPartial     PostStatus = "partial"
	StatusFailed      PostStatus = "failed"
	StatusCancelled   PostStatus = "cancelled"
)

// PostType distinguishes the content formats the networks treat differently.
type PostType string

const (
	PostTypeStandard   PostType = "standard"
	PostTypeShortVideo PostType = "short-video"
	PostTypeStory      PostType = "ephemeral-story"
)

// Supported platform identifiers.
const (
	PlatformFacebook       = "facebook"
	PlatformInstagram      = "instagram"
	PlatformLinkedIn       = "linkedin"
	PlatformTikTok         = "tiktok"
	PlatformGoogleBusiness = "google-business"
	PlatformYouTube        = "youtube"
	PlatformSnapchat       = "snapchat"
)

// KnownPlatforms lists every platform identifier the orchestrator accepts.
func KnownPlatforms() []string {
	return []string{
		PlatformFacebook,
		PlatformInstagram,
		PlatformLinkedIn,
		PlatformTikTok,
		PlatformGoogleBusiness,
		PlatformYouTube,
		PlatformSnapchat,
	}
}

func IsKnownPlatform(name string) bool {
	for _, p := range KnownPlatforms() {
		if p == name {
			return true
		}
	}
	return false
}

// StringArray represents a PostgreSQL text[] type
type StringArray []string

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		// Handle PostgreSQL array format: {value1,value2,value3}
		if v == "{}" || v == "" {
			*s = StringArray{}
			return nil
		}

		trimmed := strings.Trim(v, "{}")
		if trimmed == "" {
			*s = StringArray{}
			return nil
		}

		parts := strings.Split(trimmed, ",")
		result := make([]string, len(parts))
		for i, part := range parts {
			result[i] = strings.Trim(strings.TrimSpace(part), "\"")
		}
		*s = result
		return nil
	case []byte:
		// Try to parse as JSON first
		var arr []string
		if err := json.Unmarshal(v, &arr); err == nil {
			*s = arr
			return nil
		}
		// Fallback to string parsing
		return s.Scan(string(v))
	default:
		return errors.New(fmt.Sprintf("cannot scan %T into StringArray", value))
	}
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}

	quoted := make([]string, len(s))
	for i, v := range s {
		escaped := strings.ReplaceAll(v, "\"", "\\\"")
		quoted[i] = fmt.Sprintf("\"%s\"", escaped)
	}

	return fmt.Sprintf("{%s}", strings.Join(quoted, ",")), nil
}

// Post is the unit of publication. Content fields are mutable only in
// draft/pending; everything after first dispatch is written by the
// dispatcher alone.
type Post struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	PublicID    string      `gorm:"uniqueIndex;not null;size:36" json:"public_id"`
	TenantID    string      `gorm:"not null;index;size:100" json:"tenant_id"`
	Content     string      `gorm:"type:text" json:"content"`
	MediaRefs   StringArray `gorm:"type:text[]" json:"media_refs"`
	Hashtags    StringArray `gorm:"type:text[]" json:"hashtags"`
	Platforms   StringArray `gorm:"type:text[]" json:"platforms"`
	AccountRefs StringArray `gorm:"type:text[]" json:"account_refs"` // "platform=ref" pairs
	PostType    PostType    `gorm:"size:50;default:'standard'" json:"post_type"`
	Status      PostStatus  `gorm:"size:50;default:'draft';index" json:"status"`

	ScheduledAt  *time.Time `gorm:"index" json:"scheduled_at"`
	RejectReason string     `gorm:"type:text" json:"reject_reason,omitempty"`

	// Workflow flags. Status is derivable from these plus the platform
	// results; the column above is the denormalized copy for filtering.
	SubmittedAt  *time.Time `json:"submitted_at"`
	ApprovedAt   *time.Time `json:"approved_at"`
	CancelledAt  *time.Time `json:"cancelled_at"`
	DispatchedAt *time.Time `json:"dispatched_at"`
	Dispatching  bool       `gorm:"default:false" json:"dispatching"`

	PublishedAt *time.Time     `json:"published_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Results []PlatformResult `gorm:"foreignKey:PostID" json:"results,omitempty"`
}

// AccountRef resolves the tenant's account reference for one platform.
func (p *Post) AccountRef(platform string) string {
	prefix := platform + "="
	for _, pair := range p.AccountRefs {
		if strings.HasPrefix(pair, prefix) {
			return strings.TrimPrefix(pair, prefix)
		}
	}
	return ""
}

// Editable reports whether composer edits are still allowed.
func (p *Post) Editable() bool {
	return p.Status == StatusDraft || p.Status == StatusPending
}

// Cancellable reports whether the post can still be cancelled. Once
// dispatch has begun, in-flight platform calls run to completion and
// their results are recorded regardless.
func (p *Post) Cancellable() bool {
	switch p.Status {
	case StatusDraft, StatusPending, StatusApproved, StatusScheduled:
		return true
	}
	return false
}

// Retryable reports whether a manual retry is permitted.
func (p *Post) Retryable() bool {
	return p.Status == StatusPartial || p.Status == StatusFailed
}

// DeriveStatus computes the authoritative status from the workflow flags
// and platform results. All status writes go through this single rule;
// the stored column must always agree with it.
func DeriveStatus(p *Post, results []PlatformResult, now time.Time) PostStatus {
	if p.CancelledAt != nil {
		return StatusCancelled
	}
	if p.Dispatching {
		return StatusDispatching
	}
	if p.DispatchedAt == nil {
		if p.ApprovedAt != nil {
			if p.ScheduledAt != nil && p.ScheduledAt.After(now) {
				return StatusScheduled
			}
			return StatusApproved
		}
		if p.SubmittedAt != nil {
			return StatusPending
		}
		return StatusDraft
	}
	return DeriveOutcome(p.Platforms, results)
}

// DeriveOutcome aggregates settled per-platform results into the post
// level outcome. A targeted platform with no recorded result counts as a
// failure so a crash mid-dispatch can never surface as published.
func DeriveOutcome(targets []string, results []PlatformResult) PostStatus {
	byPlatform := make(map[string]*PlatformResult, len(results))
	for i := range results {
		byPlatform[results[i].Platform] = &results[i]
	}

	var succeeded, failed int
	for _, target := range targets {
		r, ok := byPlatform[target]
		if ok && r.Success {
			succeeded++
		} else {
			failed++
		}
	}

	switch {
	case failed == 0 && succeeded > 0:
		return StatusPublished
	case succeeded == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// FailedPlatforms returns the targeted platforms without a successful
// result, in target order. This is the retry set.
func FailedPlatforms(targets []string, results []PlatformResult) []string {
	succeeded := make(map[string]bool, len(results))
	for _, r := range results {
		if r.Success {
			succeeded[r.Platform] = true
		}
	}

	var failed []string
	for _, target := range targets {
		if !succeeded[target] {
			failed = append(failed, target)
		}
	}
	return failed
}
