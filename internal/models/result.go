package models

import (
	"time"
)

// PlatformResult records the outcome of publish attempts against one
// platform for one post. A row that has flipped to Success is never
// rewritten by later dispatches.
type PlatformResult struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	PostID   uint   `gorm:"not null;index;uniqueIndex:idx_result_post_platform" json:"post_id"`
	Platform string `gorm:"size:50;not null;uniqueIndex:idx_result_post_platform" json:"platform"`

	Success      bool   `gorm:"default:false" json:"success"`
	ExternalID   string `gorm:"size:255" json:"external_id,omitempty"`
	ErrorKind    string `gorm:"size:50" json:"error_kind,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	AttemptedAt  time.Time  `json:"attempted_at"`
	AttemptCount int        `gorm:"default:0" json:"attempt_count"`
	NextRetryAt  *time.Time `gorm:"index" json:"next_retry_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RetryableAutomatically reports whether the recorded failure is a
// transient kind the automatic retry policy may re-attempt.
func (r *PlatformResult) RetryableAutomatically() bool {
	if r.Success {
		return false
	}
	switch ErrorKind(r.ErrorKind) {
	case ErrKindTimeout, ErrKindRateLimited, ErrKindUnknown:
		return true
	}
	return false
}
