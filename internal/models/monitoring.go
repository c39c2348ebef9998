package models

import (
	"time"
)

// ErrorLog captures orchestrator faults for the operations dashboard.
type ErrorLog struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Level        string     `gorm:"size:20;not null;index" json:"level"`
	Source       string     `gorm:"size:100;not null;index" json:"source"`
	PlatformName string     `gorm:"size:100;index" json:"platform_name"`
	PostID       *uint      `gorm:"index" json:"post_id"`
	ResultID     *uint      `gorm:"index" json:"result_id"`
	Title        string     `gorm:"size:500;not null" json:"title"`
	Message      string     `gorm:"type:text;not null" json:"message"`
	Context      string     `gorm:"type:jsonb" json:"context"`
	Resolved     bool       `gorm:"default:false;index" json:"resolved"`
	ResolvedAt   *time.Time `json:"resolved_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Post *Post `gorm:"foreignKey:PostID" json:"post,omitempty"`
}

// MetricsSample is one raw counter/gauge observation.
type MetricsSample struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MetricName string    `gorm:"size:100;not null;index" json:"metric_name"`
	MetricType string    `gorm:"size:50;not null" json:"metric_type"` // gauge, counter
	Value      float64   `gorm:"not null" json:"value"`
	Tags       string    `gorm:"type:jsonb" json:"tags"`
	Timestamp  time.Time `gorm:"not null;index" json:"timestamp"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// DailyStats is the per-day rollup backing the dashboard counters.
type DailyStats struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Date           time.Time `gorm:"uniqueIndex;not null" json:"date"`
	TotalPosts     int       `gorm:"default:0" json:"total_posts"`
	DraftPosts     int       `gorm:"default:0" json:"draft_posts"`
	PendingPosts   int       `gorm:"default:0" json:"pending_posts"`
	ScheduledPosts int       `gorm:"default:0" json:"scheduled_posts"`
	PublishedPosts int       `gorm:"default:0" json:"published_posts"`
	PartialPosts   int       `gorm:"default:0" json:"partial_posts"`
	FailedPosts    int       `gorm:"default:0" json:"failed_posts"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlatformDailyStats tracks publish outcomes per platform per day.
type PlatformDailyStats struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Date          time.Time  `gorm:"index;not null;uniqueIndex:idx_platform_stats_day" json:"date"`
	PlatformName  string     `gorm:"size:100;not null;uniqueIndex:idx_platform_stats_day" json:"platform_name"`
	Successes     int        `gorm:"default:0" json:"successes"`
	Failures      int        `gorm:"default:0" json:"failures"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	LastFailureAt *time.Time `json:"last_failure_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
