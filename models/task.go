package models

import (
	"time"

	"gorm.io/gorm"
)

type TaskPlatform string

const (
	PlatformTikTok          TaskPlatform = "tiktok"
	PlatformInstagramFollow TaskPlatform = "instagram_follow"
	PlatformInstagramReel   TaskPlatform = "instagram_reel"
)

func (p TaskPlatform) Valid() bool {
	switch p {
	case PlatformTikTok, PlatformInstagramFollow, PlatformInstagramReel:
		return true
	}
	return false
}

// Task is operator-managed configuration consumed by the reward engine.
type Task struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	Slug         string         `gorm:"size:160;uniqueIndex;not null" json:"slug"`
	Title        string         `gorm:"not null" json:"title"`
	Description  string         `gorm:"type:text" json:"description,omitempty"`
	Platform     TaskPlatform   `gorm:"size:32;not null" json:"platform"`
	Link         string         `gorm:"type:text;not null" json:"link"`
	RewardAmount int64          `gorm:"not null" json:"reward_amount"`
	ThumbnailURL *string        `gorm:"type:text" json:"thumbnail_url,omitempty"`
	IsActive     bool           `gorm:"not null;index" json:"is_active"`
	CreatedBy    string         `gorm:"size:64" json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// TaskCompletion is the idempotency record for (account, task). The composite
// unique index is what turns concurrent completions into a single winner.
type TaskCompletion struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	AccountID   string    `gorm:"size:64;not null;uniqueIndex:idx_completion_account_task,priority:1;index:idx_completion_account_day,priority:1" json:"account_id"`
	TaskID      string    `gorm:"size:36;not null;uniqueIndex:idx_completion_account_task,priority:2" json:"task_id"`
	Reward      int64     `gorm:"not null" json:"reward"`
	CompletedAt time.Time `gorm:"not null;index:idx_completion_account_day,priority:2" json:"completed_at"`
}
