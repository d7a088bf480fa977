package models

import "time"

type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
)

// WithdrawalRequest reserves Amount from the account at creation time.
type WithdrawalRequest struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	AccountID   string           `gorm:"size:64;not null;index" json:"account_id"`
	Amount      int64            `gorm:"not null" json:"amount"`
	PhoneNumber string           `gorm:"size:20;not null" json:"phone_number"`
	Status      WithdrawalStatus `gorm:"size:16;not null;default:'pending';index" json:"status"`
	ProcessedBy string           `gorm:"size:64" json:"processed_by,omitempty"`
	CreatedAt   time.Time        `gorm:"index" json:"created_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
}
