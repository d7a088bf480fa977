package models

import "time"

type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusCompleted DepositStatus = "completed"
	DepositStatusFailed    DepositStatus = "failed"
	// Expired deposits outlived their payment window without word from the
	// rail. The rail can still settle them.
	DepositStatusExpired DepositStatus = "expired"
)

// SettleableDepositStatuses are the states a confirm or fail may move out of.
var SettleableDepositStatuses = []DepositStatus{DepositStatusPending, DepositStatusExpired}

// Deposit is created pending and moves to completed or failed exactly once.
type Deposit struct {
	ID          string        `gorm:"primaryKey;size:36" json:"id"`
	AccountID   string        `gorm:"size:64;not null;index" json:"account_id"`
	Amount      int64         `gorm:"not null" json:"amount"`
	PhoneNumber string        `gorm:"size:20" json:"phone_number,omitempty"`
	Status      DepositStatus `gorm:"size:16;not null;default:'pending';index" json:"status"`
	CreatedAt   time.Time     `gorm:"index" json:"created_at"`
	SettledAt   *time.Time    `json:"settled_at,omitempty"`
}
