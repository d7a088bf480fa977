package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"rewards-ledger/logger"
	"rewards-ledger/metrics"
	"rewards-ledger/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// TaskRewardEngine grants task rewards. Each completion runs in one
// transaction that locks the member's account row, so the existence check,
// the daily cap recount, the completion insert and the credit commit
// together or not at all. The unique (account_id, task_id) index is the
// final arbiter when two calls race the same pair.
type TaskRewardEngine struct {
	store    *Store
	accounts *AccountRegistry
	rules    Rules
	now      func() time.Time
}

func NewTaskRewardEngine(store *Store, accounts *AccountRegistry, rules Rules, now func() time.Time) *TaskRewardEngine {
	if now == nil {
		now = time.Now
	}
	return &TaskRewardEngine{store: store, accounts: accounts, rules: rules, now: now}
}

// Complete records that accountID performed taskID and credits the reward.
func (e *TaskRewardEngine) Complete(ctx context.Context, accountID, taskID string) (*models.TaskCompletion, error) {
	var (
		completion *models.TaskCompletion
		entry      *models.LedgerEntry
	)
	err := e.store.Transact(ctx, func(tx *gorm.DB) error {
		completion, entry = nil, nil

		acct, err := e.accounts.lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		if !acct.IsActive {
			return newError(KindAccountInactive, "account is not active: make a deposit of at least %s to start earning", e.rules.amount(e.rules.MinDeposit))
		}

		var done int64
		if err := tx.Model(&models.TaskCompletion{}).
			Where("account_id = ? AND task_id = ?", accountID, taskID).
			Count(&done).Error; err != nil {
			return err
		}
		if done > 0 {
			return newError(KindAlreadyCompleted, "task %s already completed", taskID)
		}

		now := e.now().UTC()
		today, err := e.countBetween(tx, accountID, now)
		if err != nil {
			return err
		}
		if today >= int64(e.rules.DailyTaskCap) {
			return newError(KindDailyCapReached, "daily limit reached: at most %d tasks per day", e.rules.DailyTaskCap)
		}

		var task models.Task
		if err := tx.Unscoped().First(&task, "id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(KindNotFound, "task %s not found", taskID)
			}
			return err
		}
		if task.DeletedAt.Valid || !task.IsActive {
			return newError(KindTaskUnavailable, "task %s is not available", taskID)
		}

		c := &models.TaskCompletion{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			TaskID:      taskID,
			Reward:      task.RewardAmount,
			CompletedAt: now,
		}
		if err := tx.Create(c).Error; err != nil {
			if isUniqueViolation(err) {
				return newError(KindAlreadyCompleted, "task %s already completed", taskID)
			}
			return err
		}

		entry, err = e.accounts.credit(tx, accountID, task.RewardAmount, models.EntryReasonTaskReward, c.ID)
		if err != nil {
			return err
		}
		completion = c
		return nil
	})
	metrics.ObserveOperation("task_complete", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	recordEntries(entry)
	return completion, nil
}

func (e *TaskRewardEngine) countBetween(db *gorm.DB, accountID string, at time.Time) (int64, error) {
	start, end := e.rules.dayBounds(at)
	var n int64
	err := db.Model(&models.TaskCompletion{}).
		Where("account_id = ? AND completed_at >= ? AND completed_at < ?", accountID, start, end).
		Count(&n).Error
	return n, err
}

// CompletionsToday counts the member's completions in the current ledger day.
func (e *TaskRewardEngine) CompletionsToday(ctx context.Context, accountID string) (int64, error) {
	return e.countBetween(e.store.DB.WithContext(ctx), accountID, e.now())
}

// TaskInput is the admin payload for a new task.
type TaskInput struct {
	Title        string
	Description  string
	Platform     models.TaskPlatform
	Link         string
	RewardAmount int64
	ThumbnailURL string
}

func (in TaskInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return newError(KindValidation, "task title is required")
	}
	if !in.Platform.Valid() {
		return newError(KindValidation, "platform must be one of tiktok, instagram_follow, instagram_reel")
	}
	u, err := url.Parse(strings.TrimSpace(in.Link))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return newError(KindValidation, "task link must be an absolute http(s) URL")
	}
	if in.RewardAmount <= 0 {
		return newError(KindValidation, "reward amount must be positive")
	}
	return nil
}

func (e *TaskRewardEngine) CreateTask(ctx context.Context, caller Caller, in TaskInput) (*models.Task, error) {
	if err := caller.requireAdmin(); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	id := uuid.NewString()
	task := &models.Task{
		ID:           id,
		Slug:         slug.Make(in.Title) + "-" + id[:8],
		Title:        strings.TrimSpace(in.Title),
		Description:  strings.TrimSpace(in.Description),
		Platform:     in.Platform,
		Link:         strings.TrimSpace(in.Link),
		RewardAmount: in.RewardAmount,
		IsActive:     true,
		CreatedBy:    caller.AccountID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if thumb := strings.TrimSpace(in.ThumbnailURL); thumb != "" {
		task.ThumbnailURL = &thumb
	}
	err := e.store.DB.WithContext(ctx).Create(task).Error
	metrics.ObserveOperation("task_create", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	logger.Infof("Task %s (%s) created by %s with reward %d", task.ID, task.Platform, caller.AccountID, task.RewardAmount)
	return task, nil
}

// ToggleTask flips is_active and returns the updated task.
func (e *TaskRewardEngine) ToggleTask(ctx context.Context, caller Caller, taskID string) (*models.Task, error) {
	if err := caller.requireAdmin(); err != nil {
		return nil, err
	}
	var task models.Task
	err := e.store.Transact(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.Task{}).
			Where("id = ?", taskID).
			Updates(map[string]interface{}{
				"is_active":  gorm.Expr("NOT is_active"),
				"updated_at": e.now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return newError(KindNotFound, "task %s not found", taskID)
		}
		return tx.First(&task, "id = ?", taskID).Error
	})
	metrics.ObserveOperation("task_toggle", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask soft-deletes the task. Completion rows keep referencing it and
// deleting an already-deleted task succeeds.
func (e *TaskRewardEngine) DeleteTask(ctx context.Context, caller Caller, taskID string) error {
	if err := caller.requireAdmin(); err != nil {
		return err
	}
	db := e.store.DB.WithContext(ctx)
	var n int64
	if err := db.Unscoped().Model(&models.Task{}).Where("id = ?", taskID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return newError(KindNotFound, "task %s not found", taskID)
	}
	err := db.Delete(&models.Task{}, "id = ?", taskID).Error
	metrics.ObserveOperation("task_delete", outcomeOf(err))
	return err
}

// TaskView is a task as shown to one caller.
type TaskView struct {
	models.Task
	Completed bool `json:"completed"`
}

// TaskBoard is the member's task list plus today's quota.
type TaskBoard struct {
	Tasks          []TaskView `json:"tasks"`
	CompletedToday int64      `json:"completed_today"`
	RemainingToday int64      `json:"remaining_today"`
}

// ListTasks returns every non-deleted task for admins and the active ones
// for members, each flagged with whether the caller already completed it.
func (e *TaskRewardEngine) ListTasks(ctx context.Context, caller Caller) (*TaskBoard, error) {
	if err := caller.requireMember(); err != nil {
		return nil, err
	}
	db := e.store.DB.WithContext(ctx)

	var tasks []models.Task
	q := db.Order("created_at DESC")
	if !caller.IsAdmin {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}

	var doneIDs []string
	if err := db.Model(&models.TaskCompletion{}).
		Where("account_id = ?", caller.AccountID).
		Pluck("task_id", &doneIDs).Error; err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(doneIDs))
	for _, id := range doneIDs {
		done[id] = struct{}{}
	}

	board := &TaskBoard{Tasks: make([]TaskView, 0, len(tasks))}
	for _, t := range tasks {
		_, ok := done[t.ID]
		board.Tasks = append(board.Tasks, TaskView{Task: t, Completed: ok})
	}

	today, err := e.countBetween(db, caller.AccountID, e.now())
	if err != nil {
		return nil, err
	}
	board.CompletedToday = today
	if remaining := int64(e.rules.DailyTaskCap) - today; remaining > 0 {
		board.RemainingToday = remaining
	}
	return board, nil
}
