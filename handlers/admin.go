// handlers/admin.go
package handlers

import (
	"rewards-ledger/middleware"
	"rewards-ledger/models"
	"rewards-ledger/services"

	"github.com/gofiber/fiber/v2"
)

func (h *LedgerHandler) CreateTask(c *fiber.Ctx) error {
	var req CreateTaskRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	task, err := h.Tasks.CreateTask(c.UserContext(), middleware.CallerFrom(c), services.TaskInput{
		Title:        req.Title,
		Description:  req.Description,
		Platform:     models.TaskPlatform(req.Platform),
		Link:         req.Link,
		RewardAmount: req.RewardAmount,
		ThumbnailURL: req.ThumbnailURL,
	})
	if err != nil {
		return writeError(c, "CreateTask", err)
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *LedgerHandler) ToggleTask(c *fiber.Ctx) error {
	task, err := h.Tasks.ToggleTask(c.UserContext(), middleware.CallerFrom(c), c.Params("id"))
	if err != nil {
		return writeError(c, "ToggleTask", err)
	}
	return c.JSON(task)
}

func (h *LedgerHandler) DeleteTask(c *fiber.Ctx) error {
	if err := h.Tasks.DeleteTask(c.UserContext(), middleware.CallerFrom(c), c.Params("id")); err != nil {
		return writeError(c, "DeleteTask", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *LedgerHandler) ListAllWithdrawals(c *fiber.Ctx) error {
	out, err := h.Withdrawals.ListWithdrawals(c.UserContext(), middleware.CallerFrom(c), models.WithdrawalStatus(c.Query("status")))
	if err != nil {
		return writeError(c, "ListAllWithdrawals", err)
	}
	return c.JSON(fiber.Map{"withdrawals": out})
}

func (h *LedgerHandler) ResolveWithdrawal(c *fiber.Ctx) error {
	var req ResolveWithdrawalRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	wr, err := h.Withdrawals.Resolve(c.UserContext(), middleware.CallerFrom(c), c.Params("id"), models.WithdrawalStatus(req.Outcome))
	if err != nil {
		return writeError(c, "ResolveWithdrawal", err)
	}
	return c.JSON(wr)
}

func (h *LedgerHandler) GetAnalytics(c *fiber.Ctx) error {
	summary, err := h.Analytics.Snapshot(c.UserContext(), middleware.CallerFrom(c), c.QueryBool("fresh", false))
	if err != nil {
		return writeError(c, "GetAnalytics", err)
	}
	return c.JSON(summary)
}

// ConfirmDeposit and FailDeposit are called by the payment rail's
// settlement bridge. Redelivery answers 200 with applied=false.
func (h *LedgerHandler) ConfirmDeposit(c *fiber.Ctx) error {
	deposit, applied, err := h.Deposits.Confirm(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, "ConfirmDeposit", err)
	}
	return c.JSON(fiber.Map{"deposit": deposit, "applied": applied})
}

func (h *LedgerHandler) FailDeposit(c *fiber.Ctx) error {
	deposit, applied, err := h.Deposits.Fail(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, "FailDeposit", err)
	}
	return c.JSON(fiber.Map{"deposit": deposit, "applied": applied})
}
