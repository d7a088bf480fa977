// handlers/ledger.go
package handlers

import (
	"rewards-ledger/middleware"
	"rewards-ledger/models"
	"rewards-ledger/services"

	"github.com/gofiber/fiber/v2"
)

// LedgerHandler exposes the ledger components over HTTP. Each handler
// resolves the caller from locals and passes it down explicitly.
type LedgerHandler struct {
	Accounts    *services.AccountRegistry
	Deposits    *services.DepositProcessor
	Referrals   *services.ReferralCommissionEngine
	Tasks       *services.TaskRewardEngine
	Withdrawals *services.WithdrawalLifecycle
	Analytics   *services.AnalyticsAggregator
}

func (h *LedgerHandler) CreateAccount(c *fiber.Ctx) error {
	var req CreateAccountRequest
	if len(c.Body()) > 0 {
		if ok, err := bind(c, &req); !ok {
			return err
		}
	}
	caller := middleware.CallerFrom(c)
	acct, err := h.Accounts.CreateAccount(c.UserContext(), caller.AccountID, req.ReferralCode)
	if err != nil {
		return writeError(c, "CreateAccount", err)
	}
	return c.Status(fiber.StatusCreated).JSON(acct)
}

func (h *LedgerHandler) GetMyAccount(c *fiber.Ctx) error {
	acct, err := h.Accounts.Get(c.UserContext(), middleware.CallerFrom(c).AccountID)
	if err != nil {
		return writeError(c, "GetMyAccount", err)
	}
	return c.JSON(acct)
}

func (h *LedgerHandler) ListMyEntries(c *fiber.Ctx) error {
	entries, err := h.Accounts.ListEntries(c.UserContext(), middleware.CallerFrom(c).AccountID, c.QueryInt("limit", 50))
	if err != nil {
		return writeError(c, "ListMyEntries", err)
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (h *LedgerHandler) CreateDeposit(c *fiber.Ctx) error {
	var req DepositRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	deposit, instruction, err := h.Deposits.RecordIntent(c.UserContext(), middleware.CallerFrom(c).AccountID, req.Amount, req.PhoneNumber)
	if err != nil {
		return writeError(c, "CreateDeposit", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"deposit":     deposit,
		"instruction": instruction,
	})
}

func (h *LedgerHandler) ListDeposits(c *fiber.Ctx) error {
	deposits, err := h.Deposits.ListDeposits(c.UserContext(), middleware.CallerFrom(c).AccountID)
	if err != nil {
		return writeError(c, "ListDeposits", err)
	}
	return c.JSON(fiber.Map{"deposits": deposits})
}

func (h *LedgerHandler) ListTasks(c *fiber.Ctx) error {
	board, err := h.Tasks.ListTasks(c.UserContext(), middleware.CallerFrom(c))
	if err != nil {
		return writeError(c, "ListTasks", err)
	}
	return c.JSON(board)
}

func (h *LedgerHandler) CompleteTask(c *fiber.Ctx) error {
	completion, err := h.Tasks.Complete(c.UserContext(), middleware.CallerFrom(c).AccountID, c.Params("id"))
	if err != nil {
		return writeError(c, "CompleteTask", err)
	}
	return c.Status(fiber.StatusCreated).JSON(completion)
}

func (h *LedgerHandler) RequestWithdrawal(c *fiber.Ctx) error {
	var req WithdrawalRequestBody
	if ok, err := bind(c, &req); !ok {
		return err
	}
	wr, err := h.Withdrawals.Request(c.UserContext(), middleware.CallerFrom(c).AccountID, req.Amount, req.PhoneNumber)
	if err != nil {
		return writeError(c, "RequestWithdrawal", err)
	}
	return c.Status(fiber.StatusCreated).JSON(wr)
}

func (h *LedgerHandler) ListMyWithdrawals(c *fiber.Ctx) error {
	caller := middleware.CallerFrom(c)
	// Members only ever see their own requests here, admins included.
	caller.IsAdmin = false
	out, err := h.Withdrawals.ListWithdrawals(c.UserContext(), caller, models.WithdrawalStatus(c.Query("status")))
	if err != nil {
		return writeError(c, "ListMyWithdrawals", err)
	}
	return c.JSON(fiber.Map{"withdrawals": out})
}

func (h *LedgerHandler) ListReferralEarnings(c *fiber.Ctx) error {
	summary, err := h.Referrals.ListEarnings(c.UserContext(), middleware.CallerFrom(c).AccountID)
	if err != nil {
		return writeError(c, "ListReferralEarnings", err)
	}
	return c.JSON(summary)
}
