// handlers/routes.go
package handlers

import (
	"rewards-ledger/metrics"
	"rewards-ledger/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// SetupLedgerRoutes registers the member, admin and rail routes. The gateway
// middleware is applied globally by the caller.
func SetupLedgerRoutes(app *fiber.App, h *LedgerHandler, limiter *middleware.RateLimiter, identity middleware.TokenValidator) {
	// Rail callbacks carry no member identity, only the gateway token.
	rail := app.Group("/rail")
	rail.Post("/deposits/:id/confirm", h.ConfirmDeposit)
	rail.Post("/deposits/:id/fail", h.FailDeposit)

	if identity != nil {
		app.Get("/ledger/stream", middleware.SSEAuthMiddleware(identity), StreamLedger(h.Accounts))
	}

	secured := app.Group("/s", middleware.UserContextMiddleware())
	limit := limiter.Handler()

	// Admin capability is checked before any handler under /s/admin runs.
	admin := secured.Group("/admin", middleware.AdminOnly())
	admin.Post("/tasks", h.CreateTask)
	admin.Patch("/tasks/:id/toggle", h.ToggleTask)
	admin.Delete("/tasks/:id", h.DeleteTask)
	admin.Get("/withdrawals", h.ListAllWithdrawals)
	admin.Post("/withdrawals/:id/resolve", h.ResolveWithdrawal)
	admin.Get("/analytics", h.GetAnalytics)

	secured.Get("/accounts/me", h.GetMyAccount)
	secured.Get("/accounts/me/entries", h.ListMyEntries)
	secured.Get("/deposits", h.ListDeposits)
	secured.Get("/tasks", h.ListTasks)
	secured.Get("/withdrawals", h.ListMyWithdrawals)
	secured.Get("/referrals/earnings", h.ListReferralEarnings)

	secured.Post("/accounts", limit, h.CreateAccount)
	secured.Post("/deposits", limit, h.CreateDeposit)
	secured.Post("/tasks/:id/complete", limit, h.CompleteTask)
	secured.Post("/withdrawals", limit, h.RequestWithdrawal)
}

// SetupOpsRoutes registers health and metrics endpoints.
func SetupOpsRoutes(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}
