package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"rewards-ledger/logger"
	"rewards-ledger/middleware"
	"rewards-ledger/models"
	"rewards-ledger/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testToken = "gateway-secret"

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type nopRail struct{}

func (nopRail) Initiate(context.Context, services.PaymentInstruction) error { return nil }

func setupTestApp(t *testing.T) (*fiber.App, *LedgerHandler) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))

	rules := services.DefaultRules()
	rules.CommissionRate = decimal.RequireFromString("0.4")
	rules.MerchantCode = "778899"

	store := services.NewStore(db, 3, time.Millisecond)
	accounts := services.NewAccountRegistry(store, nil)
	referrals := services.NewReferralCommissionEngine(store, accounts, rules.CommissionRate, nil)
	h := &LedgerHandler{
		Accounts:    accounts,
		Deposits:    services.NewDepositProcessor(store, accounts, referrals, nopRail{}, rules, nil),
		Referrals:   referrals,
		Tasks:       services.NewTaskRewardEngine(store, accounts, rules, nil),
		Withdrawals: services.NewWithdrawalLifecycle(store, accounts, rules, nil),
		Analytics:   services.NewAnalyticsAggregator(store, nil, rules, nil),
	}

	app := fiber.New()
	SetupOpsRoutes(app)
	app.Use(middleware.GatewayAuthMiddleware(testToken))
	SetupLedgerRoutes(app, h, middleware.NewRateLimiter(1000, 1000), nil)
	return app, h
}

type call struct {
	method string
	path   string
	body   string
	user   string
	roles  string
}

func do(t *testing.T, app *fiber.App, c call) (int, map[string]interface{}) {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	if c.roles != "" {
		req.Header.Set("X-User-Roles", c.roles)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestHealthzSkipsGatewayAuth(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/s/accounts/me", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMemberFlowOverHTTP(t *testing.T) {
	app, h := setupTestApp(t)

	status, referrer := do(t, app, call{method: http.MethodPost, path: "/s/accounts", user: "referrer"})
	require.Equal(t, http.StatusCreated, status)
	code := referrer["referral_code"].(string)

	status, _ = do(t, app, call{method: http.MethodPost, path: "/s/accounts", user: "member",
		body: `{"referral_code":"` + strings.ToLower(code) + `"}`})
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, app, call{method: http.MethodPost, path: "/s/deposits", user: "member",
		body: `{"amount":1000}`})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation", body["code"])
	require.Equal(t, "minimum deposit is 2,000 RWF", body["error"])

	status, body = do(t, app, call{method: http.MethodPost, path: "/s/deposits", user: "member",
		body: `{"amount":3000,"phone_number":"0781234567"}`})
	require.Equal(t, http.StatusCreated, status)
	instruction := body["instruction"].(map[string]interface{})
	require.Equal(t, "*182*8*1*778899*3000#", instruction["dial_string"])
	depositID := body["deposit"].(map[string]interface{})["id"].(string)

	status, body = do(t, app, call{method: http.MethodPost, path: "/rail/deposits/" + depositID + "/confirm"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["applied"])

	status, body = do(t, app, call{method: http.MethodPost, path: "/rail/deposits/" + depositID + "/confirm"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, body["applied"])

	status, body = do(t, app, call{method: http.MethodGet, path: "/s/accounts/me", user: "member"})
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 3000, body["balance"])
	require.Equal(t, true, body["is_active"])

	status, body = do(t, app, call{method: http.MethodGet, path: "/s/referrals/earnings", user: "referrer"})
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1200, body["total"])

	task, err := h.Tasks.CreateTask(context.Background(), services.Caller{AccountID: "ops", IsAdmin: true}, services.TaskInput{
		Title: "Watch", Platform: models.PlatformTikTok, Link: "https://tiktok.com/v/1", RewardAmount: 50,
	})
	require.NoError(t, err)

	status, _ = do(t, app, call{method: http.MethodPost, path: "/s/tasks/" + task.ID + "/complete", user: "member"})
	require.Equal(t, http.StatusCreated, status)

	status, body = do(t, app, call{method: http.MethodPost, path: "/s/tasks/" + task.ID + "/complete", user: "member"})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "already_completed", body["code"])

	status, body = do(t, app, call{method: http.MethodGet, path: "/s/tasks", user: "member"})
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 19, body["remaining_today"])

	status, body = do(t, app, call{method: http.MethodGet, path: "/s/accounts/me/entries", user: "member"})
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["entries"], 2)
}

func TestWithdrawalOverHTTP(t *testing.T) {
	app, h := setupTestApp(t)
	ctx := context.Background()
	_, err := h.Accounts.CreateAccount(ctx, "member", "")
	require.NoError(t, err)
	dep, _, err := h.Deposits.RecordIntent(ctx, "member", 15000, "")
	require.NoError(t, err)
	_, _, err = h.Deposits.Confirm(ctx, dep.ID)
	require.NoError(t, err)

	status, body := do(t, app, call{method: http.MethodPost, path: "/s/withdrawals", user: "member",
		body: `{"amount":13000,"phone_number":"0780000000"}`})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "insufficient_funds", body["code"])

	status, body = do(t, app, call{method: http.MethodPost, path: "/s/withdrawals", user: "member",
		body: `{"amount":10000}`})
	require.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, body["details"])

	status, body = do(t, app, call{method: http.MethodPost, path: "/s/withdrawals", user: "member",
		body: `{"amount":10000,"phone_number":"0780000000"}`})
	require.Equal(t, http.StatusCreated, status)
	id := body["id"].(string)

	resolve := call{method: http.MethodPost, path: "/s/admin/withdrawals/" + id + "/resolve", user: "member",
		body: `{"outcome":"rejected"}`}
	status, _ = do(t, app, resolve)
	require.Equal(t, http.StatusForbidden, status)

	resolve.user, resolve.roles = "ops", "staff,admin"
	status, body = do(t, app, resolve)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "rejected", body["status"])

	status, body = do(t, app, resolve)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "already_processed", body["code"])

	status, body = do(t, app, call{method: http.MethodGet, path: "/s/accounts/me", user: "member"})
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 15000, body["balance"])
}

func TestAdminTaskRoutes(t *testing.T) {
	app, _ := setupTestApp(t)
	asAdmin := func(c call) call { c.user, c.roles = "ops", "admin"; return c }

	status, body := do(t, app, asAdmin(call{method: http.MethodPost, path: "/s/admin/tasks",
		body: `{"title":"Follow","platform":"facebook","link":"https://x.y","reward_amount":50}`}))
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body["details"], "Platform must be one of: tiktok instagram_follow instagram_reel")

	status, body = do(t, app, asAdmin(call{method: http.MethodPost, path: "/s/admin/tasks",
		body: `{"title":"Follow","platform":"instagram_follow","link":"https://instagram.com/brand","reward_amount":50}`}))
	require.Equal(t, http.StatusCreated, status)
	id := body["id"].(string)

	status, body = do(t, app, asAdmin(call{method: http.MethodPatch, path: "/s/admin/tasks/" + id + "/toggle"}))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, body["is_active"])

	status, _ = do(t, app, asAdmin(call{method: http.MethodDelete, path: "/s/admin/tasks/" + id}))
	require.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, app, call{method: http.MethodDelete, path: "/s/admin/tasks/" + id, user: "member"})
	require.Equal(t, http.StatusForbidden, status)

	status, body = do(t, app, asAdmin(call{method: http.MethodGet, path: "/s/admin/analytics"}))
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 0, body["gross_income"])
}

func TestMissingUserContext(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := do(t, app, call{method: http.MethodGet, path: "/s/deposits"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthorized", body["code"])
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, fiber.StatusBadRequest, statusFor(services.KindValidation))
	require.Equal(t, fiber.StatusConflict, statusFor(services.KindDailyCapReached))
	require.Equal(t, fiber.StatusConflict, statusFor(services.KindAccountInactive))
	require.Equal(t, fiber.StatusUnprocessableEntity, statusFor(services.KindInsufficientFunds))
	require.Equal(t, fiber.StatusNotFound, statusFor(services.KindNotFound))
	require.Equal(t, fiber.StatusForbidden, statusFor(services.KindUnauthorized))
}
