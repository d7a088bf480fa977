package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"rewards-ledger/logger"
	"rewards-ledger/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func echoCaller(c *fiber.Ctx) error {
	return c.JSON(CallerFrom(c))
}

func status(t *testing.T, app *fiber.App, req *http.Request) int {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("s3cret"))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, status(t, app, req))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "s3cret")
	assert.Equal(t, http.StatusOK, status(t, app, req))
}

func TestUserContextMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(UserContextMiddleware())
	app.Get("/s/me", echoCaller)
	app.Get("/public", echoCaller)

	req := httptest.NewRequest(http.MethodGet, "/s/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodGet, "/public", nil)
	assert.Equal(t, http.StatusOK, status(t, app, req))

	req = httptest.NewRequest(http.MethodGet, "/s/me", nil)
	req.Header.Set("X-User-ID", "acct-1")
	req.Header.Set("X-User-Roles", "member, admin")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"AccountID":"acct-1","IsAdmin":true}`, string(body))
}

func TestAdminOnly(t *testing.T) {
	app := fiber.New()
	app.Use(UserContextMiddleware())
	app.Get("/s/admin/x", AdminOnly(), echoCaller)

	req := httptest.NewRequest(http.MethodGet, "/s/admin/x", nil)
	req.Header.Set("X-User-ID", "acct-1")
	req.Header.Set("X-User-Roles", "member")
	assert.Equal(t, http.StatusForbidden, status(t, app, req))

	req = httptest.NewRequest(http.MethodGet, "/s/admin/x", nil)
	req.Header.Set("X-User-ID", "acct-1")
	req.Header.Set("X-User-Roles", "ADMIN")
	assert.Equal(t, http.StatusOK, status(t, app, req))
}

func TestRateLimiterIsPerMember(t *testing.T) {
	limiter := NewRateLimiter(0.0001, 2)
	app := fiber.New()
	app.Use(UserContextMiddleware())
	app.Post("/s/act", limiter.Handler(), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusCreated) })

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/s/act", nil)
		req.Header.Set("X-User-ID", user)
		return status(t, app, req)
	}

	assert.Equal(t, http.StatusCreated, send("a"))
	assert.Equal(t, http.StatusCreated, send("a"))
	assert.Equal(t, http.StatusTooManyRequests, send("a"))
	assert.Equal(t, http.StatusCreated, send("b"))

	assert.Zero(t, limiter.Cleanup(time.Minute))
	assert.Len(t, limiter.limiters, 2)
}

func TestRateLimiterCleanupEvictsOnlyIdleBuckets(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(0.0001, 1)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.getLimiter("busy").Allow())
	require.True(t, limiter.getLimiter("idle").Allow())

	now = now.Add(9 * time.Minute)
	require.False(t, limiter.getLimiter("busy").Allow())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, limiter.Cleanup(10*time.Minute))
	assert.NotContains(t, limiter.limiters, "idle")
	require.Contains(t, limiter.limiters, "busy")
	assert.False(t, limiter.getLimiter("busy").Allow(), "active member keeps its spent budget")
	assert.True(t, limiter.getLimiter("idle").Allow(), "evicted member starts with a fresh bucket")
}

type fakeValidator struct {
	identity *services.Identity
}

func (f fakeValidator) ValidateToken(_ context.Context, token, deviceID string) (*services.Identity, error) {
	if token != "good" {
		return nil, errors.New("token rejected")
	}
	id := *f.identity
	id.DeviceID = deviceID
	return &id, nil
}

func TestSSEAuthMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/stream", SSEAuthMiddleware(fakeValidator{identity: &services.Identity{UserID: "acct-9", Roles: []string{"member"}}}), echoCaller)

	assert.Equal(t, http.StatusBadRequest, status(t, app, httptest.NewRequest(http.MethodGet, "/stream?token=good", nil)))
	assert.Equal(t, http.StatusUnauthorized, status(t, app, httptest.NewRequest(http.MethodGet, "/stream?token=bad&device_id=d1", nil)))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stream?token=good&device_id=d1", nil), -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"AccountID":"acct-9","IsAdmin":false}`, string(body))
}
