package middleware

import (
	"io"
	"strings"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotency_ReplaysFirstResponse(t *testing.T) {
	_, rdb := newTestRedis(t)

	var calls int32
	app := fiber.New()
	app.Post("/donate", Idempotency(rdb, time.Hour), func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"call": n})
	})

	send := func(key string) (*http.Response, string) {
		req := httptest.NewRequest(http.MethodPost, "/donate", nil)
		if key != "" {
			req.Header.Set(IdempotencyHeader, key)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		return resp, string(body)
	}

	first, firstBody := send("k1")
	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.JSONEq(t, `{"call":1}`, firstBody)

	replay, replayBody := send("k1")
	assert.Equal(t, http.StatusOK, replay.StatusCode)
	assert.Equal(t, "true", replay.Header.Get("Idempotent-Replayed"))
	assert.JSONEq(t, firstBody, replayBody)

	_, otherBody := send("k2")
	assert.JSONEq(t, `{"call":2}`, otherBody)

	_, noKeyBody := send("")
	assert.JSONEq(t, `{"call":3}`, noKeyBody)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestIdempotency_KeyReusedWithDifferentBody(t *testing.T) {
	_, rdb := newTestRedis(t)

	var calls int32
	app := fiber.New()
	app.Post("/donate", Idempotency(rdb, time.Hour), func(c *fiber.Ctx) error {
		atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusOK).Send(c.Body())
	})

	send := func(body string) (*http.Response, string) {
		req := httptest.NewRequest(http.MethodPost, "/donate", strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set(IdempotencyHeader, "pay-1")
		resp, err := app.Test(req)
		require.NoError(t, err)
		out, _ := io.ReadAll(resp.Body)
		return resp, string(out)
	}

	first, _ := send(`{"amount":10}`)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	reused, reusedBody := send(`{"amount":5000}`)
	assert.Equal(t, http.StatusUnprocessableEntity, reused.StatusCode)
	assert.Contains(t, reusedBody, "IDEMPOTENCY_KEY_REUSED")

	replay, replayBody := send(`{"amount":10}`)
	assert.Equal(t, http.StatusOK, replay.StatusCode)
	assert.Equal(t, "true", replay.Header.Get("Idempotent-Replayed"))
	assert.JSONEq(t, `{"amount":10}`, replayBody)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIdempotency_ServerErrorsAreNotCached(t *testing.T) {
	_, rdb := newTestRedis(t)

	var calls int32
	app := fiber.New()
	app.Post("/like", Idempotency(rdb, time.Hour), func(c *fiber.Ctx) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return c.SendStatus(fiber.StatusServiceUnavailable)
		}
		return c.SendStatus(fiber.StatusOK)
	})

	for _, want := range []int{http.StatusServiceUnavailable, http.StatusOK, http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/like", nil)
		req.Header.Set(IdempotencyHeader, "retry-me")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdempotency_InProgressConflict(t *testing.T) {
	mr, rdb := newTestRedis(t)
	require.NoError(t, mr.Set("idem:ann:POST /donate:busy", `{"status":0,"fingerprint":"`+bodyFingerprint(nil)+`"}`))

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(LocalUserID, "ann")
		return c.Next()
	})
	app.Post("/donate", Idempotency(rdb, time.Hour), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/donate", nil)
	req.Header.Set(IdempotencyHeader, "busy")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestIdempotency_NilRedisPassesThrough(t *testing.T) {
	app := fiber.New()
	app.Post("/donate", Idempotency(nil, time.Hour), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/donate", nil)
	req.Header.Set(IdempotencyHeader, "k")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}
