package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crowdledger/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// IdempotencyHeader names the request header carrying the client's retry key.
const IdempotencyHeader = "Idempotency-Key"

const (
	maxIdempotencyKeyLen = 128
	idempotencyLockTTL   = 30 * time.Second
)

// storedResponse is the record kept under a key. Status 0 marks a claim whose
// request has not finished.
type storedResponse struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the first completed response for a repeated
// Idempotency-Key. Keys are scoped per caller and route, and bound to the
// request body: reusing a key with a different body is rejected with 422.
// Without Redis, or when Redis errors, requests pass through unchanged.
func Idempotency(rdb *redis.Client, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := strings.TrimSpace(c.Get(IdempotencyHeader))
		if rdb == nil || key == "" || c.Method() == fiber.MethodGet {
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Idempotency-Key is too long",
				"code":  "VALIDATION_ERROR",
			})
		}

		scope := UserID(c)
		if scope == "" {
			scope = "ip:" + c.IP()
		}
		redisKey := fmt.Sprintf("idem:%s:%s %s:%s", scope, c.Method(), c.Path(), key)
		ctx := c.UserContext()
		fingerprint := bodyFingerprint(c.Body())

		raw, err := rdb.Get(ctx, redisKey).Bytes()
		switch {
		case err == nil:
			var rec storedResponse
			jsonErr := json.Unmarshal(raw, &rec)
			if jsonErr == nil && rec.Fingerprint != fingerprint {
				return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
					"error": "Idempotency-Key was already used with a different request body",
					"code":  "IDEMPOTENCY_KEY_REUSED",
				})
			}
			if jsonErr != nil || rec.Status == 0 {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error": "a request with this Idempotency-Key is in progress",
					"code":  "IDEMPOTENCY_IN_PROGRESS",
				})
			}
			c.Set("Idempotent-Replayed", "true")
			if rec.ContentType != "" {
				c.Set(fiber.HeaderContentType, rec.ContentType)
			}
			return c.Status(rec.Status).Send(rec.Body)
		case !errors.Is(err, redis.Nil):
			observability.RedisErrorRate.WithLabelValues("idempotency").Inc()
			return c.Next()
		}

		claim, _ := json.Marshal(storedResponse{Fingerprint: fingerprint})
		claimed, err := rdb.SetNX(ctx, redisKey, claim, idempotencyLockTTL).Result()
		if err != nil {
			observability.RedisErrorRate.WithLabelValues("idempotency").Inc()
			return c.Next()
		}
		if !claimed {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "a request with this Idempotency-Key is in progress",
				"code":  "IDEMPOTENCY_IN_PROGRESS",
			})
		}

		if err := c.Next(); err != nil {
			rdb.Del(ctx, redisKey)
			return err
		}

		status := c.Response().StatusCode()
		// Server-side failures stay retryable.
		if status >= fiber.StatusInternalServerError {
			rdb.Del(ctx, redisKey)
			return nil
		}

		rec := storedResponse{
			Fingerprint: fingerprint,
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			rdb.Del(ctx, redisKey)
			return nil
		}
		if err := rdb.Set(ctx, redisKey, payload, ttl).Err(); err != nil {
			observability.RedisErrorRate.WithLabelValues("idempotency").Inc()
		}
		return nil
	}
}

func bodyFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
