package middleware

import (
	"errors"
	"strings"
	"time"

	"crowdledger/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Fiber locals populated by Identity.
const (
	LocalUserID      = "userID"
	LocalDisplayName = "displayName"
)

// IdentityClaims are the claims the external identity provider issues.
type IdentityClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity resolves the caller from an optional bearer token. Requests without
// an Authorization header continue anonymously; a malformed or invalid token
// is rejected with 401.
func Identity(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Next()
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid authorization header format"))
		}

		claims, err := ParseIdentityToken(secret, parts[1])
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		c.Locals(LocalUserID, claims.Subject)
		if claims.Name != "" {
			c.Locals(LocalDisplayName, claims.Name)
		}

		return c.Next()
	}
}

// ParseIdentityToken validates an HMAC-signed token and returns its claims.
func ParseIdentityToken(secret, tokenString string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("missing subject")
	}
	return claims, nil
}

// IssueIdentityToken signs a token for userID. Used by tooling and tests that
// stand in for the identity provider.
func IssueIdentityToken(secret, userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := IdentityClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// UserID returns the verified caller ID, or "" when the request is anonymous.
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(LocalUserID).(string)
	return uid
}

// DisplayName returns the verified caller's display name, if any.
func DisplayName(c *fiber.Ctx) string {
	name, _ := c.Locals(LocalDisplayName).(string)
	return name
}
