package server

import (
	"errors"
	"strconv"
	"strings"

	"crowdledger/internal/middleware"
	"crowdledger/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper.  Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// Pagination holds parsed limit/offset query parameters. A zero Limit means
// the full list.
type Pagination struct {
	Limit  int
	Offset int
}

const maxCampaignIDLength = 64

// parsePagination reads optional limit and offset query parameters.
// On malformed input it writes a 400 JSON response and returns errResponseWritten.
func parsePagination(c *fiber.Ctx) (Pagination, error) {
	var page Pagination
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &page.Limit}, {"offset", &page.Offset}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			_ = models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError(p.name+" must be a non-negative integer"))
			return Pagination{}, errResponseWritten
		}
		*p.dst = v
	}
	return page, nil
}

// parseID extracts the campaign id route parameter.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func (s *Server) parseID(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" || len(id) > maxCampaignIDLength {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid campaign ID"))
		return "", errResponseWritten
	}
	return id, nil
}

// parseOptionalBody decodes the request body into dst when one was sent.
func parseOptionalBody(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(dst); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	return nil
}

// callerID resolves who is acting: a verified token subject first, then the
// client-supplied id when the deployment trusts it.
func (s *Server) callerID(c *fiber.Ctx, claimed string) string {
	if uid := middleware.UserID(c); uid != "" {
		return uid
	}
	if s.config != nil && s.config.TrustClientIdentity {
		return strings.TrimSpace(claimed)
	}
	return ""
}

// callerName resolves the display name the same way as callerID.
func (s *Server) callerName(c *fiber.Ctx, claimed string) string {
	if middleware.UserID(c) != "" {
		return middleware.DisplayName(c)
	}
	if s.config != nil && s.config.TrustClientIdentity {
		return claimed
	}
	return ""
}

func statusForCode(code string) int {
	switch code {
	case models.CodeValidation:
		return fiber.StatusBadRequest
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeStorage:
		return fiber.StatusServiceUnavailable
	case models.CodeCapReached:
		return fiber.StatusConflict
	case models.CodeUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// respondServiceError maps a service error onto its HTTP status.
func respondServiceError(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		if appErr.Code == models.CodeStorage || appErr.Code == models.CodeInternal {
			middleware.Logger.ErrorContext(c.UserContext(), "campaign operation failed",
				"path", c.Path(), "code", appErr.Code, "error", appErr.Error())
		}
		return models.RespondWithError(c, statusForCode(appErr.Code), appErr)
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unexpected error", "path", c.Path(), "error", err.Error())
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}
