package server

import "github.com/gofiber/fiber/v2"

// FeatureFlagsResponse lists configured flags and their value for the caller.
type FeatureFlagsResponse struct {
	Raw       map[string]string `json:"raw"`
	Evaluated map[string]bool   `json:"evaluated"`
}

// GetFeatureFlags returns configured feature flags and evaluated state for current user.
// @Summary Evaluated feature flags for the caller
// @Tags system
// @Produce json
// @Param userId query string false "Viewer when no bearer token is sent"
// @Success 200 {object} FeatureFlagsResponse
// @Router /feature-flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	userID := s.callerID(c, c.Query("userId"))

	if s.featureFlags == nil {
		return c.JSON(FeatureFlagsResponse{
			Raw:       map[string]string{},
			Evaluated: map[string]bool{},
		})
	}

	return c.JSON(FeatureFlagsResponse{
		Raw:       s.featureFlags.Raw(),
		Evaluated: s.featureFlags.Snapshot(userID),
	})
}
