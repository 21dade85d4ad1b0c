package server

import (
	"crowdledger/internal/models"
	"crowdledger/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateCampaignRequest is the body of POST /api/campaigns.
type CreateCampaignRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Goal        float64 `json:"goal"`
	ImageURL    string  `json:"imageUrl,omitempty"`
}

// LikeRequest is the body of the like endpoints.
type LikeRequest struct {
	UserID string `json:"userId"`
}

// CommentRequest is the body of POST /api/campaigns/{id}/comments.
type CommentRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
}

// DonateRequest is the body of POST /api/campaigns/{id}/donations.
type DonateRequest struct {
	UserID string  `json:"userId,omitempty"`
	Amount float64 `json:"amount"`
}

// ListCampaigns handles GET /api/campaigns
// @Summary List campaigns
// @Description Newest first. Without limit the full feed is returned; offset requires limit.
// @Tags campaigns
// @Produce json
// @Param userId query string false "Viewer for isLikedByCurrentUser"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Page offset"
// @Success 200 {array} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /campaigns [get]
func (s *Server) ListCampaigns(c *fiber.Ctx) error {
	page, err := parsePagination(c)
	if err != nil {
		return nil
	}

	campaigns, err := s.campaignService.ListCampaigns(c.UserContext(), service.ListCampaignsInput{
		UserID: s.callerID(c, c.Query("userId")),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(campaigns)
}

// GetCampaign handles GET /api/campaigns/:id
// @Summary Get a campaign
// @Tags campaigns
// @Produce json
// @Param id path string true "Campaign ID"
// @Param userId query string false "Viewer for isLikedByCurrentUser"
// @Success 200 {object} models.Campaign
// @Failure 404 {object} models.ErrorResponse
// @Router /campaigns/{id} [get]
func (s *Server) GetCampaign(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}

	campaign, err := s.campaignService.GetCampaign(c.UserContext(), id, s.callerID(c, c.Query("userId")))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(campaign)
}

// CreateCampaign handles POST /api/campaigns
// @Summary Create a campaign
// @Tags campaigns
// @Accept json
// @Produce json
// @Param request body CreateCampaignRequest true "Campaign"
// @Param Idempotency-Key header string false "Retry key"
// @Success 201 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /campaigns [post]
func (s *Server) CreateCampaign(c *fiber.Ctx) error {
	var req CreateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	campaign, err := s.campaignService.CreateCampaign(c.UserContext(), service.CreateCampaignInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Goal:        req.Goal,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(campaign)
}

// ToggleLike handles POST /api/campaigns/:id/like
// @Summary Toggle the caller's like
// @Tags campaigns
// @Accept json
// @Produce json
// @Param id path string true "Campaign ID"
// @Param request body LikeRequest false "Caller when no bearer token is sent"
// @Success 200 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /campaigns/{id}/like [post]
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}
	var req LikeRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return nil
	}

	campaign, err := s.campaignService.ToggleLike(c.UserContext(), service.LikeInput{
		CampaignID: id,
		UserID:     s.callerID(c, req.UserID),
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(campaign)
}

// LikeCampaign handles PUT /api/campaigns/:id/like
// @Summary Like a campaign (idempotent)
// @Tags campaigns
// @Accept json
// @Produce json
// @Param id path string true "Campaign ID"
// @Param request body LikeRequest false "Caller when no bearer token is sent"
// @Success 200 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /campaigns/{id}/like [put]
func (s *Server) LikeCampaign(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}
	var req LikeRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return nil
	}
	return s.setLike(c, id, s.callerID(c, req.UserID), true)
}

// UnlikeCampaign handles DELETE /api/campaigns/:id/like
// @Summary Remove the caller's like (idempotent)
// @Tags campaigns
// @Produce json
// @Param id path string true "Campaign ID"
// @Param userId query string false "Caller when no bearer token is sent"
// @Success 200 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /campaigns/{id}/like [delete]
func (s *Server) UnlikeCampaign(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}
	return s.setLike(c, id, s.callerID(c, c.Query("userId")), false)
}

func (s *Server) setLike(c *fiber.Ctx, id, userID string, liked bool) error {
	campaign, err := s.campaignService.SetLike(c.UserContext(), service.LikeInput{
		CampaignID: id,
		UserID:     userID,
	}, liked)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(campaign)
}

// AddComment handles POST /api/campaigns/:id/comments
// @Summary Append a comment
// @Tags campaigns
// @Accept json
// @Produce json
// @Param id path string true "Campaign ID"
// @Param request body CommentRequest true "Comment"
// @Success 200 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /campaigns/{id}/comments [post]
func (s *Server) AddComment(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}
	var req CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	campaign, err := s.campaignService.AddComment(c.UserContext(), service.CommentInput{
		CampaignID:  id,
		UserID:      s.callerID(c, req.UserID),
		DisplayName: s.callerName(c, req.DisplayName),
		Text:        req.Text,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(campaign)
}

// Donate handles POST /api/campaigns/:id/donations
// @Summary Donate to a campaign
// @Description Accepted only while the total stays within the goal. A declined donation returns 409 with the unchanged campaign.
// @Tags campaigns
// @Accept json
// @Produce json
// @Param id path string true "Campaign ID"
// @Param request body DonateRequest true "Donation"
// @Param Idempotency-Key header string false "Retry key"
// @Success 200 {object} models.Campaign
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /campaigns/{id}/donations [post]
func (s *Server) Donate(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}
	var req DonateRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	campaign, accepted, err := s.campaignService.Donate(c.UserContext(), service.DonateInput{
		CampaignID: id,
		UserID:     s.callerID(c, req.UserID),
		Amount:     req.Amount,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	if !accepted {
		capErr := models.NewCapReachedError(id)
		return c.Status(fiber.StatusConflict).JSON(models.ErrorResponse{
			Error:    capErr.Message,
			Code:     capErr.Code,
			Campaign: campaign,
		})
	}
	return c.JSON(campaign)
}
