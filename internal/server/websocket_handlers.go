package server

import (
	"encoding/json"
	"log/slog"

	"crowdledger/internal/featureflags"
	"crowdledger/internal/middleware"
	"crowdledger/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// localViewerID carries the resolved viewer into the websocket handler.
const localViewerID = "feedViewerID"

// requireWebSocketUpgrade rejects plain HTTP requests to websocket routes and
// applies the live_feed rollout.
func (s *Server) requireWebSocketUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	viewer := s.callerID(c, c.Query("userId"))
	if !s.featureFlags.Enabled(featureflags.LiveFeed, viewer) {
		return models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundError("Feature", featureflags.LiveFeed))
	}
	c.Locals(localViewerID, viewer)
	return c.Next()
}

// FeedWebSocketHandler streams campaign events to the viewer.
// @Summary Live campaign feed
// @Description Websocket. Each text frame is {"type": "campaign_created"|"campaign_updated", "payload": Campaign}.
// @Tags campaigns
// @Param userId query string false "Viewer when no bearer token is sent"
// @Success 101
// @Failure 404 {object} models.ErrorResponse
// @Failure 426 {object} models.ErrorResponse
// @Router /ws/feed [get]
func (s *Server) FeedWebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		viewer, _ := conn.Locals(localViewerID).(string)

		client, err := s.feedHub.Register(viewer, conn)
		if err != nil {
			middleware.Logger.Warn("feed connection rejected",
				slog.String("user_id", viewer),
				slog.String("error", err.Error()),
			)
			msg, _ := json.Marshal(fiber.Map{"type": "error", "payload": fiber.Map{"error": err.Error()}})
			_ = conn.WriteMessage(websocket.TextMessage, msg)
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	})
}
