package ws

import (
	"net/http"

	"recycloai/internal/contextutils"
	"recycloai/internal/realtime"
	"recycloai/internal/response"
)

// WSController upgrades authenticated callers to a websocket that
// receives their own impact updates
type WSController struct {
	hub             *realtime.Hub
	responseBuilder *response.Builder
}

// NewWSController creates a new realtime controller
func NewWSController(hub *realtime.Hub, responseBuilder *response.Builder) *WSController {
	return &WSController{hub: hub, responseBuilder: responseBuilder}
}

// Connect handles GET /api/v1/ws
func (c *WSController) Connect(w http.ResponseWriter, r *http.Request) {
	userID := contextutils.GetUserID(r.Context())
	if userID == "" {
		c.responseBuilder.WriteUnauthorized(w, r, "authentication required")
		return
	}
	c.hub.ServeWS(w, r, userID)
}
