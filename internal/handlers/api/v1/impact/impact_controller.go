// ===============================
// FILE: internal/handlers/api/v1/impact/impact_controller.go
// ===============================

package impact

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"recycloai/internal/contextutils"
	"recycloai/internal/response"
	"recycloai/internal/services"
)

// ImpactController serves a user's impact, achievements and the leaderboard
type ImpactController struct {
	serviceCollection *services.ServiceCollection
	responseBuilder   *response.Builder
	logger            *zap.Logger
}

// NewImpactController creates a new impact controller
func NewImpactController(
	serviceCollection *services.ServiceCollection,
	logger *zap.Logger,
	responseBuilder *response.Builder,
) *ImpactController {
	return &ImpactController{
		serviceCollection: serviceCollection,
		responseBuilder:   responseBuilder,
		logger:            logger,
	}
}

// GetImpact handles GET /api/v1/impact
func (c *ImpactController) GetImpact(w http.ResponseWriter, r *http.Request) {
	summary, err := c.serviceCollection.ImpactService.GetImpact(r.Context(), contextutils.GetUserID(r.Context()))
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteSuccess(w, r, summary)
}

// GetAchievements handles GET /api/v1/achievements
func (c *ImpactController) GetAchievements(w http.ResponseWriter, r *http.Request) {
	userID := contextutils.GetUserID(r.Context())
	if userID == "" {
		c.responseBuilder.WriteUnauthorized(w, r, "authentication required")
		return
	}

	statuses, err := c.serviceCollection.AchievementService.ListForUser(r.Context(), userID)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteSuccess(w, r, statuses)
}

// GetLeaderboard handles GET /api/v1/leaderboard?limit=
func (c *ImpactController) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.responseBuilder.WriteBadRequest(w, r, "limit must be a positive integer")
			return
		}
		limit = n
	}

	board, err := c.serviceCollection.ImpactService.Leaderboard(r.Context(), limit)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteSuccess(w, r, board)
}
