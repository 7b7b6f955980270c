package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"shutterbook/middleware"
	"shutterbook/models"
	"shutterbook/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultNotificationLimit = 50

// ListNotifications handles GET /api/users/:id/notifications. Loading the feed
// also runs the expiration check for the user's own reservations.
func (hb *HandlerBundle) ListNotifications(c *gin.Context) {
	userID := c.Param("id")
	if middleware.Actor(c) != userID {
		utils.JSONError(c, http.StatusForbidden, models.CodeForbidden, "cannot read another user's notifications", "")
		return
	}

	limit := defaultNotificationLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.JSONError(c, http.StatusBadRequest, models.CodeValidation, "limit must be a positive integer", "")
			return
		}
		limit = n
	}

	if hb.PartySweep != nil {
		timeout := hb.SweepTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		if err := hb.PartySweep.TriggerParty(ctx, userID); err != nil {
			hb.getLogger(c).Warn("Opportunistic sweep failed", zap.String("userID", userID), zap.Error(err))
		}
		cancel()
	}

	items, err := hb.Inbox.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		hb.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}
