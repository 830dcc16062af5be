package http

import (
	"net/http"
	"strings"

	"meetsignal/internal/core/ports"
	"meetsignal/internal/infrastructure/monitoring"
	"meetsignal/pkg/errors"
	"meetsignal/pkg/utils"

	"github.com/gin-gonic/gin"
)

type TurnHandler struct {
	turnService ports.TurnService
	metrics     *monitoring.PrometheusCollector
}

func NewTurnHandler(turnService ports.TurnService, metrics *monitoring.PrometheusCollector) *TurnHandler {
	return &TurnHandler{
		turnService: turnService,
		metrics:     metrics,
	}
}

func (h *TurnHandler) SetupRoutes(router *gin.Engine, middlewares ...gin.HandlerFunc) {
	api := router.Group("/api/v1/turn", middlewares...)
	{
		api.POST("/credentials", h.IssueCredentials)
	}
}

type CredentialsRequest struct {
	UserID string `json:"userId" binding:"max=128"`
}

// IssueCredentials returns the ICE server list with a time-boxed relay
// credential injected. An authenticated caller's token identity wins over
// the request body.
func (h *TurnHandler) IssueCredentials(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if authenticated, ok := c.Get("user_id"); ok {
		if id, ok := authenticated.(string); ok && id != "" {
			userID = id
		}
	}
	if userID == "" {
		c.Error(errors.NewInvalidInputError("userId is required"))
		return
	}

	iceServers, cred, err := h.turnService.ICEServers(userID)
	if err != nil {
		c.Error(errors.NewInternalError("failed to issue credentials"))
		return
	}

	if h.metrics != nil {
		h.metrics.RecordCredentialIssued()
	}

	c.JSON(http.StatusOK, gin.H{
		"iceServers": iceServers,
		"ttl":        int(cred.TTL.Seconds()),
		"expiresAt":  utils.FormatTimestamp(cred.ExpiresAt),
	})
}
