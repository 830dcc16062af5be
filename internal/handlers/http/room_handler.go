package http

import (
	"net/http"
	"strings"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"
	"meetsignal/pkg/errors"
	"meetsignal/pkg/utils"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	roomService ports.RoomService
}

func NewRoomHandler(roomService ports.RoomService) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine, middlewares ...gin.HandlerFunc) {
	api := router.Group("/api/v1/rooms", middlewares...)
	{
		api.POST("", h.CreateRoom)
		api.GET("/:code", h.GetRoom)
	}
}

type CreateRoomRequest struct {
	Name            string `json:"name" binding:"required,max=200"`
	MaxParticipants int    `json:"maxParticipants" binding:"min=0,max=1000"`
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	var createdBy domain.UserID
	if authenticated, ok := c.Get("user_id"); ok {
		if id, ok := authenticated.(string); ok {
			createdBy = domain.UserID(id)
		}
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), strings.TrimSpace(req.Name), createdBy, req.MaxParticipants)
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"roomCode":  room.Code,
		"name":      room.Name,
		"createdAt": utils.FormatTimestamp(room.CreatedAt),
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	code := domain.RoomCode(strings.ToUpper(strings.TrimSpace(c.Param("code"))))
	if code == "" {
		c.Error(errors.NewInvalidInputError("room code is required"))
		return
	}

	room, err := h.roomService.GetRoomByCode(c.Request.Context(), code)
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}

	participantCount := 0
	if participants, err := h.roomService.GetRoomParticipants(c.Request.Context(), room.ID); err == nil {
		participantCount = len(participants)
	}

	c.JSON(http.StatusOK, gin.H{
		"roomCode":         room.Code,
		"name":             room.Name,
		"status":           room.Status,
		"participantCount": participantCount,
		"createdAt":        utils.FormatTimestamp(room.CreatedAt),
	})
}
