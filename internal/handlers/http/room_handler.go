package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	apperrors "parley/pkg/errors"
	"parley/pkg/utils"
	"parley/pkg/validation"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	rooms    ports.RoomRepository
	messages ports.MessageRepository
	relay    ports.MessageService
	auth     ports.Authenticator
}

func NewRoomHandler(rooms ports.RoomRepository, messages ports.MessageRepository, relay ports.MessageService, auth ports.Authenticator) *RoomHandler {
	return &RoomHandler{rooms: rooms, messages: messages, relay: relay, auth: auth}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/rooms", h.requireAuth)
	{
		api.GET("", h.ListRooms)
		api.POST("", h.CreateRoom)
		api.GET("/:id/messages", h.ListMessages)
		api.PUT("/:id/messages/:msgId", h.EditMessage)
		api.DELETE("/:id/messages/:msgId", h.DeleteMessage)
	}
}

// requireAuth resolves the bearer token through the authentication
// collaborator and stashes the identity on the request context.
func (h *RoomHandler) requireAuth(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	user, err := h.auth.Verify(token)
	if err != nil {
		c.Error(apperrors.NewUnauthorizedError("unauthorized"))
		c.Abort()
		return
	}
	c.Set("user_id", string(user))
	c.Next()
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.List(c.Request.Context())
	if err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list rooms", http.StatusInternalServerError))
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

type CreateRoomRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		c.Abort()
		return
	}

	room := &domain.Room{
		ID:    domain.RoomID(utils.NewRoomID()),
		Name:  strings.TrimSpace(req.Name),
		Owner: domain.UserID(c.GetString("user_id")),
	}
	if err := h.rooms.Create(c.Request.Context(), room); err != nil {
		c.Error(apperrors.NewPersistenceError(err))
		c.Abort()
		return
	}
	c.JSON(http.StatusCreated, room)
}

// ListMessages returns room history. Soft-deleted messages stay in the list
// as tombstones with their content cleared.
func (h *RoomHandler) ListMessages(c *gin.Context) {
	roomID := c.Param("id")
	if err := validation.ValidateRoomID(roomID); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		c.Abort()
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	messages, err := h.messages.ListByRoom(c.Request.Context(), domain.RoomID(roomID), limit)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			c.Error(apperrors.NewNotFoundError("room"))
		} else {
			c.Error(apperrors.NewPersistenceError(err))
		}
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage performs the durable author-checked edit and fans the committed
// record out to the room, same path as the realtime edit event.
func (h *RoomHandler) EditMessage(c *gin.Context) {
	roomID := c.Param("id")
	if err := validation.ValidateRoomID(roomID); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		c.Abort()
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		c.Abort()
		return
	}
	if err := validation.ValidateContent(req.Content); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		c.Abort()
		return
	}

	msg, err := h.relay.Edit(c.Request.Context(), domain.RoomID(roomID),
		domain.MessageID(c.Param("msgId")), domain.UserID(c.GetString("user_id")), req.Content)
	if err != nil {
		c.Error(messageMutationError(err))
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage soft-deletes and relays the tombstone to the room.
func (h *RoomHandler) DeleteMessage(c *gin.Context) {
	roomID := c.Param("id")
	if err := validation.ValidateRoomID(roomID); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		c.Abort()
		return
	}

	msg, err := h.relay.Delete(c.Request.Context(), domain.RoomID(roomID),
		domain.MessageID(c.Param("msgId")), domain.UserID(c.GetString("user_id")))
	if err != nil {
		c.Error(messageMutationError(err))
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, msg)
}

func messageMutationError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		return apperrors.NewNotFoundError("message")
	case errors.Is(err, domain.ErrNotAuthor):
		return apperrors.NewForbiddenError("not the message author")
	case errors.Is(err, domain.ErrMessageDeleted):
		return apperrors.NewInvalidInputError("message is deleted")
	default:
		return apperrors.NewPersistenceError(err)
	}
}
