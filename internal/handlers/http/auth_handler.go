package http

import (
	"net/http"
	"strings"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	apperrors "parley/pkg/errors"
	"parley/pkg/validation"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	auth ports.Authenticator
}

func NewAuthHandler(auth ports.Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/api/login", h.Login)
}

type LoginRequest struct {
	Username string `json:"username" binding:"required,max=50"`
}

// Login issues the opaque token the websocket endpoint requires. The
// username doubles as the user identity; a production deployment would swap
// in a credential check in front of token issuance.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		c.Abort()
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if err := validation.ValidateUsername(req.Username); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		c.Abort()
		return
	}

	userID := domain.UserID(req.Username)
	token, err := h.auth.IssueToken(userID, req.Username)
	if err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError))
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"token":   token,
	})
}
