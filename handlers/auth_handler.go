package handlers

import (
	"net/http"

	"planewars/models"
	"planewars/services"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, user, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (h *AuthHandler) GetProfile(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	user, err := h.authService.GetProfile(c.Request.Context(), userID.(uint))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// respondError maps the typed error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	ge := models.AsGameError(err)
	status := http.StatusInternalServerError
	switch ge.Code {
	case models.ErrCodeValidation:
		status = http.StatusBadRequest
	case models.ErrCodeAuthRequired, models.ErrCodeAuthFailed:
		status = http.StatusUnauthorized
	case models.ErrCodeNotFound:
		status = http.StatusNotFound
	case models.ErrCodeConflict:
		status = http.StatusConflict
	case models.ErrCodePermission:
		status = http.StatusForbidden
	case models.ErrCodeTransient:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": ge.Message, "code": ge.Code})
}
