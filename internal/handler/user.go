package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"delivery/internal/domain"
	"delivery/internal/service"
)

// UserService manages the caller's profile.
type UserService interface {
	Register(ctx context.Context, caller domain.Caller, req service.RegisterRequest) (*domain.User, error)
	Me(ctx context.Context, caller domain.Caller) (*domain.User, error)
	UpdatePushToken(ctx context.Context, caller domain.Caller, token string) error
}

// UserHandler handles HTTP requests for users.
type UserHandler struct {
	users UserService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users UserService) *UserHandler {
	return &UserHandler{users: users}
}

// RegisterRequest is the HTTP request body for user registration.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone" binding:"required"`
	Language string `json:"language"`
}

// PushTokenRequest carries a device token.
type PushTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UserResponse is the HTTP response for user data.
type UserResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Role      string    `json:"role"`
	Language  string    `json:"language,omitempty"`
	Points    int64     `json:"points"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Phone:     u.Phone,
		Role:      string(u.Role),
		Language:  u.Language,
		Points:    u.Points,
		CreatedAt: u.CreatedAt,
	}
}

// Register handles POST /v1/users
func (h *UserHandler) Register(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c)
		return
	}

	u, err := h.users.Register(c.Request.Context(), cl, service.RegisterRequest{
		Name:     req.Name,
		Phone:    req.Phone,
		Language: req.Language,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toUserResponse(u))
}

// Me handles GET /v1/users/me
func (h *UserHandler) Me(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	u, err := h.users.Me(c.Request.Context(), cl)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toUserResponse(u))
}

// UpdatePushToken handles PUT /v1/users/me/push-token
func (h *UserHandler) UpdatePushToken(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var req PushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c)
		return
	}

	if err := h.users.UpdatePushToken(c.Request.Context(), cl, req.Token); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
