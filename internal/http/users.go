package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"caption-api/internal/domain"
	"caption-api/internal/service"
)

type userCreateRequest struct {
	Email         string `json:"email" binding:"required,min=3,max=512,email"`
	Username      string `json:"username" binding:"required,min=3,max=30"`
	Password      string `json:"password" binding:"required,min=8,max=512"`
	PasswordCheck string `json:"password_check" binding:"required,min=8,max=512"`
}

type userUpdateRequest struct {
	Email    *string `json:"email" binding:"omitempty,min=3,max=512,email"`
	Username *string `json:"username" binding:"omitempty,min=3,max=30"`
	Password string  `json:"password" binding:"required,min=8,max=512"`
}

type passwordUpdateRequest struct {
	OldPass        string `json:"old_pass" binding:"required,min=8,max=512"`
	NewPass        string `json:"new_pass" binding:"required,min=8,max=512"`
	ConfirmNewPass string `json:"confirm_new_pass" binding:"required,min=8,max=512"`
}

type loginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// UserResponse is the public view of a user; the password digest is never rendered.
type UserResponse struct {
	ID        string `json:"_id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func userToResponse(user domain.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Username:  user.Username,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(*user))
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	resp := make([]UserResponse, len(users))
	for i := range users {
		resp[i] = userToResponse(users[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) register(c *gin.Context) {
	var req userCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeBindError(c, err)
		return
	}

	user, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Email:         req.Email,
		Username:      req.Username,
		Password:      req.Password,
		PasswordCheck: req.PasswordCheck,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	h.logger.WithField("user_id", user.ID).Info("user registered")
	c.JSON(http.StatusCreated, userToResponse(*user))
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.writeBindError(c, err)
		return
	}

	token, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
	})
}

func (h *Handler) updateUser(c *gin.Context) {
	var req userUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeBindError(c, err)
		return
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), c.Param("id"), service.ProfileUpdate{
		Password: req.Password,
		Fields: domain.ProfileFields{
			Email:    req.Email,
			Username: req.Username,
		},
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(*user))
}

func (h *Handler) updatePassword(c *gin.Context) {
	var req passwordUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeBindError(c, err)
		return
	}

	user, err := h.users.ChangePassword(c.Request.Context(), c.Param("id"), service.PasswordChange{
		OldPassword:     req.OldPass,
		NewPassword:     req.NewPass,
		ConfirmPassword: req.ConfirmNewPass,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(*user))
}

func (h *Handler) deleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentUser(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		unauthorized(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"User": identity})
}
