package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moodring/server/cache"
	"github.com/kasuganosora/moodring/server/config"
	mw "github.com/kasuganosora/moodring/server/middleware"
	"github.com/kasuganosora/moodring/server/participant"
	"go.uber.org/zap"
)

const sessionOpTimeout = 2 * time.Second

// AuthHandler handles registration and sessions.
type AuthHandler struct {
	accounts *participant.Service
	cache    cache.Cache
	sec      config.SecurityConfig
	logger   *zap.Logger
}

func NewAuthHandler(accounts *participant.Service, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, cache: c, sec: sec, logger: logger}
}

type registerRequest struct {
	Username  string `json:"username" binding:"required,username"`
	Password  string `json:"password" binding:"required,min=6,max=72"`
	Email     string `json:"email" binding:"omitempty,email"`
	FirstName string `json:"first_name" binding:"max=64"`
	LastName  string `json:"last_name" binding:"max=64"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register handles POST /api/auth/register and logs the new account in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.accounts.Register(c.Request.Context(), participant.Registration{
		Username:  req.Username,
		Password:  req.Password,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		fail(c, err)
		return
	}
	token, err := h.openSession(c.Request.Context(), p.Username)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "participant": p})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.accounts.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	token, err := h.openSession(c.Request.Context(), p.Username)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "participant": p})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	token, _ := mw.BearerToken(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), sessionOpTimeout)
	defer cancel()
	if err := h.cache.Del(ctx, mw.SessionKey(token)); err != nil {
		h.logger.Warn("session delete failed", zap.String("username", mw.GetUsername(c)), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh: the current token is retired and
// a new one issued.
func (h *AuthHandler) Refresh(c *gin.Context) {
	username := mw.GetUsername(c)
	old, _ := mw.BearerToken(c)

	token, err := h.openSession(c.Request.Context(), username)
	if err != nil {
		fail(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), sessionOpTimeout)
	defer cancel()
	if err := h.cache.Del(ctx, mw.SessionKey(old)); err != nil {
		h.logger.Warn("session delete failed", zap.String("username", username), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *AuthHandler) openSession(ctx context.Context, username string) (string, error) {
	token, err := mw.GenerateToken(username, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, sessionOpTimeout)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), username, h.sec.JWTTTLH); err != nil {
		return "", err
	}
	return token, nil
}
