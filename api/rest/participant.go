package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moodring/server/cache"
	mw "github.com/kasuganosora/moodring/server/middleware"
	"github.com/kasuganosora/moodring/server/participant"
	"go.uber.org/zap"
)

// ParticipantHandler serves profiles, search and account removal.
type ParticipantHandler struct {
	accounts *participant.Service
	cache    cache.Cache
	logger   *zap.Logger
}

func NewParticipantHandler(accounts *participant.Service, c cache.Cache, logger *zap.Logger) *ParticipantHandler {
	return &ParticipantHandler{accounts: accounts, cache: c, logger: logger}
}

// Search handles GET /api/participants?q=prefix&limit=n. The caller is
// never part of the result.
func (h *ParticipantHandler) Search(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.accounts.Search(c.Request.Context(), c.Query("q"), mw.GetUsername(c), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": list})
}

// Get handles GET /api/participants/:username.
func (h *ParticipantHandler) Get(c *gin.Context) {
	p, err := h.accounts.Get(c.Request.Context(), c.Param("username"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Me handles GET /api/me.
func (h *ParticipantHandler) Me(c *gin.Context) {
	p, err := h.accounts.Get(c.Request.Context(), mw.GetUsername(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type profileRequest struct {
	Email          *string `json:"email" binding:"omitempty,email"`
	FirstName      *string `json:"first_name" binding:"omitempty,max=64"`
	LastName       *string `json:"last_name" binding:"omitempty,max=64"`
	ProfilePicture *string `json:"profile_picture"`
}

// UpdateMe handles PUT /api/me. Omitted fields keep their value.
func (h *ParticipantHandler) UpdateMe(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.accounts.UpdateProfile(c.Request.Context(), mw.GetUsername(c), participant.Profile{
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		ProfilePicture: req.ProfilePicture,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeleteMe handles DELETE /api/me. The account, its relationships and
// its events are removed and the current session ends.
func (h *ParticipantHandler) DeleteMe(c *gin.Context) {
	username := mw.GetUsername(c)
	if err := h.accounts.Delete(c.Request.Context(), username); err != nil {
		fail(c, err)
		return
	}
	if token, ok := mw.BearerToken(c); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), sessionOpTimeout)
		defer cancel()
		if err := h.cache.Del(ctx, mw.SessionKey(token)); err != nil {
			h.logger.Warn("session delete failed", zap.String("username", username), zap.Error(err))
		}
	}
	c.Status(http.StatusNoContent)
}
