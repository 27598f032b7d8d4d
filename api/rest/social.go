package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/moodring/server/middleware"
	"github.com/kasuganosora/moodring/server/social"
)

// SocialHandler serves follow requests and the follow graph.
type SocialHandler struct {
	requests *social.Requests
	graph    *social.Mutator
}

func NewSocialHandler(requests *social.Requests, graph *social.Mutator) *SocialHandler {
	return &SocialHandler{requests: requests, graph: graph}
}

type followRequestBody struct {
	To string `json:"to" binding:"required,username"`
}

// SendRequest handles POST /api/follow-requests.
func (h *SocialHandler) SendRequest(c *gin.Context) {
	var body followRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := h.requests.Send(c.Request.Context(), mw.GetUsername(c), body.To)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// ListRequests handles GET /api/follow-requests: pending requests
// addressed to the caller.
func (h *SocialHandler) ListRequests(c *gin.Context) {
	list, err := h.requests.ListPending(c.Request.Context(), mw.GetUsername(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": list})
}

// Accept handles POST /api/follow-requests/:from/accept.
func (h *SocialHandler) Accept(c *gin.Context) {
	out, err := h.requests.Accept(c.Request.Context(), mw.GetUsername(c), c.Param("from"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Decline handles POST /api/follow-requests/:from/decline.
func (h *SocialHandler) Decline(c *gin.Context) {
	req, err := h.requests.Decline(c.Request.Context(), mw.GetUsername(c), c.Param("from"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// Unfollow handles DELETE /api/following/:username.
func (h *SocialHandler) Unfollow(c *gin.Context) {
	if err := h.graph.Unfollow(c.Request.Context(), mw.GetUsername(c), c.Param("username")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveFollower handles DELETE /api/followers/:username.
func (h *SocialHandler) RemoveFollower(c *gin.Context) {
	if err := h.graph.RemoveFollower(c.Request.Context(), mw.GetUsername(c), c.Param("username")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Following handles GET /api/participants/:username/following.
func (h *SocialHandler) Following(c *gin.Context) {
	list, err := h.graph.Following(c.Request.Context(), c.Param("username"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": list})
}

// Followers handles GET /api/participants/:username/followers.
func (h *SocialHandler) Followers(c *gin.Context) {
	list, err := h.graph.Followers(c.Request.Context(), c.Param("username"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"followers": list})
}

// Relationship handles GET /api/relationships/:username: how the caller
// and username are connected.
func (h *SocialHandler) Relationship(c *gin.Context) {
	ctx := c.Request.Context()
	me, other := mw.GetUsername(c), c.Param("username")

	following, err := h.graph.IsFollowing(ctx, me, other)
	if err != nil {
		fail(c, err)
		return
	}
	followedBy, err := h.graph.IsFollowing(ctx, other, me)
	if err != nil {
		fail(c, err)
		return
	}
	pending, err := h.requests.Exists(ctx, me, other)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"following":       following,
		"followed_by":     followedBy,
		"request_pending": pending,
	})
}
