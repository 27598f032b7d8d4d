// Package sse pushes feed-update notices to connected clients so they know
// when to refetch their feed.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moodring/server/cache"
	"github.com/kasuganosora/moodring/server/config"
	"github.com/kasuganosora/moodring/server/journal"
	mw "github.com/kasuganosora/moodring/server/middleware"
	"go.uber.org/zap"
)

const keepAliveInterval = 30 * time.Second

// FollowChecker reports whether a follows b.
type FollowChecker interface {
	IsFollowing(ctx context.Context, a, b string) (bool, error)
}

// Handler handles the feed stream endpoint.
type Handler struct {
	pubsub    cache.PubSub
	following FollowChecker
	sec       config.SecurityConfig
	c         cache.Cache
	logger    *zap.Logger
	keepAlive time.Duration
}

func NewHandler(pubsub cache.PubSub, following FollowChecker, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, following: following, c: c, sec: sec, logger: logger, keepAlive: keepAliveInterval}
}

type update struct {
	Participant string `json:"participant"`
}

// ServeSSE handles GET /api/feed/stream?token=<jwt>. Browsers cannot set
// headers on an EventSource, so the session token may also come from the
// query string. A feed_update event is sent whenever someone the viewer
// follows creates, edits or deletes a mood event.
func (h *Handler) ServeSSE(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		tokenStr, _ = mw.BearerToken(c)
	}
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.c.Exists(ctx, mw.SessionKey(tokenStr))
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}
	viewer := claims.Username()

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, journal.ChannelCreated)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if !h.relevant(subCtx, viewer, msg.Payload) {
				continue
			}
			data, _ := json.Marshal(update{Participant: msg.Payload})
			fmt.Fprintf(c.Writer, "event: feed_update\ndata: %s\n\n", data)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Handler) relevant(ctx context.Context, viewer, author string) bool {
	if author == viewer {
		return false
	}
	ok, err := h.following.IsFollowing(ctx, viewer, author)
	if err != nil {
		h.logger.Warn("sse follow check failed",
			zap.String("viewer", viewer),
			zap.String("author", author),
			zap.Error(err))
		return false
	}
	return ok
}
