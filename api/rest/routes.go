package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moodring/server/cache"
	"github.com/kasuganosora/moodring/server/config"
	mw "github.com/kasuganosora/moodring/server/middleware"
	"go.uber.org/zap"
)

// Handlers groups every REST handler mounted under /api.
type Handlers struct {
	Auth        *AuthHandler
	Participant *ParticipantHandler
	Social      *SocialHandler
	Mood        *MoodHandler
	Feed        *FeedHandler
	Admin       *AdminHandler
}

// Mount registers the API routes on r. Everything except register and
// login requires a session; admin routes additionally need the admin key
// and, when configured, a whitelisted address. limiter, when set, runs
// after authentication so sessions are throttled per user.
func Mount(r gin.IRouter, h Handlers, cfg *config.Config, c cache.Cache, limiter gin.HandlerFunc, logger *zap.Logger) error {
	if err := RegisterValidators(); err != nil {
		return err
	}
	auth := mw.Auth(cfg.Security, c)
	anon := []gin.HandlerFunc{}
	session := []gin.HandlerFunc{auth}
	if limiter != nil {
		anon = append(anon, limiter)
		session = append(session, limiter)
	}

	api := r.Group("/api")
	{
		authG := api.Group("/auth", anon...)
		authG.POST("/register", h.Auth.Register)
		authG.POST("/login", h.Auth.Login)
		authG.POST("/logout", auth, h.Auth.Logout)
		authG.POST("/refresh", auth, h.Auth.Refresh)

		user := api.Group("", session...)
		user.GET("/me", h.Participant.Me)
		user.PUT("/me", h.Participant.UpdateMe)
		user.DELETE("/me", h.Participant.DeleteMe)

		user.GET("/participants", h.Participant.Search)
		user.GET("/participants/:username", h.Participant.Get)
		user.GET("/participants/:username/following", h.Social.Following)
		user.GET("/participants/:username/followers", h.Social.Followers)
		user.GET("/participants/:username/mood-events", h.Mood.History)
		user.GET("/relationships/:username", h.Social.Relationship)

		user.POST("/follow-requests", h.Social.SendRequest)
		user.GET("/follow-requests", h.Social.ListRequests)
		user.POST("/follow-requests/:from/accept", h.Social.Accept)
		user.POST("/follow-requests/:from/decline", h.Social.Decline)
		user.DELETE("/following/:username", h.Social.Unfollow)
		user.DELETE("/followers/:username", h.Social.RemoveFollower)

		user.POST("/mood-events", h.Mood.Create)
		user.GET("/mood-events/:id", h.Mood.Get)
		user.PUT("/mood-events/:id", h.Mood.Update)
		user.DELETE("/mood-events/:id", h.Mood.Delete)
		user.GET("/mood-events/:id/comments", h.Mood.ListComments)
		user.POST("/mood-events/:id/comments", h.Mood.AddComment)

		user.GET("/feed", h.Feed.Feed)
		user.GET("/nearby", h.Feed.Nearby)

		adminG := api.Group("/admin",
			mw.IPWhitelist(cfg.Server.AdminIPs, logger),
			AdminAuth(cfg.Server.AdminKey))
		adminG.POST("/recount/:username", h.Admin.Recount)
		adminG.POST("/repair", h.Admin.Repair)
		adminG.GET("/scheduler", h.Admin.ListSchedulerTasks)
		adminG.GET("/audit", h.Admin.Audit)
	}
	return nil
}
