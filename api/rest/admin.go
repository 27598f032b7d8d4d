package rest

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moodring/server/audit"
	"github.com/kasuganosora/moodring/server/scheduler"
	"github.com/kasuganosora/moodring/server/social"
	"go.uber.org/zap"
)

// RepairTask is the scheduler name of the counter repair job.
const RepairTask = "counter_repair"

// AdminHandler handles operator endpoints. Routes should be protected by
// AdminAuth.
type AdminHandler struct {
	graph  *social.Mutator
	sched  *scheduler.Scheduler
	audit  *audit.Service
	logger *zap.Logger
}

func NewAdminHandler(graph *social.Mutator, sched *scheduler.Scheduler, a *audit.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{graph: graph, sched: sched, audit: a, logger: logger}
}

// Recount recomputes one participant's counters.
// POST /api/admin/recount/:username
func (h *AdminHandler) Recount(c *gin.Context) {
	username := c.Param("username")
	counts, err := h.graph.Recount(c.Request.Context(), username)
	var drift *social.CounterDrift
	switch {
	case errors.As(err, &drift):
		c.JSON(http.StatusOK, gin.H{"counts": counts, "repaired": true, "drift": drift})
	case err != nil:
		fail(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"counts": counts, "repaired": false})
	}
}

// Repair runs the full repair job now.
// POST /api/admin/repair
func (h *AdminHandler) Repair(c *gin.Context) {
	if err := h.sched.RunNow(RepairTask); err != nil {
		fail(c, err)
		return
	}
	h.logger.Info("admin triggered counter repair")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListSchedulerTasks returns every ticker job with its last run.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// Audit returns recent relationship mutations.
// GET /api/admin/audit?actor=&action=&limit=
func (h *AdminHandler) Audit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.audit.Recent(c.Request.Context(), audit.Query{
		Actor:  c.Query("actor"),
		Action: c.Query("action"),
		Limit:  limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}

// AdminAuth checks the X-Admin-Key header. With an empty adminKey every
// admin endpoint answers 503 so a server cannot run them unprotected.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
