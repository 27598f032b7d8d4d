package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moodring/server/geo"
	"github.com/kasuganosora/moodring/server/journal"
	mw "github.com/kasuganosora/moodring/server/middleware"
	"github.com/kasuganosora/moodring/server/model"
)

// MoodHandler serves mood-event CRUD and comments.
type MoodHandler struct {
	journal *journal.Service
	now     func() time.Time
}

func NewMoodHandler(j *journal.Service) *MoodHandler {
	return &MoodHandler{journal: j, now: time.Now}
}

type moodEventBody struct {
	Title           string                `json:"title" binding:"required,max=128"`
	Reason          string                `json:"reason" binding:"max=200"`
	Trigger         string                `json:"trigger" binding:"max=128"`
	EmotionalState  model.EmotionalState  `json:"emotional_state" binding:"omitempty,emotion"`
	SocialSituation model.SocialSituation `json:"social_situation" binding:"omitempty,situation"`
	AttachedImage   string                `json:"attached_image"`
	Location        *geo.Point            `json:"location"`
}

func (b moodEventBody) input() journal.Input {
	return journal.Input{
		Title:           b.Title,
		Reason:          b.Reason,
		Trigger:         b.Trigger,
		EmotionalState:  b.EmotionalState,
		SocialSituation: b.SocialSituation,
		AttachedImage:   b.AttachedImage,
		Location:        b.Location,
	}
}

// Create handles POST /api/mood-events.
func (h *MoodHandler) Create(c *gin.Context) {
	var body moodEventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	ev, err := h.journal.Create(c.Request.Context(), mw.GetUsername(c), body.input())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// Get handles GET /api/mood-events/:id.
func (h *MoodHandler) Get(c *gin.Context) {
	ev, err := h.journal.View(c.Request.Context(), mw.GetUsername(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// Update handles PUT /api/mood-events/:id.
func (h *MoodHandler) Update(c *gin.Context) {
	var body moodEventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	ev, err := h.journal.Update(c.Request.Context(), mw.GetUsername(c), c.Param("id"), body.input())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// Delete handles DELETE /api/mood-events/:id.
func (h *MoodHandler) Delete(c *gin.Context) {
	if err := h.journal.Delete(c.Request.Context(), mw.GetUsername(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// History handles GET /api/participants/:username/mood-events. It takes
// the same recent, emotion and q filters as the feed; they narrow the page
// selected by limit.
func (h *MoodHandler) History(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.journal.History(c.Request.Context(), mw.GetUsername(c), c.Param("username"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": filter.Events(list, h.now())})
}

type commentBody struct {
	Text string `json:"text" binding:"required,max=1000"`
}

// AddComment handles POST /api/mood-events/:id/comments.
func (h *MoodHandler) AddComment(c *gin.Context) {
	var body commentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	cm, err := h.journal.AddComment(c.Request.Context(), mw.GetUsername(c), c.Param("id"), body.Text)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cm)
}

// ListComments handles GET /api/mood-events/:id/comments.
func (h *MoodHandler) ListComments(c *gin.Context) {
	list, err := h.journal.ListComments(c.Request.Context(), mw.GetUsername(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": list})
}
