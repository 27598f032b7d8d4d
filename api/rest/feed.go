package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moodring/server/feed"
	"github.com/kasuganosora/moodring/server/geo"
	mw "github.com/kasuganosora/moodring/server/middleware"
	"github.com/kasuganosora/moodring/server/model"
	"github.com/kasuganosora/moodring/server/proximity"
	"github.com/kasuganosora/moodring/server/social"
	"go.uber.org/zap"
)

// PartialHeader is set on feed and nearby responses that are missing the
// results of some sub-queries.
const PartialHeader = "X-Partial-Results"

// FeedHandler serves the following feed and the nearby map.
type FeedHandler struct {
	feed          *feed.Aggregator
	nearby        *proximity.Engine
	defaultRadius float64
	logger        *zap.Logger
	now           func() time.Time
}

func NewFeedHandler(agg *feed.Aggregator, engine *proximity.Engine, defaultRadiusKm float64, logger *zap.Logger) *FeedHandler {
	if defaultRadiusKm <= 0 {
		defaultRadiusKm = proximity.DefaultRadiusKm
	}
	return &FeedHandler{feed: agg, nearby: engine, defaultRadius: defaultRadiusKm, logger: logger, now: time.Now}
}

// bindFilter reads the recent, emotion and q query parameters. It writes
// a 400 and returns false when one is malformed.
func bindFilter(c *gin.Context) (feed.Filter, bool) {
	filter := feed.Filter{
		Emotion: model.EmotionalState(strings.ToUpper(c.Query("emotion"))),
		Keyword: strings.TrimSpace(c.Query("q")),
	}
	if v := c.Query("recent"); v != "" {
		recent, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, errors.New("recent must be a boolean"))
			return filter, false
		}
		filter.Recent = recent
	}
	if filter.Emotion != "" && !filter.Emotion.Valid() {
		badRequest(c, errors.New("unknown emotion"))
		return filter, false
	}
	return filter, true
}

// Feed handles GET /api/feed?recent=true&emotion=SAD&q=keyword.
func (h *FeedHandler) Feed(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}

	res, err := h.feed.Build(c.Request.Context(), mw.GetUsername(c))
	if err != nil {
		fail(c, err)
		return
	}
	markPartial(c, res.Partial)
	c.JSON(http.StatusOK, gin.H{
		"entries": filter.Apply(res.Entries, h.now()),
		"cached":  res.Cached,
	})
}

// Nearby handles GET /api/nearby?lat=..&lng=..&radius_km=..
func (h *FeedHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		badRequest(c, errors.New("lat and lng are required numbers"))
		return
	}
	radius := h.defaultRadius
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			badRequest(c, errors.New("radius_km must be a number"))
			return
		}
		radius = r
	}

	res, err := h.nearby.Nearby(c.Request.Context(), mw.GetUsername(c), geo.Point{Latitude: lat, Longitude: lng}, radius)
	if err != nil {
		fail(c, err)
		return
	}
	markPartial(c, res.Partial)
	c.JSON(http.StatusOK, res)
}

func markPartial(c *gin.Context, p *social.PartialFailure) {
	if p == nil {
		return
	}
	_ = c.Error(p)
	c.Header(PartialHeader, strconv.Itoa(len(p.Failed))+"/"+strconv.Itoa(p.Total))
}
