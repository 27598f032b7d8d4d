package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moodring/server/journal"
	"github.com/kasuganosora/moodring/server/participant"
	"github.com/kasuganosora/moodring/server/proximity"
	"github.com/kasuganosora/moodring/server/scheduler"
	"github.com/kasuganosora/moodring/server/social"
)

// statusOf maps a service error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, journal.ErrInvalidInput),
		errors.Is(err, participant.ErrInvalidInput),
		errors.Is(err, proximity.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, participant.ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, journal.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, social.ErrNotFound), errors.Is(err, scheduler.ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, social.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, social.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error and records it on the gin context so the
// request logger picks it up. Internal errors are not echoed to clients.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status := statusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
