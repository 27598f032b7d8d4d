package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceIDKey    = "trace_id"
	TraceIDHeader = "X-Trace-ID"

	maxTraceIDLen = 64
)

type ctxKey int

const (
	traceIDCtxKey ctxKey = iota
	usernameCtxKey
)

// TraceID tags each request with a trace id, reusing the caller's
// X-Trace-ID when present and short enough. The id is echoed in the
// response and carried on the request context, where services that log
// or audit pick it up with TraceIDFrom.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(TraceIDHeader)
		if id == "" || len(id) > maxTraceIDLen {
			id = uuid.NewString()
		}
		c.Set(TraceIDKey, id)
		c.Header(TraceIDHeader, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), traceIDCtxKey, id))
		c.Next()
	}
}

// GetTraceID returns the trace id stored on the gin context.
func GetTraceID(c *gin.Context) string {
	id, _ := c.Value(TraceIDKey).(string)
	return id
}

func withUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameCtxKey, username)
}

// TraceIDFrom returns the request trace id carried by ctx.
func TraceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(traceIDCtxKey).(string)
	return v
}

// UsernameFrom returns the authenticated username carried by ctx.
func UsernameFrom(ctx context.Context) string {
	v, _ := ctx.Value(usernameCtxKey).(string)
	return v
}
