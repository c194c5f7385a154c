package middleware

import (
	"github.com/gin-gonic/gin"
)

// AttachRequestContext seeds the request's context.Context onto c.Request
// before any handler runs, matching the teacher's request-scoped-context
// middleware shape without the SSE payload this domain has no use for.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
