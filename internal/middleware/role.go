package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/qbox-app/backend/pkg/response"
)

// RequireLecturer rejects requests that did not pass JWT or whose token is not a
// lecturer's. Room ownership is checked by the handlers.
func RequireLecturer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextUserRole); !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if !IsLecturer(c) {
			response.Forbidden(c, "lecturer role required")
			c.Abort()
			return
		}
		c.Next()
	}
}
