package middleware

import (
	"github.com/gin-gonic/gin"
	"live_spaces/pkg/errors"
)

// ErrorHandler renders the last error attached with c.Error when the handler
// has not written a response itself.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last()
		statusCode := errors.HTTPStatusFromError(err.Err)

		msg := err.Error()
		if statusCode >= 500 {
			msg = errors.ErrInternalServer.Error()
		}
		c.JSON(statusCode, gin.H{"error": msg})
	}
}
