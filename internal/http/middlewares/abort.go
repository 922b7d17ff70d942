package middlewares

import (
	"github.com/gin-gonic/gin"
)

// abort writes the same envelope as handlers.RespondError; this package
// cannot import handlers.
func abort(c *gin.Context, status int, code, message string) {
	requestID, _ := c.Get(CtxRequestID)

	c.AbortWithStatusJSON(status, gin.H{
		"status":  "fail",
		"message": message,
		"error": gin.H{
			"code":      code,
			"message":   message,
			"requestId": requestID,
		},
	})
}
