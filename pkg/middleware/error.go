package middleware

import (
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached with c.Error as the JSON failure
// envelope. Internal errors are logged with their cause and answered
// generically.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		be := errutil.FromError(last.Err)
		status := be.Code.HTTPStatus()

		zapLog := logger.FromContext(c.Request.Context()).With(
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
		)
		if status >= 500 {
			zapLog.Error("request failed", zap.Error(last.Err))
		} else {
			zapLog.Debug("request rejected", zap.String("code", string(be.Code)), zap.String("message", be.Message))
		}

		c.AbortWithStatusJSON(status, be.JSON())
	}
}
