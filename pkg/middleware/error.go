package middleware

import (
	"delivery-dispatch/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached to the gin context as a structured
// JSON failure. Handlers attach domain errors with c.Error and return; this
// middleware decides the HTTP status from the error taxonomy so the caller
// can tell "bad request" apart from "retry later".
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		ginErr := c.Errors.Last()
		if ginErr == nil {
			return
		}

		base := errutil.Normalize(ginErr.Err)
		if base.Code == errutil.StatusInternal {
			zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(ginErr.Err))
		}

		c.JSON(base.Code.HTTPStatus(), base.JSON())
	}
}
