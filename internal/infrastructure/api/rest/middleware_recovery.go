package rest

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/cellmesh/cellmesh/internal/infrastructure/logger"
)

type RecoveryMiddleware struct {
	logger *logger.Logger
}

func NewRecoveryMiddleware(log *logger.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: log}
}

// Recovery converts a handler panic into a 500 carrying the request id.
// Kernel goroutine panics never reach here; kernelmgr recovers those on its
// own side of the channel boundary.
func (m *RecoveryMiddleware) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			requestID := GetRequestID(c)
			principal, _ := Principal(c)
			m.logger.Error("panic recovered",
				"request_id", requestID,
				"principal", principal,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", r,
				"stack", string(debug.Stack()),
			)
			apiErr := NewAPIError(
				"INTERNAL_ERROR",
				fmt.Sprintf("internal server error (request_id: %s)", requestID),
				http.StatusInternalServerError,
			)
			c.AbortWithStatusJSON(apiErr.HTTPStatus, apiErr)
		}()
		c.Next()
	}
}
