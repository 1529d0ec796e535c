package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LimitBodySize rejects request bodies over max bytes. Cell source is the
// largest payload the API accepts; anything bigger than the cap is a client
// bug, not a notebook.
func LimitBodySize(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}
