package middleware

import (
	"net/http"

	"stableflow/pkg/apperror"
	"stableflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// MaxBodySize rejects requests that declare a body larger than maxBytes with 413 and caps
// the reader for the rest, so a chunked upload fails on read instead.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			response.Error(c, apperror.New("PAYLOAD_TOO_LARGE", "Request body too large", http.StatusRequestEntityTooLarge, apperror.KindValidation))
			c.Abort()
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
