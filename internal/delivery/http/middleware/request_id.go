package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID tags every request with an ID for log correlation. An inbound
// X-Request-ID from an upstream proxy is kept and echoed back; otherwise a
// fresh UUIDv7 is issued so IDs sort by arrival time in the logs.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			generated, err := uuid.NewV7()
			if err != nil {
				generated = uuid.New()
			}
			id = generated.String()
		}

		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
