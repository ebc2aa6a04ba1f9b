package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/stackrun/internal/platform/ctxutil"
)

// AttachRequestContext stamps every request with a request id (the
// incoming X-Request-Id, or a fresh UUID) before any handler runs,
// grounded on the teacher's middleware.AttachRequestContext. The
// TraceData's TraceID is left empty.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		td := &ctxutil.TraceData{RequestID: requestID}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Set("trace_id", td.TraceID)
		c.Set("request_id", td.RequestID)
		c.Writer.Header().Set("X-Request-Id", requestID)
		c.Next()
	}
}
