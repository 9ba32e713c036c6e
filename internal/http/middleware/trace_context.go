package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/splitstore/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

// TraceContext tags the request with correlation ids. The otel span wins over
// a caller-supplied trace header so logs and spans agree.
func TraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := ctxutil.Request{
			RequestID: strings.TrimSpace(c.GetHeader(headerRequestID)),
			Origin:    ctxutil.OriginInspector,
		}
		if req.RequestID == "" {
			req.RequestID = uuid.NewString()
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			req.TraceID = sc.TraceID().String()
		} else if h := strings.TrimSpace(c.GetHeader(headerTraceID)); h != "" {
			req.TraceID = h
		}

		c.Request = c.Request.WithContext(ctxutil.WithRequest(c.Request.Context(), req))
		c.Writer.Header().Set(headerRequestID, req.RequestID)
		if req.TraceID != "" {
			c.Writer.Header().Set(headerTraceID, req.TraceID)
		}
		c.Next()
	}
}
