package middleware

import (
	"net/http"
	"time"

	"callpulse/pkg/logger"
	"callpulse/pkg/tracing"
	"callpulse/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const RequestIDHeader = "X-Request-ID"

// TracingMiddleware starts a span per request, continuing an incoming trace
// when the caller sent one, and puts request, trace and session IDs in the
// request context for ContextLogger. Requests are logged when cl is set;
// server errors are logged at error level with the handler's last error.
func TracingMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := tracing.TraceHTTPRequest(ctx, c.Request.Method, route)
		defer span.End()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, requestID)

		traceID := utils.GenerateTraceID()
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}

		ctx = logger.WithValue(ctx, logger.RequestIDKey, requestID)
		ctx = logger.WithValue(ctx, logger.TraceIDKey, traceID)
		if id := c.Param("id"); id != "" {
			ctx = logger.WithValue(ctx, logger.SessionIDKey, id)
			span.SetAttributes(tracing.SessionIDKey.String(id))
		}

		span.SetAttributes(
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.remote_addr", c.ClientIP()),
			attribute.String("http.request_id", requestID),
		)

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int64("http.response_size", int64(c.Writer.Size())),
		)
		tracing.MeasureDuration(ctx, start, "http.request")

		for _, e := range c.Errors {
			tracing.RecordError(ctx, e.Err)
		}
		if status >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		if cl == nil {
			return
		}
		if status >= http.StatusInternalServerError && len(c.Errors) > 0 {
			cl.LogError(ctx, c.Errors.Last().Err, "http_request",
				zap.String("method", c.Request.Method),
				zap.String("path", route),
				zap.Int("status_code", status),
				zap.Int64("duration_ms", duration.Milliseconds()),
			)
			return
		}
		cl.LogRequest(ctx, c.Request.Method, route, status, duration.Milliseconds())
	}
}
