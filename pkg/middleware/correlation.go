package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/atelier-platform/production-engine/pkg/errors"
	"github.com/atelier-platform/production-engine/pkg/logging"
)

// Context keys
const (
	ContextKeyRequestID     = "requestId"
	ContextKeyCorrelationID = "correlationId"
	ContextKeyActor         = "actor"
)

// HTTP header names
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderActor         = "X-Actor-ID"
)

// RequestContext generates or propagates request and correlation IDs and the
// acting operator. The values are stored on the gin context and copied onto the
// request context so loggers and outbox events downstream can pick them up.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = requestID
		}
		actor := c.GetHeader(HeaderActor)

		c.Set(ContextKeyRequestID, requestID)
		c.Set(ContextKeyCorrelationID, correlationID)
		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderCorrelationID, correlationID)

		ctx := logging.ContextWithRequestID(c.Request.Context(), requestID)
		ctx = logging.ContextWithCorrelationID(ctx, correlationID)
		if actor != "" {
			c.Set(ContextKeyActor, actor)
			ctx = logging.ContextWithActor(ctx, actor)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequestLogger logs each request once it completes, skipping excluded paths
func RequestLogger(logger *slog.Logger, exclude ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(exclude))
	for _, p := range exclude {
		skip[p] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip[path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"latencyMs", latency.Milliseconds(),
			"clientIP", c.ClientIP(),
			"requestId", GetRequestID(c),
			"correlationId", GetCorrelationID(c),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			attrs = append(attrs, "query", q)
		}

		switch {
		case status >= 500:
			logger.Error("HTTP request", attrs...)
		case status >= 400:
			logger.Warn("HTTP request", attrs...)
		default:
			logger.Info("HTTP request", attrs...)
		}
	}
}

// Recovery turns panics into a 500 with the standard error body
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered",
					"error", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"requestId", GetRequestID(c),
				)
				AbortWithAppError(c, errors.ErrInternal("An unexpected error occurred"))
			}
		}()
		c.Next()
	}
}

func getString(c *gin.Context, key string) string {
	if val, ok := c.Get(key); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// GetRequestID extracts request ID from context
func GetRequestID(c *gin.Context) string { return getString(c, ContextKeyRequestID) }

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(c *gin.Context) string { return getString(c, ContextKeyCorrelationID) }

// GetActor returns the operator named by X-Actor-ID, or "system"
func GetActor(c *gin.Context) string {
	if a := getString(c, ContextKeyActor); a != "" {
		return a
	}
	return "system"
}
