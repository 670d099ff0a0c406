package system

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the provided fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// EnrichReqLoggerWithReviewer annotates the request-scoped logger with the reviewer
// identity fields placed in the Gin context by the auth middleware.
func EnrichReqLoggerWithReviewer(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	if v, ok := c.Get("reviewerId"); ok {
		if id, ok2 := v.(string); ok2 && id != "" {
			reqLogger = reqLogger.With("reviewerId", id)
		}
	}
	if v, ok := c.Get("roles"); ok {
		if roles, ok2 := v.([]string); ok2 && len(roles) > 0 {
			reqLogger = reqLogger.With("roleCount", len(roles))
		}
	}
	return reqLogger
}

// TaskFields returns a variadic slice of key/value pairs for task-scoped log calls.
func TaskFields(taskID string, extra ...interface{}) []interface{} {
	fields := []interface{}{"taskId", taskID}
	return append(fields, extra...)
}
