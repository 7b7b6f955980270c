package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// contextLogger prefers the request-scoped logger set by the request logging middleware.
func contextLogger(c *gin.Context) *zap.Logger {
	if l, ok := c.Get("logger"); ok {
		if logger, ok := l.(*zap.Logger); ok {
			return logger
		}
	}
	return GetLogger()
}

// ErrorHandler turns panics in later handlers into a 500 with a structured body.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				contextLogger(c).Error("Unhandled panic",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.FullPath()))

				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Code:      "internal_error",
					Message:   "Internal Server Error",
					Details:   "An unexpected error occurred. Please try again later.",
					RequestID: c.Writer.Header().Get("X-Request-ID"),
				})
			}
		}()
		c.Next()
	}
}

// JSONError aborts the request with a structured error body. Server errors are
// logged at Error, client errors at Warn.
func JSONError(c *gin.Context, status int, code, message, details string) {
	logger := contextLogger(c)
	fields := []zap.Field{zap.String("code", code), zap.Int("status", status)}
	if details != "" {
		fields = append(fields, zap.String("details", details))
	}
	if status >= http.StatusInternalServerError {
		logger.Error(message, fields...)
	} else {
		logger.Warn(message, fields...)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: c.Writer.Header().Get("X-Request-ID"),
	})
}
