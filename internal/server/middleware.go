package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"time"
)

// observe records the duration and outcome of every request. Routes are labelled by their pattern rather than the
// concrete path, so that ids do not end up in metric labels.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		duration := time.Since(started)
		status := c.Writer.Status()
		s.metrics.RecordHTTPRequest(c.Request.Method, path, status, duration)

		s.logger.Debug("Handled request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", duration),
		)
	}
}
