package server

import (
	"context"
	"github.com/RyanW02/supplytrail/pkg/retry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"net/http"
	"time"
)

// HandleStatus reports whether the database is reachable, alongside the last known health of each external
// service. Unhealthy external services degrade the status, but do not fail it.
func (s *Server) HandleStatus(c *gin.Context) {
	ctx, cancelFunc := context.WithTimeout(c.Request.Context(), time.Second*5)
	defer cancelFunc()

	services := make([]retry.HealthStatus, 0, len(s.health))
	status := "ok"
	for _, source := range s.health {
		health := source.Health()
		if health.Status == retry.HealthUnhealthy {
			status = "degraded"
		}

		services = append(services, health)
	}

	if err := s.repository.TestConnection(ctx); err != nil {
		s.logger.Error("failed to connect to the database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":   "error",
			"error":    "failed to connect to the database",
			"services": services,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status, "services": services})
}
