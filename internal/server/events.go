package server

import (
	"github.com/RyanW02/supplytrail/pkg/mirror"
	"github.com/RyanW02/supplytrail/pkg/types"
	"github.com/gin-gonic/gin"
	"net/http"
	"time"
)

type (
	productEventsQuery struct {
		TopicID   string     `form:"topic_id"`
		Limit     int        `form:"limit" binding:"omitempty,min=1,max=1000"`
		StartTime *time.Time `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
		EndTime   *time.Time `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
		// Validate additionally runs an integrity check over the returned events.
		Validate bool `form:"validate"`
	}

	ProductEventsResponse struct {
		mirror.QueryResult
		Integrity *mirror.IntegrityReport `json:"integrity,omitempty"`
	}

	ConfirmationResponse struct {
		EventID   string `json:"eventId"`
		TopicID   string `json:"topicId,omitempty"`
		Confirmed bool   `json:"confirmed"`
	}
)

func (s *Server) HandleProductEvents(c *gin.Context) {
	var query productEventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if query.StartTime != nil && query.EndTime != nil && query.EndTime.Before(*query.StartTime) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must not be before start_time"})
		return
	}

	res, err := s.events.GetEventsForProduct(c.Request.Context(), c.Param("product_id"), mirror.QueryConfig{
		TopicID:   query.TopicID,
		Limit:     query.Limit,
		StartTime: query.StartTime,
		EndTime:   query.EndTime,
	})
	if err != nil {
		s.abortWithError(c, err, "failed to query product events")
		return
	}

	response := ProductEventsResponse{QueryResult: res}
	if query.Validate {
		report := s.events.ValidateIntegrity(res.Events)
		response.Integrity = &report
	}

	c.JSON(http.StatusOK, response)
}

// HandleConfirmation blocks until the event is visible on the mirror, or the timeout passes. A timeout is reported
// as an unconfirmed event rather than an error.
func (s *Server) HandleConfirmation(c *gin.Context) {
	eventID := c.Param("event_id")
	topicID := c.Query("topic_id")

	timeout := s.config.Mirror.ConfirmationTimeout.Duration()
	if raw := c.Query("timeout"); raw != "" {
		parsed, err := types.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout"})
			return
		}

		timeout = parsed
	}

	if limit := s.config.Server.RequestTimeout.Duration(); limit > 0 && timeout > limit {
		timeout = limit
	}

	confirmed := s.events.WaitForConfirmation(c.Request.Context(), eventID, topicID, timeout)
	c.JSON(http.StatusOK, ConfirmationResponse{
		EventID:   eventID,
		TopicID:   topicID,
		Confirmed: confirmed,
	})
}
