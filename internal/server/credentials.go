package server

import (
	"github.com/RyanW02/supplytrail/pkg/credential"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"github.com/gin-gonic/gin"
	"net/http"
)

type RevokeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) HandleIssue(c *gin.Context) {
	var req credential.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.credentials.Issue(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err, "failed to issue credential")
		return
	}

	c.JSON(http.StatusCreated, res)
}

// HandleVerify always answers 200 when the check could be carried out, including for unknown, expired and revoked
// credentials: the outcome is described by the response body.
func (s *Server) HandleVerify(c *gin.Context) {
	var req credentials.VerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.credentials.Verify(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err, "failed to verify credential")
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) HandleRevoke(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	revoked, err := s.credentials.Revoke(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.abortWithError(c, err, "failed to revoke credential")
		return
	}

	c.JSON(http.StatusOK, revoked)
}

func (s *Server) HandleValidate(c *gin.Context) {
	res, err := s.credentials.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err, "failed to validate credential")
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) HandleTimeline(c *gin.Context) {
	entries, err := s.repository.Timeline().GetTimeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err, "failed to get credential timeline")
		return
	}

	if entries == nil {
		entries = []credentials.TimelineEntry{}
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) HandleSearch(c *gin.Context) {
	var params repository.SearchParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	productID := c.Param("product_id")
	params.ProductID = &productID

	res, err := s.credentials.Search(c.Request.Context(), params)
	if err != nil {
		s.abortWithError(c, err, "failed to search credentials")
		return
	}

	c.JSON(http.StatusOK, res)
}
