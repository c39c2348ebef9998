package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/service"
)

// Tenancy is explicit on every request; there is no ambient org state.
const tenantHeader = "X-Tenant-ID"

type createPostRequest struct {
	Content     string     `json:"content"`
	MediaRefs   []string   `json:"media_refs"`
	Hashtags    []string   `json:"hashtags"`
	Platforms   []string   `json:"platforms" binding:"required,min=1,dive,platform"`
	AccountRefs []string   `json:"account_refs"`
	PostType    string     `json:"post_type" binding:"omitempty,oneof=standard short-video ephemeral-story"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type scheduleRequest struct {
	At time.Time `json:"at" binding:"required"`
}

func (s *Server) tenant(c *gin.Context) (string, bool) {
	tenantID := c.GetHeader(tenantHeader)
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + tenantHeader + " header"})
		return "", false
	}
	return tenantID, true
}

func (r *createPostRequest) toInput() service.PostInput {
	return service.PostInput{
		Content:     r.Content,
		MediaRefs:   r.MediaRefs,
		Hashtags:    r.Hashtags,
		Platforms:   r.Platforms,
		AccountRefs: r.AccountRefs,
		PostType:    models.PostType(r.PostType),
		ScheduledAt: r.ScheduledAt,
	}
}

func (s *Server) handleCreatePost(c *gin.Context) {
	tenantID, ok := s.tenant(c)
	if !ok {
		return
	}

	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := s.Posts.CreatePost(c.Request.Context(), tenantID, req.toInput())
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"post": post})
}

func (s *Server) handleUpdatePost(c *gin.Context) {
	tenantID, ok := s.tenant(c)
	if !ok {
		return
	}

	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := s.Posts.UpdatePost(c.Request.Context(), tenantID, c.Param("id"), req.toInput())
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleGetPost(c *gin.Context) {
	tenantID, ok := s.tenant(c)
	if !ok {
		return
	}

	post, err := s.Posts.GetPost(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleListPosts(c *gin.Context) {
	tenantID, ok := s.tenant(c)
	if !ok {
		return
	}

	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	status := models.PostStatus(c.Query("status"))

	posts, err := s.Posts.ListPosts(c.Request.Context(), tenantID, status, limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (s *Server) handleSubmitPost(c *gin.Context) {
	tenantID, ok := s.tenant(c)
	if !ok {
		return
	}

	post, err := s.Posts.Submit(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleApprovePost(c *gin.Context) {
	tenantID, ok := s.tenant(c)
	if !ok {
		return
	}

	post, err := s.Posts.Approve(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleRejectPost(c *gin.Context) {
	tenantID, ok := s.tenant(c)
	if !ok {
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := s.Posts.Reject(c.Request.Context(), tenantID, c.Param("id"), req.Reason)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleSchedulePost(c *gin.Context) {
	tenantID, ok := s.tenant(c)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := s.Posts.Schedule(c.Request.Context(), tenantID, c.Param("id"), req.At)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleCancelPost(c *gin.Context) {
	tenantID, ok := s.tenant(c)
	if !ok {
		return
	}

	post, err := s.Posts.Cancel(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (s *Server) handleRetryPost(c *gin.Context) {
	tenantID, ok := s.tenant(c)
	if !ok {
		return
	}

	results, err := s.Posts.Retry(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	post, err := s.Posts.GetPost(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post, "attempted": results})
}

func (s *Server) handleListPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": s.Manager.AvailablePlatforms()})
}

// respondError maps the domain error taxonomy onto HTTP status codes.
// Per-platform failures never reach this path; they are recorded on the
// post, not raised to the caller.
func (s *Server) respondError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var consistencyErr *models.ConsistencyError
	var conflict *models.SchedulingConflict

	switch {
	case errors.Is(err, models.ErrPostNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "validation failed",
			"violations": validationErr.Violations,
		})
	case errors.As(err, &consistencyErr):
		c.JSON(http.StatusConflict, gin.H{"error": consistencyErr.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	default:
		s.Logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
