package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/lolify/internal/service"
	"github.com/ifuryst/lolify/internal/service/graph"
)

type publishRequest struct {
	URL       string `json:"url" binding:"required"`
	Caption   string `json:"caption"`
	MediaKind string `json:"media_kind"`
}

func (s *Server) handleListPosts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	posts, err := s.App.Store.ListPosts(c.Request.Context(), limit, offset)
	if err != nil {
		s.Logger.Error("Failed to list posts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list posts"})
		return
	}
	total, err := s.App.Store.CountPosts(c.Request.Context())
	if err != nil {
		s.Logger.Error("Failed to count posts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list posts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"posts": posts, "total": total})
}

func (s *Server) handleGetPost(c *gin.Context) {
	post, err := s.App.Store.FindByHash(c.Request.Context(), c.Param("hash"))
	if err != nil {
		s.Logger.Error("Failed to get post", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get post"})
		return
	}
	if post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	c.JSON(http.StatusOK, post)
}

func (s *Server) handleQuota(c *gin.Context) {
	quota, err := s.App.Quota.Quota(c.Request.Context())
	if err != nil {
		s.Logger.Error("Failed to read publishing quota", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to read publishing quota"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quota": quota, "exhausted": quota.Exhausted()})
}

func (s *Server) handlePublish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := graph.MediaKindReels
	if req.MediaKind != "" {
		parsed, err := graph.ParseMediaKind(req.MediaKind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		kind = parsed
	}

	outcome, err := s.App.Dispatcher.Submit(c.Request.Context(), req.URL, req.Caption, kind)
	if err != nil {
		if errors.Is(err, service.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Publish queue is full"})
			return
		}
		s.Logger.Error("Failed to submit publish", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit publish"})
		return
	}

	status := http.StatusAccepted
	if outcome == service.OutcomeAlreadyExists {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"outcome": outcome})
}
