package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"contactgraph/backend/internal/discovery"
	"contactgraph/backend/internal/domain"
	apperrors "contactgraph/backend/pkg/errors"
)

type discoverRequest struct {
	Contacts []domain.Contact  `json:"contacts"`
	Options  discovery.Options `json:"options"`
}

func (s *Server) health(c *gin.Context) {
	h := s.graph.HealthCheck(c.Request.Context())
	if !h.Healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "graph": h})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "graph": h})
}

// discover starts a job and waits up to ?wait= for it. A finished job
// answers 200, a job still running answers 202.
func (s *Server) discover(c *gin.Context) {
	var req discoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wait := s.defaultWait
	if raw := c.Query("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wait: " + raw})
			return
		}
		wait = d
	}
	if wait > MaxWait {
		wait = MaxWait
	}

	userID := c.GetString(userKey)
	opts := s.withDefaults(req.Options)
	job, err := s.tracker.Submit(c.Request.Context(), userID, req.Contacts, opts)
	if err != nil {
		s.fail(c, err, "Failed to start discovery")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	job, err = s.tracker.Wait(ctx, userID, job.ID)
	if err != nil {
		s.fail(c, err, "Failed to read job")
		return
	}
	status := http.StatusOK
	if !job.Status.Done() {
		status = http.StatusAccepted
	}
	c.JSON(status, domain.ResultOf(*job))
}

func (s *Server) withDefaults(o discovery.Options) discovery.Options {
	if o.MinTagSimilarity == 0 {
		o.MinTagSimilarity = s.defaults.MinTagSimilarity
	}
	if o.MinSemanticSimilarity == 0 {
		o.MinSemanticSimilarity = s.defaults.MinSemanticSimilarity
	}
	if o.MaxContacts == 0 {
		o.MaxContacts = s.defaults.MaxContacts
	}
	return o
}

func (s *Server) job(c *gin.Context) {
	job, err := s.tracker.Job(c.Request.Context(), c.GetString(userKey), c.Param("jobId"))
	if err != nil {
		s.fail(c, err, "Failed to read job")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) pending(c *gin.Context) {
	page, err := s.reviews.GetPendingRelationships(c.Request.Context(),
		c.GetString(userKey), c.Param("jobId"), c.DefaultQuery("tier", string(domain.TierMedium)))
	if err != nil {
		s.fail(c, err, "Failed to list pending relationships")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) approve(c *gin.Context) {
	res, err := s.reviews.Approve(c.Request.Context(), c.GetString(userKey), c.Param("id"))
	if err != nil {
		s.fail(c, err, "Failed to approve relationship")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) reject(c *gin.Context) {
	res, err := s.reviews.Reject(c.Request.Context(), c.GetString(userKey), c.Param("id"))
	if err != nil {
		s.fail(c, err, "Failed to reject relationship")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) graphData(c *gin.Context) {
	sub, err := s.graph.GraphData(c.Request.Context(), c.GetString(userKey))
	if err != nil {
		s.fail(c, err, "Failed to read graph")
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) neighborhood(c *gin.Context) {
	depth := 1
	if raw := c.Query("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be a positive integer"})
			return
		}
		depth = d
	}
	var types []domain.EdgeType
	if raw := c.Query("types"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			t := domain.EdgeType(strings.ToUpper(strings.TrimSpace(name)))
			if !t.Valid() {
				s.fail(c, apperrors.NewInputValidation("types", "unknown edge type "+name), "")
				return
			}
			types = append(types, t)
		}
	}

	sub, err := s.graph.QueryNeighborhood(c.Request.Context(), c.GetString(userKey), c.Param("nodeId"), types, depth)
	if err != nil {
		s.fail(c, err, "Failed to query neighborhood")
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) suggestedGroups(c *gin.Context) {
	out, err := s.groups.SuggestedGroups(c.Request.Context(), c.GetString(userKey))
	if err != nil {
		s.fail(c, err, "Failed to suggest groups")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.tracker.Stats(c.Request.Context(), c.GetString(userKey))
	if err != nil {
		s.fail(c, err, "Failed to read stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) purge(c *gin.Context) {
	deleted, err := s.tracker.Purge(c.Request.Context(), c.GetString(userKey))
	if err != nil {
		s.fail(c, err, "Failed to purge graph")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
