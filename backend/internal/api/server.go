// Package api exposes discovery, review and graph reads over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"contactgraph/backend/internal/discovery"
	"contactgraph/backend/internal/graph"
	"contactgraph/backend/internal/groups"
	"contactgraph/backend/internal/jobs"
	"contactgraph/backend/internal/metrics"
	"contactgraph/backend/internal/review"
	"contactgraph/backend/pkg/logger"
)

// MaxWait caps the wait query parameter of POST /discover.
const MaxWait = 60 * time.Second

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Tracker *jobs.Tracker
	Reviews *review.Service
	Groups  *groups.Engine
	Graph   graph.Store
	Metrics *metrics.Collector
	Logger  *zap.Logger

	// Defaults fill zero-valued discovery options of a request.
	Defaults discovery.Options
	// DefaultWait applies when POST /discover has no wait parameter.
	DefaultWait time.Duration
	Production  bool
}

// Server holds the HTTP handlers.
type Server struct {
	tracker     *jobs.Tracker
	reviews     *review.Service
	groups      *groups.Engine
	graph       graph.Store
	metrics     *metrics.Collector
	logger      *zap.Logger
	defaults    discovery.Options
	defaultWait time.Duration
	production  bool
}

// NewServer creates a Server from d.
func NewServer(d Deps) *Server {
	return &Server{
		tracker:     d.Tracker,
		reviews:     d.Reviews,
		groups:      d.Groups,
		graph:       d.Graph,
		metrics:     d.Metrics,
		logger:      logger.OrNop(d.Logger),
		defaults:    d.Defaults,
		defaultWait: d.DefaultWait,
		production:  d.Production,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	if s.production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(s.logger))
	router.Use(gin.Recovery())
	router.Use(instrument(s.metrics))
	router.Use(cors())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := router.Group("/api/v1", requireUser())
	{
		v1.POST("/discover", s.discover)
		v1.GET("/jobs/:jobId", s.job)
		v1.GET("/jobs/:jobId/pending", s.pending)
		v1.POST("/relationships/:id/approve", s.approve)
		v1.POST("/relationships/:id/reject", s.reject)
		v1.GET("/graph", s.graphData)
		v1.DELETE("/graph", s.purge)
		v1.GET("/graph/nodes/:nodeId/neighborhood", s.neighborhood)
		v1.GET("/groups/suggested", s.suggestedGroups)
		v1.GET("/stats", s.stats)
	}
	return router
}

// Handler is the router wrapped with OpenTelemetry HTTP instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Router(), "contactgraph.http")
}
