package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mirrorbet/mirrorbet/internal/database"
	"github.com/mirrorbet/mirrorbet/internal/models"
	"github.com/mirrorbet/mirrorbet/internal/services"
)

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

// Server wires the trading services into the HTTP boundary. The database
// and redis handles may be nil when those backends are not configured.
type Server struct {
	scanner    *services.Scanner
	placement  *services.PlacementService
	tracker    *services.PositionTracker
	reconciler *services.ReconcileService
	calculator *services.ArbitrageCalculator
	audit      *database.AuditRepository
	db         *database.PostgresDB
	redis      *database.RedisClient
	logger     *logrus.Logger
	loopCtx    context.Context
}

func NewServer(
	scanner *services.Scanner,
	placement *services.PlacementService,
	tracker *services.PositionTracker,
	reconciler *services.ReconcileService,
	calculator *services.ArbitrageCalculator,
	audit *database.AuditRepository,
	db *database.PostgresDB,
	redis *database.RedisClient,
	logger *logrus.Logger,
) *Server {
	return &Server{
		scanner:    scanner,
		placement:  placement,
		tracker:    tracker,
		reconciler: reconciler,
		calculator: calculator,
		audit:      audit,
		db:         db,
		redis:      redis,
		logger:     logger,
	}
}

func (s *Server) SetupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/recommendations", s.getRecommendations)

		orders := v1.Group("/orders")
		{
			orders.POST("/single", s.placeSingleOrder)
			orders.POST("/pair", s.placePairOrder)
			orders.POST("/batch", s.placeBatchOrders)
		}

		reconciler := v1.Group("/reconciler")
		{
			reconciler.POST("/start", s.startReconciler)
			reconciler.POST("/stop", s.stopReconciler)
			reconciler.POST("/cycle", s.runReconcilerCycle)
			reconciler.GET("/status", s.getReconcilerStatus)
		}

		v1.GET("/positions", s.getPositions)
		v1.GET("/actions", s.getActions)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   "1.0.0",
		Services:  make(map[string]string),
	}

	if s.db != nil {
		if err := s.db.HealthCheck(c.Request.Context()); err != nil {
			response.Services["database"] = "unhealthy: " + err.Error()
			response.Status = "degraded"
		} else {
			response.Services["database"] = "healthy"
		}
	} else {
		response.Services["database"] = "not configured"
	}

	if s.redis != nil {
		if err := s.redis.HealthCheck(c.Request.Context()); err != nil {
			response.Services["redis"] = "unhealthy: " + err.Error()
			response.Status = "degraded"
		} else {
			response.Services["redis"] = "healthy"
		}
	} else {
		response.Services["redis"] = "not configured"
	}

	status := http.StatusOK
	if response.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}

func (s *Server) getRecommendations(c *gin.Context) {
	opportunities, err := s.scanner.GetCurrentOpportunities(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to compute recommendations")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"opportunities": opportunities,
		"count":         len(opportunities),
	})
}

func (s *Server) getPositions(c *gin.Context) {
	if c.Query("refresh") == "true" {
		if _, err := s.tracker.Refresh(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}

	positions := s.tracker.ActivePositions()
	if positions == nil {
		positions = []models.Position{}
	}
	c.JSON(http.StatusOK, gin.H{
		"positions":    positions,
		"count":        len(positions),
		"last_refresh": s.tracker.LastRefresh(),
	})
}

func (s *Server) getActions(c *gin.Context) {
	if s.audit != nil {
		actions, err := s.audit.RecentActions(c.Request.Context(), 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if actions == nil {
			actions = []models.ActionResult{}
		}
		c.JSON(http.StatusOK, gin.H{"actions": actions, "source": "database"})
		return
	}

	status := s.reconciler.GetStatus()
	c.JSON(http.StatusOK, gin.H{"actions": status.RecentActions, "source": "memory"})
}
