package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mirrorbet/mirrorbet/internal/models"
	"github.com/mirrorbet/mirrorbet/internal/utils"
)

// PairOrderRequest carries the two candidate legs of an arbitrage pair.
// The server re-runs the pair analysis itself; callers never submit
// pre-computed stakes for pairs.
type PairOrderRequest struct {
	Leg1 models.Opportunity `json:"leg1"`
	Leg2 models.Opportunity `json:"leg2"`
}

type BatchOrderRequest struct {
	Orders []models.PlacementRequest `json:"orders"`
}

func (s *Server) placeSingleOrder(c *gin.Context) {
	var req models.PlacementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := s.placement.PlaceSingle(c.Request.Context(), req)
	if err != nil {
		c.JSON(placementStatus(err), result)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) placePairOrder(c *gin.Context) {
	var req PairOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	analysis, err := s.calculator.AnalyzePair(req.Leg1, req.Leg2)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if analysis.Recommendation != models.BetBoth {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":          "pair is not an arbitrage after commission",
			"recommendation": analysis.Recommendation,
		})
		return
	}

	result, err := s.placement.PlaceArbitragePair(c.Request.Context(), analysis)
	if err != nil {
		c.JSON(placementStatus(err), result)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) placeBatchOrders(c *gin.Context) {
	var req BatchOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.Orders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orders list is empty"})
		return
	}

	result, err := s.placement.PlaceBatch(c.Request.Context(), req.Orders)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// placementStatus maps the error taxonomy onto HTTP status codes.
func placementStatus(err error) int {
	var validation *utils.ValidationError
	var funds *utils.InsufficientFundsError
	var rejection *utils.ExchangeRejectionError
	var network *utils.NetworkError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &funds):
		return http.StatusUnprocessableEntity
	case errors.As(err, &rejection):
		return http.StatusConflict
	case errors.As(err, &network):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
