package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mirrorbet/mirrorbet/internal/config"
	"github.com/mirrorbet/mirrorbet/internal/exchange"
	"github.com/mirrorbet/mirrorbet/internal/models"
	"github.com/mirrorbet/mirrorbet/internal/utils"
)

// CorrelationIDPrefix tags every order this system places so the tracker
// can tell our orders apart from anything placed by hand.
const CorrelationIDPrefix = "mb-"

// maxOddsMagnitude bounds the American lines we are willing to submit.
const maxOddsMagnitude = 10000

// PlacementService is the order placement orchestrator. It owns every
// mutating call to the exchange: single placements, all-or-nothing pair
// placements with rollback, batched placements, and cancellations.
type PlacementService struct {
	client           exchange.Client
	tradingConfig    config.TradingConfig
	logger           *logrus.Logger
	settleDelay      time.Duration
	balanceTolerance decimal.Decimal
}

// NewPlacementService creates a placement orchestrator.
func NewPlacementService(client exchange.Client, cfg config.TradingConfig, logger *logrus.Logger) *PlacementService {
	return &PlacementService{
		client:           client,
		tradingConfig:    cfg,
		logger:           logger,
		settleDelay:      250 * time.Millisecond,
		balanceTolerance: decimal.NewFromInt(1),
	}
}

// NewCorrelationID generates a fresh system-tagged correlation id.
func NewCorrelationID() string {
	return CorrelationIDPrefix + uuid.New().String()
}

// IsSystemCorrelationID reports whether an order was placed by this system.
func IsSystemCorrelationID(id string) bool {
	return len(id) > len(CorrelationIDPrefix) && id[:len(CorrelationIDPrefix)] == CorrelationIDPrefix
}

func (s *PlacementService) validate(req *models.PlacementRequest) error {
	if !req.Stake.IsPositive() {
		return utils.NewValidationErrorf("stake must be positive, got %s", req.Stake)
	}
	maxStake := decimal.NewFromFloat(s.tradingConfig.MaxStake)
	if req.Stake.GreaterThan(maxStake) {
		return utils.NewValidationErrorf("stake %s exceeds cap %s", req.Stake, maxStake)
	}
	if req.Odds > -100 && req.Odds < 100 {
		return utils.NewValidationErrorf("odds %d are not a valid American line", req.Odds)
	}
	if req.Odds > maxOddsMagnitude || req.Odds < -maxOddsMagnitude {
		return utils.NewValidationErrorf("odds %d exceed sane magnitude %d", req.Odds, maxOddsMagnitude)
	}
	if req.LineID == "" {
		return utils.NewValidationError("line id is required")
	}
	return nil
}

func (s *PlacementService) buildPosition(req *models.PlacementRequest, correlationID, exchangeID string) *models.Position {
	now := time.Now()
	return &models.Position{
		CorrelationID:  correlationID,
		ExchangeID:     exchangeID,
		LineID:         req.LineID,
		EventID:        req.EventID,
		MarketID:       req.MarketID,
		Side:           req.Side,
		Odds:           req.Odds,
		Stake:          req.Stake,
		UnmatchedStake: req.Stake,
		Status:         models.PositionPending,
		PairGroupID:    req.PairGroupID,
		PlacedAt:       now,
		UpdatedAt:      now,
	}
}

// PlaceSingle validates, funds-checks and submits one order, then verifies
// the balance actually moved. A balance that did not move as expected is a
// warning only: exchanges settle asynchronously and the order itself has
// already been accepted.
func (s *PlacementService) PlaceSingle(ctx context.Context, req models.PlacementRequest) (*models.PlacementResult, error) {
	if err := s.validate(&req); err != nil {
		return &models.PlacementResult{Success: false, Error: err.Error()}, err
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}

	if s.tradingConfig.DryRun {
		s.logger.WithFields(logrus.Fields{
			"line_id": req.LineID,
			"side":    req.Side,
			"odds":    req.Odds,
			"stake":   req.Stake.StringFixed(2),
		}).Info("Dry run: simulating order placement")
		pos := s.buildPosition(&req, correlationID, "dryrun-"+uuid.New().String())
		return &models.PlacementResult{Success: true, Position: pos, BalanceVerified: true}, nil
	}

	balanceBefore, err := s.client.GetBalance(ctx)
	if err != nil {
		return &models.PlacementResult{Success: false, Error: err.Error()}, err
	}

	buffer := decimal.NewFromFloat(s.tradingConfig.BalanceBuffer)
	required := req.Stake.Add(buffer)
	if balanceBefore.Available.LessThan(required) {
		fundsErr := &utils.InsufficientFundsError{
			Required:  required.StringFixed(2),
			Available: balanceBefore.Available.StringFixed(2),
		}
		return &models.PlacementResult{Success: false, Error: fundsErr.Error()}, fundsErr
	}

	resp, err := s.client.PlaceOrder(ctx, exchange.OrderRequest{
		LineID:        req.LineID,
		Side:          req.Side,
		Odds:          req.Odds,
		Stake:         req.Stake,
		CorrelationID: correlationID,
	})
	if err != nil {
		s.logger.WithError(err).WithField("line_id", req.LineID).Error("Order placement failed")
		return &models.PlacementResult{Success: false, Error: err.Error()}, err
	}

	result := &models.PlacementResult{
		Success:  true,
		Position: s.buildPosition(&req, correlationID, resp.OrderID),
	}

	// Give the exchange a moment to settle before re-reading the balance.
	s.sleep(ctx, s.settleDelay)

	balanceAfter, err := s.client.GetBalance(ctx)
	if err != nil {
		result.BalanceWarning = fmt.Sprintf("balance verification skipped: %v", err)
		s.logger.WithError(err).Warn("Could not re-read balance after placement")
		return result, nil
	}

	expected := balanceBefore.Available.Sub(req.Stake)
	drift := balanceAfter.Available.Sub(expected).Abs()
	if drift.GreaterThan(s.balanceTolerance) {
		result.BalanceWarning = fmt.Sprintf(
			"balance moved by %s, expected ~%s",
			balanceBefore.Available.Sub(balanceAfter.Available).StringFixed(2),
			req.Stake.StringFixed(2))
		s.logger.WithFields(logrus.Fields{
			"correlation_id": correlationID,
			"expected":       expected.StringFixed(2),
			"actual":         balanceAfter.Available.StringFixed(2),
		}).Warn("Post-placement balance mismatch")
	} else {
		result.BalanceVerified = true
	}

	s.logger.WithFields(logrus.Fields{
		"correlation_id": correlationID,
		"exchange_id":    resp.OrderID,
		"line_id":        req.LineID,
		"odds":           req.Odds,
		"stake":          req.Stake.StringFixed(2),
	}).Info("Order placed")

	return result, nil
}

// PlaceArbitragePair places both legs of an arbitrage pair with an
// all-or-nothing discipline. Leg two is never attempted when leg one
// fails. When leg one lands and leg two fails, leg one is rolled back and
// the rollback outcome is reported alongside the failure.
func (s *PlacementService) PlaceArbitragePair(ctx context.Context, analysis *models.ArbitrageAnalysis) (*models.PairResult, error) {
	if analysis.Recommendation != models.BetBoth {
		err := utils.NewValidationErrorf("pair placement requires a bet_both recommendation, got %s", analysis.Recommendation)
		return &models.PairResult{Success: false, Error: err.Error()}, err
	}

	pairGroupID := uuid.New().String()

	leg1Req := requestFromLeg(analysis.Leg1, analysis.Sizing1, pairGroupID)
	leg1, err := s.PlaceSingle(ctx, leg1Req)
	if err != nil {
		return &models.PairResult{
			Success: false,
			Leg1:    leg1,
			Error:   fmt.Sprintf("leg 1 failed: %s", leg1.Error),
		}, err
	}

	leg2Req := requestFromLeg(analysis.Leg2, analysis.Sizing2, pairGroupID)
	leg2, err := s.PlaceSingle(ctx, leg2Req)
	if err == nil {
		return &models.PairResult{Success: true, Leg1: leg1, Leg2: leg2}, nil
	}

	// Leg one is live and leg two failed: roll leg one back. A failed
	// rollback leaves a naked position and must be surfaced loudly.
	s.logger.WithFields(logrus.Fields{
		"pair_group": pairGroupID,
		"leg1":       leg1.Position.CorrelationID,
		"leg2_error": leg2.Error,
	}).Warn("Leg 2 failed after leg 1 placed, rolling back")

	rollbackErr := s.CancelPosition(ctx, leg1.Position.CorrelationID, leg1.Position.ExchangeID)
	pairErr := &utils.PartialArbitrageFailure{
		Leg1CorrelationID: leg1.Position.CorrelationID,
		Leg2Error:         leg2.Error,
		RollbackSucceeded: rollbackErr == nil,
	}
	if rollbackErr != nil {
		s.logger.WithError(rollbackErr).WithField("leg1", leg1.Position.CorrelationID).
			Error("Rollback of leg 1 failed, naked position on the book")
	}

	return &models.PairResult{
		Success:           false,
		Leg1:              leg1,
		Leg2:              leg2,
		RollbackAttempted: true,
		RollbackSucceeded: rollbackErr == nil,
		Error:             pairErr.Error(),
	}, pairErr
}

func requestFromLeg(leg models.Opportunity, sizing models.BetSizingResult, pairGroupID string) models.PlacementRequest {
	return models.PlacementRequest{
		EventID:     leg.EventID,
		MarketID:    leg.MarketID,
		LineID:      leg.LineID,
		Side:        leg.Side,
		Odds:        leg.Odds,
		Stake:       sizing.Stake,
		PairGroupID: pairGroupID,
	}
}

// PlaceBatch submits many single orders, chunking to the exchange's batch
// limit and isolating failures per correlation id. One bad order never
// fails the rest of the batch.
func (s *PlacementService) PlaceBatch(ctx context.Context, reqs []models.PlacementRequest) (*models.BatchResult, error) {
	result := &models.BatchResult{Results: make(map[string]models.PlacementResult, len(reqs))}

	var valid []models.PlacementRequest
	for i := range reqs {
		req := reqs[i]
		if req.CorrelationID == "" {
			req.CorrelationID = NewCorrelationID()
		}
		if err := s.validate(&req); err != nil {
			result.Results[req.CorrelationID] = models.PlacementResult{Success: false, Error: err.Error()}
			result.Failed++
			continue
		}
		valid = append(valid, req)
	}

	if s.tradingConfig.DryRun {
		for i := range valid {
			req := valid[i]
			pos := s.buildPosition(&req, req.CorrelationID, "dryrun-"+uuid.New().String())
			result.Results[req.CorrelationID] = models.PlacementResult{Success: true, Position: pos, BalanceVerified: true}
			result.Placed++
		}
		return result, nil
	}

	byCorrelation := make(map[string]models.PlacementRequest, len(valid))
	for chunkStart := 0; chunkStart < len(valid); chunkStart += exchange.MaxBatchSize {
		chunkEnd := chunkStart + exchange.MaxBatchSize
		if chunkEnd > len(valid) {
			chunkEnd = len(valid)
		}

		chunk := make([]exchange.OrderRequest, 0, chunkEnd-chunkStart)
		for _, req := range valid[chunkStart:chunkEnd] {
			byCorrelation[req.CorrelationID] = req
			chunk = append(chunk, exchange.OrderRequest{
				LineID:        req.LineID,
				Side:          req.Side,
				Odds:          req.Odds,
				Stake:         req.Stake,
				CorrelationID: req.CorrelationID,
			})
		}

		resp, err := s.client.PlaceOrdersBatch(ctx, chunk)
		if err != nil {
			// Transport failure: every order in this chunk failed the
			// same way, later chunks are still attempted.
			for _, order := range chunk {
				result.Results[order.CorrelationID] = models.PlacementResult{Success: false, Error: err.Error()}
				result.Failed++
			}
			s.logger.WithError(err).Error("Batch chunk submission failed")
			continue
		}

		for _, ack := range resp.Succeeded {
			req := byCorrelation[ack.CorrelationID]
			pos := s.buildPosition(&req, ack.CorrelationID, ack.OrderID)
			result.Results[ack.CorrelationID] = models.PlacementResult{Success: true, Position: pos}
			result.Placed++
		}
		for _, failure := range resp.Failed {
			rejection := &utils.ExchangeRejectionError{CorrelationID: failure.CorrelationID, Reason: failure.Reason}
			result.Results[failure.CorrelationID] = models.PlacementResult{Success: false, Error: rejection.Error()}
			result.Failed++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"requested": len(reqs),
		"placed":    result.Placed,
		"failed":    result.Failed,
	}).Info("Batch placement completed")

	return result, nil
}

// CancelPosition cancels an order by its own identifiers. Callers must
// pass the identifiers recorded at placement; cancellation never falls
// back to matching by line and side.
func (s *PlacementService) CancelPosition(ctx context.Context, correlationID, exchangeID string) error {
	if correlationID == "" && exchangeID == "" {
		return utils.NewValidationError("cancel requires a correlation id or exchange id")
	}

	if s.tradingConfig.DryRun {
		s.logger.WithField("correlation_id", correlationID).Info("Dry run: simulating cancellation")
		return nil
	}

	if err := s.client.CancelOrder(ctx, correlationID, exchangeID); err != nil {
		s.logger.WithError(err).WithField("correlation_id", correlationID).Error("Cancellation failed")
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"correlation_id": correlationID,
		"exchange_id":    exchangeID,
	}).Info("Order cancelled")
	return nil
}

// sleep waits for d unless the context ends first.
func (s *PlacementService) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
