package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mirrorbet/mirrorbet/internal/config"
	"github.com/mirrorbet/mirrorbet/internal/exchange"
	"github.com/mirrorbet/mirrorbet/internal/models"
)

// PositionTracker pulls the authoritative order state from the exchange
// and rebuilds the in-process view from scratch on every refresh. Nothing
// here is incrementally updated: local guesses about matched amounts or
// status transitions inevitably drift from the exchange's truth.
type PositionTracker struct {
	client exchange.Client
	window time.Duration
	logger *logrus.Logger

	mu           sync.RWMutex
	positions    []models.Position
	exposure     map[string]decimal.Decimal
	untargetable map[string]decimal.Decimal
	missing      []exchange.Order
	lastRefresh  time.Time
}

// NewPositionTracker creates a tracker over the exchange's recent-order
// history.
func NewPositionTracker(client exchange.Client, cfg config.TradingConfig, logger *logrus.Logger) *PositionTracker {
	windowHours := cfg.RecentOrdersWindowHours
	if windowHours <= 0 {
		windowHours = 24
	}
	return &PositionTracker{
		client:       client,
		window:       time.Duration(windowHours) * time.Hour,
		logger:       logger,
		exposure:     make(map[string]decimal.Decimal),
		untargetable: make(map[string]decimal.Decimal),
	}
}

// Refresh pulls recent orders, keeps the ones this system placed, and
// rebuilds positions, exposure, and the missing-identifier diagnostics.
func (t *PositionTracker) Refresh(ctx context.Context) ([]models.Position, error) {
	orders, err := t.client.GetRecentOrders(ctx, t.window)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent orders: %w", err)
	}

	positions := make([]models.Position, 0, len(orders))
	exposure := make(map[string]decimal.Decimal)
	untargetable := make(map[string]decimal.Decimal)
	var missing []exchange.Order

	for _, order := range orders {
		if !IsSystemCorrelationID(order.CorrelationID) {
			continue
		}

		pos := positionFromOrder(order)

		if order.OrderID == "" {
			// Without an exchange id this order can never be cancelled or
			// updated safely. Report it and never target it, but its stake
			// is still at risk on the book and must count against the line.
			missing = append(missing, order)
			if pos.IsActive() {
				exposure[pos.LineID] = exposure[pos.LineID].Add(pos.Stake)
				untargetable[pos.LineID] = untargetable[pos.LineID].Add(pos.Stake)
			}
			continue
		}

		positions = append(positions, pos)

		if pos.IsActive() {
			exposure[pos.LineID] = exposure[pos.LineID].Add(pos.Stake)
		}
	}

	t.mu.Lock()
	t.positions = positions
	t.exposure = exposure
	t.untargetable = untargetable
	t.missing = missing
	t.lastRefresh = time.Now()
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"orders":              len(orders),
		"system_positions":    len(positions),
		"missing_identifiers": len(missing),
	}).Debug("Position refresh completed")

	return positions, nil
}

func positionFromOrder(order exchange.Order) models.Position {
	unmatched := order.Stake.Sub(order.MatchedStake)
	if unmatched.IsNegative() {
		unmatched = decimal.Zero
	}

	status := models.PositionPending
	switch {
	case order.Status == "cancelled":
		status = models.PositionCancelled
	case order.MatchedStake.GreaterThanOrEqual(order.Stake):
		status = models.PositionMatched
	}

	return models.Position{
		CorrelationID:  order.CorrelationID,
		ExchangeID:     order.OrderID,
		LineID:         order.LineID,
		EventID:        order.EventID,
		MarketID:       order.MarketID,
		Side:           order.Side,
		Odds:           order.Odds,
		Stake:          order.Stake,
		MatchedStake:   order.MatchedStake,
		UnmatchedStake: unmatched,
		Status:         status,
		PlacedAt:       order.PlacedAt,
		UpdatedAt:      order.UpdatedAt,
	}
}

// ActivePositions returns the positions with stake still open on the book
// from the last refresh.
func (t *PositionTracker) ActivePositions() []models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var active []models.Position
	for _, pos := range t.positions {
		if pos.IsActive() {
			active = append(active, pos)
		}
	}
	return active
}

// ExposureForLine returns the cumulative active stake on a line.
func (t *PositionTracker) ExposureForLine(lineID string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.exposure[lineID]
}

// UntargetableExposure returns the per-line stake held by active orders
// that cannot be cancelled or updated for want of an exchange id. The
// stake is real even though the order is not addressable.
func (t *PositionTracker) UntargetableExposure() map[string]decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(t.untargetable))
	for line, stake := range t.untargetable {
		out[line] = stake
	}
	return out
}

// MissingIdentifiers returns system-tagged orders that cannot be targeted
// for cancel or update because an identifier is absent.
func (t *PositionTracker) MissingIdentifiers() []exchange.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]exchange.Order(nil), t.missing...)
}

// LastRefresh returns when the tracker last pulled from the exchange.
func (t *PositionTracker) LastRefresh() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastRefresh
}
