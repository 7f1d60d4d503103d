package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mirrorbet/mirrorbet/internal/exchange"
	"github.com/mirrorbet/mirrorbet/internal/models"
)

type reconcilerFixture struct {
	client  *MockExchangeClient
	source  *MockOpportunitySource
	service *ReconcileService
}

func newTestReconciler() *reconcilerFixture {
	client := &MockExchangeClient{}
	source := &MockOpportunitySource{}
	cfg := testTradingConfig()

	tracker := NewPositionTracker(client, cfg, testLogger())
	placement := newTestPlacement(client, cfg)
	calculator := NewArbitrageCalculator(decimal.NewFromFloat(cfg.CommissionRate))

	service := NewReconcileService(source, tracker, placement, calculator, cfg, testLogger(), nil)
	service.updateDelay = 0

	return &reconcilerFixture{client: client, source: source, service: service}
}

func lineOpportunity(lineID, side string, odds int, stake float64) models.Opportunity {
	return models.Opportunity{
		EventID:        "ev1",
		MarketID:       "mk1",
		LineID:         lineID,
		Side:           side,
		Odds:           odds,
		Stake:          decimal.NewFromFloat(stake),
		Classification: models.ClassSingle,
		DetectedAt:     time.Now(),
	}
}

func linePosition(correlationID, lineID, side string, odds int, stake float64) models.Position {
	amount := decimal.NewFromFloat(stake)
	return models.Position{
		CorrelationID:  correlationID,
		ExchangeID:     "ex-" + correlationID,
		EventID:        "ev1",
		MarketID:       "mk1",
		LineID:         lineID,
		Side:           side,
		Odds:           odds,
		Stake:          amount,
		UnmatchedStake: amount,
		Status:         models.PositionPending,
		PlacedAt:       time.Now().Add(-time.Minute),
	}
}

func liveOrder(correlationID, orderID, lineID, side string, odds int, stake float64) exchange.Order {
	return exchange.Order{
		OrderID:       orderID,
		CorrelationID: correlationID,
		EventID:       "ev1",
		MarketID:      "mk1",
		LineID:        lineID,
		Side:          side,
		Odds:          odds,
		Stake:         decimal.NewFromFloat(stake),
		Status:        "open",
		PlacedAt:      time.Now().Add(-time.Minute),
		UpdatedAt:     time.Now(),
	}
}

func TestComputeDifferences_Idempotent(t *testing.T) {
	fixture := newTestReconciler()

	positions := []models.Position{
		linePosition("mb-a", "line1", "home", -110, 100),
		linePosition("mb-b", "line2", "away", 120, 100),
	}
	opportunities := []models.Opportunity{
		lineOpportunity("line1", "home", -115, 100),
		lineOpportunity("line3", "home", -110, 50),
	}

	first := fixture.service.computeDifferences(positions, opportunities)
	second := fixture.service.computeDifferences(positions, opportunities)

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestComputeDifferences_OddsChangeEmitsUpdate(t *testing.T) {
	fixture := newTestReconciler()

	diffs := fixture.service.computeDifferences(
		[]models.Position{linePosition("mb-a", "line1", "home", -110, 100)},
		[]models.Opportunity{lineOpportunity("line1", "home", -115, 100)},
	)

	require.Len(t, diffs, 1)
	assert.Equal(t, models.DiffOddsChange, diffs[0].Kind)
	assert.Equal(t, models.ActionUpdate, diffs[0].Action)
	assert.Equal(t, "mb-a", diffs[0].CorrelationID)
	assert.Equal(t, -110, diffs[0].CurrentOdds)
	assert.Equal(t, -115, diffs[0].RecommendedOdds)
}

func TestComputeDifferences_CancelWhenOpportunityGone(t *testing.T) {
	fixture := newTestReconciler()

	diffs := fixture.service.computeDifferences(
		[]models.Position{linePosition("mb-a", "line1", "home", -110, 100)},
		nil,
	)

	require.Len(t, diffs, 1)
	assert.Equal(t, models.DiffRemoveOpportunity, diffs[0].Kind)
	assert.Equal(t, models.ActionCancel, diffs[0].Action)
	assert.Equal(t, "mb-a", diffs[0].CorrelationID)
	assert.Equal(t, "ex-mb-a", diffs[0].ExchangeID)
}

func TestComputeDifferences_StakeThreshold(t *testing.T) {
	fixture := newTestReconciler()
	positions := []models.Position{linePosition("mb-a", "line1", "home", -110, 100)}

	within := fixture.service.computeDifferences(positions,
		[]models.Opportunity{lineOpportunity("line1", "home", -110, 109)})
	assert.Empty(t, within)

	beyond := fixture.service.computeDifferences(positions,
		[]models.Opportunity{lineOpportunity("line1", "home", -110, 111)})
	require.Len(t, beyond, 1)
	assert.Equal(t, models.DiffStakeChange, beyond[0].Kind)
	assert.Equal(t, models.ActionUpdate, beyond[0].Action)
}

func TestComputeDifferences_NewOpportunityEmitsPlace(t *testing.T) {
	fixture := newTestReconciler()

	diffs := fixture.service.computeDifferences(nil,
		[]models.Opportunity{lineOpportunity("line1", "home", -110, 100)})

	require.Len(t, diffs, 1)
	assert.Equal(t, models.DiffNewOpportunity, diffs[0].Kind)
	assert.Equal(t, models.ActionPlace, diffs[0].Action)
	require.NotNil(t, diffs[0].Opportunity)
	assert.Equal(t, "line1", diffs[0].Opportunity.LineID)
}

func TestRunOneCycle_ExposureGuardRejectsWithoutExchangeCall(t *testing.T) {
	fixture := newTestReconciler()

	// $140 already working the line; another $50 against a 3.0x
	// multiplier caps out at $150 and must be refused before any
	// exchange traffic.
	fixture.client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		liveOrder("mb-existing", "ex-1", "line1", "home", -110, 140),
	}, nil)
	fixture.source.On("GetCurrentOpportunities", mock.Anything).Return([]models.Opportunity{
		lineOpportunity("line1", "home", -110, 140),
		lineOpportunity("line1", "away", 120, 50),
	}, nil)

	err := fixture.service.RunOneCycle(context.Background())
	require.NoError(t, err)

	fixture.client.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
	fixture.client.AssertNotCalled(t, "GetBalance", mock.Anything)

	status := fixture.service.GetStatus()
	require.NotEmpty(t, status.RecentActions)
	rejection := status.RecentActions[len(status.RecentActions)-1]
	assert.False(t, rejection.Success)
	assert.Equal(t, models.ActionPlace, rejection.Action)
	assert.Contains(t, rejection.Error, "exposure guard")
}

func TestRunOneCycle_ExposureGuardCountsOrdersMissingIdentifiers(t *testing.T) {
	fixture := newTestReconciler()

	// The working order never came back with an exchange id, so it is
	// invisible to the diff. Its $140 is still on the book: a $50 place
	// against the 3.0x cap would sneak through if the guard only saw
	// the targetable positions.
	fixture.client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		liveOrder("mb-headless", "", "line1", "home", -110, 140),
	}, nil)
	fixture.source.On("GetCurrentOpportunities", mock.Anything).Return([]models.Opportunity{
		lineOpportunity("line1", "away", 120, 50),
	}, nil)

	err := fixture.service.RunOneCycle(context.Background())
	require.NoError(t, err)

	fixture.client.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
	fixture.client.AssertNotCalled(t, "GetBalance", mock.Anything)
	fixture.client.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything, mock.Anything)

	status := fixture.service.GetStatus()
	require.NotEmpty(t, status.RecentActions)
	rejection := status.RecentActions[len(status.RecentActions)-1]
	assert.False(t, rejection.Success)
	assert.Equal(t, models.ActionPlace, rejection.Action)
	assert.Contains(t, rejection.Error, "exposure guard")
	assert.Equal(t, 1, status.MissingIdentifiers)
}

func TestRunOneCycle_CancelsPositionWithoutOpportunity(t *testing.T) {
	fixture := newTestReconciler()

	fixture.client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		liveOrder("mb-stale", "ex-1", "line1", "home", -110, 100),
	}, nil)
	fixture.source.On("GetCurrentOpportunities", mock.Anything).Return([]models.Opportunity{}, nil)
	fixture.client.On("CancelOrder", mock.Anything, "mb-stale", "ex-1").Return(nil)

	err := fixture.service.RunOneCycle(context.Background())
	require.NoError(t, err)

	fixture.client.AssertCalled(t, "CancelOrder", mock.Anything, "mb-stale", "ex-1")

	status := fixture.service.GetStatus()
	assert.Equal(t, 0, status.ActivePositions)
	require.NotEmpty(t, status.RecentActions)
	assert.True(t, status.RecentActions[0].Success)
	assert.Equal(t, models.ActionCancel, status.RecentActions[0].Action)
}

func TestRunOneCycle_UpdateCancelsThenReplaces(t *testing.T) {
	fixture := newTestReconciler()

	fixture.client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		liveOrder("mb-old", "ex-1", "line1", "home", -110, 100),
	}, nil)
	fixture.source.On("GetCurrentOpportunities", mock.Anything).Return([]models.Opportunity{
		lineOpportunity("line1", "home", -115, 100),
	}, nil)
	fixture.client.On("CancelOrder", mock.Anything, "mb-old", "ex-1").Return(nil)
	fixture.client.On("GetBalance", mock.Anything).
		Return(&exchange.BalanceResponse{Available: decimal.NewFromInt(1000)}, nil)
	fixture.client.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.LineID == "line1" && req.Odds == -115
	})).Return(&exchange.OrderResponse{OrderID: "ex-2", Status: "open"}, nil)

	err := fixture.service.RunOneCycle(context.Background())
	require.NoError(t, err)

	fixture.client.AssertNumberOfCalls(t, "CancelOrder", 1)
	fixture.client.AssertNumberOfCalls(t, "PlaceOrder", 1)

	status := fixture.service.GetStatus()
	require.Len(t, status.RecentActions, 2)
	assert.Equal(t, models.ActionCancel, status.RecentActions[0].Action)
	assert.True(t, status.RecentActions[0].Success)
	assert.Equal(t, models.ActionPlace, status.RecentActions[1].Action)
	assert.True(t, status.RecentActions[1].Success)
	assert.Equal(t, 1, status.ActivePositions)
}

func TestRunOneCycle_FailedCancelAbortsUpdate(t *testing.T) {
	fixture := newTestReconciler()

	fixture.client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		liveOrder("mb-old", "ex-1", "line1", "home", -110, 100),
	}, nil)
	fixture.source.On("GetCurrentOpportunities", mock.Anything).Return([]models.Opportunity{
		lineOpportunity("line1", "home", -115, 100),
	}, nil)
	fixture.client.On("CancelOrder", mock.Anything, "mb-old", "ex-1").
		Return(errors.New("exchange unavailable"))

	err := fixture.service.RunOneCycle(context.Background())
	require.NoError(t, err)

	fixture.client.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)

	status := fixture.service.GetStatus()
	require.Len(t, status.RecentActions, 1)
	aborted := status.RecentActions[0]
	assert.False(t, aborted.Success)
	assert.Equal(t, models.ActionUpdate, aborted.Action)
	assert.Contains(t, aborted.Details, "update aborted")
}

func TestRunOneCycle_DuplicateGuardSuppressesReplacement(t *testing.T) {
	fixture := newTestReconciler()

	// The exchange never reflects the first placement, so the second
	// cycle sees the same new-opportunity diff again.
	fixture.client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{}, nil)
	fixture.source.On("GetCurrentOpportunities", mock.Anything).Return([]models.Opportunity{
		lineOpportunity("line1", "home", -110, 100),
	}, nil)
	fixture.client.On("GetBalance", mock.Anything).
		Return(&exchange.BalanceResponse{Available: decimal.NewFromInt(1000)}, nil)
	fixture.client.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(&exchange.OrderResponse{OrderID: "ex-1", Status: "open"}, nil)

	require.NoError(t, fixture.service.RunOneCycle(context.Background()))
	require.NoError(t, fixture.service.RunOneCycle(context.Background()))

	fixture.client.AssertNumberOfCalls(t, "PlaceOrder", 1)

	status := fixture.service.GetStatus()
	suppressed := status.RecentActions[len(status.RecentActions)-1]
	assert.False(t, suppressed.Success)
	assert.Contains(t, suppressed.Error, "duplicate guard")
}

func TestRunOneCycle_ConflictGuardCancelsExistingSide(t *testing.T) {
	fixture := newTestReconciler()

	// Existing -110 position on the other side of the market: pairing
	// it with a -110 candidate guarantees a post-commission loss, so
	// the stale side is cancelled and the candidate skipped.
	fixture.client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		liveOrder("mb-existing", "ex-1", "line2", "away", -110, 100),
	}, nil)
	fixture.source.On("GetCurrentOpportunities", mock.Anything).Return([]models.Opportunity{
		lineOpportunity("line2", "away", -110, 100),
		lineOpportunity("line1", "home", -110, 50),
	}, nil)
	fixture.client.On("CancelOrder", mock.Anything, "mb-existing", "ex-1").Return(nil)

	err := fixture.service.RunOneCycle(context.Background())
	require.NoError(t, err)

	fixture.client.AssertCalled(t, "CancelOrder", mock.Anything, "mb-existing", "ex-1")
	fixture.client.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)

	status := fixture.service.GetStatus()
	require.Len(t, status.RecentActions, 2)
	assert.Equal(t, models.ActionCancel, status.RecentActions[0].Action)
	assert.True(t, status.RecentActions[0].Success)
	assert.Equal(t, models.ActionPlace, status.RecentActions[1].Action)
	assert.False(t, status.RecentActions[1].Success)
	assert.Contains(t, status.RecentActions[1].Error, "conflict")
}

func TestRunOneCycle_ConflictGuardReportsFailedCancellation(t *testing.T) {
	fixture := newTestReconciler()

	fixture.client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		liveOrder("mb-existing", "ex-1", "line2", "away", -110, 100),
	}, nil)
	fixture.source.On("GetCurrentOpportunities", mock.Anything).Return([]models.Opportunity{
		lineOpportunity("line2", "away", -110, 100),
		lineOpportunity("line1", "home", -110, 50),
	}, nil)
	fixture.client.On("CancelOrder", mock.Anything, "mb-existing", "ex-1").
		Return(errors.New("exchange unavailable"))

	err := fixture.service.RunOneCycle(context.Background())
	require.NoError(t, err)

	status := fixture.service.GetStatus()
	require.Len(t, status.RecentActions, 2)
	assert.Equal(t, models.ActionCancel, status.RecentActions[0].Action)
	assert.False(t, status.RecentActions[0].Success)

	// The rejection must not claim the conflicting side was removed
	// when the cancellation itself failed.
	rejection := status.RecentActions[1]
	assert.Equal(t, models.ActionPlace, rejection.Action)
	assert.False(t, rejection.Success)
	assert.Contains(t, rejection.Error, "cancelling it failed")
	assert.NotContains(t, rejection.Error, "cancelled it instead")
}

func TestRunOneCycle_RefreshFailurePropagates(t *testing.T) {
	fixture := newTestReconciler()

	fixture.client.On("GetRecentOrders", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset"))

	err := fixture.service.RunOneCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "position refresh failed")
}

func TestStartStop_Lifecycle(t *testing.T) {
	fixture := newTestReconciler()

	fixture.client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{}, nil)
	fixture.source.On("GetCurrentOpportunities", mock.Anything).Return([]models.Opportunity{}, nil)

	require.NoError(t, fixture.service.Start(context.Background()))
	assert.Error(t, fixture.service.Start(context.Background()))

	time.Sleep(50 * time.Millisecond)
	fixture.service.Stop()

	status := fixture.service.GetStatus()
	assert.False(t, status.Running)
	assert.GreaterOrEqual(t, status.CyclesCompleted, 1)
}
