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
)

func orderFixture(correlationID, orderID, lineID string, stake, matched float64, status string) exchange.Order {
	return exchange.Order{
		OrderID:       orderID,
		CorrelationID: correlationID,
		EventID:       "ev1",
		MarketID:      "mk1",
		LineID:        lineID,
		Side:          "home",
		Odds:          -110,
		Stake:         decimal.NewFromFloat(stake),
		MatchedStake:  decimal.NewFromFloat(matched),
		Status:        status,
		PlacedAt:      time.Now().Add(-time.Hour),
		UpdatedAt:     time.Now(),
	}
}

func TestRefresh_FiltersToSystemOrders(t *testing.T) {
	client := &MockExchangeClient{}
	client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		orderFixture("mb-one", "ex-1", "line1", 100, 0, "open"),
		orderFixture("manual-bet", "ex-2", "line1", 500, 0, "open"),
		orderFixture("", "ex-3", "line2", 50, 0, "open"),
	}, nil)
	tracker := NewPositionTracker(client, testTradingConfig(), testLogger())

	positions, err := tracker.Refresh(context.Background())

	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "mb-one", positions[0].CorrelationID)
}

func TestRefresh_ClassifiesLifecycle(t *testing.T) {
	client := &MockExchangeClient{}
	client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		orderFixture("mb-open", "ex-1", "line1", 100, 0, "open"),
		orderFixture("mb-partial", "ex-2", "line2", 100, 40, "open"),
		orderFixture("mb-filled", "ex-3", "line3", 100, 100, "matched"),
		orderFixture("mb-gone", "ex-4", "line4", 100, 0, "cancelled"),
	}, nil)
	tracker := NewPositionTracker(client, testTradingConfig(), testLogger())

	positions, err := tracker.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 4)

	byID := make(map[string]int)
	for i, pos := range positions {
		byID[pos.CorrelationID] = i
	}

	open := positions[byID["mb-open"]]
	assert.True(t, open.IsActive())
	assert.False(t, open.IsFilled())

	partial := positions[byID["mb-partial"]]
	assert.True(t, partial.IsActive(), "partially matched orders still have open stake")
	assert.True(t, partial.IsFilled())
	assert.True(t, partial.UnmatchedStake.Equal(decimal.NewFromInt(60)))

	filled := positions[byID["mb-filled"]]
	assert.False(t, filled.IsActive())
	assert.True(t, filled.IsFilled())

	gone := positions[byID["mb-gone"]]
	assert.False(t, gone.IsActive())

	active := tracker.ActivePositions()
	assert.Len(t, active, 2)
}

func TestRefresh_RebuildsExposureFromScratch(t *testing.T) {
	client := &MockExchangeClient{}
	client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		orderFixture("mb-a", "ex-1", "line1", 100, 0, "open"),
		orderFixture("mb-b", "ex-2", "line1", 40, 0, "open"),
		orderFixture("mb-c", "ex-3", "line1", 75, 0, "cancelled"),
		orderFixture("mb-d", "ex-4", "line2", 60, 0, "open"),
	}, nil).Once()
	tracker := NewPositionTracker(client, testTradingConfig(), testLogger())

	_, err := tracker.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, tracker.ExposureForLine("line1").Equal(decimal.NewFromInt(140)),
		"cancelled positions must not count toward exposure")
	assert.True(t, tracker.ExposureForLine("line2").Equal(decimal.NewFromInt(60)))
	assert.True(t, tracker.ExposureForLine("line3").IsZero())

	// A second refresh with a smaller picture fully replaces the old one.
	client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		orderFixture("mb-a", "ex-1", "line1", 100, 0, "open"),
	}, nil).Once()

	_, err = tracker.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, tracker.ExposureForLine("line1").Equal(decimal.NewFromInt(100)))
	assert.True(t, tracker.ExposureForLine("line2").IsZero())
}

func TestRefresh_SurfacesMissingIdentifiers(t *testing.T) {
	client := &MockExchangeClient{}
	client.On("GetRecentOrders", mock.Anything, mock.Anything).Return([]exchange.Order{
		orderFixture("mb-ok", "ex-1", "line1", 100, 0, "open"),
		orderFixture("mb-noid", "", "line2", 100, 0, "open"),
	}, nil)
	tracker := NewPositionTracker(client, testTradingConfig(), testLogger())

	positions, err := tracker.Refresh(context.Background())
	require.NoError(t, err)

	assert.Len(t, positions, 1, "orders without identifiers are never targetable positions")
	missing := tracker.MissingIdentifiers()
	require.Len(t, missing, 1)
	assert.Equal(t, "mb-noid", missing[0].CorrelationID)

	// The stake is still at risk on the book even though the order can
	// never be targeted, so it counts against the line.
	assert.True(t, tracker.ExposureForLine("line2").Equal(decimal.NewFromInt(100)))
	untargetable := tracker.UntargetableExposure()
	require.Contains(t, untargetable, "line2")
	assert.True(t, untargetable["line2"].Equal(decimal.NewFromInt(100)))
	assert.True(t, tracker.ExposureForLine("line1").Equal(decimal.NewFromInt(100)))
	assert.NotContains(t, untargetable, "line1")
}

func TestRefresh_PropagatesFetchErrors(t *testing.T) {
	client := &MockExchangeClient{}
	client.On("GetRecentOrders", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))
	tracker := NewPositionTracker(client, testTradingConfig(), testLogger())

	_, err := tracker.Refresh(context.Background())
	assert.Error(t, err)
}
