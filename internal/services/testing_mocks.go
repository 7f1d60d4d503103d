package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/mirrorbet/mirrorbet/internal/exchange"
	"github.com/mirrorbet/mirrorbet/internal/models"
)

// MockExchangeClient implements exchange.Client for testing within the
// services package.
type MockExchangeClient struct {
	mock.Mock
}

func (m *MockExchangeClient) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.OrderResponse), args.Error(1)
}

func (m *MockExchangeClient) PlaceOrdersBatch(ctx context.Context, reqs []exchange.OrderRequest) (*exchange.BatchResponse, error) {
	args := m.Called(ctx, reqs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.BatchResponse), args.Error(1)
}

func (m *MockExchangeClient) CancelOrder(ctx context.Context, correlationID, orderID string) error {
	args := m.Called(ctx, correlationID, orderID)
	return args.Error(0)
}

func (m *MockExchangeClient) CancelOrdersBatch(ctx context.Context, reqs []exchange.CancelRequest) ([]exchange.CancelResult, error) {
	args := m.Called(ctx, reqs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.CancelResult), args.Error(1)
}

func (m *MockExchangeClient) GetBalance(ctx context.Context) (*exchange.BalanceResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.BalanceResponse), args.Error(1)
}

func (m *MockExchangeClient) GetRecentOrders(ctx context.Context, window time.Duration) ([]exchange.Order, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.Order), args.Error(1)
}

func (m *MockExchangeClient) GetLargeBets(ctx context.Context, minSize decimal.Decimal) ([]exchange.LargeBet, error) {
	args := m.Called(ctx, minSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.LargeBet), args.Error(1)
}

// MockOpportunitySource implements OpportunitySource for testing.
type MockOpportunitySource struct {
	mock.Mock
}

func (m *MockOpportunitySource) GetCurrentOpportunities(ctx context.Context) ([]models.Opportunity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Opportunity), args.Error(1)
}
