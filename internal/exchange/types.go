package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxBatchSize is the largest number of orders the exchange accepts in a
// single batch call. Larger submissions must be chunked by the caller.
const MaxBatchSize = 25

// OrderRequest is the payload for placing one order on a line.
type OrderRequest struct {
	LineID        string          `json:"line_id"`
	Side          string          `json:"side"`
	Odds          int             `json:"odds"`
	Stake         decimal.Decimal `json:"stake"`
	CorrelationID string          `json:"correlation_id"`
}

// OrderResponse acknowledges a single placement.
type OrderResponse struct {
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

// OrderFailure reports a per-order rejection inside a batch.
type OrderFailure struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason"`
}

// BatchResponse partitions a batch submission into per-order outcomes.
type BatchResponse struct {
	Succeeded []OrderResponse `json:"succeeded"`
	Failed    []OrderFailure  `json:"failed"`
}

// CancelRequest identifies one order to cancel.
type CancelRequest struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
}

// CancelResult reports the outcome of one cancellation.
type CancelResult struct {
	CorrelationID string `json:"correlation_id"`
	Success       bool   `json:"success"`
	Reason        string `json:"reason,omitempty"`
}

// BalanceResponse is the exchange's view of account funds.
type BalanceResponse struct {
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved_in_unmatched_orders"`
}

// Order is one row of the exchange's order history.
type Order struct {
	OrderID       string          `json:"order_id"`
	CorrelationID string          `json:"correlation_id"`
	EventID       string          `json:"event_id"`
	MarketID      string          `json:"market_id"`
	LineID        string          `json:"line_id"`
	Side          string          `json:"side"`
	Odds          int             `json:"odds"`
	Stake         decimal.Decimal `json:"stake"`
	MatchedStake  decimal.Decimal `json:"matched_stake"`
	Status        string          `json:"status"`
	PlacedAt      time.Time       `json:"placed_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LargeBet is an outstanding wager observed on the book, large enough to be
// worth following.
type LargeBet struct {
	BetID      string          `json:"bet_id"`
	EventID    string          `json:"event_id"`
	MarketID   string          `json:"market_id"`
	LineID     string          `json:"line_id"`
	MarketKind string          `json:"market_kind"`
	Side       string          `json:"side"`
	Odds       int             `json:"odds"`
	Size       decimal.Decimal `json:"size"`
	PlacedAt   time.Time       `json:"placed_at"`
}

// ErrorResponse is the exchange's error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
