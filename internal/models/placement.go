package models

import (
	"github.com/shopspring/decimal"
)

// PlacementRequest asks the orchestrator to put one order on the book.
type PlacementRequest struct {
	EventID       string          `json:"event_id"`
	MarketID      string          `json:"market_id"`
	LineID        string          `json:"line_id"`
	Side          string          `json:"side"`
	Odds          int             `json:"odds"`
	Stake         decimal.Decimal `json:"stake"`
	PairGroupID   string          `json:"pair_group_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// PlacementResult is the outcome of one placement attempt.
type PlacementResult struct {
	Success         bool      `json:"success"`
	Position        *Position `json:"position,omitempty"`
	Error           string    `json:"error,omitempty"`
	BalanceVerified bool      `json:"balance_verified"`
	BalanceWarning  string    `json:"balance_warning,omitempty"`
}

// PairResult is the outcome of an all-or-nothing arbitrage pair placement.
// When leg one lands and leg two is rejected the orchestrator rolls the
// first leg back; both the failure and the rollback outcome are reported.
type PairResult struct {
	Success           bool             `json:"success"`
	Leg1              *PlacementResult `json:"leg1,omitempty"`
	Leg2              *PlacementResult `json:"leg2,omitempty"`
	RollbackAttempted bool             `json:"rollback_attempted"`
	RollbackSucceeded bool             `json:"rollback_succeeded"`
	Error             string           `json:"error,omitempty"`
}

// BatchResult maps each request's correlation id to its individual outcome.
type BatchResult struct {
	Results map[string]PlacementResult `json:"results"`
	Placed  int                        `json:"placed"`
	Failed  int                        `json:"failed"`
}

// Balance is the exchange's view of available and committed funds.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}
