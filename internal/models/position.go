package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of an order this system has placed.
type PositionStatus string

const (
	PositionPending   PositionStatus = "pending"
	PositionMatched   PositionStatus = "matched"
	PositionCancelled PositionStatus = "cancelled"
)

// Position is a live order owned by this system. Fields are only ever
// updated from a tracker refresh; local code never guesses matched amounts
// or status transitions.
type Position struct {
	CorrelationID  string          `json:"correlation_id"`
	ExchangeID     string          `json:"exchange_id"`
	LineID         string          `json:"line_id"`
	EventID        string          `json:"event_id"`
	MarketID       string          `json:"market_id"`
	Side           string          `json:"side"`
	Odds           int             `json:"odds"`
	Stake          decimal.Decimal `json:"stake"`
	MatchedStake   decimal.Decimal `json:"matched_stake"`
	UnmatchedStake decimal.Decimal `json:"unmatched_stake"`
	Status         PositionStatus  `json:"status"`
	PairGroupID    string          `json:"pair_group_id,omitempty"`
	PlacedAt       time.Time       `json:"placed_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsActive reports whether the position still has stake open on the book.
func (p *Position) IsActive() bool {
	return p.Status != PositionCancelled && p.UnmatchedStake.IsPositive()
}

// IsFilled reports whether any part of the position has been matched.
func (p *Position) IsFilled() bool {
	return p.MatchedStake.IsPositive()
}
