package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketKind identifies the bet market a line belongs to.
type MarketKind string

const (
	MarketMoneyline MarketKind = "moneyline"
	MarketSpread    MarketKind = "spread"
	MarketTotal     MarketKind = "total"
)

// OpportunityClass identifies whether an opportunity stands alone or is one
// leg of an arbitrage pair.
type OpportunityClass string

const (
	ClassSingle    OpportunityClass = "single"
	ClassArbitrage OpportunityClass = "arbitrage"
)

// Opportunity is a candidate order derived from an observed large bet.
// Opportunities are recomputed fresh every reconciliation cycle and are
// never persisted or mutated.
type Opportunity struct {
	EventID         string           `json:"event_id"`
	MarketID        string           `json:"market_id"`
	LineID          string           `json:"line_id"`
	MarketKind      MarketKind       `json:"market_kind"`
	Side            string           `json:"side"`
	Odds            int              `json:"odds"`
	Stake           decimal.Decimal  `json:"stake"`
	Classification  OpportunityClass `json:"classification"`
	PairGroupID     string           `json:"pair_group_id,omitempty"`
	FollowedBetSize decimal.Decimal  `json:"followed_bet_size"`
	DetectedAt      time.Time        `json:"detected_at"`
}
