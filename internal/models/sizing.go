package models

import (
	"github.com/shopspring/decimal"
)

// CommissionAdjustedOdds is the result of discounting a quoted American line
// by the exchange's commission on winnings. Adjusted may cross sign: a small
// positive line stops beating even money once the commission is taken out.
type CommissionAdjustedOdds struct {
	Original  int             `json:"original"`
	Adjusted  decimal.Decimal `json:"adjusted"`
	Favorable bool            `json:"favorable"`
}

// BetSizingResult describes the economics of a single sized bet.
type BetSizingResult struct {
	Stake         decimal.Decimal `json:"stake"`
	GrossWin      decimal.Decimal `json:"gross_win"`
	Commission    decimal.Decimal `json:"commission"`
	NetWin        decimal.Decimal `json:"net_win"`
	TotalReturn   decimal.Decimal `json:"total_return"`
	EffectiveOdds decimal.Decimal `json:"effective_odds"`
}

// PairRecommendation is the verdict on a two-sided pairing.
type PairRecommendation string

const (
	BetBoth    PairRecommendation = "bet_both"
	BetOneSide PairRecommendation = "bet_one_side"
	BetNeither PairRecommendation = "bet_neither"
)

// ArbitrageAnalysis pairs two opportunities on opposing sides of the same
// line together with their exact sizings. When Recommendation is BetBoth the
// two legs' total returns agree to the cent regardless of outcome.
type ArbitrageAnalysis struct {
	Leg1             Opportunity        `json:"leg1"`
	Leg2             Opportunity        `json:"leg2"`
	Sizing1          BetSizingResult    `json:"sizing1"`
	Sizing2          BetSizingResult    `json:"sizing2"`
	TotalStake       decimal.Decimal    `json:"total_stake"`
	GuaranteedProfit decimal.Decimal    `json:"guaranteed_profit"`
	Recommendation   PairRecommendation `json:"recommendation"`
}
