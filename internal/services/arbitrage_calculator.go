package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mirrorbet/mirrorbet/internal/models"
)

var (
	oneHundred  = decimal.NewFromInt(100)
	tenThousand = decimal.NewFromInt(10000)
	oneCent     = decimal.NewFromFloat(0.01)
)

// ArbitrageCalculator handles all odds and sizing computation for the
// follow strategy. All money math runs on decimals; the stake and profit
// figures of a pair must agree to the cent, which binary floats cannot
// guarantee.
type ArbitrageCalculator struct {
	commissionRate decimal.Decimal
}

// NewArbitrageCalculator creates a calculator for a given commission rate,
// expressed as a fraction of winnings (0.03 means 3%).
func NewArbitrageCalculator(commissionRate decimal.Decimal) *ArbitrageCalculator {
	return &ArbitrageCalculator{commissionRate: commissionRate}
}

// AdjustForCommission discounts an American line by the commission taken
// out of winnings. A positive line whose discounted value drops below +100
// no longer beats even money and is converted to its negative equivalent.
// Negative lines always get more negative and stay unfavorable.
func (calc *ArbitrageCalculator) AdjustForCommission(odds int) models.CommissionAdjustedOdds {
	keep := decimal.NewFromInt(1).Sub(calc.commissionRate)
	oddsDec := decimal.NewFromInt(int64(odds))

	if odds > 0 {
		raw := oddsDec.Mul(keep)
		if raw.LessThan(oneHundred) {
			// Equivalent negative line: -100 / (raw/100)
			return models.CommissionAdjustedOdds{
				Original:  odds,
				Adjusted:  tenThousand.Div(raw).Neg(),
				Favorable: false,
			}
		}
		return models.CommissionAdjustedOdds{Original: odds, Adjusted: raw, Favorable: true}
	}

	return models.CommissionAdjustedOdds{
		Original:  odds,
		Adjusted:  oddsDec.Div(keep),
		Favorable: false,
	}
}

// IsArbitrage reports whether opposing orders at odds1 and odds2 can be
// paired risk-free after commission. Both favorable is always an arbitrage;
// both unfavorable never is; a mixed pair is one exactly when the favorable
// side's adjusted magnitude beats the unfavorable side's.
func (calc *ArbitrageCalculator) IsArbitrage(odds1, odds2 int) bool {
	adj1 := calc.AdjustForCommission(odds1)
	adj2 := calc.AdjustForCommission(odds2)

	if adj1.Favorable && adj2.Favorable {
		return true
	}
	if !adj1.Favorable && !adj2.Favorable {
		return false
	}

	favorable, unfavorable := adj1, adj2
	if adj2.Favorable {
		favorable, unfavorable = adj2, adj1
	}
	return favorable.Adjusted.Abs().GreaterThan(unfavorable.Adjusted.Abs())
}

// grossWinPerDollar returns the pre-commission winnings one dollar of stake
// earns at the given American odds.
func grossWinPerDollar(odds int) decimal.Decimal {
	oddsDec := decimal.NewFromInt(int64(odds))
	if odds > 0 {
		return oddsDec.Div(oneHundred)
	}
	return oneHundred.Div(oddsDec.Abs())
}

// returnPerDollar returns stake plus post-commission winnings per dollar.
func (calc *ArbitrageCalculator) returnPerDollar(odds int) decimal.Decimal {
	keep := decimal.NewFromInt(1).Sub(calc.commissionRate)
	return decimal.NewFromInt(1).Add(grossWinPerDollar(odds).Mul(keep))
}

// sizingFor computes the full economics of betting the given stake.
func (calc *ArbitrageCalculator) sizingFor(odds int, stake decimal.Decimal) models.BetSizingResult {
	gross := stake.Mul(grossWinPerDollar(odds))
	commission := gross.Mul(calc.commissionRate)
	net := gross.Sub(commission)

	return models.BetSizingResult{
		Stake:         stake,
		GrossWin:      gross,
		Commission:    commission,
		NetWin:        net,
		TotalReturn:   stake.Add(net),
		EffectiveOdds: calc.AdjustForCommission(odds).Adjusted,
	}
}

// SizeSingle sizes a standalone follow bet. A favorable line gets a flat
// $100 stake. An unfavorable line is sized so net winnings after commission
// come out to exactly $100.
func (calc *ArbitrageCalculator) SizeSingle(odds int) (models.BetSizingResult, error) {
	if odds == 0 {
		return models.BetSizingResult{}, fmt.Errorf("odds of 0 cannot be sized")
	}

	adjusted := calc.AdjustForCommission(odds)
	if adjusted.Favorable {
		return calc.sizingFor(odds, oneHundred), nil
	}

	keep := decimal.NewFromInt(1).Sub(calc.commissionRate)
	requiredGross := oneHundred.Div(keep)
	stake := requiredGross.Div(grossWinPerDollar(odds)).Round(2)
	if !stake.IsPositive() {
		return models.BetSizingResult{}, fmt.Errorf("no valid sizing for odds %d", odds)
	}

	return calc.sizingFor(odds, stake), nil
}

// SizePair sizes two opposing legs so both outcomes pay the same total
// return after commission. The leg with the better return per dollar is
// anchored at exactly $100 and the other leg's stake is solved from the
// anchor's total return. Returns the two sizings in input order plus the
// guaranteed profit (negative when the pairing locks in a loss).
func (calc *ArbitrageCalculator) SizePair(odds1, odds2 int) (models.BetSizingResult, models.BetSizingResult, decimal.Decimal, error) {
	var zero models.BetSizingResult
	if odds1 == 0 || odds2 == 0 {
		return zero, zero, decimal.Zero, fmt.Errorf("odds of 0 cannot be paired")
	}

	rpd1 := calc.returnPerDollar(odds1)
	rpd2 := calc.returnPerDollar(odds2)

	anchorOdds, otherOdds := odds1, odds2
	otherRPD := rpd2
	if rpd2.GreaterThan(rpd1) {
		anchorOdds, otherOdds = odds2, odds1
		otherRPD = rpd1
	}

	anchor := calc.sizingFor(anchorOdds, oneHundred)
	otherStake := anchor.TotalReturn.Div(otherRPD).Round(2)
	if !otherStake.IsPositive() {
		return zero, zero, decimal.Zero, fmt.Errorf("no valid pair sizing for odds %d/%d", odds1, odds2)
	}
	other := calc.sizingFor(otherOdds, otherStake)

	totalStake := anchor.Stake.Add(other.Stake)
	profit := anchor.TotalReturn.Sub(totalStake)
	profitFromOther := other.TotalReturn.Sub(totalStake)
	if profit.Sub(profitFromOther).Abs().GreaterThan(oneCent) {
		// The two outcomes must pay within a cent of each other or the
		// guaranteed-profit figure is meaningless.
		return zero, zero, decimal.Zero, fmt.Errorf(
			"pair sizing mismatch for odds %d/%d: returns %s vs %s",
			odds1, odds2, anchor.TotalReturn.StringFixed(4), other.TotalReturn.StringFixed(4))
	}

	if anchorOdds == odds1 {
		return anchor, other, profit, nil
	}
	return other, anchor, profit, nil
}

// AnalyzePair classifies two opposing opportunities on one line and, where
// sensible, sizes them.
func (calc *ArbitrageCalculator) AnalyzePair(leg1, leg2 models.Opportunity) (*models.ArbitrageAnalysis, error) {
	adj1 := calc.AdjustForCommission(leg1.Odds)
	adj2 := calc.AdjustForCommission(leg2.Odds)

	analysis := &models.ArbitrageAnalysis{Leg1: leg1, Leg2: leg2}

	switch {
	case !adj1.Favorable && !adj2.Favorable:
		// Both sides lose value to the commission; following either leg,
		// let alone both, guarantees a loss.
		analysis.Recommendation = models.BetNeither
		return analysis, nil

	case calc.IsArbitrage(leg1.Odds, leg2.Odds):
		sizing1, sizing2, profit, err := calc.SizePair(leg1.Odds, leg2.Odds)
		if err != nil {
			return nil, err
		}
		analysis.Sizing1 = sizing1
		analysis.Sizing2 = sizing2
		analysis.TotalStake = sizing1.Stake.Add(sizing2.Stake)
		analysis.GuaranteedProfit = profit
		analysis.Recommendation = models.BetBoth
		return analysis, nil

	default:
		// One favorable leg that cannot carry the other: bet it alone.
		favorableLeg := leg1
		if adj2.Favorable {
			favorableLeg = leg2
		}
		sizing, err := calc.SizeSingle(favorableLeg.Odds)
		if err != nil {
			return nil, err
		}
		if adj1.Favorable {
			analysis.Sizing1 = sizing
		} else {
			analysis.Sizing2 = sizing
		}
		analysis.TotalStake = sizing.Stake
		analysis.Recommendation = models.BetOneSide
		return analysis, nil
	}
}
