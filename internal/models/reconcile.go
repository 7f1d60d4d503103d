package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DifferenceKind classifies what changed between the live position set and
// the recommended opportunity set for one line.
type DifferenceKind string

const (
	DiffOddsChange        DifferenceKind = "odds_change"
	DiffStakeChange       DifferenceKind = "stake_change"
	DiffNewOpportunity    DifferenceKind = "new_opportunity"
	DiffRemoveOpportunity DifferenceKind = "remove_opportunity"
)

// ReconcileAction is the action a difference calls for.
type ReconcileAction string

const (
	ActionUpdate ReconcileAction = "update"
	ActionPlace  ReconcileAction = "place"
	ActionCancel ReconcileAction = "cancel"
)

// Difference is a per-line delta between current and desired state. For
// cancel and update actions the target position's own identifiers are
// carried along so the execution step never has to match by line and side.
type Difference struct {
	LineID           string          `json:"line_id"`
	Kind             DifferenceKind  `json:"kind"`
	Action           ReconcileAction `json:"action"`
	Reason           string          `json:"reason"`
	CurrentOdds      int             `json:"current_odds,omitempty"`
	CurrentStake     decimal.Decimal `json:"current_stake,omitempty"`
	CurrentStatus    PositionStatus  `json:"current_status,omitempty"`
	RecommendedOdds  int             `json:"recommended_odds,omitempty"`
	RecommendedStake decimal.Decimal `json:"recommended_stake,omitempty"`
	CorrelationID    string          `json:"correlation_id,omitempty"`
	ExchangeID       string          `json:"exchange_id,omitempty"`
	Opportunity      *Opportunity    `json:"opportunity,omitempty"`
}

// ReconcilerStatus is a point-in-time snapshot of the control loop.
type ReconcilerStatus struct {
	Running            bool           `json:"running"`
	CyclesCompleted    int            `json:"cycles_completed"`
	ActivePositions    int            `json:"active_positions"`
	MissingIdentifiers int            `json:"missing_identifiers"`
	LastCycleAt        time.Time      `json:"last_cycle_at"`
	RecentActions      []ActionResult `json:"recent_actions"`
}

// ActionResult records the outcome of one executed reconciliation action.
// Every action, successful or not, produces exactly one result.
type ActionResult struct {
	Success       bool            `json:"success"`
	Action        ReconcileAction `json:"action"`
	LineID        string          `json:"line_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ExchangeID    string          `json:"exchange_id,omitempty"`
	Error         string          `json:"error,omitempty"`
	Details       string          `json:"details,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}
