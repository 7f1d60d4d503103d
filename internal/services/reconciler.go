package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mirrorbet/mirrorbet/internal/config"
	"github.com/mirrorbet/mirrorbet/internal/models"
)

// OpportunitySource supplies the recommended opportunity set, recomputed
// fresh every cycle. The reconciler assumes no caching behind this call.
type OpportunitySource interface {
	GetCurrentOpportunities(ctx context.Context) ([]models.Opportunity, error)
}

// AuditSink receives every executed action for durable storage. A nil
// sink is valid; the in-memory history is kept either way.
type AuditSink interface {
	RecordAction(ctx context.Context, result models.ActionResult) error
}

const (
	actionHistoryLimit = 200
	recentActionsLimit = 20
)

// recentPlacement remembers an order we just placed so the duplicate
// guard can suppress re-placing it before the exchange reflects it.
type recentPlacement struct {
	placedAt time.Time
	odds     int
	stake    decimal.Decimal
}

// ReconcileService is the control loop that drives the live position set
// toward the recommended opportunity set. It is the sole writer of the
// in-process position map, the exposure counters, and the action history;
// the tracker and the placement orchestrator hold no shared state of
// their own.
type ReconcileService struct {
	source     OpportunitySource
	tracker    *PositionTracker
	placement  *PlacementService
	calculator *ArbitrageCalculator
	logger     *logrus.Logger
	audit      AuditSink

	interval       time.Duration
	fillWait       time.Duration
	updateDelay    time.Duration
	stakeThreshold decimal.Decimal
	maxMultiplier  decimal.Decimal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// cycleMu serializes cycle execution so a manual RunOneCycle can
	// never interleave with the background loop and corrupt the
	// exposure bookkeeping.
	cycleMu sync.Mutex

	mu              sync.RWMutex
	running         bool
	cyclesCompleted int
	lastCycleAt     time.Time
	positions       map[string]models.Position
	exposure        map[string]decimal.Decimal
	recent          map[string][]recentPlacement
	history         []models.ActionResult
}

// NewReconcileService creates the reconciliation loop. The audit sink may
// be nil when no durable action store is configured.
func NewReconcileService(
	source OpportunitySource,
	tracker *PositionTracker,
	placement *PlacementService,
	calculator *ArbitrageCalculator,
	cfg config.TradingConfig,
	logger *logrus.Logger,
	audit AuditSink,
) *ReconcileService {
	intervalSeconds := cfg.ReconcileIntervalSeconds
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	fillWaitSeconds := cfg.FillWaitSeconds
	if fillWaitSeconds <= 0 {
		fillWaitSeconds = 300
	}

	return &ReconcileService{
		source:         source,
		tracker:        tracker,
		placement:      placement,
		calculator:     calculator,
		logger:         logger,
		audit:          audit,
		interval:       time.Duration(intervalSeconds) * time.Second,
		fillWait:       time.Duration(fillWaitSeconds) * time.Second,
		updateDelay:    250 * time.Millisecond,
		stakeThreshold: decimal.NewFromFloat(cfg.StakeDiffThreshold),
		maxMultiplier:  decimal.NewFromFloat(cfg.MaxExposureMultiplier),
		positions:      make(map[string]models.Position),
		exposure:       make(map[string]decimal.Decimal),
		recent:         make(map[string][]recentPlacement),
	}
}

// Start launches the background loop. It is an error to start a loop that
// is already running.
func (s *ReconcileService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("reconciliation loop is already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	s.logger.WithField("interval", s.interval.String()).Info("Reconciliation loop started")
	return nil
}

// Stop requests a cooperative shutdown and waits for the current cycle to
// finish. Positions on the exchange are untouched by stopping the loop.
func (s *ReconcileService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("Reconciliation loop stopped")
}

// loop self-paces: when a cycle overruns the interval the next one starts
// immediately instead of drifting further behind.
func (s *ReconcileService) loop() {
	defer s.wg.Done()

	for {
		start := time.Now()
		if err := s.RunOneCycle(s.ctx); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Error("Reconciliation cycle failed")
		}

		wait := s.interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOneCycle executes a single observe/diff/execute cycle. Manual
// invocations and the background loop share the same non-reentrant guard.
func (s *ReconcileService) RunOneCycle(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.runCycle(ctx)
}

func (s *ReconcileService) runCycle(ctx context.Context) error {
	positions, err := s.tracker.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("position refresh failed: %w", err)
	}

	opportunities, err := s.source.GetCurrentOpportunities(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch opportunities: %w", err)
	}

	active := make([]models.Position, 0, len(positions))
	for _, pos := range positions {
		if pos.IsActive() {
			active = append(active, pos)
		}
	}

	// The exchange snapshot is authoritative: rebuild the position map
	// and exposure counters from it, then adjust them as this cycle's
	// actions execute. Orders without an exchange id are not placeable
	// targets but their stake is still working the line, so it counts
	// toward the exposure cap.
	s.mu.Lock()
	s.positions = make(map[string]models.Position, len(active))
	s.exposure = make(map[string]decimal.Decimal, len(active))
	for _, pos := range active {
		s.positions[pos.CorrelationID] = pos
		s.exposure[pos.LineID] = s.exposure[pos.LineID].Add(pos.Stake)
	}
	for line, stake := range s.tracker.UntargetableExposure() {
		s.exposure[line] = s.exposure[line].Add(stake)
	}
	s.pruneRecentLocked(time.Now())
	s.mu.Unlock()

	diffs := s.computeDifferences(active, opportunities)

	for _, diff := range diffs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, result := range s.execute(ctx, diff) {
			s.record(ctx, result)
		}
	}

	s.mu.Lock()
	s.cyclesCompleted++
	s.lastCycleAt = time.Now()
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"active_positions": len(active),
		"opportunities":    len(opportunities),
		"differences":      len(diffs),
	}).Debug("Reconciliation cycle completed")

	return nil
}

// computeDifferences diffs the active positions against the recommended
// opportunities, grouped by line. The output is deterministic for a given
// pair of inputs: running it twice without executing anything in between
// yields the same list.
func (s *ReconcileService) computeDifferences(positions []models.Position, opportunities []models.Opportunity) []models.Difference {
	type oppRef struct {
		opp     models.Opportunity
		matched bool
	}

	oppsByLine := make(map[string][]*oppRef)
	for _, opp := range opportunities {
		oppsByLine[opp.LineID] = append(oppsByLine[opp.LineID], &oppRef{opp: opp})
	}

	positionsByLine := make(map[string][]models.Position)
	for _, pos := range positions {
		positionsByLine[pos.LineID] = append(positionsByLine[pos.LineID], pos)
	}

	lines := make([]string, 0, len(positionsByLine)+len(oppsByLine))
	for line := range positionsByLine {
		lines = append(lines, line)
	}
	for line := range oppsByLine {
		if _, seen := positionsByLine[line]; !seen {
			lines = append(lines, line)
		}
	}
	sort.Strings(lines)

	var diffs []models.Difference
	for _, line := range lines {
		for _, pos := range positionsByLine[line] {
			var match *oppRef
			for _, ref := range oppsByLine[line] {
				if !ref.matched && ref.opp.Side == pos.Side {
					match = ref
					break
				}
			}

			if match == nil {
				diffs = append(diffs, models.Difference{
					LineID:        line,
					Kind:          models.DiffRemoveOpportunity,
					Action:        models.ActionCancel,
					Reason:        "no current opportunity for this position",
					CurrentOdds:   pos.Odds,
					CurrentStake:  pos.Stake,
					CurrentStatus: pos.Status,
					CorrelationID: pos.CorrelationID,
					ExchangeID:    pos.ExchangeID,
				})
				continue
			}

			match.matched = true
			opp := match.opp

			if pos.Odds != opp.Odds {
				diffs = append(diffs, models.Difference{
					LineID:           line,
					Kind:             models.DiffOddsChange,
					Action:           models.ActionUpdate,
					Reason:           fmt.Sprintf("odds moved from %d to %d", pos.Odds, opp.Odds),
					CurrentOdds:      pos.Odds,
					CurrentStake:     pos.Stake,
					CurrentStatus:    pos.Status,
					RecommendedOdds:  opp.Odds,
					RecommendedStake: opp.Stake,
					CorrelationID:    pos.CorrelationID,
					ExchangeID:       pos.ExchangeID,
					Opportunity:      &opp,
				})
				continue
			}

			if pos.Stake.Sub(opp.Stake).Abs().GreaterThan(s.stakeThreshold) {
				diffs = append(diffs, models.Difference{
					LineID:           line,
					Kind:             models.DiffStakeChange,
					Action:           models.ActionUpdate,
					Reason:           fmt.Sprintf("stake moved from %s to %s", pos.Stake.StringFixed(2), opp.Stake.StringFixed(2)),
					CurrentOdds:      pos.Odds,
					CurrentStake:     pos.Stake,
					CurrentStatus:    pos.Status,
					RecommendedOdds:  opp.Odds,
					RecommendedStake: opp.Stake,
					CorrelationID:    pos.CorrelationID,
					ExchangeID:       pos.ExchangeID,
					Opportunity:      &opp,
				})
			}
		}

		for _, ref := range oppsByLine[line] {
			if ref.matched {
				continue
			}
			opp := ref.opp
			diffs = append(diffs, models.Difference{
				LineID:           line,
				Kind:             models.DiffNewOpportunity,
				Action:           models.ActionPlace,
				Reason:           "no active position for this opportunity",
				RecommendedOdds:  opp.Odds,
				RecommendedStake: opp.Stake,
				Opportunity:      &opp,
			})
		}
	}

	return diffs
}

func (s *ReconcileService) execute(ctx context.Context, diff models.Difference) []models.ActionResult {
	switch diff.Action {
	case models.ActionCancel:
		return []models.ActionResult{s.executeCancel(ctx, diff)}
	case models.ActionPlace:
		return s.executePlace(ctx, diff)
	case models.ActionUpdate:
		return s.executeUpdate(ctx, diff)
	default:
		return []models.ActionResult{{
			Success:   false,
			Action:    diff.Action,
			LineID:    diff.LineID,
			Error:     fmt.Sprintf("unknown action %q", diff.Action),
			Timestamp: time.Now(),
		}}
	}
}

func (s *ReconcileService) executeCancel(ctx context.Context, diff models.Difference) models.ActionResult {
	result := models.ActionResult{
		Action:        models.ActionCancel,
		LineID:        diff.LineID,
		CorrelationID: diff.CorrelationID,
		ExchangeID:    diff.ExchangeID,
		Details:       diff.Reason,
		Timestamp:     time.Now(),
	}

	if err := s.placement.CancelPosition(ctx, diff.CorrelationID, diff.ExchangeID); err != nil {
		result.Error = err.Error()
		return result
	}

	s.mu.Lock()
	s.deductExposureLocked(diff.LineID, diff.CurrentStake)
	delete(s.positions, diff.CorrelationID)
	s.mu.Unlock()

	result.Success = true
	return result
}

// executePlace runs the exposure, duplicate, and conflict guards in order
// before submitting. A guard rejection produces a recorded failure result
// without any exchange call.
func (s *ReconcileService) executePlace(ctx context.Context, diff models.Difference) []models.ActionResult {
	result := models.ActionResult{
		Action:    models.ActionPlace,
		LineID:    diff.LineID,
		Details:   diff.Reason,
		Timestamp: time.Now(),
	}

	opp := diff.Opportunity
	if opp == nil {
		result.Error = "place difference carries no opportunity"
		return []models.ActionResult{result}
	}

	if reason := s.checkExposure(opp); reason != "" {
		result.Error = reason
		s.logger.WithField("line_id", opp.LineID).Warn(reason)
		return []models.ActionResult{result}
	}

	if reason := s.checkDuplicate(opp); reason != "" {
		result.Error = reason
		s.logger.WithField("line_id", opp.LineID).Warn(reason)
		return []models.ActionResult{result}
	}

	if conflict := s.findConflict(opp); conflict != nil {
		cancelResult := s.executeCancel(ctx, models.Difference{
			LineID:        conflict.LineID,
			Kind:          models.DiffRemoveOpportunity,
			Action:        models.ActionCancel,
			Reason:        fmt.Sprintf("guaranteed-loss pairing with candidate on line %s", opp.LineID),
			CurrentStake:  conflict.Stake,
			CorrelationID: conflict.CorrelationID,
			ExchangeID:    conflict.ExchangeID,
		})
		if cancelResult.Success {
			result.Error = fmt.Sprintf(
				"reconciliation conflict: pairing with position %s would guarantee a loss, cancelled it instead",
				conflict.CorrelationID)
		} else {
			result.Error = fmt.Sprintf(
				"reconciliation conflict: pairing with position %s would guarantee a loss, and cancelling it failed",
				conflict.CorrelationID)
		}
		return []models.ActionResult{cancelResult, result}
	}

	placed, err := s.placement.PlaceSingle(ctx, models.PlacementRequest{
		EventID:     opp.EventID,
		MarketID:    opp.MarketID,
		LineID:      opp.LineID,
		Side:        opp.Side,
		Odds:        opp.Odds,
		Stake:       opp.Stake,
		PairGroupID: opp.PairGroupID,
	})
	if err != nil {
		result.Error = err.Error()
		return []models.ActionResult{result}
	}

	pos := placed.Position
	s.mu.Lock()
	s.positions[pos.CorrelationID] = *pos
	s.exposure[pos.LineID] = s.exposure[pos.LineID].Add(pos.Stake)
	key := recentKey(pos.LineID, pos.Side)
	s.recent[key] = append(s.recent[key], recentPlacement{
		placedAt: time.Now(),
		odds:     pos.Odds,
		stake:    pos.Stake,
	})
	s.mu.Unlock()

	result.Success = true
	result.CorrelationID = pos.CorrelationID
	result.ExchangeID = pos.ExchangeID
	return []models.ActionResult{result}
}

// executeUpdate cancels then replaces. A failed cancel aborts the update;
// a failed placement after a successful cancel leaves the line bare and is
// flagged as a lost position for the next cycle to rediscover.
func (s *ReconcileService) executeUpdate(ctx context.Context, diff models.Difference) []models.ActionResult {
	cancelResult := s.executeCancel(ctx, diff)
	if !cancelResult.Success {
		return []models.ActionResult{{
			Success:       false,
			Action:        models.ActionUpdate,
			LineID:        diff.LineID,
			CorrelationID: diff.CorrelationID,
			ExchangeID:    diff.ExchangeID,
			Error:         cancelResult.Error,
			Details:       "update aborted: cancellation failed",
			Timestamp:     time.Now(),
		}}
	}

	// Let the cancellation settle before placing the replacement.
	s.wait(ctx, s.updateDelay)

	results := []models.ActionResult{cancelResult}
	placeResults := s.executePlace(ctx, models.Difference{
		LineID:           diff.LineID,
		Kind:             diff.Kind,
		Action:           models.ActionPlace,
		Reason:           diff.Reason,
		RecommendedOdds:  diff.RecommendedOdds,
		RecommendedStake: diff.RecommendedStake,
		Opportunity:      diff.Opportunity,
	})
	for i := range placeResults {
		if !placeResults[i].Success && placeResults[i].Action == models.ActionPlace {
			placeResults[i].Details = "position lost: cancelled but not replaced"
			s.logger.WithFields(logrus.Fields{
				"line_id":        diff.LineID,
				"correlation_id": diff.CorrelationID,
			}).Error("Update replaced nothing, position lost until next cycle")
		}
	}
	return append(results, placeResults...)
}

// checkExposure enforces the per-line exposure cap.
func (s *ReconcileService) checkExposure(opp *models.Opportunity) string {
	s.mu.RLock()
	current := s.exposure[opp.LineID]
	s.mu.RUnlock()

	limit := opp.Stake.Mul(s.maxMultiplier)
	proposed := current.Add(opp.Stake)
	if proposed.GreaterThan(limit) {
		return fmt.Sprintf(
			"exposure guard: %s already on line %s, placing %s more would exceed the %s cap",
			current.StringFixed(2), opp.LineID, opp.Stake.StringFixed(2), limit.StringFixed(2))
	}
	return ""
}

// checkDuplicate suppresses re-placing an order the exchange may not yet
// reflect in its recent-order history.
func (s *ReconcileService) checkDuplicate(opp *models.Opportunity) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-s.fillWait)
	for _, placement := range s.recent[recentKey(opp.LineID, opp.Side)] {
		if placement.placedAt.Before(cutoff) {
			continue
		}
		if placement.odds == opp.Odds && placement.stake.Sub(opp.Stake).Abs().LessThanOrEqual(s.stakeThreshold) {
			return fmt.Sprintf(
				"duplicate guard: a matching order on line %s side %s was placed %s ago",
				opp.LineID, opp.Side, time.Since(placement.placedAt).Round(time.Second))
		}
	}
	return ""
}

// findConflict pairs the candidate with every active position on the same
// event and market. A bet_neither classification means the two sides
// together guarantee a loss after commission.
func (s *ReconcileService) findConflict(opp *models.Opportunity) *models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, pos := range s.positions {
		if pos.EventID != opp.EventID || pos.MarketID != opp.MarketID {
			continue
		}
		if pos.LineID == opp.LineID && pos.Side == opp.Side {
			continue
		}

		existing := models.Opportunity{
			EventID:  pos.EventID,
			MarketID: pos.MarketID,
			LineID:   pos.LineID,
			Side:     pos.Side,
			Odds:     pos.Odds,
			Stake:    pos.Stake,
		}
		analysis, err := s.calculator.AnalyzePair(*opp, existing)
		if err != nil {
			s.logger.WithError(err).WithField("correlation_id", pos.CorrelationID).
				Warn("Conflict check could not classify pair")
			continue
		}
		if analysis.Recommendation == models.BetNeither {
			conflict := pos
			return &conflict
		}
	}
	return nil
}

func (s *ReconcileService) record(ctx context.Context, result models.ActionResult) {
	s.mu.Lock()
	s.history = append(s.history, result)
	if len(s.history) > actionHistoryLimit {
		s.history = s.history[len(s.history)-actionHistoryLimit:]
	}
	s.mu.Unlock()

	if s.audit != nil {
		if err := s.audit.RecordAction(ctx, result); err != nil {
			s.logger.WithError(err).Warn("Failed to persist action result")
		}
	}
}

// GetStatus returns a snapshot of the loop for the API layer.
func (s *ReconcileService) GetStatus() models.ReconcilerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := s.history
	if len(recent) > recentActionsLimit {
		recent = recent[len(recent)-recentActionsLimit:]
	}

	return models.ReconcilerStatus{
		Running:            s.running,
		CyclesCompleted:    s.cyclesCompleted,
		ActivePositions:    len(s.positions),
		MissingIdentifiers: len(s.tracker.MissingIdentifiers()),
		LastCycleAt:        s.lastCycleAt,
		RecentActions:      append([]models.ActionResult(nil), recent...),
	}
}

func (s *ReconcileService) deductExposureLocked(lineID string, stake decimal.Decimal) {
	remaining := s.exposure[lineID].Sub(stake)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	s.exposure[lineID] = remaining
}

func (s *ReconcileService) pruneRecentLocked(now time.Time) {
	cutoff := now.Add(-s.fillWait)
	for key, placements := range s.recent {
		kept := placements[:0]
		for _, placement := range placements {
			if placement.placedAt.After(cutoff) {
				kept = append(kept, placement)
			}
		}
		if len(kept) == 0 {
			delete(s.recent, key)
		} else {
			s.recent[key] = kept
		}
	}
}

func (s *ReconcileService) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func recentKey(lineID, side string) string {
	return lineID + "|" + side
}
