package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mirrorbet/mirrorbet/internal/config"
	"github.com/mirrorbet/mirrorbet/internal/exchange"
	"github.com/mirrorbet/mirrorbet/internal/models"
)

// oddsLadderStep is one price increment on the American odds ladder.
const oddsLadderStep = 5

const (
	skipKeyPrefix = "mirrorbet:skip:"
	pairKeyPrefix = "mirrorbet:pair:"
)

// Scanner turns the exchange's large outstanding bets into the
// opportunity set the reconciler converges on. A live bet is re-emitted
// every scan for as long as it stays on the book; only bets rejected as
// unfavorable are cached, so the loop never cancels a position whose
// underlying bet is still live.
type Scanner struct {
	client     exchange.Client
	calculator *ArbitrageCalculator
	redis      redis.UniversalClient
	logger     *logrus.Logger

	minSize decimal.Decimal
	skipTTL time.Duration
	pairTTL time.Duration

	// In-memory fallbacks used when no redis is configured.
	mu         sync.Mutex
	skipped    map[string]time.Time
	pairGroups map[string]pairGroupEntry
}

type pairGroupEntry struct {
	id        string
	expiresAt time.Time
}

// NewScanner creates the market scanner. The redis client may be nil, in
// which case the skip cache and pair-group registry are kept in memory.
func NewScanner(
	client exchange.Client,
	calculator *ArbitrageCalculator,
	redisClient redis.UniversalClient,
	cfg config.TradingConfig,
	logger *logrus.Logger,
) *Scanner {
	skipSeconds := cfg.FillWaitSeconds
	if skipSeconds <= 0 {
		skipSeconds = 300
	}
	pairHours := cfg.RecentOrdersWindowHours
	if pairHours <= 0 {
		pairHours = 24
	}

	return &Scanner{
		client:     client,
		calculator: calculator,
		redis:      redisClient,
		logger:     logger,
		minSize:    decimal.NewFromFloat(cfg.MinLargeBet),
		skipTTL:    time.Duration(skipSeconds) * time.Second,
		pairTTL:    time.Duration(pairHours) * time.Hour,
		skipped:    make(map[string]time.Time),
		pairGroups: make(map[string]pairGroupEntry),
	}
}

// GetCurrentOpportunities pulls the large-bet feed, pairs opposing sides
// of the same market into arbitrage groups where the adjusted odds allow,
// and sizes the rest as singles. Output ordering is deterministic for a
// given feed.
func (s *Scanner) GetCurrentOpportunities(ctx context.Context) ([]models.Opportunity, error) {
	bets, err := s.client.GetLargeBets(ctx, s.minSize)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pruneExpiredLocked(time.Now())
	s.mu.Unlock()

	candidates := make([]exchange.LargeBet, 0, len(bets))
	seenIDs := make(map[string]struct{}, len(bets))
	for _, bet := range bets {
		if bet.Size.LessThan(s.minSize) {
			continue
		}
		if _, dup := seenIDs[bet.BetID]; dup {
			continue
		}
		seenIDs[bet.BetID] = struct{}{}
		if s.wasSkipped(ctx, bet.BetID) {
			continue
		}
		candidates = append(candidates, bet)
	}

	byMarket := make(map[string][]exchange.LargeBet)
	marketKeys := make([]string, 0)
	for _, bet := range candidates {
		key := bet.EventID + "|" + bet.MarketID
		if _, seen := byMarket[key]; !seen {
			marketKeys = append(marketKeys, key)
		}
		byMarket[key] = append(byMarket[key], bet)
	}
	sort.Strings(marketKeys)

	var opportunities []models.Opportunity
	for _, key := range marketKeys {
		group := byMarket[key]
		sort.Slice(group, func(i, j int) bool { return group[i].BetID < group[j].BetID })

		paired := make([]bool, len(group))
		for i := 0; i < len(group); i++ {
			if paired[i] {
				continue
			}
			for j := i + 1; j < len(group); j++ {
				if paired[j] || group[i].Side == group[j].Side {
					continue
				}
				pair, ok := s.buildPair(ctx, group[i], group[j])
				if !ok {
					continue
				}
				opportunities = append(opportunities, pair...)
				paired[i], paired[j] = true, true
				break
			}
		}

		for i, bet := range group {
			if paired[i] {
				continue
			}
			if opp, ok := s.buildSingle(ctx, bet); ok {
				opportunities = append(opportunities, opp)
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"large_bets":    len(bets),
		"opportunities": len(opportunities),
	}).Debug("Market scan completed")

	return opportunities, nil
}

// buildPair follows both sides of a market when the undercut odds still
// form an arbitrage after commission.
func (s *Scanner) buildPair(ctx context.Context, a, b exchange.LargeBet) ([]models.Opportunity, bool) {
	oddsA := undercutOdds(a.Odds)
	oddsB := undercutOdds(b.Odds)
	if !s.calculator.IsArbitrage(oddsA, oddsB) {
		return nil, false
	}

	sizingA, sizingB, _, err := s.calculator.SizePair(oddsA, oddsB)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"bet_a": a.BetID,
			"bet_b": b.BetID,
		}).Warn("Could not size arbitrage pair")
		return nil, false
	}

	groupID := s.pairGroupID(ctx, a.BetID, b.BetID)
	return []models.Opportunity{
		opportunityFromBet(a, oddsA, sizingA.Stake, models.ClassArbitrage, groupID),
		opportunityFromBet(b, oddsB, sizingB.Stake, models.ClassArbitrage, groupID),
	}, true
}

// buildSingle follows one large bet on its own. Bets whose undercut odds
// are unfavorable after commission are cached as skipped for a while so
// the engine is not re-run on them every scan.
func (s *Scanner) buildSingle(ctx context.Context, bet exchange.LargeBet) (models.Opportunity, bool) {
	odds := undercutOdds(bet.Odds)
	adjusted := s.calculator.AdjustForCommission(odds)
	if !adjusted.Favorable {
		s.markSkipped(ctx, bet.BetID)
		return models.Opportunity{}, false
	}

	sizing, err := s.calculator.SizeSingle(odds)
	if err != nil {
		s.logger.WithError(err).WithField("bet_id", bet.BetID).Warn("Could not size single bet")
		return models.Opportunity{}, false
	}

	return opportunityFromBet(bet, odds, sizing.Stake, models.ClassSingle, ""), true
}

func opportunityFromBet(bet exchange.LargeBet, odds int, stake decimal.Decimal, class models.OpportunityClass, groupID string) models.Opportunity {
	return models.Opportunity{
		EventID:         bet.EventID,
		MarketID:        bet.MarketID,
		LineID:          bet.LineID,
		MarketKind:      models.MarketKind(bet.MarketKind),
		Side:            bet.Side,
		Odds:            odds,
		Stake:           stake,
		Classification:  class,
		PairGroupID:     groupID,
		FollowedBetSize: bet.Size,
		DetectedAt:      time.Now(),
	}
}

// undercutOdds moves one ladder step against us: more attractive to the
// counterparty, so our order matches ahead of the bettor we are
// following. Positive lines stepping below +100 land at -105.
func undercutOdds(odds int) int {
	if odds > 0 && odds-oddsLadderStep < 100 {
		return -100 - oddsLadderStep
	}
	return odds - oddsLadderStep
}

// pruneExpiredLocked sweeps expired entries out of the in-memory
// fallback maps. Entries for bets that never come around again would
// otherwise sit there for the life of the process. Caller holds mu.
func (s *Scanner) pruneExpiredLocked(now time.Time) {
	for betID, until := range s.skipped {
		if now.After(until) {
			delete(s.skipped, betID)
		}
	}
	for key, entry := range s.pairGroups {
		if now.After(entry.expiresAt) {
			delete(s.pairGroups, key)
		}
	}
}

func (s *Scanner) wasSkipped(ctx context.Context, betID string) bool {
	if s.redis != nil {
		n, err := s.redis.Exists(ctx, skipKeyPrefix+betID).Result()
		if err == nil {
			return n > 0
		}
		s.logger.WithError(err).Debug("Skip-cache read failed, using memory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	until, found := s.skipped[betID]
	if !found {
		return false
	}
	if time.Now().After(until) {
		delete(s.skipped, betID)
		return false
	}
	return true
}

func (s *Scanner) markSkipped(ctx context.Context, betID string) {
	if s.redis != nil {
		err := s.redis.Set(ctx, skipKeyPrefix+betID, "1", s.skipTTL).Err()
		if err == nil {
			return
		}
		s.logger.WithError(err).Debug("Skip-cache write failed, using memory")
	}

	s.mu.Lock()
	s.skipped[betID] = time.Now().Add(s.skipTTL)
	s.mu.Unlock()
}

// pairGroupID returns a stable group id for a bet pair so that repeated
// scans keep tagging the same two legs with the same group.
func (s *Scanner) pairGroupID(ctx context.Context, betA, betB string) string {
	if betB < betA {
		betA, betB = betB, betA
	}
	key := pairKeyPrefix + betA + ":" + betB

	if s.redis != nil {
		fresh := uuid.New().String()
		set, err := s.redis.SetNX(ctx, key, fresh, s.pairTTL).Result()
		if err == nil {
			if set {
				return fresh
			}
			if existing, err := s.redis.Get(ctx, key).Result(); err == nil {
				return existing
			}
			return fresh
		}
		s.logger.WithError(err).Debug("Pair-group read failed, using memory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, found := s.pairGroups[key]
	if found && time.Now().Before(entry.expiresAt) {
		return entry.id
	}
	entry = pairGroupEntry{id: uuid.New().String(), expiresAt: time.Now().Add(s.pairTTL)}
	s.pairGroups[key] = entry
	return entry.id
}
