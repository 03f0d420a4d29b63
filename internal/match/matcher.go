// Package match establishes and maintains the set of matched markets: triples
// (A-market, B-market?, C-market?) that represent the same prediction.
//
// Two match modes are used. Non-crypto markets are matched by title fuzzy
// matching: a Jaccard overlap of keyword sets blended with a length-
// normalized edit distance. Crypto markets are matched structurally: asset,
// strike, and expiry are parsed from the venue-A symbol and bound to the set
// of venue-C bracket markets covering the payoff range.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"predxarb/internal/config"
	"predxarb/internal/venue"
	"predxarb/pkg/types"
)

const venueFanInTimeout = 3 * time.Second

// defaultTitleSimilarityThreshold mirrors config.MatchConfig.TitleSimilarityThreshold
// when unset; kept as a fallback so tests can exercise matching logic directly.
const defaultTitleSimilarityThreshold = 0.72

// Result is one matcher cycle's output.
type Result struct {
	Markets   []types.MatchedMarket
	ScannedAt time.Time
}

// Matcher periodically lists markets on all three venues and rebuilds the
// matched-market set.
type Matcher struct {
	venueA venue.Client
	venueB venue.Client
	venueC venue.Client
	cfg    config.MatchConfig
	logger *slog.Logger

	resultCh chan Result
	forceCh  chan struct{}
}

// NewMatcher creates a market matcher over the three venue clients.
func NewMatcher(venueA, venueB, venueC venue.Client, cfg config.MatchConfig, logger *slog.Logger) *Matcher {
	return &Matcher{
		venueA:   venueA,
		venueB:   venueB,
		venueC:   venueC,
		cfg:      cfg,
		logger:   logger.With("component", "matcher"),
		resultCh: make(chan Result, 1),
		forceCh:  make(chan struct{}, 1),
	}
}

// Results returns the channel the scheduler reads matched-market sets from.
func (m *Matcher) Results() <-chan Result {
	return m.resultCh
}

// TriggerNow requests an immediate match cycle outside the regular poll
// interval, used by the operator's rematch endpoint. Non-blocking: a pending
// trigger is not queued twice.
func (m *Matcher) TriggerNow() {
	select {
	case m.forceCh <- struct{}{}:
	default:
	}
}

// Run starts the matching loop. Blocks until ctx is cancelled.
func (m *Matcher) Run(ctx context.Context) {
	m.cycle(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cycle(ctx)
		case <-m.forceCh:
			m.cycle(ctx)
		}
	}
}

func (m *Matcher) cycle(ctx context.Context) {
	aMarkets, bMarkets, cMarkets, err := m.fetchAll(ctx)
	if err != nil {
		m.logger.Error("market fetch failed", "error", err)
		return
	}

	matched := m.match(aMarkets, bMarkets, cMarkets)

	result := Result{Markets: matched, ScannedAt: time.Now()}
	m.logger.Info("match cycle complete",
		"venue_a", len(aMarkets), "venue_b", len(bMarkets), "venue_c", len(cMarkets),
		"matched", len(matched),
	)

	select {
	case m.resultCh <- result:
	default:
		select {
		case <-m.resultCh:
		default:
		}
		m.resultCh <- result
	}
}

func (m *Matcher) fetchAll(ctx context.Context) (a, b, c []types.MarketDescriptor, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, venueFanInTimeout)
		defer cancel()
		markets, err := m.venueA.ListMarkets(fctx)
		if err != nil {
			return fmt.Errorf("venue a: %w", err)
		}
		a = markets
		return nil
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, venueFanInTimeout)
		defer cancel()
		markets, err := m.venueB.ListMarkets(fctx)
		if err != nil {
			m.logger.Warn("venue b list markets failed", "error", err)
			return nil
		}
		b = markets
		return nil
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, venueFanInTimeout)
		defer cancel()
		markets, err := m.venueC.ListMarkets(fctx)
		if err != nil {
			m.logger.Warn("venue c list markets failed", "error", err)
			return nil
		}
		c = markets
		return nil
	})

	err = g.Wait()
	return a, b, c, err
}

func (m *Matcher) match(aMarkets, bMarkets, cMarkets []types.MarketDescriptor) []types.MatchedMarket {
	now := time.Now()
	out := make([]types.MatchedMarket, 0, len(aMarkets))

	threshold := m.cfg.TitleSimilarityThreshold
	if threshold == 0 {
		threshold = defaultTitleSimilarityThreshold
	}

	for _, a := range aMarkets {
		if a.Category == types.CategoryCrypto {
			mm := m.matchStructural(a, cMarkets, now)
			out = append(out, mm)
			continue
		}

		mm := types.MatchedMarket{
			ID:        a.VenueMarketID,
			VenueAID:  a.VenueMarketID,
			Category:  a.Category,
			Title:     a.Title,
			FirstSeen: now,
			LastSeenA: now,
		}

		if bID, score := bestTitleMatch(a, bMarkets, threshold); bID != "" {
			mm.VenueBID = bID
			mm.LastSeenB = now
			mm.Confidence = math.Max(mm.Confidence, score)
		}
		if cID, score := bestTitleMatch(a, cMarkets, threshold); cID != "" {
			mm.VenueCID = cID
			mm.LastSeenC = now
			mm.Confidence = math.Max(mm.Confidence, score)
		}
		out = append(out, mm)
	}

	return out
}

// bestTitleMatch finds the highest-scoring same-category candidate whose
// blended similarity clears threshold.
func bestTitleMatch(a types.MarketDescriptor, candidates []types.MarketDescriptor, threshold float64) (string, float64) {
	bestID := ""
	bestScore := 0.0
	for _, cand := range candidates {
		if cand.Category != a.Category {
			continue
		}
		score := titleSimilarity(a.Title, cand.Title)
		if score >= threshold && score > bestScore {
			bestID = cand.VenueMarketID
			bestScore = score
		}
	}
	return bestID, bestScore
}

// titleSimilarity blends a Jaccard overlap of lowercase keyword sets with a
// length-normalized edit distance, weighted evenly.
func titleSimilarity(a, b string) float64 {
	jaccard := jaccardSimilarity(keywordSet(a), keywordSet(b))
	edit := editSimilarity(a, b)
	return 0.5*jaccard + 0.5*edit
}

func keywordSet(title string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(title))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,?!:;\"'()")
		if len(w) > 1 {
			set[w] = struct{}{}
		}
	}
	return set
}

func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func editSimilarity(a, b string) float64 {
	dist := levenshtein(strings.ToLower(a), strings.ToLower(b))
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// symbolPattern parses a venue-A crypto symbol of the form
// GEMI-{ASSET}{YYMMDDHHMM}-HI{STRIKE}, tolerating decimal-point escapes such
// as HI1D3 meaning 1.3.
var symbolPattern = regexp.MustCompile(`^[A-Z]+-([A-Z]+)(\d{10})-HI([0-9D]+)$`)

func parseCryptoSymbol(symbol string) (asset string, expiry time.Time, strike decimal.Decimal, ok bool) {
	groups := symbolPattern.FindStringSubmatch(symbol)
	if groups == nil {
		return "", time.Time{}, decimal.Zero, false
	}
	asset = groups[1]
	expiry, err := time.Parse("0601021504", groups[2])
	if err != nil {
		return "", time.Time{}, decimal.Zero, false
	}
	strikeStr := strings.ReplaceAll(groups[3], "D", ".")
	strikeVal, err := decimal.NewFromString(strikeStr)
	if err != nil {
		return "", time.Time{}, decimal.Zero, false
	}
	return asset, expiry, strikeVal, true
}

// eventTickerExpiryPattern extracts an embedded YYMMDDHHMM date/hour from a
// venue-C bracket event ticker.
var eventTickerExpiryPattern = regexp.MustCompile(`(\d{10})`)

func parseBracketExpiry(ticker string) (time.Time, bool) {
	groups := eventTickerExpiryPattern.FindStringSubmatch(ticker)
	if groups == nil {
		return time.Time{}, false
	}
	expiry, err := time.Parse("0601021504", groups[1])
	if err != nil {
		return time.Time{}, false
	}
	return expiry, true
}

// matchStructural parses the crypto symbol's asset/strike/expiry and binds
// the A-market to the set of venue-C bracket markets covering its payoff
// range. Expiry mismatches beyond 48h are rejected; 12-48h mismatches reduce
// confidence linearly; exact matches score 1.0.
func (m *Matcher) matchStructural(a types.MarketDescriptor, cMarkets []types.MarketDescriptor, now time.Time) types.MatchedMarket {
	mm := types.MatchedMarket{
		ID:        a.VenueMarketID,
		VenueAID:  a.VenueMarketID,
		Category:  types.CategoryCrypto,
		Title:     a.Title,
		FirstSeen: now,
		LastSeenA: now,
	}

	asset, expiry, strike, ok := parseCryptoSymbol(a.VenueMarketID)
	if !ok {
		return mm
	}
	payoff := types.PayoffAbove
	if strings.Contains(strings.ToLower(a.Title), "below") {
		payoff = types.PayoffBelow
	}

	mm.Structural = &types.StructuralMeta{Asset: asset, Strike: strike, Expiry: expiry, Payoff: payoff, HasStrike: true}

	type candidate struct {
		descriptor types.MarketDescriptor
		confidence float64
	}
	var bound []candidate

	for _, c := range cMarkets {
		if !strings.Contains(strings.ToUpper(c.Title), asset) {
			continue
		}
		cExpiry, ok := parseBracketExpiry(c.VenueMarketID)
		if !ok {
			continue
		}
		delta := cExpiry.Sub(expiry)
		if delta < 0 {
			delta = -delta
		}
		if delta > 48*time.Hour {
			continue
		}

		confidence := 1.0
		if delta > 12*time.Hour {
			confidence = 1.0 - (delta.Hours()-12)/(48-12)
		}

		if !bracketCoversRange(c, strike, payoff) {
			continue
		}
		bound = append(bound, candidate{descriptor: c, confidence: confidence})
	}

	sort.Slice(bound, func(i, j int) bool { return bound[i].confidence > bound[j].confidence })

	seen := make(map[string]bool)
	for _, cand := range bound {
		if seen[cand.descriptor.VenueMarketID] {
			continue
		}
		seen[cand.descriptor.VenueMarketID] = true
		mm.VenueCBrackets = append(mm.VenueCBrackets, cand.descriptor.VenueMarketID)
		if cand.confidence > mm.Confidence {
			mm.Confidence = cand.confidence
		}
	}
	if len(mm.VenueCBrackets) > 0 {
		mm.LastSeenC = now
	}

	return mm
}

// bracketCoversRange reports whether a bracket market's own structural range
// falls within [strike, +inf) for above-strike contracts, or (-inf, strike]
// for below-strike contracts. Brackets without parseable strikes are excluded.
func bracketCoversRange(bracket types.MarketDescriptor, strike decimal.Decimal, payoff types.PayoffDirection) bool {
	_, _, bracketStrike, ok := parseCryptoSymbol(bracket.VenueMarketID)
	if !ok {
		return false
	}
	switch payoff {
	case types.PayoffAbove:
		return bracketStrike.GreaterThanOrEqual(strike)
	case types.PayoffBelow:
		return bracketStrike.LessThanOrEqual(strike)
	default:
		return false
	}
}
