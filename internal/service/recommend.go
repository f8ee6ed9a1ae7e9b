package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

type Tier string

const (
	TierQuickWin       Tier = "quick_win"
	TierEasyUpgrade    Tier = "easy_upgrade"
	TierFullDish       Tier = "full_dish"
	TierBudgetFriendly Tier = "budget_friendly"
)

const (
	minDeficitCoverage      = 0.30
	DefaultCandidateTimeout = 2 * time.Second
	candidateLimit          = 50
)

type Candidate struct {
	Name            string
	Category        string
	PriceTier       string
	TypicalPortionG float64
	Per100g         model.NutrientVector
}

type Suggestion struct {
	Tier           Tier           `json:"tier"`
	FoodName       string         `json:"food_name"`
	Category       string         `json:"category"`
	PriceTier      string         `json:"price_tier"`
	PortionG       float64        `json:"portion_g"`
	Nutrient       model.Nutrient `json:"nutrient"`
	NutrientAmount float64        `json:"nutrient_amount"`
	CoveragePct    float64        `json:"deficit_coverage_pct"`
	Familiar       bool           `json:"familiar"`
}

// TierRule assigns a candidate to Tier when Match returns true. Rules are evaluated in slice order.
type TierRule struct {
	Tier  Tier
	Match func(Candidate) bool
}

// DefaultTierRules is the ordered rule table for suggestion tiers.
var DefaultTierRules = []TierRule{
	{Tier: TierQuickWin, Match: matchAny(
		categoryIn("fruit", "snack", "nut_seed", "dairy", "beverage"),
		nameHas("bar", "yogurt", "shake", "smoothie", "juice"),
	)},
	{Tier: TierEasyUpgrade, Match: matchAny(
		categoryIn("vegetable", "topping", "condiment", "sauce", "bread", "side"),
		nameHas("seeds", "sprinkle", "spread", "extra"),
	)},
	{Tier: TierFullDish, Match: matchAny(
		categoryIn("main_dish", "soup", "protein", "grain"),
		nameHas("bowl", "stew", "curry", "salad", "soup", "sandwich", "stir"),
	)},
	{Tier: TierBudgetFriendly, Match: func(c Candidate) bool {
		return normalizeName(c.PriceTier) == "low"
	}},
}

func categoryIn(categories ...string) func(Candidate) bool {
	set := make(map[string]bool, len(categories))
	for _, c := range categories {
		set[c] = true
	}
	return func(c Candidate) bool {
		return set[normalizeCategory(c.Category)]
	}
}

func nameHas(keywords ...string) func(Candidate) bool {
	return func(c Candidate) bool {
		name := normalizeName(c.Name)
		for _, k := range keywords {
			if strings.Contains(name, k) {
				return true
			}
		}
		return false
	}
}

func matchAny(preds ...func(Candidate) bool) func(Candidate) bool {
	return func(c Candidate) bool {
		for _, p := range preds {
			if p(c) {
				return true
			}
		}
		return false
	}
}

type scoredCandidate struct {
	Candidate
	amount   float64
	coverage float64
	familiar bool
	count    int
}

// Recommend picks at most one suggestion per tier for the primary gap. Excess gaps and met targets yield nothing.
func Recommend(gap *NutrientGap, candidates []Candidate, history []model.FoodFrequencyRecord, rules []TierRule) []Suggestion {
	if gap == nil || gap.Target <= gap.Current {
		return nil
	}
	if rules == nil {
		rules = DefaultTierRules
	}
	deficit := gap.Target - gap.Current
	hist := foodHistoryIndex(history)

	byTier := map[Tier][]scoredCandidate{}
	seen := map[string]bool{}
	for _, c := range candidates {
		key := normalizeName(c.Name)
		if key == "" || seen[key] || c.TypicalPortionG <= 0 {
			continue
		}
		amount := c.Per100g.Get(gap.Nutrient) * c.TypicalPortionG / 100
		if amount < minDeficitCoverage*deficit {
			continue
		}
		for _, r := range rules {
			if !r.Match(c) {
				continue
			}
			h, familiar := hist[key]
			byTier[r.Tier] = append(byTier[r.Tier], scoredCandidate{
				Candidate: c,
				amount:    amount,
				coverage:  amount / deficit,
				familiar:  familiar,
				count:     h.CountTotal,
			})
			seen[key] = true
			break
		}
	}

	out := make([]Suggestion, 0, len(rules))
	for _, r := range rules {
		pool := byTier[r.Tier]
		if len(pool) == 0 {
			continue
		}
		sort.SliceStable(pool, func(i, j int) bool {
			a, b := pool[i], pool[j]
			if a.familiar != b.familiar {
				return a.familiar
			}
			if a.count != b.count {
				return a.count > b.count
			}
			if a.coverage != b.coverage {
				return a.coverage > b.coverage
			}
			return normalizeName(a.Name) < normalizeName(b.Name)
		})
		best := pool[0]
		out = append(out, Suggestion{
			Tier:           r.Tier,
			FoodName:       best.Name,
			Category:       normalizeCategory(best.Category),
			PriceTier:      best.PriceTier,
			PortionG:       roundTo(best.TypicalPortionG, 1),
			Nutrient:       gap.Nutrient,
			NutrientAmount: roundTo(best.amount, 2),
			CoveragePct:    roundTo(best.coverage*100, 1),
			Familiar:       best.familiar,
		})
	}
	return out
}

// CandidateSource finds foods that are rich in a nutrient.
type CandidateSource interface {
	Candidates(ctx context.Context, nutrient model.Nutrient, limit int) ([]Candidate, error)
}

// FetchCandidates bounds the lookup by timeout. Any failure yields no candidates and degraded=true.
func FetchCandidates(ctx context.Context, src CandidateSource, nutrient model.Nutrient, timeout time.Duration) ([]Candidate, bool, error) {
	if src == nil {
		return nil, true, errors.New("no candidate source configured")
	}
	if timeout <= 0 {
		timeout = DefaultCandidateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		items []Candidate
		err   error
	}
	done := make(chan result, 1)
	go func() {
		items, err := src.Candidates(ctx, nutrient, candidateLimit)
		done <- result{items: items, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, true, fmt.Errorf("candidate lookup for %s: %w", nutrient, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, true, fmt.Errorf("candidate lookup for %s: %w", nutrient, r.err)
		}
		return r.items, false, nil
	}
}
