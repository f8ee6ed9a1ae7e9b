package service

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

// CoachingPayload is the structured input for whatever writes user-facing coaching text.
type CoachingPayload struct {
	UserID      string                `json:"user_id"`
	Date        string                `json:"date"`
	Phase       model.Phase           `json:"phase"`
	Graduated   bool                  `json:"graduated"`
	MealID      string                `json:"meal_id,omitempty"`
	MealTotals  *model.NutrientVector `json:"meal_totals,omitempty"`
	DailyTotals model.NutrientVector  `json:"daily_totals"`
	MealCount   int                   `json:"meal_count"`
	Targets     TargetsSummary        `json:"targets"`
	Streak      StreakSummary         `json:"streak"`

	Encouragement *Encouragement `json:"encouragement,omitempty"`

	PrimaryGap              *NutrientGap                   `json:"primary_gap,omitempty"`
	RankedGaps              []NutrientGap                  `json:"ranked_gaps,omitempty"`
	GapSummary              []NutrientGap                  `json:"gap_summary,omitempty"`
	AllTargetsMet           bool                           `json:"all_targets_met,omitempty"`
	Trends                  map[model.Nutrient]model.Trend `json:"trends,omitempty"`
	Suggestions             []Suggestion                   `json:"suggestions,omitempty"`
	RecommendationsDegraded bool                           `json:"recommendations_degraded,omitempty"`

	Unresolved []string `json:"unresolved_foods,omitempty"`
}

type TargetsSummary struct {
	Source       string               `json:"source"`
	Personalized bool                 `json:"personalized"`
	Goal         model.Goal           `json:"goal,omitempty"`
	Targets      model.NutrientVector `json:"targets"`
}

type StreakSummary struct {
	Current        int    `json:"current"`
	Longest        int    `json:"longest"`
	LastLoggedDate string `json:"last_logged_date,omitempty"`
	TotalMeals     int    `json:"total_meals"`
}

// Encouragement names the nutrient the meal covered best relative to its daily target.
type Encouragement struct {
	Nutrient model.Nutrient `json:"nutrient"`
	Amount   float64        `json:"amount"`
	Target   float64        `json:"target"`
	SharePct float64        `json:"share_pct"`
}

type CoachingInput struct {
	UserID    string
	Date      string
	Meal      *model.MealRecord
	Graduated bool
}

// BuildCoaching assembles the payload from the current ledger, stats and targets, then gates it by phase.
func BuildCoaching(ctx context.Context, db *sql.DB, deps Deps, in CoachingInput) (CoachingPayload, error) {
	deps = deps.withDefaults()
	userID, err := requireUserID(in.UserID)
	if err != nil {
		return CoachingPayload{}, err
	}
	now := deps.Now()
	date := strings.TrimSpace(in.Date)
	if date == "" {
		date = DateKey(now)
	}
	if _, err := ParseDateKey(date); err != nil {
		return CoachingPayload{}, err
	}

	stats, err := GetStats(db, userID, date, now)
	if err != nil {
		return CoachingPayload{}, err
	}
	ledger, err := GetLedger(db, userID, date)
	if err != nil {
		return CoachingPayload{}, err
	}
	targets, err := TargetsForUser(db, userID)
	if err != nil {
		return CoachingPayload{}, err
	}

	p := CoachingPayload{
		UserID:      userID,
		Date:        date,
		Phase:       stats.Phase,
		Graduated:   in.Graduated,
		DailyTotals: roundVector(ledger.Totals, 2),
		MealCount:   ledger.MealCount,
		Targets: TargetsSummary{
			Source:       targets.Source,
			Personalized: targets.Personalized,
			Goal:         targets.Goal,
			Targets:      targets.Targets,
		},
		Streak: StreakSummary{
			Current:        stats.CurrentStreak,
			Longest:        stats.LongestStreak,
			LastLoggedDate: stats.LastLoggedDate,
			TotalMeals:     stats.TotalMeals,
		},
		Trends: stats.Trends,
	}
	observed := ledger.Totals
	if in.Meal != nil {
		mealTotals := roundVector(in.Meal.Total, 2)
		p.MealID = in.Meal.ID
		p.MealTotals = &mealTotals
		p.Unresolved = unresolvedNames(in.Meal.Foods)
		observed = in.Meal.Total
	}
	p.Encouragement = Encourage(observed, targets.Targets)

	gaps := AnalyzeGaps(ledger.Totals, targets.Targets)
	p.PrimaryGap = gaps.Primary
	p.RankedGaps = gaps.Ranked
	p.GapSummary = gaps.Summary
	p.AllTargetsMet = gaps.AllMet

	if stats.Phase == model.PhaseActive && gaps.Primary != nil && gaps.Primary.Deficit > 0 {
		p.Suggestions, p.RecommendationsDegraded = suggest(ctx, db, deps, userID, date, gaps.Primary)
	}
	return GateCoaching(p), nil
}

func suggest(ctx context.Context, db *sql.DB, deps Deps, userID, date string, gap *NutrientGap) ([]Suggestion, bool) {
	candidates, degraded, err := FetchCandidates(ctx, deps.Candidates, gap.Nutrient, deps.CandidateTimeout)
	if err != nil {
		deps.Log.Warn("recommendations degraded", zap.String("user", userID), zap.Stringer("nutrient", gap.Nutrient), zap.Error(err))
		deps.Sink.CandidateDegraded(CandidateDegradedEvent{UserID: userID, Nutrient: gap.Nutrient, Err: err.Error()})
		return nil, true
	}
	history, err := ListFoodHistory(db, userID, FoodHistoryFilter{Limit: 200, AsOf: date})
	if err != nil {
		deps.Log.Warn("food history unavailable", zap.String("user", userID), zap.Error(err))
		history = nil
	}
	return Recommend(gap, candidates, history, DefaultTierRules), degraded
}

// Encourage picks the non-energy nutrient with the largest share of its target. Ties go to the earlier nutrient.
func Encourage(intake, targets model.NutrientVector) *Encouragement {
	var best *Encouragement
	for _, n := range model.Nutrients() {
		if n.Info().Kind == model.KindEnergy {
			continue
		}
		target := targets.Get(n)
		amount := intake.Get(n)
		if target <= 0 || amount <= 0 {
			continue
		}
		share := amount / target * 100
		if best == nil || share > best.SharePct {
			best = &Encouragement{Nutrient: n, Amount: amount, Target: target, SharePct: share}
		}
	}
	if best != nil {
		best.Amount = roundTo(best.Amount, 2)
		best.SharePct = roundTo(best.SharePct, 1)
	}
	return best
}

// GateCoaching strips prescriptive data while the user is still in the learning phase.
func GateCoaching(p CoachingPayload) CoachingPayload {
	if p.Phase == model.PhaseActive {
		return p
	}
	p.PrimaryGap = nil
	p.RankedGaps = nil
	p.GapSummary = nil
	p.AllTargetsMet = false
	p.Trends = nil
	p.Suggestions = nil
	p.RecommendationsDegraded = false
	return p
}
