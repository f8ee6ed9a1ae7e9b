package service_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

type stubLookup map[string]service.FoodFacts

func (s stubLookup) LookupFood(_ context.Context, name string) (service.FoodFacts, bool, error) {
	f, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return f, ok, nil
}

func testFoods() stubLookup {
	return stubLookup{
		"rice": {
			Name:     "rice",
			Category: "grain",
			Per100g:  vec(map[model.Nutrient]float64{model.Calories: 150, model.Protein: 3, model.Carbs: 28, model.Fat: 4}),
			Source:   service.SourceManual,
		},
		"lentils": {
			Name:     "lentils",
			Category: "legume",
			Per100g: vec(map[model.Nutrient]float64{
				model.Calories: 116, model.Protein: 9, model.Carbs: 20, model.Fat: 0.4, model.Iron: 3.3, model.Fiber: 8,
			}),
			Source: service.SourceManual,
		},
	}
}

var mealDay = time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)

func testDeps(now time.Time, sink service.EventSink) service.Deps {
	return service.Deps{
		Lookup: testFoods(),
		Sink:   sink,
		Now:    func() time.Time { return now },
	}
}

func mustLog(t *testing.T, sqldb *sql.DB, deps service.Deps, in service.LogMealInput) service.MealLogResult {
	t.Helper()
	res, err := service.LogMeal(context.Background(), sqldb, deps, in)
	if err != nil {
		t.Fatalf("log meal: %v", err)
	}
	return res
}

func logRice(t *testing.T, sqldb *sql.DB, deps service.Deps, raw float64, key string) service.MealLogResult {
	t.Helper()
	return mustLog(t, sqldb, deps, service.LogMealInput{
		UserID:         "me",
		LoggedAt:       mealDay,
		IdempotencyKey: key,
		Observations:   []model.FoodObservation{{FoodName: "rice", RawGrams: raw, Confidence: 0.9}},
	})
}

func TestLogMealClampsScalesAndFolds(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	sink := &service.RecordingSink{}

	res := logRice(t, sqldb, testDeps(mealDay, sink), 900, "")
	if len(res.Meal.Foods) != 1 {
		t.Fatalf("expected one food, got %+v", res.Meal.Foods)
	}
	p := res.Meal.Foods[0].Portion
	if p.Grams != 250 || !p.WasClamped || p.Category != "grain" {
		t.Fatalf("expected 900 g of rice to clamp to 250 g, got %+v", p)
	}
	want := vec(map[model.Nutrient]float64{model.Calories: 375, model.Protein: 7.5, model.Carbs: 70, model.Fat: 10})
	assertVectorNear(t, res.Meal.Total, want, 1e-9)

	ledger, err := service.GetLedger(sqldb, "me", "2026-03-02")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.MealCount != 1 {
		t.Fatalf("expected meal_count 1, got %d", ledger.MealCount)
	}
	assertVectorNear(t, ledger.Totals, want, 1e-9)

	if got := sink.Events().Clamps; len(got) != 1 || got[0].MealID != res.Meal.ID {
		t.Fatalf("expected one clamp event for the meal, got %+v", got)
	}
	stored, err := service.GetMeal(sqldb, "me", res.Meal.ID)
	if err != nil {
		t.Fatalf("get meal: %v", err)
	}
	if stored.Foods[0].Portion.RawGrams != 900 || stored.Foods[0].Portion.Reason == "" {
		t.Fatalf("stored portion should keep the raw reading and reason, got %+v", stored.Foods[0].Portion)
	}
}

func TestLogMealLearningPhaseHidesGaps(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)

	res := logRice(t, sqldb, testDeps(mealDay, nil), 250, "")
	c := res.Coaching
	if c.Phase != model.PhaseLearning || c.Graduated {
		t.Fatalf("expected learning phase, got %s graduated=%v", c.Phase, c.Graduated)
	}
	if c.PrimaryGap != nil || len(c.RankedGaps) != 0 || len(c.Suggestions) != 0 || c.Trends != nil {
		t.Fatalf("learning payload must not carry gaps, trends or suggestions: %+v", c)
	}
	if c.MealTotals == nil || c.Encouragement == nil || c.Streak.Current != 1 || c.MealCount != 1 {
		t.Fatalf("learning payload should keep meal totals, encouragement and streak: %+v", c)
	}
	if c.Targets.Personalized {
		t.Fatalf("no profile should mean fallback targets")
	}
}

func TestLogMealIdempotencyKeyDoesNotDoubleCount(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	deps := testDeps(mealDay, nil)

	first := logRice(t, sqldb, deps, 250, "retry-1")
	second := logRice(t, sqldb, deps, 250, "retry-1")
	if !second.Duplicate || second.Meal.ID != first.Meal.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Meal.ID, second.Meal)
	}

	ledger, err := service.GetLedger(sqldb, "me", "2026-03-02")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.MealCount != 1 || ledger.Totals.Get(model.Calories) != 375 {
		t.Fatalf("retry must not fold twice, got count=%d calories=%.2f", ledger.MealCount, ledger.Totals.Get(model.Calories))
	}
	stats, err := service.GetStats(sqldb, "me", "", mealDay)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.TotalMeals != 1 {
		t.Fatalf("expected one counted meal, got %d", stats.TotalMeals)
	}
}

func TestLogMealConcurrentMealsAllFold(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	deps := testDeps(mealDay, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := service.LogMeal(context.Background(), sqldb, deps, service.LogMealInput{
				UserID:         "me",
				LoggedAt:       mealDay.Add(time.Duration(i) * time.Minute),
				IdempotencyKey: fmt.Sprintf("meal-%d", i),
				Observations:   []model.FoodObservation{{FoodName: "rice", RawGrams: 250}},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent log meal: %v", err)
		}
	}

	ledger, err := service.GetLedger(sqldb, "me", "2026-03-02")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.MealCount != n {
		t.Fatalf("expected %d meals folded, got %d", n, ledger.MealCount)
	}
	if got := ledger.Totals.Get(model.Calories); got != 375*n {
		t.Fatalf("expected %d kcal, got %.2f", 375*n, got)
	}
}

func TestLogMealUnresolvedFoodContributesNothing(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)

	res, err := service.LogMeal(context.Background(), sqldb, testDeps(mealDay, nil), service.LogMealInput{
		UserID:   "me",
		LoggedAt: mealDay,
		Observations: []model.FoodObservation{
			{FoodName: "rice", RawGrams: 250},
			{FoodName: "mystery stew", RawGrams: 300, Category: "soup"},
		},
	})
	if err != nil {
		t.Fatalf("log meal: %v", err)
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0] != "mystery stew" {
		t.Fatalf("expected mystery stew unresolved, got %v", res.Unresolved)
	}
	if !res.Meal.Foods[1].Unresolved || !res.Meal.Foods[1].Contribution.IsZero() {
		t.Fatalf("unresolved food must contribute zero: %+v", res.Meal.Foods[1])
	}
	if res.Meal.Foods[1].Portion.Grams != 300 {
		t.Fatalf("unresolved food is still validated, got %+v", res.Meal.Foods[1].Portion)
	}
	if got := res.Meal.Total.Get(model.Calories); got != 375 {
		t.Fatalf("expected rice only, got %.2f kcal", got)
	}
}

func TestLogMealRejectsEmptyObservations(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	_, err := service.LogMeal(context.Background(), sqldb, testDeps(mealDay, nil), service.LogMealInput{UserID: "me"})
	if err == nil {
		t.Fatalf("expected error for a meal without foods")
	}
	_, err = service.LogMeal(context.Background(), sqldb, testDeps(mealDay, nil), service.LogMealInput{
		UserID:       "me",
		Observations: []model.FoodObservation{{FoodName: "  ", RawGrams: 100}},
	})
	if err == nil {
		t.Fatalf("expected error for a food without a name")
	}
}

func TestLogMealGraduatesOnAccountAge(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	created := mealDay.AddDate(0, 0, -8)
	gender, activity, goal := "female", "moderate", "lose_weight"
	age, weight, height := 28, 70.0, 165.0
	if _, err := service.SetProfile(sqldb, service.SetProfileInput{
		UserID: "me", Gender: &gender, Age: &age, Weight: &weight, Height: &height,
		ActivityLevel: &activity, Goal: &goal, Now: created,
	}); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	sink := &service.RecordingSink{}
	deps := testDeps(mealDay, sink)

	first := logRice(t, sqldb, deps, 250, "")
	if !first.Coaching.Graduated || first.Coaching.Phase != model.PhaseActive {
		t.Fatalf("expected graduation on the first meal after 8 days, got %+v", first.Coaching)
	}
	if first.Coaching.PrimaryGap == nil || len(first.Coaching.RankedGaps) == 0 {
		t.Fatalf("active payload should carry gaps")
	}
	if !first.Coaching.RecommendationsDegraded {
		t.Fatalf("without a candidate source recommendations should be degraded")
	}

	second := logRice(t, sqldb, deps, 250, "")
	if second.Coaching.Graduated || second.Coaching.Phase != model.PhaseActive {
		t.Fatalf("graduation must fire once, got %+v", second.Coaching)
	}
	ev := sink.Events()
	if len(ev.Transitions) != 1 || ev.Transitions[0].To != model.PhaseActive {
		t.Fatalf("expected exactly one phase transition, got %+v", ev.Transitions)
	}
	if len(ev.Degraded) != 2 {
		t.Fatalf("expected a degraded event per active coaching, got %d", len(ev.Degraded))
	}
}

func TestLogMealGraduatesOnMealCount(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	sink := &service.RecordingSink{}
	deps := testDeps(mealDay, sink)

	for i := 1; i <= service.LearningPhaseMinMeals; i++ {
		res := logRice(t, sqldb, deps, 250, "")
		wantGraduated := i == service.LearningPhaseMinMeals
		if res.Coaching.Graduated != wantGraduated {
			t.Fatalf("meal %d: graduated=%v", i, res.Coaching.Graduated)
		}
	}
	if got := len(sink.Events().Transitions); got != 1 {
		t.Fatalf("expected one transition, got %d", got)
	}
}

func TestLogMealSuggestsFromCatalogWhenActive(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	if _, err := service.AddFood(sqldb, service.AddFoodInput{
		Name:            "Pumpkin Seeds",
		Category:        "nut_seed",
		TypicalPortionG: 30,
		Per100g:         vec(map[model.Nutrient]float64{model.Fiber: 60}),
	}); err != nil {
		t.Fatalf("add food: %v", err)
	}
	deps := testDeps(mealDay, nil)
	deps.Candidates = service.CatalogCandidates{DB: sqldb}

	var last service.MealLogResult
	for i := 0; i < service.LearningPhaseMinMeals; i++ {
		last = logRice(t, sqldb, deps, 250, "")
	}
	c := last.Coaching
	if c.Phase != model.PhaseActive || c.PrimaryGap == nil {
		t.Fatalf("expected active payload with a primary gap, got %+v", c)
	}
	// Rice carries no fiber, so fiber is the first nutrient at 0% of target.
	if c.PrimaryGap.Nutrient != model.Fiber {
		t.Fatalf("expected fiber as primary gap, got %s", c.PrimaryGap.Nutrient)
	}
	if c.RecommendationsDegraded || len(c.Suggestions) != 1 || c.Suggestions[0].FoodName != "Pumpkin Seeds" {
		t.Fatalf("expected one catalog suggestion, got %+v", c.Suggestions)
	}
}

func TestRemoveMealUnfoldsWithoutRevertingPhase(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	deps := testDeps(mealDay, nil)

	var ids []string
	for i := 0; i < service.LearningPhaseMinMeals; i++ {
		ids = append(ids, logRice(t, sqldb, deps, 250, "").Meal.ID)
	}
	removed, stats, err := service.RemoveMeal(context.Background(), sqldb, deps, "me", ids[0])
	if err != nil {
		t.Fatalf("remove meal: %v", err)
	}
	if removed.ID != ids[0] {
		t.Fatalf("expected removed meal %s, got %s", ids[0], removed.ID)
	}
	if stats.TotalMeals != service.LearningPhaseMinMeals-1 || stats.Phase != model.PhaseActive {
		t.Fatalf("phase must stay active after removal, got %+v", stats)
	}
	ledger, err := service.GetLedger(sqldb, "me", "2026-03-02")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.MealCount != service.LearningPhaseMinMeals-1 {
		t.Fatalf("expected meal_count %d, got %d", service.LearningPhaseMinMeals-1, ledger.MealCount)
	}
	if got, want := ledger.Totals.Get(model.Calories), 375.0*float64(service.LearningPhaseMinMeals-1); got != want {
		t.Fatalf("expected %.1f kcal, got %.1f", want, got)
	}

	if _, _, err := service.RemoveMeal(context.Background(), sqldb, deps, "me", ids[0]); !errors.Is(err, service.ErrMealNotFound) {
		t.Fatalf("expected ErrMealNotFound on second removal, got %v", err)
	}
}

func TestRemoveLastMealPrunesLedgerRow(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	deps := testDeps(mealDay, nil)
	res := logRice(t, sqldb, deps, 250, "")

	if _, _, err := service.RemoveMeal(context.Background(), sqldb, deps, "me", res.Meal.ID); err != nil {
		t.Fatalf("remove meal: %v", err)
	}
	ledgers, err := service.ListLedgers(sqldb, "me", "", "")
	if err != nil {
		t.Fatalf("list ledgers: %v", err)
	}
	if len(ledgers) != 0 {
		t.Fatalf("expected empty ledger after removing the only meal, got %+v", ledgers)
	}
	meals, err := service.ListMeals(sqldb, "me", service.MealFilter{})
	if err != nil {
		t.Fatalf("list meals: %v", err)
	}
	if len(meals) != 0 {
		t.Fatalf("expected no meals, got %d", len(meals))
	}
}

func TestReplaceMealFoodsRefoldsLedger(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	deps := testDeps(mealDay, nil)
	res := logRice(t, sqldb, deps, 250, "")

	replaced, err := service.ReplaceMealFoods(context.Background(), sqldb, deps, service.ReplaceMealInput{
		UserID:       "me",
		MealID:       res.Meal.ID,
		Observations: []model.FoodObservation{{FoodName: "lentils", RawGrams: 200}},
	})
	if err != nil {
		t.Fatalf("replace meal foods: %v", err)
	}
	want := vec(map[model.Nutrient]float64{
		model.Calories: 232, model.Protein: 18, model.Carbs: 40, model.Fat: 0.8, model.Iron: 6.6, model.Fiber: 16,
	})
	assertVectorNear(t, replaced.Meal.Total, want, 1e-9)

	ledger, err := service.GetLedger(sqldb, "me", "2026-03-02")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.MealCount != 1 {
		t.Fatalf("replacement must keep meal_count 1, got %d", ledger.MealCount)
	}
	assertVectorNear(t, ledger.Totals, want, 1e-9)

	history, err := service.ListFoodHistory(sqldb, "me", service.FoodHistoryFilter{AsOf: "2026-03-02"})
	if err != nil {
		t.Fatalf("food history: %v", err)
	}
	if len(history) != 1 || history[0].FoodName != "lentils" {
		t.Fatalf("expected only lentils in history, got %+v", history)
	}
}

func TestRebuildLedgerMatchesIncrementalFold(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	deps := testDeps(mealDay, nil)
	for i, day := range []time.Time{mealDay, mealDay, mealDay.AddDate(0, 0, 1)} {
		mustLog(t, sqldb, deps, service.LogMealInput{
			UserID:   "me",
			LoggedAt: day.Add(time.Duration(i) * time.Hour),
			Observations: []model.FoodObservation{
				{FoodName: "rice", RawGrams: 180},
				{FoodName: "lentils", RawGrams: 120 + float64(i)*10},
			},
		})
	}
	before, err := service.ListLedgers(sqldb, "me", "", "")
	if err != nil {
		t.Fatalf("list ledgers: %v", err)
	}
	report, err := service.RebuildLedger(sqldb, "me")
	if err != nil {
		t.Fatalf("rebuild ledger: %v", err)
	}
	if report.Days != 2 || report.Meals != 3 {
		t.Fatalf("unexpected rebuild report: %+v", report)
	}
	after, err := service.ListLedgers(sqldb, "me", "", "")
	if err != nil {
		t.Fatalf("list ledgers: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("rebuild changed day count: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Date != after[i].Date || before[i].MealCount != after[i].MealCount {
			t.Fatalf("day %d differs: %+v vs %+v", i, before[i], after[i])
		}
		assertVectorNear(t, after[i].Totals, before[i].Totals, 1e-6)
	}
}

func TestCheckLedgerDetectsAndRepairsDrift(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	deps := testDeps(mealDay, nil)
	logRice(t, sqldb, deps, 250, "")

	report, err := service.CheckLedger(sqldb, "", false)
	if err != nil {
		t.Fatalf("check ledger: %v", err)
	}
	if !report.Healthy() || report.UsersChecked != 1 {
		t.Fatalf("expected healthy ledger, got %+v", report)
	}

	if _, err := sqldb.Exec(`UPDATE daily_ledger SET calories = calories + 100 WHERE user_id = 'me'`); err != nil {
		t.Fatalf("corrupt ledger: %v", err)
	}
	report, err = service.CheckLedger(sqldb, "me", false)
	if err != nil {
		t.Fatalf("check ledger: %v", err)
	}
	if len(report.Drift) != 1 || report.Drift[0].Delta.Get(model.Calories) != 100 {
		t.Fatalf("expected 100 kcal drift, got %+v", report.Drift)
	}

	report, err = service.CheckLedger(sqldb, "me", true)
	if err != nil {
		t.Fatalf("fix ledger: %v", err)
	}
	if !report.Healthy() || len(report.RebuiltUsers) != 1 {
		t.Fatalf("expected repaired ledger, got %+v", report)
	}
	ledger, err := service.GetLedger(sqldb, "me", "2026-03-02")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.Totals.Get(model.Calories) != 375 {
		t.Fatalf("expected 375 kcal after repair, got %.2f", ledger.Totals.Get(model.Calories))
	}
}
