package service_test

import (
	"math"
	"testing"

	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

func vec(values map[model.Nutrient]float64) model.NutrientVector {
	var v model.NutrientVector
	for n, x := range values {
		v.Set(n, x)
	}
	return v
}

func assertVectorNear(t *testing.T, got, want model.NutrientVector, tol float64) {
	t.Helper()
	for _, n := range model.Nutrients() {
		if math.Abs(got.Get(n)-want.Get(n)) > tol {
			t.Fatalf("%s: expected %.6f, got %.6f", n, want.Get(n), got.Get(n))
		}
	}
}

func TestScaleConvertsPer100g(t *testing.T) {
	t.Parallel()
	per100g := vec(map[model.Nutrient]float64{model.Calories: 150, model.Protein: 3, model.Carbs: 28, model.Fat: 4})
	got := service.Scale(per100g, 250)
	want := vec(map[model.Nutrient]float64{model.Calories: 375, model.Protein: 7.5, model.Carbs: 70, model.Fat: 10})
	assertVectorNear(t, got, want, 1e-9)

	if !service.Scale(per100g, 0).IsZero() || !service.Scale(per100g, math.NaN()).IsZero() {
		t.Fatalf("zero or NaN grams must contribute nothing")
	}
}

func TestSumOrderingAgreesWithinTolerance(t *testing.T) {
	t.Parallel()
	a := vec(map[model.Nutrient]float64{model.Calories: 120.1, model.Iron: 2.3})
	b := vec(map[model.Nutrient]float64{model.Calories: 33.33, model.VitaminC: 40})
	c := vec(map[model.Nutrient]float64{model.Protein: 12.5, model.Iron: 0.7})
	assertVectorNear(t, service.Sum(a, b, c), service.Sum(c, a, b), 1e-9)
	assertVectorNear(t, service.Sum(a, b, c), service.Sum(b, c, a), 1e-9)
}

func TestFoldThenUnfoldRestoresLedger(t *testing.T) {
	t.Parallel()
	start := model.DailyLedger{UserID: "u1", Date: "2026-03-01", MealCount: 2,
		Totals: vec(map[model.Nutrient]float64{model.Calories: 900, model.Zinc: 4})}
	meal := vec(map[model.Nutrient]float64{model.Calories: 375, model.Protein: 7.5, model.Zinc: 1.25})

	folded := service.FoldLedger(start, meal)
	if folded.MealCount != 3 || folded.Totals.Get(model.Calories) != 1275 {
		t.Fatalf("unexpected fold result: %+v", folded)
	}
	back := service.UnfoldLedger(folded, meal)
	if back.MealCount != start.MealCount {
		t.Fatalf("expected meal count %d, got %d", start.MealCount, back.MealCount)
	}
	assertVectorNear(t, back.Totals, start.Totals, 1e-9)
}

func TestNutrientsJSONRoundTripUsesIDs(t *testing.T) {
	t.Parallel()
	v := vec(map[model.Nutrient]float64{model.VitaminB12: 2.4, model.Folate: 400})
	encoded, err := service.EncodeNutrientsJSON(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := service.ParseNutrientsJSON(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assertVectorNear(t, decoded, v, 0)
	if _, err := service.ParseNutrientsJSON(`{"sugar": 4}`); err == nil {
		t.Fatalf("expected unknown nutrient to be rejected")
	}
}
