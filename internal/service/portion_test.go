package service_test

import (
	"math"
	"testing"

	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

func TestValidateGrossOverestimateUsesTypical(t *testing.T) {
	t.Parallel()
	sink := &service.RecordingSink{}
	v := service.NewPortionValidator(sink).ForMeal("u1", "m1")

	got := v.Validate("Jollof rice", 900, "grain")
	if got.Grams != 250 || got.Reason != service.ReasonGrossOverestimate || !got.WasClamped {
		t.Fatalf("expected typical 250g gross overestimate, got %+v", got)
	}
	events := sink.Events()
	if len(events.Clamps) != 1 || events.Clamps[0].MealID != "m1" || events.Clamps[0].AppliedGrams != 250 {
		t.Fatalf("expected one clamp event for m1, got %+v", events.Clamps)
	}
}

func TestClampPortionRules(t *testing.T) {
	t.Parallel()
	r := service.PortionRange{MinG: 100, MaxG: 400, TypicalG: 250}
	cases := []struct {
		name   string
		raw    float64
		grams  float64
		reason string
	}{
		{"within", 320, 320, service.ReasonWithinRange},
		{"at max", 400, 400, service.ReasonWithinRange},
		{"above max", 500, 400, service.ReasonAboveMax},
		{"at gross boundary", 600, 400, service.ReasonAboveMax},
		{"gross", 601, 250, service.ReasonGrossOverestimate},
		{"below min", 20, 250, service.ReasonBelowMin},
		{"negative", -5, 250, service.ReasonBelowMin},
		{"nan", math.NaN(), 250, service.ReasonBelowMin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			grams, reason := service.ClampPortion(tc.raw, r)
			if grams != tc.grams || reason != tc.reason {
				t.Fatalf("raw %.1f: expected %.1f/%s, got %.1f/%s", tc.raw, tc.grams, tc.reason, grams, reason)
			}
			if grams < r.MinG || grams > r.MaxG {
				t.Fatalf("validated grams %.1f outside [%.0f, %.0f]", grams, r.MinG, r.MaxG)
			}
		})
	}
}

func TestValidateUnknownCategoryFallsBackToDefault(t *testing.T) {
	t.Parallel()
	v := service.NewPortionValidator(nil)
	got := v.Validate("mystery", 10, "space food")
	def := v.RangeFor("default")
	if got.Grams != def.TypicalG || got.Reason != service.ReasonBelowMin {
		t.Fatalf("expected default typical %.0f, got %+v", def.TypicalG, got)
	}
}

func TestValidateWithRangePrefersUsableOverride(t *testing.T) {
	t.Parallel()
	v := service.NewPortionValidator(nil)
	got := v.ValidateWithRange("almonds", 90, "nut_seed", service.PortionRange{MinG: 20, MaxG: 100, TypicalG: 40})
	if got.Grams != 90 || got.WasClamped {
		t.Fatalf("expected override range to accept 90g, got %+v", got)
	}
	got = v.ValidateWithRange("almonds", 90, "nut_seed", service.PortionRange{MinG: 50, MaxG: 40, TypicalG: 45})
	if got.Grams != 80 || got.Reason != service.ReasonAboveMax {
		t.Fatalf("expected invalid override to fall back to nut_seed max 80, got %+v", got)
	}
}

func TestApplyMealCapPreservesRatios(t *testing.T) {
	t.Parallel()
	sink := &service.RecordingSink{}
	v := service.NewPortionValidator(sink)
	in := []model.ValidatedPortion{
		{FoodName: "a", Grams: 400, Reason: service.ReasonWithinRange},
		{FoodName: "b", Grams: 300, Reason: service.ReasonWithinRange},
		{FoodName: "c", Grams: 200, Reason: service.ReasonAboveMax, WasClamped: true},
	}
	out := v.ApplyMealCap(in, 650)

	want := []float64{288.888, 216.666, 144.444}
	sum := 0.0
	for i, p := range out {
		if math.Abs(p.Grams-want[i]) > 0.01 {
			t.Fatalf("portion %d: expected ~%.3f, got %.3f", i, want[i], p.Grams)
		}
		if !p.MealScaled || !p.WasClamped {
			t.Fatalf("portion %d should be marked scaled and clamped: %+v", i, p)
		}
		sum += p.Grams
	}
	if math.Abs(sum-650) > 1e-9 {
		t.Fatalf("expected capped sum 650, got %.9f", sum)
	}
	if math.Abs(out[0].Grams/out[1].Grams-4.0/3.0) > 1e-9 {
		t.Fatalf("ratio not preserved: %.6f", out[0].Grams/out[1].Grams)
	}
	if out[0].Reason != service.ReasonMealCap || out[2].Reason != service.ReasonAboveMax {
		t.Fatalf("unexpected reasons: %q %q", out[0].Reason, out[2].Reason)
	}
	if in[0].Grams != 400 {
		t.Fatalf("input slice was mutated")
	}
	if ev := sink.Events().MealCaps; len(ev) != 1 || ev[0].OriginalSum != 900 {
		t.Fatalf("expected one meal cap event, got %+v", ev)
	}
}

func TestApplyMealCapUnderCapIsNoop(t *testing.T) {
	t.Parallel()
	sink := &service.RecordingSink{}
	v := service.NewPortionValidator(sink)
	out := v.ApplyMealCap([]model.ValidatedPortion{{Grams: 300}, {Grams: 350}}, 650)
	if out[0].Grams != 300 || out[1].Grams != 350 || out[0].MealScaled {
		t.Fatalf("expected untouched portions at exactly the cap, got %+v", out)
	}
	if len(sink.Events().MealCaps) != 0 {
		t.Fatalf("no rescale event expected")
	}
}

func TestPortionCategoriesAreUsable(t *testing.T) {
	t.Parallel()
	for name, r := range service.PortionCategories() {
		if !r.Valid() {
			t.Fatalf("category %q has unusable range %+v", name, r)
		}
	}
}
