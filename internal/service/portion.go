package service

import (
	"math"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

const DefaultMealCapGrams = 650.0

const (
	ReasonWithinRange       = "within_range"
	ReasonGrossOverestimate = "gross_overestimate"
	ReasonAboveMax          = "above_max"
	ReasonBelowMin          = "below_min"
	ReasonMealCap           = "meal_cap"
)

const defaultPortionCategory = "default"

// grossOverestimateFactor marks readings that are a miscalibration rather than a large serving.
const grossOverestimateFactor = 1.5

type PortionRange struct {
	MinG     float64 `json:"min_g"`
	MaxG     float64 `json:"max_g"`
	TypicalG float64 `json:"typical_g"`
}

func (r PortionRange) Valid() bool {
	return r.MinG >= 0 && r.MinG < r.TypicalG && r.TypicalG < r.MaxG
}

var categoryPortionRanges = map[string]PortionRange{
	defaultPortionCategory: {MinG: 30, MaxG: 500, TypicalG: 150},
	"grain":                {MinG: 100, MaxG: 400, TypicalG: 250},
	"main_dish":            {MinG: 150, MaxG: 550, TypicalG: 350},
	"protein":              {MinG: 50, MaxG: 300, TypicalG: 150},
	"legume":               {MinG: 50, MaxG: 350, TypicalG: 180},
	"vegetable":            {MinG: 30, MaxG: 300, TypicalG: 100},
	"fruit":                {MinG: 50, MaxG: 300, TypicalG: 150},
	"dairy":                {MinG: 30, MaxG: 300, TypicalG: 150},
	"soup":                 {MinG: 150, MaxG: 500, TypicalG: 300},
	"beverage":             {MinG: 100, MaxG: 500, TypicalG: 250},
	"snack":                {MinG: 15, MaxG: 150, TypicalG: 40},
	"nut_seed":             {MinG: 10, MaxG: 80, TypicalG: 30},
	"sauce":                {MinG: 10, MaxG: 120, TypicalG: 40},
	"bread":                {MinG: 25, MaxG: 200, TypicalG: 70},
	"dessert":              {MinG: 40, MaxG: 250, TypicalG: 100},
}

// PortionCategories returns the categories with a plausibility range.
func PortionCategories() map[string]PortionRange {
	out := make(map[string]PortionRange, len(categoryPortionRanges))
	for k, v := range categoryPortionRanges {
		out[k] = v
	}
	return out
}

type PortionValidator struct {
	ranges map[string]PortionRange
	sink   EventSink
	userID string
	mealID string
}

func NewPortionValidator(sink EventSink) *PortionValidator {
	if sink == nil {
		sink = NopSink()
	}
	return &PortionValidator{ranges: categoryPortionRanges, sink: sink}
}

// ForMeal returns a validator whose telemetry carries the given user and meal.
func (v *PortionValidator) ForMeal(userID, mealID string) *PortionValidator {
	cp := *v
	cp.userID = userID
	cp.mealID = mealID
	return &cp
}

func (v *PortionValidator) RangeFor(category string) PortionRange {
	if r, ok := v.ranges[normalizeCategory(category)]; ok {
		return r
	}
	return v.ranges[defaultPortionCategory]
}

func (v *PortionValidator) Validate(foodName string, rawGrams float64, category string) model.ValidatedPortion {
	return v.ValidateWithRange(foodName, rawGrams, category, PortionRange{})
}

// ValidateWithRange prefers override when it is a usable range and falls back to the category table otherwise.
func (v *PortionValidator) ValidateWithRange(foodName string, rawGrams float64, category string, override PortionRange) model.ValidatedPortion {
	category = normalizeCategory(category)
	r := override
	if !r.Valid() {
		r = v.RangeFor(category)
	}
	grams, reason := ClampPortion(rawGrams, r)
	out := model.ValidatedPortion{
		FoodName:   foodName,
		Category:   category,
		RawGrams:   rawGrams,
		Grams:      grams,
		WasClamped: reason != ReasonWithinRange,
		Reason:     reason,
	}
	if out.WasClamped {
		v.sink.PortionClamped(ClampEvent{
			UserID:       v.userID,
			MealID:       v.mealID,
			FoodName:     foodName,
			Category:     category,
			RawGrams:     rawGrams,
			AppliedGrams: grams,
			Reason:       reason,
		})
	}
	return out
}

// ClampPortion applies the plausibility rules in order. NaN, infinite and negative readings count as below min.
func ClampPortion(rawGrams float64, r PortionRange) (float64, string) {
	if math.IsNaN(rawGrams) || math.IsInf(rawGrams, -1) || rawGrams < 0 {
		return r.TypicalG, ReasonBelowMin
	}
	switch {
	case rawGrams > grossOverestimateFactor*r.MaxG:
		return r.TypicalG, ReasonGrossOverestimate
	case rawGrams > r.MaxG:
		return r.MaxG, ReasonAboveMax
	case rawGrams < r.MinG:
		return r.TypicalG, ReasonBelowMin
	default:
		return rawGrams, ReasonWithinRange
	}
}

// ApplyMealCap rescales every portion by capG/sum when the meal is heavier than capG.
func (v *PortionValidator) ApplyMealCap(portions []model.ValidatedPortion, capG float64) []model.ValidatedPortion {
	out := append([]model.ValidatedPortion(nil), portions...)
	if capG <= 0 || len(out) == 0 {
		return out
	}
	sum := 0.0
	for _, p := range out {
		sum += p.Grams
	}
	if sum <= capG {
		return out
	}
	factor := capG / sum
	for i := range out {
		out[i].Grams *= factor
		out[i].MealScaled = true
		if !out[i].WasClamped {
			out[i].WasClamped = true
			out[i].Reason = ReasonMealCap
		}
	}
	v.sink.MealCapRescaled(MealCapEvent{
		UserID:      v.userID,
		MealID:      v.mealID,
		OriginalSum: sum,
		CapGrams:    capG,
		Factor:      factor,
	})
	return out
}

// ValidateMeal validates each observation and then enforces the meal cap.
func (v *PortionValidator) ValidateMeal(obs []model.FoodObservation, capG float64) []model.ValidatedPortion {
	out := make([]model.ValidatedPortion, 0, len(obs))
	for _, o := range obs {
		out = append(out, v.Validate(o.FoodName, o.RawGrams, o.Category))
	}
	return v.ApplyMealCap(out, capG)
}

func normalizeCategory(category string) string {
	c := normalizeName(category)
	if c == "" {
		return defaultPortionCategory
	}
	return c
}
