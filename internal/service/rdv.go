package service

import (
	"math"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

const (
	kcalPerKgBodyWeight = 7700.0
	fatShareOfCalories  = 0.28
	kcalPerGramProtein  = 4.0
	kcalPerGramCarb     = 4.0
	kcalPerGramFat      = 9.0

	// projectionEpsilon treats weekly changes below this many kg as no change.
	projectionEpsilon = 1e-6
)

var activityMultipliers = map[model.ActivityLevel]float64{
	model.ActivitySedentary:  1.2,
	model.ActivityLight:      1.375,
	model.ActivityModerate:   1.55,
	model.ActivityActive:     1.725,
	model.ActivityVeryActive: 1.9,
}

var goalCalorieAdjustments = map[model.Goal]float64{
	model.GoalLoseWeight:     -500,
	model.GoalGainMuscle:     300,
	model.GoalMaintainWeight: 0,
	model.GoalGeneralHealth:  0,
}

var proteinPerKg = map[model.Goal]float64{
	model.GoalLoseWeight:     1.8,
	model.GoalGainMuscle:     2.0,
	model.GoalMaintainWeight: 1.4,
	model.GoalGeneralHealth:  1.2,
}

const (
	SourcePersonalized = "personalized"
	SourceFallback     = "fallback"
)

type WeightProjection struct {
	CurrentWeightKg  float64  `json:"current_weight_kg"`
	TargetWeightKg   float64  `json:"target_weight_kg"`
	DailyDeficitKcal float64  `json:"daily_deficit_kcal"`
	WeeklyChangeKg   float64  `json:"weekly_change_kg"`
	WeeksToGoal      *float64 `json:"weeks_to_goal"`
}

type RDVTargets struct {
	Targets          model.NutrientVector `json:"targets"`
	Source           string               `json:"source"`
	Personalized     bool                 `json:"personalized"`
	Goal             model.Goal           `json:"goal,omitempty"`
	BMR              *float64             `json:"bmr,omitempty"`
	TDEE             *float64             `json:"tdee,omitempty"`
	ComputedCalories float64              `json:"computed_calories"`
	ActiveCalories   float64              `json:"active_calories"`
	CustomCalorieSet bool                 `json:"custom_calorie_goal_applied"`
	Projection       *WeightProjection    `json:"projection,omitempty"`
}

func ActivityLevels() []model.ActivityLevel {
	return []model.ActivityLevel{
		model.ActivitySedentary,
		model.ActivityLight,
		model.ActivityModerate,
		model.ActivityActive,
		model.ActivityVeryActive,
	}
}

func ValidActivityLevel(a model.ActivityLevel) bool {
	_, ok := activityMultipliers[a]
	return ok
}

func ValidGoal(g model.Goal) bool {
	_, ok := goalCalorieAdjustments[g]
	return ok
}

func ValidGender(g model.Gender) bool {
	return g == model.GenderMale || g == model.GenderFemale
}

// ProfileComplete reports whether p carries plausible values for every input of the energy formula.
func ProfileComplete(p model.UserProfile) bool {
	if !ValidGender(p.Gender) || !ValidActivityLevel(p.ActivityLevel) {
		return false
	}
	if p.Goal != "" && !ValidGoal(p.Goal) {
		return false
	}
	return p.Age >= 1 && p.Age <= 130 &&
		p.WeightKg >= 10 && p.WeightKg <= 400 &&
		p.HeightCm >= 50 && p.HeightCm <= 250
}

// MifflinStJeorBMR returns resting energy expenditure in kcal/day.
func MifflinStJeorBMR(gender model.Gender, weightKg, heightCm float64, age int) float64 {
	base := 10*weightKg + 6.25*heightCm - 5*float64(age)
	if gender == model.GenderMale {
		return base + 5
	}
	return base - 161
}

// CalculateRDV derives daily targets from a profile. It never fails: incomplete profiles use the fallback table.
func CalculateRDV(p model.UserProfile) RDVTargets {
	if !ProfileComplete(p) {
		return fallbackRDV(p)
	}
	goal := p.Goal
	if goal == "" {
		goal = model.GoalGeneralHealth
	}

	bmr := MifflinStJeorBMR(p.Gender, p.WeightKg, p.HeightCm, p.Age)
	tdee := bmr * activityMultipliers[p.ActivityLevel]
	computed := tdee + goalCalorieAdjustments[goal]
	active := computed
	custom := p.CustomCalorieGoal != nil && *p.CustomCalorieGoal > 0
	if custom {
		active = *p.CustomCalorieGoal
	}

	protein := p.WeightKg * proteinPerKg[goal]
	fat, carbs := splitFatAndCarbs(active, protein)

	targets := microTargets(p.Gender, p.Age)
	targets.Set(model.Calories, active)
	targets.Set(model.Protein, protein)
	targets.Set(model.Fat, fat)
	targets.Set(model.Carbs, carbs)

	out := RDVTargets{
		Targets:          roundTargets(targets),
		Source:           SourcePersonalized,
		Personalized:     true,
		Goal:             goal,
		BMR:              floatPtr(round2(bmr)),
		TDEE:             floatPtr(round2(tdee)),
		ComputedCalories: round2(computed),
		ActiveCalories:   round2(active),
		CustomCalorieSet: custom,
	}
	if p.TargetWeightKg != nil && *p.TargetWeightKg > 0 {
		out.Projection = projectWeight(p.WeightKg, *p.TargetWeightKg, tdee-active)
	}
	return out
}

func splitFatAndCarbs(activeKcal, proteinG float64) (fatG, carbsG float64) {
	fatG = fatShareOfCalories * activeKcal / kcalPerGramFat
	carbsG = (activeKcal - proteinG*kcalPerGramProtein - fatG*kcalPerGramFat) / kcalPerGramCarb
	if carbsG < 0 {
		carbsG = 0
	}
	return fatG, carbsG
}

// projectWeight estimates weekly change from a daily deficit. Weeks is nil when the pace is zero or heads away from the target.
func projectWeight(currentKg, targetKg, dailyDeficit float64) *WeightProjection {
	weekly := dailyDeficit * 7 / kcalPerKgBodyWeight
	out := &WeightProjection{
		CurrentWeightKg:  currentKg,
		TargetWeightKg:   targetKg,
		DailyDeficitKcal: round2(dailyDeficit),
		WeeklyChangeKg:   roundTo(weekly, 3),
	}
	needed := currentKg - targetKg
	switch {
	case needed == 0:
		out.WeeksToGoal = floatPtr(0)
	case math.Abs(weekly) < projectionEpsilon:
	case (needed > 0) != (weekly > 0):
	default:
		out.WeeksToGoal = floatPtr(roundTo(math.Abs(needed)/math.Abs(weekly), 1))
	}
	return out
}

func roundTargets(v model.NutrientVector) model.NutrientVector {
	out := roundVector(v, 1)
	out.Set(model.Calories, round2(v.Get(model.Calories)))
	return out
}

func floatPtr(v float64) *float64 { return &v }

type ageBracket int

const (
	bracketTeen ageBracket = iota
	bracket19to30
	bracket31to50
	bracket51to70
	bracket71plus
)

func bracketForAge(age int) ageBracket {
	switch {
	case age <= 0:
		return bracket31to50
	case age <= 18:
		return bracketTeen
	case age <= 30:
		return bracket19to30
	case age <= 50:
		return bracket31to50
	case age <= 70:
		return bracket51to70
	default:
		return bracket71plus
	}
}

type microRow struct {
	fiber, calcium, iron, magnesium, potassium, sodium, zinc float64
	vitaminA, vitaminC, vitaminD, vitaminB12, folate         float64
}

func (r microRow) vector() model.NutrientVector {
	var v model.NutrientVector
	v.Set(model.Fiber, r.fiber)
	v.Set(model.Calcium, r.calcium)
	v.Set(model.Iron, r.iron)
	v.Set(model.Magnesium, r.magnesium)
	v.Set(model.Potassium, r.potassium)
	v.Set(model.Sodium, r.sodium)
	v.Set(model.Zinc, r.zinc)
	v.Set(model.VitaminA, r.vitaminA)
	v.Set(model.VitaminC, r.vitaminC)
	v.Set(model.VitaminD, r.vitaminD)
	v.Set(model.VitaminB12, r.vitaminB12)
	v.Set(model.Folate, r.folate)
	return v
}

var maleMicros = map[ageBracket]microRow{
	bracketTeen:   {fiber: 31, calcium: 1300, iron: 11, magnesium: 410, potassium: 3000, sodium: 2300, zinc: 11, vitaminA: 900, vitaminC: 75, vitaminD: 15, vitaminB12: 2.4, folate: 400},
	bracket19to30: {fiber: 34, calcium: 1000, iron: 8, magnesium: 400, potassium: 3400, sodium: 2300, zinc: 11, vitaminA: 900, vitaminC: 90, vitaminD: 15, vitaminB12: 2.4, folate: 400},
	bracket31to50: {fiber: 31, calcium: 1000, iron: 8, magnesium: 420, potassium: 3400, sodium: 2300, zinc: 11, vitaminA: 900, vitaminC: 90, vitaminD: 15, vitaminB12: 2.4, folate: 400},
	bracket51to70: {fiber: 28, calcium: 1000, iron: 8, magnesium: 420, potassium: 3400, sodium: 2300, zinc: 11, vitaminA: 900, vitaminC: 90, vitaminD: 15, vitaminB12: 2.4, folate: 400},
	bracket71plus: {fiber: 28, calcium: 1200, iron: 8, magnesium: 420, potassium: 3400, sodium: 2300, zinc: 11, vitaminA: 900, vitaminC: 90, vitaminD: 20, vitaminB12: 2.4, folate: 400},
}

var femaleMicros = map[ageBracket]microRow{
	bracketTeen:   {fiber: 25, calcium: 1300, iron: 15, magnesium: 360, potassium: 2300, sodium: 2300, zinc: 9, vitaminA: 700, vitaminC: 65, vitaminD: 15, vitaminB12: 2.4, folate: 400},
	bracket19to30: {fiber: 28, calcium: 1000, iron: 18, magnesium: 310, potassium: 2600, sodium: 2300, zinc: 8, vitaminA: 700, vitaminC: 75, vitaminD: 15, vitaminB12: 2.4, folate: 400},
	bracket31to50: {fiber: 25, calcium: 1000, iron: 18, magnesium: 320, potassium: 2600, sodium: 2300, zinc: 8, vitaminA: 700, vitaminC: 75, vitaminD: 15, vitaminB12: 2.4, folate: 400},
	bracket51to70: {fiber: 22, calcium: 1200, iron: 8, magnesium: 320, potassium: 2600, sodium: 2300, zinc: 8, vitaminA: 700, vitaminC: 75, vitaminD: 15, vitaminB12: 2.4, folate: 400},
	bracket71plus: {fiber: 22, calcium: 1200, iron: 8, magnesium: 320, potassium: 2600, sodium: 2300, zinc: 8, vitaminA: 700, vitaminC: 75, vitaminD: 20, vitaminB12: 2.4, folate: 400},
}

// microTargets returns fiber and micronutrient targets. Unknown gender averages both tables.
func microTargets(gender model.Gender, age int) model.NutrientVector {
	b := bracketForAge(age)
	switch gender {
	case model.GenderMale:
		return maleMicros[b].vector()
	case model.GenderFemale:
		return femaleMicros[b].vector()
	default:
		return maleMicros[b].vector().Add(femaleMicros[b].vector()).Scale(0.5)
	}
}

type fallbackMacroRow struct {
	calories float64
	protein  float64
}

var fallbackMacros = map[model.Gender]map[ageBracket]fallbackMacroRow{
	model.GenderMale: {
		bracketTeen:   {calories: 2400, protein: 52},
		bracket19to30: {calories: 2600, protein: 56},
		bracket31to50: {calories: 2400, protein: 56},
		bracket51to70: {calories: 2200, protein: 56},
		bracket71plus: {calories: 2000, protein: 56},
	},
	model.GenderFemale: {
		bracketTeen:   {calories: 1800, protein: 46},
		bracket19to30: {calories: 2000, protein: 46},
		bracket31to50: {calories: 1800, protein: 46},
		bracket51to70: {calories: 1600, protein: 46},
		bracket71plus: {calories: 1600, protein: 46},
	},
	"": {
		bracketTeen:   {calories: 2100, protein: 49},
		bracket19to30: {calories: 2300, protein: 51},
		bracket31to50: {calories: 2100, protein: 51},
		bracket51to70: {calories: 1900, protein: 51},
		bracket71plus: {calories: 1800, protein: 51},
	},
}

func fallbackRDV(p model.UserProfile) RDVTargets {
	gender := p.Gender
	if !ValidGender(gender) {
		gender = ""
	}
	age := p.Age
	if age > 130 {
		age = 0
	}
	row := fallbackMacros[gender][bracketForAge(age)]
	active := row.calories
	custom := p.CustomCalorieGoal != nil && *p.CustomCalorieGoal > 0
	if custom {
		active = *p.CustomCalorieGoal
	}
	fat, carbs := splitFatAndCarbs(active, row.protein)

	targets := microTargets(gender, age)
	targets.Set(model.Calories, active)
	targets.Set(model.Protein, row.protein)
	targets.Set(model.Fat, fat)
	targets.Set(model.Carbs, carbs)

	goal := p.Goal
	if !ValidGoal(goal) {
		goal = model.GoalGeneralHealth
	}
	return RDVTargets{
		Targets:          roundTargets(targets),
		Source:           SourceFallback,
		Goal:             goal,
		ComputedCalories: round2(row.calories),
		ActiveCalories:   round2(active),
		CustomCalorieSet: custom,
	}
}
