package model

import "time"

type FoodObservation struct {
	FoodName   string  `json:"food_name"`
	RawGrams   float64 `json:"raw_grams"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
}

type ValidatedPortion struct {
	FoodName   string  `json:"food_name"`
	Category   string  `json:"category"`
	RawGrams   float64 `json:"raw_grams"`
	Grams      float64 `json:"grams"`
	WasClamped bool    `json:"was_clamped"`
	Reason     string  `json:"reason"`
	MealScaled bool    `json:"meal_scaled,omitempty"`
}

type MealFood struct {
	Position     int              `json:"position"`
	Portion      ValidatedPortion `json:"portion"`
	Confidence   float64          `json:"confidence"`
	Contribution NutrientVector   `json:"contribution"`
	Unresolved   bool             `json:"unresolved"`
	Source       string           `json:"source,omitempty"`
}

type MealRecord struct {
	ID             string         `json:"meal_id"`
	UserID         string         `json:"user_id"`
	Date           string         `json:"date"`
	LoggedAt       time.Time      `json:"logged_at"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Foods          []MealFood     `json:"foods"`
	Total          NutrientVector `json:"total"`
	CreatedAt      time.Time      `json:"created_at"`
}

type DailyLedger struct {
	UserID    string         `json:"user_id"`
	Date      string         `json:"date"`
	Totals    NutrientVector `json:"totals"`
	MealCount int            `json:"meal_count"`
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type ActivityLevel string

const (
	ActivitySedentary  ActivityLevel = "sedentary"
	ActivityLight      ActivityLevel = "light"
	ActivityModerate   ActivityLevel = "moderate"
	ActivityActive     ActivityLevel = "active"
	ActivityVeryActive ActivityLevel = "very_active"
)

type Goal string

const (
	GoalLoseWeight     Goal = "lose_weight"
	GoalGainMuscle     Goal = "gain_muscle"
	GoalMaintainWeight Goal = "maintain_weight"
	GoalGeneralHealth  Goal = "general_health"
)

type UserProfile struct {
	UserID            string        `json:"user_id"`
	Gender            Gender        `json:"gender,omitempty"`
	Age               int           `json:"age,omitempty"`
	WeightKg          float64       `json:"weight_kg,omitempty"`
	HeightCm          float64       `json:"height_cm,omitempty"`
	ActivityLevel     ActivityLevel `json:"activity_level,omitempty"`
	Goal              Goal          `json:"goal,omitempty"`
	TargetWeightKg    *float64      `json:"target_weight_kg,omitempty"`
	CustomCalorieGoal *float64      `json:"custom_calorie_goal,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

type FoodCatalogItem struct {
	Name            string         `json:"name"`
	Category        string         `json:"category"`
	PriceTier       string         `json:"price_tier"`
	TypicalPortionG float64        `json:"typical_portion_g"`
	MinReasonableG  float64        `json:"min_reasonable_g"`
	MaxReasonableG  float64        `json:"max_reasonable_g"`
	Per100g         NutrientVector `json:"per_100g"`
	Source          string         `json:"source"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type FoodFrequencyRecord struct {
	UserID       string         `json:"user_id"`
	FoodName     string         `json:"food_name"`
	Count7d      int            `json:"count_7d"`
	CountTotal   int            `json:"count_total"`
	LastEaten    string         `json:"last_eaten"`
	AvgNutrients NutrientVector `json:"avg_nutrients"`
}

type Phase string

const (
	PhaseLearning Phase = "LEARNING"
	PhaseActive   Phase = "ACTIVE"
)

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

type UserStats struct {
	UserID                string             `json:"user_id"`
	TotalMeals            int                `json:"total_meals"`
	AccountCreatedAt      time.Time          `json:"account_created_at"`
	AccountAgeDays        int                `json:"account_age_days"`
	LearningPhaseComplete bool               `json:"learning_phase_complete"`
	Phase                 Phase              `json:"phase"`
	GraduatedAt           *time.Time         `json:"graduated_at,omitempty"`
	CurrentStreak         int                `json:"current_streak"`
	LongestStreak         int                `json:"longest_streak"`
	LastLoggedDate        string             `json:"last_logged_date,omitempty"`
	Week1Avg              NutrientVector     `json:"week1_avg"`
	Week2Avg              NutrientVector     `json:"week2_avg"`
	Week1Days             int                `json:"week1_days"`
	Week2Days             int                `json:"week2_days"`
	Trends                map[Nutrient]Trend `json:"trends"`
	UpdatedAt             time.Time          `json:"updated_at"`
}
