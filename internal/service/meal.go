package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

const lookupConcurrency = 4

// Deps carries the collaborators of the meal pipeline. Zero values fall back to no-op defaults.
type Deps struct {
	Lookup           NutrientLookup
	Candidates       CandidateSource
	Sink             EventSink
	Log              *zap.Logger
	Now              func() time.Time
	CandidateTimeout time.Duration
	MealCapG         float64
}

func (d Deps) withDefaults() Deps {
	if d.Sink == nil {
		d.Sink = NopSink()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.CandidateTimeout <= 0 {
		d.CandidateTimeout = DefaultCandidateTimeout
	}
	if d.MealCapG <= 0 {
		d.MealCapG = DefaultMealCapGrams
	}
	return d
}

type LogMealInput struct {
	UserID         string
	LoggedAt       time.Time
	IdempotencyKey string
	Observations   []model.FoodObservation
}

type MealLogResult struct {
	Meal       model.MealRecord `json:"meal"`
	Coaching   CoachingPayload  `json:"coaching"`
	Duplicate  bool             `json:"duplicate"`
	Unresolved []string         `json:"unresolved,omitempty"`
}

// LogMeal validates, scales and records one meal, then builds coaching from the updated ledger and stats.
// A repeated IdempotencyKey returns the stored meal without folding it again.
func LogMeal(ctx context.Context, db *sql.DB, deps Deps, in LogMealInput) (MealLogResult, error) {
	deps = deps.withDefaults()
	userID, err := requireUserID(in.UserID)
	if err != nil {
		return MealLogResult{}, err
	}
	if err := validateObservations(in.Observations); err != nil {
		return MealLogResult{}, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		existing, found, err := findMealByKey(db, userID, key)
		if err != nil {
			return MealLogResult{}, err
		}
		if found {
			return duplicateResult(ctx, db, deps, existing)
		}
	}

	now := deps.Now()
	loggedAt := in.LoggedAt
	if loggedAt.IsZero() {
		loggedAt = now
	}
	meal := model.MealRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		Date:           DateKey(loggedAt),
		LoggedAt:       loggedAt,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
	pending := &RecordingSink{}
	meal.Foods, meal.Total = buildMealFoods(ctx, deps, pending, userID, meal.ID, in.Observations)

	var (
		stats     model.UserStats
		graduated bool
		dup       *model.MealRecord
	)
	unlock := userLocks.Lock(userID)
	err = withWriteRetry(ctx, func() error {
		dup = nil
		return inTx(db, func(tx *sql.Tx) error {
			if key != "" {
				existing, found, err := findMealByKey(tx, userID, key)
				if err != nil {
					return err
				}
				if found {
					dup = &existing
					return nil
				}
			}
			if err := insertMealTx(tx, meal); err != nil {
				return err
			}
			if err := foldLedgerTx(tx, userID, meal.Date, meal.Total); err != nil {
				return err
			}
			var err error
			stats, graduated, err = applyMealToStatsTx(tx, userID, meal.Date, now)
			if err != nil {
				return err
			}
			return recordFoodFrequencyTx(tx, userID, meal.Date, meal.Foods)
		})
	})
	unlock()
	if err != nil && key != "" && isUniqueViolation(err) {
		existing, found, findErr := findMealByKey(db, userID, key)
		if findErr == nil && found {
			return duplicateResult(ctx, db, deps, existing)
		}
	}
	if err != nil {
		return MealLogResult{}, fmt.Errorf("log meal: %w", err)
	}
	if dup != nil {
		return duplicateResult(ctx, db, deps, *dup)
	}
	pending.Replay(deps.Sink)
	if graduated {
		deps.Sink.PhaseTransition(graduationEvent(stats, now))
	}

	deps.Log.Info("meal logged",
		zap.String("user", userID),
		zap.String("meal_id", meal.ID),
		zap.String("date", meal.Date),
		zap.Int("foods", len(meal.Foods)),
		zap.Int("total_meals", stats.TotalMeals),
	)
	coaching, err := BuildCoaching(ctx, db, deps, CoachingInput{
		UserID:    userID,
		Date:      meal.Date,
		Meal:      &meal,
		Graduated: graduated,
	})
	if err != nil {
		return MealLogResult{}, err
	}
	return MealLogResult{Meal: meal, Coaching: coaching, Unresolved: unresolvedNames(meal.Foods)}, nil
}

func duplicateResult(ctx context.Context, db *sql.DB, deps Deps, meal model.MealRecord) (MealLogResult, error) {
	deps.Log.Info("duplicate meal submission", zap.String("user", meal.UserID), zap.String("meal_id", meal.ID))
	coaching, err := BuildCoaching(ctx, db, deps, CoachingInput{UserID: meal.UserID, Date: meal.Date, Meal: &meal})
	if err != nil {
		return MealLogResult{}, err
	}
	return MealLogResult{Meal: meal, Coaching: coaching, Duplicate: true, Unresolved: unresolvedNames(meal.Foods)}, nil
}

func validateObservations(obs []model.FoodObservation) error {
	if len(obs) == 0 {
		return invalidf("at least one food is required")
	}
	for i, o := range obs {
		if strings.TrimSpace(o.FoodName) == "" {
			return invalidf("food %d: name is required", i+1)
		}
	}
	return nil
}

type resolution struct {
	facts FoodFacts
	ok    bool
}

// resolveFoods looks up every observation concurrently. Failures leave the food unresolved.
func resolveFoods(ctx context.Context, deps Deps, obs []model.FoodObservation) []resolution {
	out := make([]resolution, len(obs))
	if deps.Lookup == nil {
		return out
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i, o := range obs {
		g.Go(func() error {
			facts, ok, err := deps.Lookup.LookupFood(gctx, strings.TrimSpace(o.FoodName))
			if err != nil {
				deps.Log.Warn("food unresolved", zap.String("food", o.FoodName), zap.Error(err))
				return nil
			}
			out[i] = resolution{facts: facts, ok: ok}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// buildMealFoods resolves, validates, caps and scales the observations in input order.
// Validation events go to sink; callers replay them once the meal is stored.
func buildMealFoods(ctx context.Context, deps Deps, sink EventSink, userID, mealID string, obs []model.FoodObservation) ([]model.MealFood, model.NutrientVector) {
	resolved := resolveFoods(ctx, deps, obs)
	validator := NewPortionValidator(sink).ForMeal(userID, mealID)

	portions := make([]model.ValidatedPortion, len(obs))
	for i, o := range obs {
		category := o.Category
		var override PortionRange
		if resolved[i].ok {
			if strings.TrimSpace(category) == "" {
				category = resolved[i].facts.Category
			}
			override = resolved[i].facts.PortionRange()
		}
		portions[i] = validator.ValidateWithRange(strings.TrimSpace(o.FoodName), o.RawGrams, category, override)
	}
	portions = validator.ApplyMealCap(portions, deps.MealCapG)

	foods := make([]model.MealFood, len(obs))
	contributions := make([]model.NutrientVector, len(obs))
	for i, p := range portions {
		f := model.MealFood{Position: i, Portion: p, Confidence: obs[i].Confidence, Unresolved: !resolved[i].ok}
		if resolved[i].ok {
			f.Source = resolved[i].facts.Source
			f.Contribution = Scale(resolved[i].facts.Per100g, p.Grams)
		}
		contributions[i] = f.Contribution
		foods[i] = f
	}
	return foods, Sum(contributions...)
}

func unresolvedNames(foods []model.MealFood) []string {
	var out []string
	for _, f := range foods {
		if f.Unresolved {
			out = append(out, f.Portion.FoodName)
		}
	}
	return out
}

func insertMealTx(tx dbtx, meal model.MealRecord) error {
	total, err := EncodeNutrientsJSON(meal.Total)
	if err != nil {
		return err
	}
	var key any
	if meal.IdempotencyKey != "" {
		key = meal.IdempotencyKey
	}
	if _, err := tx.Exec(`
INSERT INTO meals(id, user_id, log_date, logged_at, idempotency_key, total_json, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
`, meal.ID, meal.UserID, meal.Date, meal.LoggedAt, key, total, meal.CreatedAt); err != nil {
		return fmt.Errorf("insert meal: %w", err)
	}
	return insertMealItemsTx(tx, meal)
}

func insertMealItemsTx(tx dbtx, meal model.MealRecord) error {
	for _, f := range meal.Foods {
		contribution, err := EncodeNutrientsJSON(f.Contribution)
		if err != nil {
			return err
		}
		p := f.Portion
		if _, err := tx.Exec(`
INSERT INTO meal_items(meal_id, position, food_name, food_name_norm, category, confidence, raw_grams, grams,
  was_clamped, reason, meal_scaled, unresolved, source, contribution_json)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, meal.ID, f.Position, p.FoodName, normalizeName(p.FoodName), p.Category, f.Confidence, sanitizeGrams(p.RawGrams), p.Grams,
			boolInt(p.WasClamped), p.Reason, boolInt(p.MealScaled), boolInt(f.Unresolved), f.Source, contribution); err != nil {
			return fmt.Errorf("insert meal item %d: %w", f.Position, err)
		}
		if p.WasClamped {
			if _, err := tx.Exec(`
INSERT INTO portion_clamp_events(user_id, meal_id, food_name, category, raw_grams, applied_grams, reason)
VALUES(?, ?, ?, ?, ?, ?, ?)
`, meal.UserID, meal.ID, p.FoodName, p.Category, sanitizeGrams(p.RawGrams), p.Grams, p.Reason); err != nil {
				return fmt.Errorf("record clamp event: %w", err)
			}
		}
	}
	return nil
}

func deleteMealItemsTx(tx dbtx, mealID string) error {
	if _, err := tx.Exec(`DELETE FROM portion_clamp_events WHERE meal_id = ?`, mealID); err != nil {
		return fmt.Errorf("delete clamp events: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM meal_items WHERE meal_id = ?`, mealID); err != nil {
		return fmt.Errorf("delete meal items: %w", err)
	}
	return nil
}

// SQLite REAL columns cannot hold NaN.
func sanitizeGrams(v float64) float64 {
	if math.IsNaN(v) {
		return -1
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func findMealByKey(q dbtx, userID, key string) (model.MealRecord, bool, error) {
	var id string
	err := q.QueryRow(`SELECT id FROM meals WHERE user_id = ? AND idempotency_key = ?`, userID, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MealRecord{}, false, nil
	}
	if err != nil {
		return model.MealRecord{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	meal, err := loadMeal(q, userID, id)
	if err != nil {
		return model.MealRecord{}, false, err
	}
	return meal, true, nil
}

func GetMeal(db *sql.DB, userID, mealID string) (model.MealRecord, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return model.MealRecord{}, err
	}
	return loadMeal(db, userID, strings.TrimSpace(mealID))
}

func loadMeal(q dbtx, userID, mealID string) (model.MealRecord, error) {
	var (
		m         model.MealRecord
		key       sql.NullString
		totalJSON string
	)
	err := q.QueryRow(`
SELECT id, user_id, log_date, logged_at, idempotency_key, total_json, created_at
FROM meals WHERE id = ? AND user_id = ?
`, mealID, userID).Scan(&m.ID, &m.UserID, &m.Date, &m.LoggedAt, &key, &totalJSON, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MealRecord{}, fmt.Errorf("%w: %s", ErrMealNotFound, mealID)
	}
	if err != nil {
		return model.MealRecord{}, fmt.Errorf("load meal %s: %w", mealID, err)
	}
	m.IdempotencyKey = key.String
	if m.Total, err = ParseNutrientsJSON(totalJSON); err != nil {
		return model.MealRecord{}, err
	}

	rows, err := q.Query(`
SELECT position, food_name, category, confidence, raw_grams, grams, was_clamped, reason, meal_scaled, unresolved, source, contribution_json
FROM meal_items WHERE meal_id = ? ORDER BY position ASC
`, mealID)
	if err != nil {
		return model.MealRecord{}, fmt.Errorf("load meal items %s: %w", mealID, err)
	}
	defer rows.Close()
	m.Foods = []model.MealFood{}
	for rows.Next() {
		var (
			f                           model.MealFood
			clamped, scaled, unresolved int
			contribution                string
		)
		if err := rows.Scan(&f.Position, &f.Portion.FoodName, &f.Portion.Category, &f.Confidence, &f.Portion.RawGrams, &f.Portion.Grams,
			&clamped, &f.Portion.Reason, &scaled, &unresolved, &f.Source, &contribution); err != nil {
			return model.MealRecord{}, fmt.Errorf("scan meal item: %w", err)
		}
		f.Portion.WasClamped = clamped == 1
		f.Portion.MealScaled = scaled == 1
		f.Unresolved = unresolved == 1
		if f.Contribution, err = ParseNutrientsJSON(contribution); err != nil {
			return model.MealRecord{}, err
		}
		m.Foods = append(m.Foods, f)
	}
	if err := rows.Err(); err != nil {
		return model.MealRecord{}, fmt.Errorf("iterate meal items: %w", err)
	}
	return m, nil
}

type MealFilter struct {
	Date     string
	FromDate string
	ToDate   string
	Limit    int
}

func ListMeals(db *sql.DB, userID string, f MealFilter) ([]model.MealRecord, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.Date) != "" && (strings.TrimSpace(f.FromDate) != "" || strings.TrimSpace(f.ToDate) != "") {
		return nil, invalidf("--date cannot be combined with --from or --to")
	}
	query := `SELECT id FROM meals WHERE user_id = ?`
	args := []any{userID}
	for _, c := range []struct {
		value string
		cond  string
	}{
		{f.Date, ` AND log_date = ?`},
		{f.FromDate, ` AND log_date >= ?`},
		{f.ToDate, ` AND log_date <= ?`},
	} {
		v := strings.TrimSpace(c.value)
		if v == "" {
			continue
		}
		if _, err := ParseDateKey(v); err != nil {
			return nil, err
		}
		query += c.cond
		args = append(args, v)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query += ` ORDER BY logged_at DESC, id ASC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan meal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate meals: %w", err)
	}
	rows.Close()

	out := make([]model.MealRecord, 0, len(ids))
	for _, id := range ids {
		m, err := loadMeal(db, userID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// RemoveMeal deletes a meal and unfolds its frozen total. The learning phase never reverts.
func RemoveMeal(ctx context.Context, db *sql.DB, deps Deps, userID, mealID string) (model.MealRecord, model.UserStats, error) {
	deps = deps.withDefaults()
	userID, err := requireUserID(userID)
	if err != nil {
		return model.MealRecord{}, model.UserStats{}, err
	}
	mealID = strings.TrimSpace(mealID)
	unlock := userLocks.Lock(userID)
	defer unlock()

	var (
		meal  model.MealRecord
		stats model.UserStats
	)
	err = withWriteRetry(ctx, func() error {
		return inTx(db, func(tx *sql.Tx) error {
			var err error
			meal, err = loadMeal(tx, userID, mealID)
			if err != nil {
				return err
			}
			if err := deleteMealItemsTx(tx, meal.ID); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM meals WHERE id = ?`, meal.ID); err != nil {
				return fmt.Errorf("delete meal: %w", err)
			}
			if err := unfoldLedgerTx(tx, userID, meal.Date, meal.Total); err != nil {
				return err
			}
			if err := forgetFoodFrequencyTx(tx, userID, meal.Foods); err != nil {
				return err
			}
			stats, err = removeMealFromStatsTx(tx, userID, deps.Now())
			return err
		})
	})
	if err != nil {
		return model.MealRecord{}, model.UserStats{}, err
	}
	deps.Log.Info("meal removed", zap.String("user", userID), zap.String("meal_id", meal.ID), zap.String("date", meal.Date))
	return meal, stats, nil
}

type ReplaceMealInput struct {
	UserID       string
	MealID       string
	Observations []model.FoodObservation
}

// ReplaceMealFoods re-validates a meal with new observations, unfolding the old total and folding the new one.
func ReplaceMealFoods(ctx context.Context, db *sql.DB, deps Deps, in ReplaceMealInput) (MealLogResult, error) {
	deps = deps.withDefaults()
	userID, err := requireUserID(in.UserID)
	if err != nil {
		return MealLogResult{}, err
	}
	if err := validateObservations(in.Observations); err != nil {
		return MealLogResult{}, err
	}
	mealID := strings.TrimSpace(in.MealID)
	pending := &RecordingSink{}
	foods, total := buildMealFoods(ctx, deps, pending, userID, mealID, in.Observations)

	var meal model.MealRecord
	unlock := userLocks.Lock(userID)
	err = withWriteRetry(ctx, func() error {
		return inTx(db, func(tx *sql.Tx) error {
			old, err := loadMeal(tx, userID, mealID)
			if err != nil {
				return err
			}
			if err := unfoldLedgerTx(tx, userID, old.Date, old.Total); err != nil {
				return err
			}
			if err := deleteMealItemsTx(tx, old.ID); err != nil {
				return err
			}
			if err := forgetFoodFrequencyTx(tx, userID, old.Foods); err != nil {
				return err
			}
			meal = old
			meal.Foods = foods
			meal.Total = total
			encoded, err := EncodeNutrientsJSON(total)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`UPDATE meals SET total_json = ? WHERE id = ?`, encoded, meal.ID); err != nil {
				return fmt.Errorf("update meal total: %w", err)
			}
			if err := insertMealItemsTx(tx, meal); err != nil {
				return err
			}
			if err := foldLedgerTx(tx, userID, meal.Date, meal.Total); err != nil {
				return err
			}
			if err := recordFoodFrequencyTx(tx, userID, meal.Date, meal.Foods); err != nil {
				return err
			}
			_, err = touchStatsTx(tx, userID, deps.Now())
			return err
		})
	})
	unlock()
	if err != nil {
		return MealLogResult{}, err
	}
	pending.Replay(deps.Sink)
	coaching, err := BuildCoaching(ctx, db, deps, CoachingInput{UserID: userID, Date: meal.Date, Meal: &meal})
	if err != nil {
		return MealLogResult{}, err
	}
	return MealLogResult{Meal: meal, Coaching: coaching, Unresolved: unresolvedNames(meal.Foods)}, nil
}
