package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

// SetProfileInput carries a partial update. Nil fields keep their stored value.
type SetProfileInput struct {
	UserID              string
	Gender              *string
	Age                 *int
	Weight              *float64
	WeightUnit          string
	Height              *float64
	HeightUnit          string
	ActivityLevel       *string
	Goal                *string
	TargetWeight        *float64
	ClearTargetWeight   bool
	CustomCalorieGoal   *float64
	ClearCustomCalories bool
	Now                 time.Time
}

func SetProfile(db *sql.DB, in SetProfileInput) (model.UserProfile, error) {
	userID, err := requireUserID(in.UserID)
	if err != nil {
		return model.UserProfile{}, err
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	var p model.UserProfile
	unlock := userLocks.Lock(userID)
	defer unlock()
	err = withWriteRetry(context.Background(), func() error {
		return inTx(db, func(tx *sql.Tx) error {
			var err error
			p, err = getProfile(tx, userID)
			if errors.Is(err, ErrProfileNotFound) {
				p = model.UserProfile{UserID: userID, CreatedAt: in.Now}
			} else if err != nil {
				return err
			}
			if err := mergeProfileInput(&p, in); err != nil {
				return err
			}
			return saveProfileTx(tx, p)
		})
	})
	if err != nil {
		return model.UserProfile{}, err
	}
	return p, nil
}

// mergeProfileInput applies the non-nil fields of in to p.
func mergeProfileInput(p *model.UserProfile, in SetProfileInput) error {
	if in.Gender != nil {
		g := model.Gender(normalizeName(*in.Gender))
		if g != "" && !ValidGender(g) {
			return invalidf("invalid gender %q (use male or female)", *in.Gender)
		}
		p.Gender = g
	}
	if in.Age != nil {
		if err := validateNonNegativeInt("age", *in.Age); err != nil {
			return err
		}
		p.Age = *in.Age
	}
	if in.Weight != nil {
		kg, err := ToKg(*in.Weight, in.WeightUnit)
		if err != nil {
			return err
		}
		p.WeightKg = kg
	}
	if in.Height != nil {
		cm, err := ToCm(*in.Height, in.HeightUnit)
		if err != nil {
			return err
		}
		p.HeightCm = cm
	}
	if in.ActivityLevel != nil {
		a := model.ActivityLevel(strings.ReplaceAll(normalizeName(*in.ActivityLevel), "-", "_"))
		if a != "" && !ValidActivityLevel(a) {
			return invalidf("invalid activity level %q", *in.ActivityLevel)
		}
		p.ActivityLevel = a
	}
	if in.Goal != nil {
		g := model.Goal(strings.ReplaceAll(normalizeName(*in.Goal), "-", "_"))
		if g != "" && !ValidGoal(g) {
			return invalidf("invalid goal %q", *in.Goal)
		}
		p.Goal = g
	}
	if in.ClearTargetWeight {
		p.TargetWeightKg = nil
	} else if in.TargetWeight != nil {
		kg, err := ToKg(*in.TargetWeight, in.WeightUnit)
		if err != nil {
			return fmt.Errorf("target weight: %w", err)
		}
		p.TargetWeightKg = &kg
	}
	if in.ClearCustomCalories {
		p.CustomCalorieGoal = nil
	} else if in.CustomCalorieGoal != nil {
		if *in.CustomCalorieGoal <= 0 {
			return invalidf("custom calorie goal must be > 0")
		}
		v := *in.CustomCalorieGoal
		p.CustomCalorieGoal = &v
	}
	p.UpdatedAt = in.Now
	return nil
}

func saveProfileTx(tx dbtx, p model.UserProfile) error {
	_, err := tx.Exec(`
INSERT INTO profiles(user_id, gender, age, weight_kg, height_cm, activity_level, goal, target_weight_kg, custom_calorie_goal, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  gender=excluded.gender,
  age=excluded.age,
  weight_kg=excluded.weight_kg,
  height_cm=excluded.height_cm,
  activity_level=excluded.activity_level,
  goal=excluded.goal,
  target_weight_kg=excluded.target_weight_kg,
  custom_calorie_goal=excluded.custom_calorie_goal,
  updated_at=excluded.updated_at
`, p.UserID, string(p.Gender), p.Age, p.WeightKg, p.HeightCm, string(p.ActivityLevel), string(p.Goal),
		nullableFloat(p.TargetWeightKg), nullableFloat(p.CustomCalorieGoal), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save profile %q: %w", p.UserID, err)
	}
	return nil
}

func GetProfile(db *sql.DB, userID string) (model.UserProfile, error) {
	return getProfile(db, userID)
}

func getProfile(q dbtx, userID string) (model.UserProfile, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return model.UserProfile{}, err
	}
	var (
		p              model.UserProfile
		gender, act    string
		goal           string
		target, custom sql.NullFloat64
	)
	err = q.QueryRow(`
SELECT user_id, gender, age, weight_kg, height_cm, activity_level, goal, target_weight_kg, custom_calorie_goal, created_at, updated_at
FROM profiles WHERE user_id = ?
`, userID).Scan(&p.UserID, &gender, &p.Age, &p.WeightKg, &p.HeightCm, &act, &goal, &target, &custom, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.UserProfile{}, ErrProfileNotFound
	}
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("get profile %q: %w", userID, err)
	}
	p.Gender = model.Gender(gender)
	p.ActivityLevel = model.ActivityLevel(act)
	p.Goal = model.Goal(goal)
	if target.Valid {
		p.TargetWeightKg = &target.Float64
	}
	if custom.Valid {
		p.CustomCalorieGoal = &custom.Float64
	}
	return p, nil
}

// profileOrEmpty returns the stored profile, or an empty one that CalculateRDV maps to fallback targets.
func profileOrEmpty(q dbtx, userID string) (model.UserProfile, bool, error) {
	p, err := getProfile(q, userID)
	if err == ErrProfileNotFound {
		return model.UserProfile{UserID: userID}, false, nil
	}
	if err != nil {
		return model.UserProfile{}, false, err
	}
	return p, true, nil
}

// TargetsForUser recomputes targets from the current profile.
func TargetsForUser(db *sql.DB, userID string) (RDVTargets, error) {
	p, _, err := profileOrEmpty(db, userID)
	if err != nil {
		return RDVTargets{}, err
	}
	return CalculateRDV(p), nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
