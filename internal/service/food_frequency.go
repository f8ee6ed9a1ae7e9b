package service

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

// recordFoodFrequencyTx counts each food of a meal that was just inserted and updates its running per-serving average.
func recordFoodFrequencyTx(tx dbtx, userID, date string, foods []model.MealFood) error {
	for _, f := range foods {
		norm := normalizeName(f.Portion.FoodName)
		if norm == "" {
			continue
		}
		rec, found, err := loadFoodFrequency(tx, userID, norm)
		if err != nil {
			return err
		}
		if !found {
			rec = model.FoodFrequencyRecord{UserID: userID, FoodName: f.Portion.FoodName}
		}
		rec.CountTotal++
		rec.AvgNutrients = rec.AvgNutrients.Add(f.Contribution.Sub(rec.AvgNutrients).Scale(1 / float64(rec.CountTotal)))
		if date > rec.LastEaten {
			rec.LastEaten = date
		}
		if err := saveFoodFrequency(tx, norm, rec); err != nil {
			return err
		}
		if err := refreshCount7d(tx, userID, norm, rec.LastEaten); err != nil {
			return err
		}
	}
	return nil
}

// forgetFoodFrequencyTx reverses recordFoodFrequencyTx for a meal whose items are already deleted.
func forgetFoodFrequencyTx(tx dbtx, userID string, foods []model.MealFood) error {
	for _, f := range foods {
		norm := normalizeName(f.Portion.FoodName)
		rec, found, err := loadFoodFrequency(tx, userID, norm)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if rec.CountTotal <= 1 {
			if _, err := tx.Exec(`DELETE FROM food_frequency WHERE user_id = ? AND food_name_norm = ?`, userID, norm); err != nil {
				return fmt.Errorf("delete food frequency %q: %w", norm, err)
			}
			continue
		}
		n := float64(rec.CountTotal)
		rec.AvgNutrients = rec.AvgNutrients.Scale(n).Sub(f.Contribution).Scale(1 / (n - 1))
		for i, v := range rec.AvgNutrients {
			if v < 0 {
				rec.AvgNutrients[i] = 0
			}
		}
		rec.CountTotal--
		last, err := lastEaten(tx, userID, norm)
		if err != nil {
			return err
		}
		if last != "" {
			rec.LastEaten = last
		}
		if err := saveFoodFrequency(tx, norm, rec); err != nil {
			return err
		}
		if err := refreshCount7d(tx, userID, norm, rec.LastEaten); err != nil {
			return err
		}
	}
	return nil
}

func refreshCount7d(tx dbtx, userID, norm, asOf string) error {
	from, err := addDays(asOf, -(windowDays - 1))
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
UPDATE food_frequency SET count_7d = (
  SELECT COUNT(1) FROM meal_items mi JOIN meals m ON m.id = mi.meal_id
  WHERE m.user_id = ? AND mi.food_name_norm = ? AND m.log_date >= ? AND m.log_date <= ?
)
WHERE user_id = ? AND food_name_norm = ?
`, userID, norm, from, asOf, userID, norm)
	if err != nil {
		return fmt.Errorf("refresh 7-day count for %q: %w", norm, err)
	}
	return nil
}

func lastEaten(q dbtx, userID, norm string) (string, error) {
	var last sql.NullString
	err := q.QueryRow(`
SELECT MAX(m.log_date) FROM meal_items mi JOIN meals m ON m.id = mi.meal_id
WHERE m.user_id = ? AND mi.food_name_norm = ?
`, userID, norm).Scan(&last)
	if err != nil {
		return "", fmt.Errorf("lookup last eaten %q: %w", norm, err)
	}
	return last.String, nil
}

func loadFoodFrequency(q dbtx, userID, norm string) (model.FoodFrequencyRecord, bool, error) {
	var (
		rec     model.FoodFrequencyRecord
		avgJSON string
	)
	err := q.QueryRow(`
SELECT user_id, food_name, count_7d, count_total, last_eaten, avg_nutrients_json
FROM food_frequency WHERE user_id = ? AND food_name_norm = ?
`, userID, norm).Scan(&rec.UserID, &rec.FoodName, &rec.Count7d, &rec.CountTotal, &rec.LastEaten, &avgJSON)
	if err == sql.ErrNoRows {
		return model.FoodFrequencyRecord{}, false, nil
	}
	if err != nil {
		return model.FoodFrequencyRecord{}, false, fmt.Errorf("load food frequency %q: %w", norm, err)
	}
	if rec.AvgNutrients, err = ParseNutrientsJSON(avgJSON); err != nil {
		return model.FoodFrequencyRecord{}, false, err
	}
	return rec, true, nil
}

func saveFoodFrequency(q dbtx, norm string, rec model.FoodFrequencyRecord) error {
	avg, err := EncodeNutrientsJSON(rec.AvgNutrients)
	if err != nil {
		return err
	}
	_, err = q.Exec(`
INSERT INTO food_frequency(user_id, food_name_norm, food_name, count_7d, count_total, last_eaten, avg_nutrients_json)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, food_name_norm) DO UPDATE SET
  food_name=excluded.food_name,
  count_total=excluded.count_total,
  last_eaten=excluded.last_eaten,
  avg_nutrients_json=excluded.avg_nutrients_json
`, rec.UserID, norm, rec.FoodName, rec.Count7d, rec.CountTotal, rec.LastEaten, avg)
	if err != nil {
		return fmt.Errorf("save food frequency %q: %w", norm, err)
	}
	return nil
}

type FoodHistoryFilter struct {
	Limit int
	AsOf  string
}

// ListFoodHistory returns the user's foods, most eaten first, with count_7d recomputed as of filter.AsOf.
func ListFoodHistory(db *sql.DB, userID string, f FoodHistoryFilter) ([]model.FoodFrequencyRecord, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.AsOf == "" {
		f.AsOf = DateKey(time.Now())
	}
	from, err := addDays(f.AsOf, -(windowDays - 1))
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`
SELECT ff.user_id, ff.food_name, ff.count_total, ff.last_eaten, ff.avg_nutrients_json,
  (SELECT COUNT(1) FROM meal_items mi JOIN meals m ON m.id = mi.meal_id
   WHERE m.user_id = ff.user_id AND mi.food_name_norm = ff.food_name_norm AND m.log_date >= ? AND m.log_date <= ?)
FROM food_frequency ff
WHERE ff.user_id = ?
ORDER BY ff.count_total DESC, ff.last_eaten DESC, ff.food_name_norm ASC
LIMIT ?
`, from, f.AsOf, userID, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("list food history: %w", err)
	}
	defer rows.Close()
	out := []model.FoodFrequencyRecord{}
	for rows.Next() {
		var (
			rec     model.FoodFrequencyRecord
			avgJSON string
		)
		if err := rows.Scan(&rec.UserID, &rec.FoodName, &rec.CountTotal, &rec.LastEaten, &avgJSON, &rec.Count7d); err != nil {
			return nil, fmt.Errorf("scan food history: %w", err)
		}
		if rec.AvgNutrients, err = ParseNutrientsJSON(avgJSON); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate food history: %w", err)
	}
	return out, nil
}

func foodHistoryIndex(records []model.FoodFrequencyRecord) map[string]model.FoodFrequencyRecord {
	out := make(map[string]model.FoodFrequencyRecord, len(records))
	for _, r := range records {
		out[normalizeName(r.FoodName)] = r
	}
	return out
}
