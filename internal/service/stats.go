package service

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

const (
	improvingRatio = 1.10
	decliningRatio = 0.90
	windowDays     = 7
)

// AdvanceStreak applies one logged date to a streak. Dates earlier than lastDate are returned unchanged;
// stats updates recount those from the logged days instead.
func AdvanceStreak(current, longest int, lastDate, mealDate string) (int, int, string, error) {
	meal, err := ParseDateKey(mealDate)
	if err != nil {
		return 0, 0, "", err
	}
	if lastDate == "" {
		current = 1
		lastDate = mealDate
	} else {
		last, err := ParseDateKey(lastDate)
		if err != nil {
			return 0, 0, "", err
		}
		switch gap := daysBetween(last, meal); {
		case gap == 0 || gap < 0:
		case gap == 1:
			current++
			lastDate = mealDate
		default:
			current = 1
			lastDate = mealDate
		}
	}
	if current < 1 {
		current = 1
	}
	if current > longest {
		longest = current
	}
	return current, longest, lastDate, nil
}

// streaksFromDates recomputes streaks from sorted, distinct logged dates.
func streaksFromDates(dates []string) (current, longest int, last string) {
	run := 0
	var prev time.Time
	for i, d := range dates {
		t, err := ParseDateKey(d)
		if err != nil {
			continue
		}
		if i > 0 && daysBetween(prev, t) == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = t
		last = d
	}
	return run, longest, last
}

type WeeklyWindow struct {
	Average model.NutrientVector `json:"average"`
	Days    int                  `json:"days"`
	From    string               `json:"from"`
	To      string               `json:"to"`
}

// WeeklyAverages averages ledger totals over days with at least one meal in [asOf-6, asOf] and the seven days before.
func WeeklyAverages(ledgers []model.DailyLedger, asOf string) (WeeklyWindow, WeeklyWindow, error) {
	end, err := ParseDateKey(asOf)
	if err != nil {
		return WeeklyWindow{}, WeeklyWindow{}, err
	}
	w1 := WeeklyWindow{From: DateKey(end.AddDate(0, 0, -(windowDays - 1))), To: asOf}
	w2 := WeeklyWindow{From: DateKey(end.AddDate(0, 0, -(2*windowDays - 1))), To: DateKey(end.AddDate(0, 0, -windowDays))}

	var sum1, sum2 model.NutrientVector
	for _, l := range ledgers {
		if l.MealCount <= 0 {
			continue
		}
		switch {
		case l.Date >= w1.From && l.Date <= w1.To:
			sum1 = sum1.Add(l.Totals)
			w1.Days++
		case l.Date >= w2.From && l.Date <= w2.To:
			sum2 = sum2.Add(l.Totals)
			w2.Days++
		}
	}
	if w1.Days > 0 {
		w1.Average = sum1.Scale(1 / float64(w1.Days))
	}
	if w2.Days > 0 {
		w2.Average = sum2.Scale(1 / float64(w2.Days))
	}
	return w1, w2, nil
}

func ClassifyTrend(week1, week2 float64, week2Days int) model.Trend {
	if week2Days == 0 {
		return model.TrendStable
	}
	switch {
	case week1 > improvingRatio*week2:
		return model.TrendImproving
	case week1 < decliningRatio*week2:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

func ComputeTrends(w1, w2 WeeklyWindow) map[model.Nutrient]model.Trend {
	out := make(map[model.Nutrient]model.Trend, model.NutrientCount)
	for _, n := range model.Nutrients() {
		out[n] = ClassifyTrend(w1.Average.Get(n), w2.Average.Get(n), w2.Days)
	}
	return out
}

func newUserStats(userID string, createdAt time.Time) model.UserStats {
	return model.UserStats{
		UserID:           userID,
		AccountCreatedAt: createdAt,
		Phase:            model.PhaseLearning,
		Trends:           map[model.Nutrient]model.Trend{},
	}
}

// refreshStatsViews recomputes the derived weekly averages, trends and account age.
func refreshStatsViews(q dbtx, s model.UserStats, asOf string, now time.Time) (model.UserStats, error) {
	if asOf == "" {
		asOf = DateKey(now)
	}
	end, err := ParseDateKey(asOf)
	if err != nil {
		return model.UserStats{}, err
	}
	from := DateKey(end.AddDate(0, 0, -(2*windowDays - 1)))
	ledgers, err := listLedgers(q, s.UserID, from, asOf)
	if err != nil {
		return model.UserStats{}, err
	}
	w1, w2, err := WeeklyAverages(ledgers, asOf)
	if err != nil {
		return model.UserStats{}, err
	}
	s.Week1Avg = roundVector(w1.Average, 2)
	s.Week2Avg = roundVector(w2.Average, 2)
	s.Week1Days = w1.Days
	s.Week2Days = w2.Days
	s.Trends = ComputeTrends(w1, w2)
	s.AccountAgeDays = accountAgeDays(s.AccountCreatedAt, now)
	return s, nil
}

func accountAgeDays(createdAt, now time.Time) int {
	if createdAt.IsZero() {
		return 0
	}
	d := daysBetween(createdAt.In(now.Location()), now)
	if d < 0 {
		return 0
	}
	return d
}

// applyMealToStatsTx records one newly logged meal and advances the learning phase.
// It reports graduation without emitting it; the caller emits after commit.
func applyMealToStatsTx(tx dbtx, userID, mealDate string, now time.Time) (model.UserStats, bool, error) {
	s, found, err := loadStats(tx, userID)
	if err != nil {
		return model.UserStats{}, false, err
	}
	if !found {
		created := now
		if p, ok, err := profileOrEmpty(tx, userID); err != nil {
			return model.UserStats{}, false, err
		} else if ok && !p.CreatedAt.IsZero() && p.CreatedAt.Before(created) {
			created = p.CreatedAt
		}
		s = newUserStats(userID, created)
	}

	s.TotalMeals++
	if s.LastLoggedDate != "" && mealDate < s.LastLoggedDate {
		dates, err := loggedDates(tx, userID)
		if err != nil {
			return model.UserStats{}, false, err
		}
		s.CurrentStreak, s.LongestStreak, s.LastLoggedDate = streaksFromDates(dates)
	} else {
		s.CurrentStreak, s.LongestStreak, s.LastLoggedDate, err = AdvanceStreak(s.CurrentStreak, s.LongestStreak, s.LastLoggedDate, mealDate)
		if err != nil {
			return model.UserStats{}, false, err
		}
	}
	s, err = refreshStatsViews(tx, s, s.LastLoggedDate, now)
	if err != nil {
		return model.UserStats{}, false, err
	}
	s, graduated := AdvancePhase(s, now)
	s.UpdatedAt = now
	if err := saveStats(tx, s); err != nil {
		return model.UserStats{}, false, err
	}
	return s, graduated, nil
}

func graduationEvent(s model.UserStats, at time.Time) PhaseTransitionEvent {
	return PhaseTransitionEvent{
		UserID:         s.UserID,
		From:           model.PhaseLearning,
		To:             model.PhaseActive,
		TotalMeals:     s.TotalMeals,
		AccountAgeDays: s.AccountAgeDays,
		At:             at,
	}
}

// removeMealFromStatsTx undoes one meal's count and recomputes streaks from the ledger. The phase never reverts.
func removeMealFromStatsTx(tx dbtx, userID string, now time.Time) (model.UserStats, error) {
	s, found, err := loadStats(tx, userID)
	if err != nil {
		return model.UserStats{}, err
	}
	if !found {
		return model.UserStats{}, nil
	}
	if s.TotalMeals > 0 {
		s.TotalMeals--
	}
	dates, err := loggedDates(tx, userID)
	if err != nil {
		return model.UserStats{}, err
	}
	s.CurrentStreak, s.LongestStreak, s.LastLoggedDate = streaksFromDates(dates)
	s, err = refreshStatsViews(tx, s, s.LastLoggedDate, now)
	if err != nil {
		return model.UserStats{}, err
	}
	s.UpdatedAt = now
	if err := saveStats(tx, s); err != nil {
		return model.UserStats{}, err
	}
	return s, nil
}

// touchStatsTx refreshes the weekly views after a meal's contents changed without changing the meal count.
func touchStatsTx(tx dbtx, userID string, now time.Time) (model.UserStats, error) {
	s, found, err := loadStats(tx, userID)
	if err != nil || !found {
		return s, err
	}
	s, err = refreshStatsViews(tx, s, s.LastLoggedDate, now)
	if err != nil {
		return model.UserStats{}, err
	}
	s.UpdatedAt = now
	if err := saveStats(tx, s); err != nil {
		return model.UserStats{}, err
	}
	return s, nil
}

// GetStats returns stored stats with weekly views recomputed as of asOf. It does not persist anything.
func GetStats(db *sql.DB, userID, asOf string, now time.Time) (model.UserStats, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return model.UserStats{}, err
	}
	if now.IsZero() {
		now = time.Now()
	}
	s, found, err := loadStats(db, userID)
	if err != nil {
		return model.UserStats{}, err
	}
	if !found {
		s = newUserStats(userID, time.Time{})
	}
	if asOf == "" {
		asOf = DateKey(now)
	}
	return refreshStatsViews(db, s, asOf, now)
}

func loggedDates(q dbtx, userID string) ([]string, error) {
	rows, err := q.Query(`SELECT log_date FROM daily_ledger WHERE user_id = ? AND meal_count > 0 ORDER BY log_date ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list logged dates: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan logged date: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logged dates: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

func loadStats(q dbtx, userID string) (model.UserStats, bool, error) {
	var (
		s                   model.UserStats
		complete            int
		graduated           sql.NullTime
		w1JSON, w2JSON, trJ string
	)
	err := q.QueryRow(`
SELECT user_id, total_meals, account_created_at, learning_phase_complete, graduated_at,
       current_streak, longest_streak, last_logged_date,
       week1_json, week2_json, week1_days, week2_days, trends_json, updated_at
FROM user_stats WHERE user_id = ?
`, userID).Scan(&s.UserID, &s.TotalMeals, &s.AccountCreatedAt, &complete, &graduated,
		&s.CurrentStreak, &s.LongestStreak, &s.LastLoggedDate,
		&w1JSON, &w2JSON, &s.Week1Days, &s.Week2Days, &trJ, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.UserStats{}, false, nil
	}
	if err != nil {
		return model.UserStats{}, false, fmt.Errorf("load stats %q: %w", userID, err)
	}
	s.LearningPhaseComplete = complete == 1
	s.Phase = model.PhaseLearning
	if s.LearningPhaseComplete {
		s.Phase = model.PhaseActive
	}
	if graduated.Valid {
		t := graduated.Time
		s.GraduatedAt = &t
	}
	if s.Week1Avg, err = ParseNutrientsJSON(w1JSON); err != nil {
		return model.UserStats{}, false, err
	}
	if s.Week2Avg, err = ParseNutrientsJSON(w2JSON); err != nil {
		return model.UserStats{}, false, err
	}
	s.Trends = map[model.Nutrient]model.Trend{}
	if err := json.Unmarshal([]byte(trJ), &s.Trends); err != nil {
		return model.UserStats{}, false, fmt.Errorf("decode trends for %q: %w", userID, err)
	}
	return s, true, nil
}

func saveStats(q dbtx, s model.UserStats) error {
	w1, err := EncodeNutrientsJSON(s.Week1Avg)
	if err != nil {
		return err
	}
	w2, err := EncodeNutrientsJSON(s.Week2Avg)
	if err != nil {
		return err
	}
	trends, err := json.Marshal(s.Trends)
	if err != nil {
		return fmt.Errorf("marshal trends: %w", err)
	}
	complete := 0
	if s.LearningPhaseComplete {
		complete = 1
	}
	var graduated any
	if s.GraduatedAt != nil {
		graduated = *s.GraduatedAt
	}
	_, err = q.Exec(`
INSERT INTO user_stats(user_id, total_meals, account_created_at, learning_phase_complete, graduated_at,
  current_streak, longest_streak, last_logged_date, week1_json, week2_json, week1_days, week2_days, trends_json, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  total_meals=excluded.total_meals,
  learning_phase_complete=MAX(user_stats.learning_phase_complete, excluded.learning_phase_complete),
  graduated_at=COALESCE(user_stats.graduated_at, excluded.graduated_at),
  current_streak=excluded.current_streak,
  longest_streak=excluded.longest_streak,
  last_logged_date=excluded.last_logged_date,
  week1_json=excluded.week1_json,
  week2_json=excluded.week2_json,
  week1_days=excluded.week1_days,
  week2_days=excluded.week2_days,
  trends_json=excluded.trends_json,
  updated_at=excluded.updated_at
`, s.UserID, s.TotalMeals, s.AccountCreatedAt, complete, graduated,
		s.CurrentStreak, s.LongestStreak, s.LastLoggedDate, w1, w2, s.Week1Days, s.Week2Days, string(trends), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save stats %q: %w", s.UserID, err)
	}
	return nil
}
