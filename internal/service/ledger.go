package service

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

// FoldLedger adds one meal total to a ledger.
func FoldLedger(l model.DailyLedger, total model.NutrientVector) model.DailyLedger {
	l.Totals = l.Totals.Add(total)
	l.MealCount++
	return l
}

// UnfoldLedger is the inverse of FoldLedger for a meal previously folded into l.
func UnfoldLedger(l model.DailyLedger, total model.NutrientVector) model.DailyLedger {
	l.Totals = l.Totals.Sub(total)
	if l.MealCount > 0 {
		l.MealCount--
	}
	return l
}

var (
	ledgerColumns   = nutrientColumns()
	ledgerSelectSQL = `SELECT user_id, log_date, meal_count, ` + strings.Join(ledgerColumns, ", ") + ` FROM daily_ledger`
	ledgerFoldSQL   = buildLedgerFoldSQL()
	ledgerUnfoldSQL = buildLedgerUnfoldSQL()
)

func nutrientColumns() []string {
	cols := make([]string, 0, model.NutrientCount)
	for _, n := range model.Nutrients() {
		cols = append(cols, n.Info().Column)
	}
	return cols
}

func buildLedgerFoldSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ledgerColumns)), ", ")
	sets := make([]string, 0, len(ledgerColumns))
	for _, c := range ledgerColumns {
		sets = append(sets, fmt.Sprintf("%s = %s + excluded.%s", c, c, c))
	}
	return `
INSERT INTO daily_ledger(user_id, log_date, meal_count, ` + strings.Join(ledgerColumns, ", ") + `, updated_at)
VALUES(?, ?, 1, ` + placeholders + `, CURRENT_TIMESTAMP)
ON CONFLICT(user_id, log_date) DO UPDATE SET
  meal_count = meal_count + 1,
  ` + strings.Join(sets, ",\n  ") + `,
  updated_at = excluded.updated_at
`
}

func buildLedgerUnfoldSQL() string {
	sets := make([]string, 0, len(ledgerColumns))
	for _, c := range ledgerColumns {
		sets = append(sets, fmt.Sprintf("%s = MAX(%s - ?, 0)", c, c))
	}
	return `
UPDATE daily_ledger SET
  meal_count = MAX(meal_count - 1, 0),
  ` + strings.Join(sets, ",\n  ") + `,
  updated_at = CURRENT_TIMESTAMP
WHERE user_id = ? AND log_date = ?
`
}

func vectorArgs(v model.NutrientVector) []any {
	args := make([]any, 0, model.NutrientCount)
	for _, x := range v {
		args = append(args, x)
	}
	return args
}

// foldLedgerTx folds a meal total into the (user, date) row with a single atomic upsert.
func foldLedgerTx(tx dbtx, userID, date string, total model.NutrientVector) error {
	args := append([]any{userID, date}, vectorArgs(total)...)
	if _, err := tx.Exec(ledgerFoldSQL, args...); err != nil {
		return fmt.Errorf("fold ledger %s/%s: %w", userID, date, err)
	}
	return nil
}

func unfoldLedgerTx(tx dbtx, userID, date string, total model.NutrientVector) error {
	args := append(vectorArgs(total), userID, date)
	res, err := tx.Exec(ledgerUnfoldSQL, args...)
	if err != nil {
		return fmt.Errorf("unfold ledger %s/%s: %w", userID, date, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("unfold ledger %s/%s: no ledger row", userID, date)
	}
	if _, err := tx.Exec(`DELETE FROM daily_ledger WHERE user_id = ? AND log_date = ? AND meal_count = 0`, userID, date); err != nil {
		return fmt.Errorf("prune empty ledger %s/%s: %w", userID, date, err)
	}
	return nil
}

func scanLedger(scan func(dest ...any) error) (model.DailyLedger, error) {
	var l model.DailyLedger
	dest := []any{&l.UserID, &l.Date, &l.MealCount}
	for i := range l.Totals {
		dest = append(dest, &l.Totals[i])
	}
	if err := scan(dest...); err != nil {
		return model.DailyLedger{}, err
	}
	return l, nil
}

// GetLedger returns the ledger for one day. A day without meals yields an empty ledger.
func GetLedger(db *sql.DB, userID, date string) (model.DailyLedger, error) {
	return getLedger(db, userID, date)
}

func getLedger(q dbtx, userID, date string) (model.DailyLedger, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return model.DailyLedger{}, err
	}
	if _, err := ParseDateKey(date); err != nil {
		return model.DailyLedger{}, err
	}
	row := q.QueryRow(ledgerSelectSQL+` WHERE user_id = ? AND log_date = ?`, userID, date)
	l, err := scanLedger(row.Scan)
	if err == sql.ErrNoRows {
		return model.DailyLedger{UserID: userID, Date: date}, nil
	}
	if err != nil {
		return model.DailyLedger{}, fmt.Errorf("get ledger %s/%s: %w", userID, date, err)
	}
	return l, nil
}

// ListLedgers returns logged days in [from, to], oldest first. Empty bounds are open.
func ListLedgers(db *sql.DB, userID, from, to string) ([]model.DailyLedger, error) {
	return listLedgers(db, userID, from, to)
}

func listLedgers(q dbtx, userID, from, to string) ([]model.DailyLedger, error) {
	if to == "" {
		to = "9999-12-31"
	}
	rows, err := q.Query(ledgerSelectSQL+` WHERE user_id = ? AND log_date >= ? AND log_date <= ? ORDER BY log_date ASC`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}
	defer rows.Close()
	out := []model.DailyLedger{}
	for rows.Next() {
		l, err := scanLedger(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledgers: %w", err)
	}
	return out, nil
}

type RebuildReport struct {
	UserID string `json:"user_id"`
	Days   int    `json:"days"`
	Meals  int    `json:"meals"`
}

// RebuildLedger recomputes every ledger row for a user from frozen meal totals.
func RebuildLedger(db *sql.DB, userID string) (RebuildReport, error) {
	userID, err := requireUserID(userID)
	if err != nil {
		return RebuildReport{}, err
	}
	unlock := userLocks.Lock(userID)
	defer unlock()

	report := RebuildReport{UserID: userID}
	err = inTx(db, func(tx *sql.Tx) error {
		totals, meals, err := mealTotalsByDate(tx, userID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM daily_ledger WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("clear ledger for %s: %w", userID, err)
		}
		for date, l := range totals {
			args := append([]any{userID, date, l.MealCount}, vectorArgs(l.Totals)...)
			if _, err := tx.Exec(`
INSERT INTO daily_ledger(user_id, log_date, meal_count, `+strings.Join(ledgerColumns, ", ")+`, updated_at)
VALUES(?, ?, ?, `+strings.TrimSuffix(strings.Repeat("?, ", len(ledgerColumns)), ", ")+`, CURRENT_TIMESTAMP)
`, args...); err != nil {
				return fmt.Errorf("insert rebuilt ledger %s/%s: %w", userID, date, err)
			}
		}
		report.Days = len(totals)
		report.Meals = meals
		return nil
	})
	if err != nil {
		return RebuildReport{}, err
	}
	return report, nil
}

// RebuildAllLedgers runs RebuildLedger for every user that has meals or ledger rows.
func RebuildAllLedgers(db *sql.DB) ([]RebuildReport, error) {
	rows, err := db.Query(`SELECT user_id FROM meals UNION SELECT user_id FROM daily_ledger ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("list ledger users: %w", err)
	}
	users := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan ledger user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate ledger users: %w", err)
	}
	rows.Close()

	out := make([]RebuildReport, 0, len(users))
	for _, u := range users {
		r, err := RebuildLedger(db, u)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func mealTotalsByDate(q dbtx, userID string) (map[string]model.DailyLedger, int, error) {
	rows, err := q.Query(`SELECT log_date, total_json FROM meals WHERE user_id = ? ORDER BY log_date ASC, logged_at ASC, id ASC`, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("list meal totals: %w", err)
	}
	defer rows.Close()
	out := map[string]model.DailyLedger{}
	meals := 0
	for rows.Next() {
		var date, totalJSON string
		if err := rows.Scan(&date, &totalJSON); err != nil {
			return nil, 0, fmt.Errorf("scan meal total: %w", err)
		}
		total, err := ParseNutrientsJSON(totalJSON)
		if err != nil {
			return nil, 0, err
		}
		l, ok := out[date]
		if !ok {
			l = model.DailyLedger{UserID: userID, Date: date}
		}
		out[date] = FoldLedger(l, total)
		meals++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate meal totals: %w", err)
	}
	return out, meals, nil
}
