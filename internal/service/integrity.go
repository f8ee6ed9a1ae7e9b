package service

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

const driftTolerance = 1e-6

type LedgerDrift struct {
	UserID        string               `json:"user_id"`
	Date          string               `json:"date"`
	LedgerMeals   int                  `json:"ledger_meals"`
	ExpectedMeals int                  `json:"expected_meals"`
	Delta         model.NutrientVector `json:"delta"`
}

type LedgerCheckReport struct {
	UsersChecked int           `json:"users_checked"`
	Drift        []LedgerDrift `json:"drift"`
	OrphanItems  int           `json:"orphan_items"`
	RebuiltUsers []string      `json:"rebuilt_users,omitempty"`
}

func (r LedgerCheckReport) Healthy() bool {
	return len(r.Drift) == 0 && r.OrphanItems == 0
}

// CheckLedger compares ledger rows with the sum of frozen meal totals. An empty userID checks every user.
// With fix set, users with drift get their ledger rebuilt and the report reflects the state after the rebuild.
func CheckLedger(db *sql.DB, userID string, fix bool) (LedgerCheckReport, error) {
	users, err := ledgerUsers(db, strings.TrimSpace(userID))
	if err != nil {
		return LedgerCheckReport{}, err
	}
	report := LedgerCheckReport{UsersChecked: len(users)}
	if err := db.QueryRow(`SELECT COUNT(1) FROM meal_items mi LEFT JOIN meals m ON m.id = mi.meal_id WHERE m.id IS NULL`).Scan(&report.OrphanItems); err != nil {
		return report, fmt.Errorf("ledger check orphan items: %w", err)
	}
	for _, u := range users {
		drift, err := userLedgerDrift(db, u)
		if err != nil {
			return report, err
		}
		report.Drift = append(report.Drift, drift...)
	}
	if !fix {
		return report, nil
	}

	if report.OrphanItems > 0 {
		if _, err := db.Exec(`DELETE FROM meal_items WHERE meal_id NOT IN (SELECT id FROM meals)`); err != nil {
			return report, fmt.Errorf("ledger check delete orphan items: %w", err)
		}
		report.OrphanItems = 0
	}
	seen := map[string]bool{}
	for _, d := range report.Drift {
		if seen[d.UserID] {
			continue
		}
		seen[d.UserID] = true
		if _, err := RebuildLedger(db, d.UserID); err != nil {
			return report, err
		}
		report.RebuiltUsers = append(report.RebuiltUsers, d.UserID)
	}
	report.Drift = nil
	for _, u := range report.RebuiltUsers {
		drift, err := userLedgerDrift(db, u)
		if err != nil {
			return report, err
		}
		report.Drift = append(report.Drift, drift...)
	}
	return report, nil
}

func ledgerUsers(db *sql.DB, userID string) ([]string, error) {
	if userID != "" {
		return []string{userID}, nil
	}
	rows, err := db.Query(`SELECT user_id FROM meals UNION SELECT user_id FROM daily_ledger ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("list ledger users: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan ledger user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger users: %w", err)
	}
	return out, nil
}

func userLedgerDrift(db *sql.DB, userID string) ([]LedgerDrift, error) {
	expected, _, err := mealTotalsByDate(db, userID)
	if err != nil {
		return nil, err
	}
	stored, err := listLedgers(db, userID, "", "")
	if err != nil {
		return nil, err
	}
	actual := make(map[string]model.DailyLedger, len(stored))
	dates := map[string]bool{}
	for _, l := range stored {
		actual[l.Date] = l
		dates[l.Date] = true
	}
	for d := range expected {
		dates[d] = true
	}
	keys := make([]string, 0, len(dates))
	for d := range dates {
		keys = append(keys, d)
	}
	sort.Strings(keys)

	var out []LedgerDrift
	for _, d := range keys {
		want, got := expected[d], actual[d]
		delta := got.Totals.Sub(want.Totals)
		if want.MealCount == got.MealCount && withinTolerance(delta, want.Totals) {
			continue
		}
		out = append(out, LedgerDrift{
			UserID:        userID,
			Date:          d,
			LedgerMeals:   got.MealCount,
			ExpectedMeals: want.MealCount,
			Delta:         roundVector(delta, 4),
		})
	}
	return out, nil
}

func withinTolerance(delta, scale model.NutrientVector) bool {
	for i := range delta {
		if math.Abs(delta[i]) > driftTolerance*math.Max(1, math.Abs(scale[i])) {
			return false
		}
	}
	return true
}
