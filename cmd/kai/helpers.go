package kai

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/Avidan87/KAI-sub000/internal/app"
	"github.com/Avidan87/KAI-sub000/internal/db"
	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

func withDB(run func(*sql.DB) error) error {
	path, err := resolveDBPath()
	if err != nil {
		return err
	}
	if err := app.EnsureDBDir(path); err != nil {
		return err
	}
	sqldb, err := db.Open(path)
	if err != nil {
		return err
	}
	defer sqldb.Close()

	if err := db.ApplyMigrations(sqldb); err != nil {
		return err
	}
	return run(sqldb)
}

func resolveUser(sqldb *sql.DB) (string, error) {
	if u := strings.TrimSpace(userFlag); u != "" {
		return u, nil
	}
	return service.DefaultUser(sqldb)
}

// newDeps wires the meal pipeline from app_config and the environment.
func newDeps(sqldb *sql.DB) (service.Deps, error) {
	providers, err := service.LookupProviders(sqldb)
	if err != nil {
		return service.Deps{}, err
	}
	lookup, err := service.NewChainLookup(sqldb, providers, service.LookupOptions{
		USDAAPIKey: appCfg.USDAAPIKey,
		Log:        appLog,
	})
	if err != nil {
		return service.Deps{}, err
	}
	capG, err := service.MealCapGrams(sqldb)
	if err != nil {
		return service.Deps{}, err
	}
	return service.Deps{
		Lookup:           lookup,
		Candidates:       service.CatalogCandidates{DB: sqldb},
		Sink:             service.NewZapSink(appLog),
		Log:              appLog,
		CandidateTimeout: appCfg.CandidateTimeout,
		MealCapG:         capG,
	}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func parseDateTimeOrNow(date, timeStr string) (time.Time, error) {
	date = strings.TrimSpace(date)
	timeStr = strings.TrimSpace(timeStr)
	if date == "" && timeStr == "" {
		return time.Now(), nil
	}
	if date == "" {
		return time.Time{}, fmt.Errorf("--date is required when --time is set")
	}
	if timeStr == "" {
		t, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --date %q (expected YYYY-MM-DD)", date)
		}
		return t.Add(12 * time.Hour), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+timeStr, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date/--time (expected YYYY-MM-DD and HH:MM)")
	}
	return t, nil
}

// parseObservation reads "name:amount[unit][:category[:confidence]]", e.g. "rice:1.5cup:grain".
// Volume units need densityGML.
func parseObservation(arg string, densityGML float64) (model.FoodObservation, error) {
	parts := strings.Split(arg, ":")
	if len(parts) < 2 || len(parts) > 4 {
		return model.FoodObservation{}, fmt.Errorf("invalid food %q (expected name:amount[unit][:category[:confidence]])", arg)
	}
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return model.FoodObservation{}, fmt.Errorf("invalid food %q: name is required", arg)
	}
	amount, unit := splitAmount(strings.TrimSpace(parts[1]))
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return model.FoodObservation{}, fmt.Errorf("invalid amount in %q", arg)
	}
	grams, err := service.ConvertToGrams(value, unit, densityGML)
	if err != nil {
		return model.FoodObservation{}, fmt.Errorf("food %q: %w", name, err)
	}
	obs := model.FoodObservation{FoodName: name, RawGrams: grams, Confidence: 1}
	if len(parts) >= 3 {
		obs.Category = strings.TrimSpace(parts[2])
	}
	if len(parts) == 4 {
		c, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || c < 0 || c > 1 {
			return model.FoodObservation{}, fmt.Errorf("invalid confidence in %q (expected 0..1)", arg)
		}
		obs.Confidence = c
	}
	return obs, nil
}

func splitAmount(s string) (string, string) {
	i := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

func parseObservations(args []string, densityGML float64) ([]model.FoodObservation, error) {
	out := make([]model.FoodObservation, 0, len(args))
	for _, a := range args {
		obs, err := parseObservation(a, densityGML)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}

// parseNutrientFlags reads repeated id=value pairs into a vector.
func parseNutrientFlags(values []string) (model.NutrientVector, error) {
	var v model.NutrientVector
	for _, raw := range values {
		id, amount, ok := strings.Cut(raw, "=")
		if !ok {
			return v, fmt.Errorf("invalid nutrient %q (expected id=value)", raw)
		}
		n, err := service.ParseNutrientID(id)
		if err != nil {
			return v, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
		if err != nil || f < 0 {
			return v, fmt.Errorf("invalid amount for %s: %q", n, amount)
		}
		v.Set(n, f)
	}
	return v, nil
}

func printVector(cmd *cobra.Command, v model.NutrientVector, skipZero bool) {
	for _, n := range model.Nutrients() {
		amount := v.Get(n)
		if skipZero && amount == 0 {
			continue
		}
		info := n.Info()
		fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %10.2f %s\n", info.Label, amount, info.Unit)
	}
}
