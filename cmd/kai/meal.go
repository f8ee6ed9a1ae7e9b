package kai

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

var mealCmd = &cobra.Command{
	Use:   "meal",
	Short: "Log, inspect and correct meals",
}

var (
	mealDate    string
	mealTime    string
	mealKey     string
	mealDensity float64
	mealFrom    string
	mealTo      string
	mealLimit   int
)

var mealLogCmd = &cobra.Command{
	Use:   "log <food:amount[unit][:category[:confidence]]>...",
	Short: "Log a meal from one or more food observations",
	Long:  "Each observation is name:amount[unit][:category[:confidence]], e.g. rice:1.5cup:grain or \"grilled chicken:150g:protein:0.9\". Volume units need --density.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		obs, err := parseObservations(args, mealDensity)
		if err != nil {
			return err
		}
		loggedAt, err := parseDateTimeOrNow(mealDate, mealTime)
		if err != nil {
			return err
		}
		key := strings.TrimSpace(mealKey)
		if key == "" {
			key = uuid.NewString()
		}
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			deps, err := newDeps(sqldb)
			if err != nil {
				return err
			}
			res, err := service.LogMeal(context.Background(), sqldb, deps, service.LogMealInput{
				UserID:         userID,
				LoggedAt:       loggedAt,
				IdempotencyKey: key,
				Observations:   obs,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, res)
			}
			if res.Duplicate {
				fmt.Fprintf(cmd.OutOrStdout(), "Meal already logged with key %s\n", key)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Logged meal %s (key %s)\n", res.Meal.ID, key)
			}
			printMeal(cmd, res.Meal)
			printCoaching(cmd, res.Coaching)
			return nil
		})
	},
}

var mealShowCmd = &cobra.Command{
	Use:   "show <meal-id>",
	Short: "Show one meal with its validated portions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			m, err := service.GetMeal(sqldb, userID, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, m)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Meal %s on %s at %s\n", m.ID, m.Date, m.LoggedAt.Format("15:04"))
			printMeal(cmd, m)
			return nil
		})
	},
}

var mealListCmd = &cobra.Command{
	Use:   "list",
	Short: "List meals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			meals, err := service.ListMeals(sqldb, userID, service.MealFilter{
				Date:     mealDate,
				FromDate: mealFrom,
				ToDate:   mealTo,
				Limit:    mealLimit,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, meals)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ID\tDATE\tTIME\tFOODS\tKCAL\tPROTEIN_G")
			for _, m := range meals {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d\t%.0f\t%.1f\n",
					m.ID, m.Date, m.LoggedAt.Format("15:04"), len(m.Foods), m.Total.Get(model.Calories), m.Total.Get(model.Protein))
			}
			return nil
		})
	},
}

var mealRemoveCmd = &cobra.Command{
	Use:   "remove <meal-id>",
	Short: "Remove a meal and take it out of the daily ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			deps, err := newDeps(sqldb)
			if err != nil {
				return err
			}
			m, stats, err := service.RemoveMeal(context.Background(), sqldb, deps, userID, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, map[string]any{"meal": m, "stats": stats})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed meal %s from %s (%d meals total, phase %s)\n", m.ID, m.Date, stats.TotalMeals, stats.Phase)
			return nil
		})
	},
}

var mealReplaceCmd = &cobra.Command{
	Use:   "replace <meal-id> <food:amount[unit][:category[:confidence]]>...",
	Short: "Replace the foods of a logged meal",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		obs, err := parseObservations(args[1:], mealDensity)
		if err != nil {
			return err
		}
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			deps, err := newDeps(sqldb)
			if err != nil {
				return err
			}
			res, err := service.ReplaceMealFoods(context.Background(), sqldb, deps, service.ReplaceMealInput{
				UserID:       userID,
				MealID:       args[0],
				Observations: obs,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated meal %s\n", res.Meal.ID)
			printMeal(cmd, res.Meal)
			return nil
		})
	},
}

func printMeal(cmd *cobra.Command, m model.MealRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "FOOD\tCATEGORY\tRAW_G\tGRAMS\tKCAL\tNOTE")
	for _, f := range m.Foods {
		note := f.Portion.Reason
		if f.Unresolved {
			note = "unresolved"
		}
		fmt.Fprintf(out, "%s\t%s\t%.0f\t%.1f\t%.0f\t%s\n",
			f.Portion.FoodName, f.Portion.Category, f.Portion.RawGrams, f.Portion.Grams, f.Contribution.Get(model.Calories), valueOrDash(note))
	}
	fmt.Fprintln(out, "Meal total:")
	printVector(cmd, m.Total, true)
}

func init() {
	rootCmd.AddCommand(mealCmd)
	mealCmd.AddCommand(mealLogCmd)
	mealCmd.AddCommand(mealShowCmd)
	mealCmd.AddCommand(mealListCmd)
	mealCmd.AddCommand(mealRemoveCmd)
	mealCmd.AddCommand(mealReplaceCmd)

	mealLogCmd.Flags().StringVar(&mealDate, "date", "", "Meal date (YYYY-MM-DD, default today)")
	mealLogCmd.Flags().StringVar(&mealTime, "time", "", "Meal time (HH:MM)")
	mealLogCmd.Flags().StringVar(&mealKey, "key", "", "Idempotency key; retrying with the same key never double counts")
	mealLogCmd.Flags().Float64Var(&mealDensity, "density", 0, "Density in g/ml for volume amounts")
	mealReplaceCmd.Flags().Float64Var(&mealDensity, "density", 0, "Density in g/ml for volume amounts")

	mealListCmd.Flags().StringVar(&mealDate, "date", "", "Only meals on this date")
	mealListCmd.Flags().StringVar(&mealFrom, "from", "", "From date (inclusive)")
	mealListCmd.Flags().StringVar(&mealTo, "to", "", "To date (inclusive)")
	mealListCmd.Flags().IntVar(&mealLimit, "limit", 50, "Max rows")
}
