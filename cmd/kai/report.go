package kai

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

var statsAsOf string

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Show daily nutrient targets for the current profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			t, err := service.TargetsForUser(sqldb, userID)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, t)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Source: %s\n", t.Source)
			if t.BMR != nil && t.TDEE != nil {
				fmt.Fprintf(out, "BMR: %.0f kcal, TDEE: %.0f kcal, goal-adjusted: %.0f kcal\n", *t.BMR, *t.TDEE, t.ActiveCalories)
			}
			if t.CustomCalorieSet {
				fmt.Fprintf(out, "Custom calorie goal applied (computed %.0f kcal)\n", t.ComputedCalories)
			}
			if p := t.Projection; p != nil {
				fmt.Fprintf(out, "Projection: %.1f kg -> %.1f kg at %.2f kg/week", p.CurrentWeightKg, p.TargetWeightKg, p.WeeklyChangeKg)
				if p.WeeksToGoal != nil {
					fmt.Fprintf(out, ", about %.1f week(s)\n", *p.WeeksToGoal)
				} else {
					fmt.Fprintln(out, ", goal not reachable at this intake")
				}
			}
			printVector(cmd, t.Targets, false)
			return nil
		})
	},
}

var gapsCmd = &cobra.Command{
	Use:   "gaps [date]",
	Short: "Rank nutrient gaps for a day against your targets",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := service.DateKey(time.Now())
		if len(args) == 1 {
			date = args[0]
		}
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			l, err := service.GetLedger(sqldb, userID, date)
			if err != nil {
				return err
			}
			t, err := service.TargetsForUser(sqldb, userID)
			if err != nil {
				return err
			}
			report := service.AnalyzeGaps(l.Totals, t.Targets)
			if jsonOut {
				return printJSON(cmd, report)
			}
			if report.AllMet {
				fmt.Fprintf(cmd.OutOrStdout(), "All targets met on %s\n", date)
				return nil
			}
			printGaps(cmd, report.Ranked)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show streak, learning phase and weekly trends",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			s, err := service.GetStats(sqldb, userID, statsAsOf, time.Now())
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, s)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Phase: %s (%d meals, account %d day(s) old)\n", s.Phase, s.TotalMeals, s.AccountAgeDays)
			fmt.Fprintf(out, "Streak: %d day(s), longest %d, last logged %s\n", s.CurrentStreak, s.LongestStreak, valueOrDash(s.LastLoggedDate))
			fmt.Fprintf(out, "Logged days: %d this week, %d previous week\n", s.Week1Days, s.Week2Days)
			if len(s.Trends) == 0 {
				return nil
			}
			fmt.Fprintln(out, "NUTRIENT\tTHIS_AVG\tPREV_AVG\tTREND")
			for _, n := range sortedTrendKeys(s.Trends) {
				fmt.Fprintf(out, "%s\t%.1f\t%.1f\t%s\n", n, s.Week1Avg.Get(n), s.Week2Avg.Get(n), s.Trends[n])
			}
			return nil
		})
	},
}

var coachCmd = &cobra.Command{
	Use:   "coach [date]",
	Short: "Show coaching for a day: gaps, trends and food suggestions once past the learning phase",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := ""
		if len(args) == 1 {
			date = args[0]
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
			p, err := service.BuildCoaching(context.Background(), sqldb, deps, service.CoachingInput{UserID: userID, Date: date})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, p)
			}
			printCoaching(cmd, p)
			return nil
		})
	},
}

func printGaps(cmd *cobra.Command, gaps []service.NutrientGap) {
	fmt.Fprintln(cmd.OutOrStdout(), "NUTRIENT\tCURRENT\tTARGET\tPERCENT\tSEVERITY")
	for _, g := range gaps {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.1f\t%.1f\t%.0f%%\t%s\n", g.Nutrient, g.Current, g.Target, g.Percent, g.Severity)
	}
}

func printCoaching(cmd *cobra.Command, p service.CoachingPayload) {
	out := cmd.OutOrStdout()
	if p.Graduated {
		fmt.Fprintln(out, "Learning phase complete: gap coaching is now on")
	}
	fmt.Fprintf(out, "Phase: %s, streak %d day(s), %d meal(s) logged\n", p.Phase, p.Streak.Current, p.Streak.TotalMeals)
	fmt.Fprintf(out, "Today: %.0f / %.0f kcal over %d meal(s)\n",
		p.DailyTotals.Get(model.Calories), p.Targets.Targets.Get(model.Calories), p.MealCount)
	if e := p.Encouragement; e != nil {
		fmt.Fprintf(out, "Nice: %.1f %s of %s covers %.0f%% of your daily target\n",
			e.Amount, e.Nutrient.Info().Unit, e.Nutrient.Info().Label, e.SharePct)
	}
	if len(p.Unresolved) > 0 {
		fmt.Fprintf(out, "Unresolved foods: %v\n", p.Unresolved)
	}
	if p.Phase != model.PhaseActive {
		return
	}
	if p.AllTargetsMet {
		fmt.Fprintln(out, "All targets met")
	}
	if len(p.RankedGaps) > 0 {
		printGaps(cmd, p.RankedGaps)
	}
	if len(p.Suggestions) > 0 {
		fmt.Fprintln(out, "TIER\tFOOD\tPORTION_G\tCOVERS\tFAMILIAR")
		for _, s := range p.Suggestions {
			fmt.Fprintf(out, "%s\t%s\t%.0f\t%.0f%%\t%t\n", s.Tier, s.FoodName, s.PortionG, s.CoveragePct, s.Familiar)
		}
	}
	if p.RecommendationsDegraded {
		fmt.Fprintln(out, "Food suggestions are unavailable right now")
	}
}

func sortedTrendKeys(m map[model.Nutrient]model.Trend) []model.Nutrient {
	keys := make([]model.Nutrient, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(gapsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(coachCmd)

	statsCmd.Flags().StringVar(&statsAsOf, "as-of", "", "Compute weekly views as of this date (YYYY-MM-DD)")
}
