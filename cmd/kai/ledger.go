package kai

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and maintain daily nutrient ledgers",
}

var (
	ledgerFrom       string
	ledgerTo         string
	ledgerRebuildAll bool
	ledgerCheckAll   bool
	ledgerFix        bool
)

var ledgerShowCmd = &cobra.Command{
	Use:   "show [date]",
	Short: "Show the folded nutrient totals for one day (default today)",
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
			if jsonOut {
				return printJSON(cmd, l)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ledger %s for %s: %d meal(s)\n", l.Date, l.UserID, l.MealCount)
			printVector(cmd, l.Totals, false)
			return nil
		})
	},
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logged days with calorie and protein totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			ledgers, err := service.ListLedgers(sqldb, userID, ledgerFrom, ledgerTo)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, ledgers)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "DATE\tMEALS\tKCAL\tPROTEIN_G\tCARBS_G\tFAT_G")
			for _, l := range ledgers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%.0f\t%.1f\t%.1f\t%.1f\n", l.Date, l.MealCount,
					l.Totals.Get(model.Calories), l.Totals.Get(model.Protein), l.Totals.Get(model.Carbs), l.Totals.Get(model.Fat))
			}
			return nil
		})
	},
}

var ledgerRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute ledgers from stored meal totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			var reports []service.RebuildReport
			if ledgerRebuildAll {
				all, err := service.RebuildAllLedgers(sqldb)
				if err != nil {
					return err
				}
				reports = all
			} else {
				userID, err := resolveUser(sqldb)
				if err != nil {
					return err
				}
				r, err := service.RebuildLedger(sqldb, userID)
				if err != nil {
					return err
				}
				reports = append(reports, r)
			}
			if jsonOut {
				return printJSON(cmd, reports)
			}
			for _, r := range reports {
				fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %s: %d day(s) from %d meal(s)\n", r.UserID, r.Days, r.Meals)
			}
			return nil
		})
	},
}

var ledgerCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare ledgers with the sum of their meals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			userID := ""
			if !ledgerCheckAll {
				u, err := resolveUser(sqldb)
				if err != nil {
					return err
				}
				userID = u
			}
			report, err := service.CheckLedger(sqldb, userID, ledgerFix)
			if err != nil {
				return err
			}
			if jsonOut {
				if err := printJSON(cmd, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Users checked: %d\n", report.UsersChecked)
				fmt.Fprintf(cmd.OutOrStdout(), "Drifted days: %d\n", len(report.Drift))
				for _, d := range report.Drift {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s %s: ledger %d meal(s), expected %d, kcal delta %.2f\n",
						d.UserID, d.Date, d.LedgerMeals, d.ExpectedMeals, d.Delta.Get(model.Calories))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Orphan meal items: %d\n", report.OrphanItems)
				if ledgerFix {
					fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt users: %d\n", len(report.RebuiltUsers))
				}
			}
			if !report.Healthy() {
				return fmt.Errorf("ledger check found integrity issues")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerRebuildCmd)
	ledgerCmd.AddCommand(ledgerCheckCmd)

	ledgerListCmd.Flags().StringVar(&ledgerFrom, "from", "", "From date (inclusive)")
	ledgerListCmd.Flags().StringVar(&ledgerTo, "to", "", "To date (inclusive)")
	ledgerRebuildCmd.Flags().BoolVar(&ledgerRebuildAll, "all", false, "Rebuild every user")
	ledgerCheckCmd.Flags().BoolVar(&ledgerCheckAll, "all", false, "Check every user")
	ledgerCheckCmd.Flags().BoolVar(&ledgerFix, "fix", false, "Rebuild drifted ledgers and drop orphan meal items")
}
