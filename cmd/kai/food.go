package kai

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

var foodCmd = &cobra.Command{
	Use:   "food",
	Short: "Manage the local food catalog",
}

var (
	foodCategory  string
	foodPriceTier string
	foodPortion   float64
	foodMin       float64
	foodMax       float64
	foodNutrients []string
	foodQuery     string
	foodLimit     int
	listCategory  string
	historyLimit  int
)

var foodAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or replace a catalog food with per-100g nutrients",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		per100, err := parseNutrientFlags(foodNutrients)
		if err != nil {
			return err
		}
		return withDB(func(sqldb *sql.DB) error {
			item, err := service.AddFood(sqldb, service.AddFoodInput{
				Name:            args[0],
				Category:        foodCategory,
				PriceTier:       foodPriceTier,
				TypicalPortionG: foodPortion,
				MinReasonableG:  foodMin,
				MaxReasonableG:  foodMax,
				Per100g:         per100,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, item)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s, typical %.0fg)\n", item.Name, item.Category, item.TypicalPortionG)
			return nil
		})
	},
}

var foodListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog foods",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			items, err := service.ListFoods(sqldb, service.ListFoodsFilter{Category: listCategory, Query: foodQuery, Limit: foodLimit})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, items)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "NAME\tCATEGORY\tPRICE\tPORTION_G\tKCAL_100G\tSOURCE")
			for _, it := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%.0f\t%.0f\t%s\n",
					it.Name, it.Category, it.PriceTier, it.TypicalPortionG, it.Per100g.Get(model.Calories), it.Source)
			}
			return nil
		})
	},
}

var foodShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one catalog food",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			item, err := service.GetFood(sqldb, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, item)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s price)\n", item.Name, item.Category, item.PriceTier)
			fmt.Fprintf(cmd.OutOrStdout(), "Portion: typical %.0fg, reasonable %.0f-%.0fg\n", item.TypicalPortionG, item.MinReasonableG, item.MaxReasonableG)
			fmt.Fprintln(cmd.OutOrStdout(), "Per 100g:")
			printVector(cmd, item.Per100g, true)
			return nil
		})
	},
}

var foodDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a catalog food",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			if err := service.DeleteFood(sqldb, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		})
	},
}

var foodLookupCmd = &cobra.Command{
	Use:   "lookup <name>",
	Short: "Resolve a food through the configured lookup providers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.Join(args, " ")
		return withDB(func(sqldb *sql.DB) error {
			deps, err := newDeps(sqldb)
			if err != nil {
				return err
			}
			facts, ok, err := deps.Lookup.LookupFood(context.Background(), name)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no provider knows %q", name)
			}
			if jsonOut {
				return printJSON(cmd, facts)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) via %s\n", facts.Name, valueOrDash(facts.Category), facts.Source)
			fmt.Fprintln(cmd.OutOrStdout(), "Per 100g:")
			printVector(cmd, facts.Per100g, true)
			return nil
		})
	},
}

var foodHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the foods you eat most, with 7-day counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			recs, err := service.ListFoodHistory(sqldb, userID, service.FoodHistoryFilter{Limit: historyLimit})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, recs)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "FOOD\tCOUNT_7D\tTOTAL\tLAST_EATEN")
			for _, r := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%d\t%s\n", r.FoodName, r.Count7d, r.CountTotal, r.LastEaten)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(foodCmd)
	foodCmd.AddCommand(foodAddCmd)
	foodCmd.AddCommand(foodListCmd)
	foodCmd.AddCommand(foodShowCmd)
	foodCmd.AddCommand(foodDeleteCmd)
	foodCmd.AddCommand(foodLookupCmd)
	foodCmd.AddCommand(foodHistoryCmd)

	foodAddCmd.Flags().StringVar(&foodCategory, "category", "", "Portion category (grain, protein, legume, vegetable, ...)")
	foodAddCmd.Flags().StringVar(&foodPriceTier, "price-tier", "medium", "low, medium or high")
	foodAddCmd.Flags().Float64Var(&foodPortion, "portion", 0, "Typical portion in grams (default: category typical)")
	foodAddCmd.Flags().Float64Var(&foodMin, "min", 0, "Minimum reasonable portion in grams")
	foodAddCmd.Flags().Float64Var(&foodMax, "max", 0, "Maximum reasonable portion in grams")
	foodAddCmd.Flags().StringArrayVar(&foodNutrients, "nutrient", nil, "Per-100g nutrient as id=value, repeatable (e.g. protein=9)")

	foodListCmd.Flags().StringVar(&listCategory, "category", "", "Filter by category")
	foodListCmd.Flags().StringVar(&foodQuery, "query", "", "Filter by name substring")
	foodListCmd.Flags().IntVar(&foodLimit, "limit", 100, "Max rows")
	foodHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Max rows")
}
