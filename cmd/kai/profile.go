package kai

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the body profile used for personalized targets",
}

var (
	profileGender       string
	profileAge          int
	profileWeight       float64
	profileWeightUnit   string
	profileHeight       float64
	profileHeightUnit   string
	profileActivity     string
	profileGoal         string
	profileTargetWeight float64
	profileCustomKcal   float64
	profileClearTarget  bool
	profileClearCustom  bool
	profileShowUnit     string
)

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update the profile; unset flags keep their stored values",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			in := service.SetProfileInput{
				UserID:              userID,
				WeightUnit:          profileWeightUnit,
				HeightUnit:          profileHeightUnit,
				ClearTargetWeight:   profileClearTarget,
				ClearCustomCalories: profileClearCustom,
				Now:                 time.Now(),
			}
			flags := cmd.Flags()
			if flags.Changed("gender") {
				in.Gender = &profileGender
			}
			if flags.Changed("age") {
				in.Age = &profileAge
			}
			if flags.Changed("weight") {
				in.Weight = &profileWeight
			}
			if flags.Changed("height") {
				in.Height = &profileHeight
			}
			if flags.Changed("activity") {
				in.ActivityLevel = &profileActivity
			}
			if flags.Changed("goal") {
				in.Goal = &profileGoal
			}
			if flags.Changed("target-weight") {
				in.TargetWeight = &profileTargetWeight
			}
			if flags.Changed("calorie-goal") {
				in.CustomCalorieGoal = &profileCustomKcal
			}

			p, err := service.SetProfile(sqldb, in)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated profile for %s\n", p.UserID)
			return printProfile(cmd, p, profileWeightUnit)
		})
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(sqldb *sql.DB) error {
			userID, err := resolveUser(sqldb)
			if err != nil {
				return err
			}
			p, err := service.GetProfile(sqldb, userID)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd, p)
			}
			return printProfile(cmd, p, profileShowUnit)
		})
	},
}

func printProfile(cmd *cobra.Command, p model.UserProfile, unit string) error {
	w, err := service.WeightFromKg(p.WeightKg, unit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Gender: %s\n", valueOrDash(string(p.Gender)))
	fmt.Fprintf(out, "Age: %d\n", p.Age)
	fmt.Fprintf(out, "Weight: %.1f %s\n", w, unit)
	fmt.Fprintf(out, "Height: %.1f cm\n", p.HeightCm)
	fmt.Fprintf(out, "Activity: %s\n", valueOrDash(string(p.ActivityLevel)))
	fmt.Fprintf(out, "Goal: %s\n", valueOrDash(string(p.Goal)))
	if p.TargetWeightKg != nil {
		tw, err := service.WeightFromKg(*p.TargetWeightKg, unit)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Target weight: %.1f %s\n", tw, unit)
	}
	if p.CustomCalorieGoal != nil {
		fmt.Fprintf(out, "Calorie goal: %.0f kcal\n", *p.CustomCalorieGoal)
	}
	return nil
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileShowCmd)

	profileSetCmd.Flags().StringVar(&profileGender, "gender", "", "male or female")
	profileSetCmd.Flags().IntVar(&profileAge, "age", 0, "Age in years")
	profileSetCmd.Flags().Float64Var(&profileWeight, "weight", 0, "Body weight")
	profileSetCmd.Flags().StringVar(&profileWeightUnit, "weight-unit", "kg", "Weight unit: kg or lb")
	profileSetCmd.Flags().Float64Var(&profileHeight, "height", 0, "Height")
	profileSetCmd.Flags().StringVar(&profileHeightUnit, "height-unit", "cm", "Height unit: cm or in")
	profileSetCmd.Flags().StringVar(&profileActivity, "activity", "", "sedentary, light, moderate, active or very_active")
	profileSetCmd.Flags().StringVar(&profileGoal, "goal", "", "lose_weight, gain_muscle, maintain_weight or general_health")
	profileSetCmd.Flags().Float64Var(&profileTargetWeight, "target-weight", 0, "Target weight (same unit as --weight-unit)")
	profileSetCmd.Flags().Float64Var(&profileCustomKcal, "calorie-goal", 0, "Custom daily calorie goal")
	profileSetCmd.Flags().BoolVar(&profileClearTarget, "clear-target-weight", false, "Remove the target weight")
	profileSetCmd.Flags().BoolVar(&profileClearCustom, "clear-calorie-goal", false, "Remove the custom calorie goal")
	profileShowCmd.Flags().StringVar(&profileShowUnit, "unit", "kg", "Weight unit for output: kg or lb")
}
