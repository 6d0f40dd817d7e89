// internal/cli/settings.go
package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nutrivision/internal/agent"
	"nutrivision/internal/nutrition"
)

var (
	settingsTarget float64
	settingsAdd    []string
	settingsRemove []string
	settingsRules  string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change your dietary profile",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current profile",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the profile",
	Long: `Update the calorie target, dietary preferences or custom rules.
Preferences behave as a set: adding an existing tag does nothing.

Examples:
  nutrivision settings set --target 1800
  nutrivision settings set --add Vegan --add "Gluten Free"
  nutrivision settings set --remove Keto --rules "No snacks after 8pm"`,
	RunE: runSettingsSet,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	settingsSetCmd.Flags().Float64Var(&settingsTarget, "target", 0, "daily calorie target")
	settingsSetCmd.Flags().StringArrayVar(&settingsAdd, "add", nil, "dietary preference to add (repeatable)")
	settingsSetCmd.Flags().StringArrayVar(&settingsRemove, "remove", nil, "dietary preference to remove (repeatable)")
	settingsSetCmd.Flags().StringVar(&settingsRules, "rules", "", "custom diet rules")
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, newLogger(false))
	if err != nil {
		return err
	}
	defer app.Close()

	s := app.Tracker.Settings()
	out := cmd.OutOrStdout()
	target := "not set"
	if v, ok := s.Target(); ok {
		target = nutrition.FormatNumber(v) + " kcal"
	}
	prefs := "none"
	if len(s.DietaryPreferences) > 0 {
		prefs = strings.Join(s.DietaryPreferences, ", ")
	}
	rules := s.CustomDietRules
	if rules == "" {
		rules = "none"
	}
	fmt.Fprintf(out, "Daily target: %s\n", target)
	fmt.Fprintf(out, "Preferences:  %s\n", prefs)
	fmt.Fprintf(out, "Custom rules: %s\n", rules)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	update := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("target") {
		update["dailyCalorieTarget"] = settingsTarget
	}
	if len(settingsAdd) > 0 {
		update["addPreferences"] = settingsAdd
	}
	if len(settingsRemove) > 0 {
		update["removePreferences"] = settingsRemove
	}
	if flags.Changed("rules") {
		update["customDietRules"] = settingsRules
	}
	if len(update) == 0 {
		return fmt.Errorf("nothing to change: pass --target, --add, --remove or --rules")
	}

	raw, err := json.Marshal(update)
	if err != nil {
		return err
	}
	call, err := agent.Decode(agent.ToolUpdateProfile, raw)
	if err != nil {
		return err
	}

	app, err := openApp(cmd, newLogger(false))
	if err != nil {
		return err
	}
	defer app.Close()

	msg, err := agent.Dispatch(cmd.Context(), app.Tracker, call)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}
