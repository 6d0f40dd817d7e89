// internal/cli/history.go
package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nutrivision/internal/models"
	"nutrivision/internal/nutrition"
)

var (
	historyToday bool
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear logged meals",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logged meals, newest first",
	Long: `List logged meals, newest first.

Examples:
  nutrivision history list
  nutrivision history list --today
  nutrivision history list --limit 5 --json`,
	RunE: runHistoryList,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every logged meal",
	RunE:  runHistoryClear,
}

var logMealCmd = &cobra.Command{
	Use:   "log <food> <calories>",
	Short: "Log a meal without a photo",
	Long: `Log a meal by name and calories, optionally with macros.

Examples:
  nutrivision log "Greek yogurt" 150 --protein 15
  nutrivision log Apple 95`,
	Args: cobra.ExactArgs(2),
	RunE: runLogMeal,
}

var (
	logProtein float64
	logCarbs   float64
	logFats    float64
	logFiber   float64
)

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(logMealCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyClearCmd)

	historyListCmd.Flags().BoolVar(&historyToday, "today", false, "show only today's meals")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum number of meals to show")
	historyListCmd.Flags().BoolVar(&historyJSON, "json", false, "print as JSON")

	logMealCmd.Flags().Float64Var(&logProtein, "protein", 0, "protein in grams")
	logMealCmd.Flags().Float64Var(&logCarbs, "carbs", 0, "carbs in grams")
	logMealCmd.Flags().Float64Var(&logFats, "fats", 0, "fats in grams")
	logMealCmd.Flags().Float64Var(&logFiber, "fiber", 0, "fiber in grams")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, newLogger(false))
	if err != nil {
		return err
	}
	defer app.Close()

	items := app.Tracker.History()
	if historyToday {
		items = app.Tracker.Today().Meals
	}
	if historyLimit > 0 && historyLimit < len(items) {
		items = items[:historyLimit]
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(items) == 0 {
		fmt.Fprintln(out, "No meals logged")
		return nil
	}
	loc := app.Config.Location()
	for _, item := range items {
		fmt.Fprintf(out, "%s  %-8s  %s kcal  %s\n",
			item.Time().In(loc).Format("2006-01-02 15:04"),
			entryKind(item),
			nutrition.FormatNumber(item.Result.TotalCalories),
			strings.Join(item.Result.FoodNames(), ", "))
	}

	sum := app.Tracker.Today()
	fmt.Fprintf(out, "\nToday: %s kcal", nutrition.FormatNumber(sum.TotalCalories))
	if sum.Budget != "" {
		fmt.Fprintf(out, " (%s)", sum.Budget)
	}
	fmt.Fprintln(out)
	return nil
}

func entryKind(item models.HistoryItem) string {
	if item.IsManual() {
		return "manual"
	}
	return "photo"
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, newLogger(false))
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Tracker.ClearHistory(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
	return nil
}
