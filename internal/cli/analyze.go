// internal/cli/analyze.go
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"nutrivision/internal/imaging"
	"nutrivision/internal/models"
	"nutrivision/internal/nutrition"
)

var (
	analyzeJSON   bool
	analyzeNoSave bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Analyze a meal photo",
	Long: `Analyze a meal photo and add the result to your history.

The image is validated, scaled to at most 1024 pixels wide and re-encoded as
JPEG before it is sent to the model.

Examples:
  nutrivision analyze lunch.jpg
  nutrivision analyze dinner.png --json --no-save`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the raw analysis as JSON")
	analyzeCmd.Flags().BoolVar(&analyzeNoSave, "no-save", false, "do not add the result to history")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, err := imaging.Process(f, "")
	if err != nil {
		return err
	}

	app, err := openApp(cmd, newLogger(false))
	if err != nil {
		return err
	}
	defer app.Close()

	return analyzeImage(cmd, app, img)
}

// analyzeImage runs one analysis, records it unless --no-save was given and
// prints the result.
func analyzeImage(cmd *cobra.Command, app *App, img []byte) error {
	tr := app.Tracker
	result, err := app.Analyzer.Analyze(cmd.Context(), img, tr.Settings(), tr.History())
	if err != nil {
		return err
	}
	if !analyzeNoSave {
		if _, err := tr.RecordAnalysis(cmd.Context(), img, result); err != nil {
			return fmt.Errorf("failed to save analysis: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if analyzeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(out, result)
	if sum := tr.Today(); sum.Budget != "" {
		fmt.Fprintf(out, "\nToday: %s kcal, %s\n", nutrition.FormatNumber(sum.TotalCalories), sum.Budget)
	}
	return nil
}

func printResult(w io.Writer, r *models.AnalysisResult) {
	fmt.Fprintf(w, "%s\n", strings.Join(r.FoodNames(), ", "))
	fmt.Fprintf(w, "Calories: %s kcal (%s confidence)\n", nutrition.FormatNumber(r.TotalCalories), r.ConfidenceLevel)
	fmt.Fprintf(w, "Macros: protein %sg, carbs %sg, fats %sg, fiber %sg\n",
		nutrition.FormatNumber(r.Macros.Protein), nutrition.FormatNumber(r.Macros.Carbs),
		nutrition.FormatNumber(r.Macros.Fats), nutrition.FormatNumber(r.Macros.Fiber))
	fmt.Fprintf(w, "Health score: %s/100 (%s)\n", nutrition.FormatNumber(r.HealthScore), nutrition.HealthBand(r.HealthScore))
	if r.HealthRatingExplanation != "" {
		fmt.Fprintf(w, "  %s\n", r.HealthRatingExplanation)
	}

	for _, item := range r.FoodItems {
		fmt.Fprintf(w, "- %s: %s kcal, %s\n", item.Name, nutrition.FormatNumber(item.Calories), item.PortionEstimate)
	}
	if len(r.Allergens) > 0 {
		fmt.Fprintf(w, "Allergens: %s\n", strings.Join(r.Allergens, ", "))
	}
	if len(r.DietaryTags) > 0 {
		fmt.Fprintf(w, "Tags: %s\n", strings.Join(r.DietaryTags, ", "))
	}
	for _, alt := range r.HealthierAlternatives {
		fmt.Fprintf(w, "Try instead: %s (%s kcal, saves %s) - %s\n", alt.Name,
			nutrition.FormatNumber(alt.Calories), nutrition.FormatNumber(alt.CalorieSavings), alt.Explanation)
	}
	if r.ExerciseEquivalent != "" {
		fmt.Fprintf(w, "Burn it off: %s\n", r.ExerciseEquivalent)
	}
	if r.CookingMethodSuggestions != "" {
		fmt.Fprintf(w, "Cooking tip: %s\n", r.CookingMethodSuggestions)
	}
}
