// internal/cli/meal.go
package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"nutrivision/internal/agent"
)

func runLogMeal(cmd *cobra.Command, args []string) error {
	calories, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid calories %q", args[1])
	}

	raw, err := json.Marshal(map[string]any{
		"foodName": args[0],
		"calories": calories,
		"protein":  logProtein,
		"carbs":    logCarbs,
		"fats":     logFats,
		"fiber":    logFiber,
	})
	if err != nil {
		return err
	}
	call, err := agent.Decode(agent.ToolLogManualMeal, raw)
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
