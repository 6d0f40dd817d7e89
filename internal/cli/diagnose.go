// internal/cli/diagnose.go
package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nutrivision/internal/diagnostics"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check storage, model and camera configuration",
	RunE:  runDiagnose,
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario>",
	Short: "Run an end-to-end scenario against a scripted model",
	Long: fmt.Sprintf(`Run one simulated scenario through the real tracker and session
with a scripted model instead of the remote service. Simulations write to
your history like real use does.

Scenarios: %s`, scenarioList()),
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(simulateCmd)
}

func scenarioList() string {
	names := make([]string, 0, len(diagnostics.Scenarios))
	for _, s := range diagnostics.Scenarios {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, newLogger(false))
	if err != nil {
		return err
	}
	defer app.Close()

	report := app.Diagnostics.Run(cmd.Context())
	out := cmd.OutOrStdout()
	for _, c := range report.Checks {
		fmt.Fprintf(out, "[%s] %-8s %s\n", c.Status, c.Name, c.Detail)
	}
	fmt.Fprintf(out, "History entries: %d\n", report.HistoryCount)
	if !report.OK {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, newLogger(false))
	if err != nil {
		return err
	}
	defer app.Close()

	sim, err := app.Diagnostics.Simulate(cmd.Context(), diagnostics.Scenario(args[0]))
	if errors.Is(err, diagnostics.ErrUnknownScenario) {
		return fmt.Errorf("%w (available: %s)", err, scenarioList())
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", sim.Scenario, sim.Message)
	if sim.Session != nil {
		fmt.Fprintf(out, "Session: %s (%d%%)\n", sim.Session.Status, sim.Session.Progress)
	}
	return nil
}
