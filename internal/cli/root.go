// internal/cli/root.go
package cli

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"nutrivision/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "nutrivision",
	Short: "Photo-based meal analysis and nutrition tracking",
	Long: `nutrivision analyzes meal photos with a vision model, keeps a history
of what you ate against a daily calorie target, and offers a chat assistant
that can update your profile, log meals and set reminders.

Run "nutrivision serve" for the web API and realtime events, or use the
one-shot commands below.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/nutrivision/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")
}

// newLogger returns the process logger. One-shot commands stay quiet unless
// --verbose is given; serve always logs.
func newLogger(always bool) *log.Logger {
	if always || verbose {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// openApp loads the configuration and builds the application for a command.
func openApp(cmd *cobra.Command, logger *log.Logger) (*App, error) {
	cfg, err := config.Load(cfgFile, logger)
	if err != nil {
		return nil, err
	}
	return NewApp(cmd.Context(), cfg, logger)
}
