// internal/cli/chat.go
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var chatClear bool

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Talk to the nutrition assistant",
	Long: `Send one message to the nutrition assistant. The assistant sees your
profile, today's intake and recent meals, and may update your profile, log a
meal or set a reminder on your behalf.

Examples:
  nutrivision chat "I just had a banana"
  nutrivision chat set my target to 1800 calories
  nutrivision chat --clear`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().BoolVar(&chatClear, "clear", false, "clear the chat transcript")
}

func runChat(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" && !chatClear {
		return fmt.Errorf("message is empty")
	}

	app, err := openApp(cmd, newLogger(false))
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	if chatClear {
		if err := app.Tracker.ClearChat(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Chat cleared")
		if text == "" {
			return nil
		}
	}

	reply, err := app.Tracker.SendChat(cmd.Context(), text)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, reply.Text)
	return nil
}
