// internal/cli/capture.go
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nutrivision/internal/imaging"
)

var (
	captureFacing  string
	captureOut     string
	captureAnalyze bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Take a photo with the configured camera",
	Long: `Grab one frame from the camera configured under [camera] and either
save it or analyze it right away. Front-facing captures are mirrored.

Examples:
  nutrivision capture --out meal.jpg
  nutrivision capture --analyze
  nutrivision capture --facing user --analyze`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().StringVar(&captureFacing, "facing", "", "camera facing: environment or user")
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "", "write the JPEG to this file")
	captureCmd.Flags().BoolVar(&captureAnalyze, "analyze", false, "analyze the captured photo")
}

func runCapture(cmd *cobra.Command, args []string) error {
	if captureOut == "" && !captureAnalyze {
		return fmt.Errorf("nothing to do: pass --out or --analyze")
	}

	app, err := openApp(cmd, newLogger(false))
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Camera == nil {
		return fmt.Errorf("%w: set camera.snapshot_url in the config", imaging.ErrCameraUnavailable)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	img, err := app.Camera.Shoot(ctx, imaging.Facing(captureFacing))
	if err != nil {
		return err
	}

	if captureOut != "" {
		if err := os.WriteFile(captureOut, img, 0o644); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", captureOut, len(img))
	}
	if captureAnalyze {
		return analyzeImage(cmd, app, img)
	}
	return nil
}
