package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"nutrivision/internal/analysis"
	"nutrivision/internal/diagnostics"
	"nutrivision/internal/models"
)

// writeConfig points the CLI at a throwaway store and the scripted model.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)

	path := filepath.Join(dir, "config.toml")
	toml := `
[storage]
driver = "sqlite"
path = "` + filepath.Join(dir, "data", "nv.db") + `"

[model]
provider = "scripted"

[session]
finish_delay = "0s"
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLogAndHistory(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, cfg, "log", "Apple", "95", "--carbs", "25")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Logged Apple (95 kcal) to history.") {
		t.Errorf("unexpected output %q", out)
	}

	out, err = run(t, cfg, "history", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "manual") || !strings.Contains(out, "Apple") || !strings.Contains(out, "Today: 95 kcal") {
		t.Errorf("unexpected listing %q", out)
	}

	out, err = run(t, cfg, "history", "list", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var items []models.HistoryItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Result.Macros.Carbs != 25 {
		t.Errorf("unexpected items %+v", items)
	}

	if _, err := run(t, cfg, "history", "clear"); err != nil {
		t.Fatal(err)
	}
	out, _ = run(t, cfg, "history", "list")
	if !strings.Contains(out, "No meals logged") {
		t.Errorf("expected empty history, got %q", out)
	}
}

func TestLogRejectsBadInput(t *testing.T) {
	cfg := writeConfig(t)
	tests := []struct {
		name string
		args []string
	}{
		{"calories not a number", []string{"log", "Apple", "lots"}},
		{"negative calories", []string{"log", "Apple", "-5"}},
		{"blank name", []string{"log", "  ", "100"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, cfg, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSettings(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, cfg, "settings", "set", "--target", "1800", "--add", "Vegan", "--add", "Vegan")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Settings updated successfully. Target: 1800") {
		t.Errorf("unexpected output %q", out)
	}

	out, err = run(t, cfg, "settings", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Daily target: 1800 kcal") || !strings.Contains(out, "Preferences:  Vegan\n") {
		t.Errorf("unexpected settings %q", out)
	}

	if _, err := run(t, cfg, "settings", "set"); err == nil {
		t.Error("an empty update should be refused")
	}
	if _, err := run(t, cfg, "settings", "set", "--target", "0"); err == nil {
		t.Error("a zero target should be refused")
	}
}

func TestSimulate(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, cfg, "simulate", string(diagnostics.ScenarioSuccess))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Grilled Chicken Salad") || !strings.Contains(out, "100%") {
		t.Errorf("unexpected output %q", out)
	}

	out, _ = run(t, cfg, "history", "list")
	if !strings.Contains(out, "photo") {
		t.Errorf("simulated analysis should be in history, got %q", out)
	}

	if _, err := run(t, cfg, "simulate", "meteor"); err == nil || !strings.Contains(err.Error(), "available") {
		t.Errorf("expected unknown scenario error, got %v", err)
	}
}

func TestDiagnoseWithoutCamera(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, cfg, "diagnose")
	if err == nil {
		t.Error("a missing camera should fail the report")
	}
	if !strings.Contains(out, "[pass] storage") || !strings.Contains(out, "[fail] camera") {
		t.Errorf("unexpected report %q", out)
	}
}

func TestAnalyzeFailureIsNotRecorded(t *testing.T) {
	cfg := writeConfig(t)
	img, err := diagnostics.SampleImage()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "meal.jpg")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatal(err)
	}

	// The scripted provider has nothing queued, so the analysis fails.
	if _, err := run(t, cfg, "analyze", path); err == nil || err.Error() != analysis.UserMessage {
		t.Errorf("expected the user-facing analysis error, got %v", err)
	}
	out, _ := run(t, cfg, "history", "list")
	if !strings.Contains(out, "No meals logged") {
		t.Errorf("failed analysis must not be saved, got %q", out)
	}
}

func TestAnalyzeRejectsNonImage(t *testing.T) {
	cfg := writeConfig(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(path, []byte("just text"), 0o644)

	if _, err := run(t, cfg, "analyze", path); err == nil {
		t.Error("expected a rejection for a text file")
	}
}

func TestCaptureNeedsCamera(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := run(t, cfg, "capture", "--analyze"); err == nil || !strings.Contains(err.Error(), "snapshot_url") {
		t.Errorf("expected a camera configuration error, got %v", err)
	}
	if _, err := run(t, cfg, "capture"); err == nil {
		t.Error("capture without --out or --analyze should fail")
	}
}

func TestChatRequiresMessage(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := run(t, cfg, "chat"); err == nil {
		t.Error("expected an error for an empty message")
	}
	out, err := run(t, cfg, "chat", "--clear")
	if err != nil || !strings.Contains(out, "Chat cleared") {
		t.Errorf("unexpected clear result %q %v", out, err)
	}
}
