package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/focuswatch/focuswatch"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Print focus changes to the terminal",
	Long: `Track the focused window and print one line per focus change, starting
with the window that currently holds focus. Runs until interrupted.`,
	Example: `  # Track with defaults (100ms polling)
  focuswatch track

  # Poll faster and resize icons to 64x64
  focuswatch track --poll-interval 50 --icon-size 64`,
	RunE: runTrack,
}

func init() {
	rootCmd.AddCommand(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := focuswatch.NewWithConfig(cfg)
	return tracker.TrackContext(ctx, func(w focuswatch.FocusedWindow) error {
		fmt.Println(formatWindow(w))
		return nil
	})
}

func formatWindow(w focuswatch.FocusedWindow) string {
	name := "<unknown>"
	if w.ProcessName != nil {
		name = *w.ProcessName
	}

	title := "<no title>"
	if w.WindowTitle != nil {
		title = *w.WindowTitle
	}

	line := fmt.Sprintf("%s | %s", name, title)
	if w.ProcessID != nil {
		line = fmt.Sprintf("%s (pid %d)", line, *w.ProcessID)
	}
	if w.Icon != nil {
		line = fmt.Sprintf("%s [icon %dx%d]", line, w.Icon.Width, w.Icon.Height)
	}
	return line
}
