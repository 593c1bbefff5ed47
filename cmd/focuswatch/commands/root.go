package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/focuswatch/focuswatch"
	"github.com/focuswatch/focuswatch/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "focuswatch",
		Short: "focuswatch - report which application window holds input focus",
		Long: `focuswatch tracks the focused application window in real time using the
native mechanism of the running platform (X11, Sway IPC, macOS, Windows).

It can print focus changes to the terminal or serve them over a REST and
WebSocket API, including the application icon of the focused window.`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/focuswatch/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("poll-interval", 0, "poll interval in milliseconds")
	rootCmd.PersistentFlags().Int("icon-size", 0, "resize icons to this square pixel size (0 keeps the native size)")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("poll_interval_ms", rootCmd.PersistentFlags().Lookup("poll-interval"))
	viper.BindPFlag("icon_size", rootCmd.PersistentFlags().Lookup("icon-size"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "focuswatch"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FOCUSWATCH")
	viper.AutomaticEnv()

	// A missing config file is fine; flags and defaults cover everything.
	_ = viper.ReadInConfig()

	level := viper.GetString("log_level")
	if level == "" {
		level = "info"
	}
	logger.Init(level, true)
}

// buildConfig assembles the tracker configuration from flags, environment,
// and config file, validating ranges up front so a bad value fails the
// command instead of panicking mid-run.
func buildConfig() (focuswatch.Config, error) {
	cfg := focuswatch.DefaultConfig()

	if ms := viper.GetInt("poll_interval_ms"); ms != 0 {
		if ms < 0 || time.Duration(ms)*time.Millisecond > 10*time.Second {
			return cfg, fmt.Errorf("poll interval must be between 1ms and 10s, got %dms", ms)
		}
		cfg = cfg.WithPollIntervalMillis(int64(ms))
	}

	if px := viper.GetInt("icon_size"); px != 0 {
		if px < 0 || px > 512 {
			return cfg, fmt.Errorf("icon size must be between 1 and 512 pixels, got %d", px)
		}
		cfg = cfg.WithIconTargetSize(px)
	}

	return cfg, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
