package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"termcal/internal/config"
	appLog "termcal/internal/log"
)

const version = "0.3.0"

var (
	flagConfigPath string
	flagLogLevel   string
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "termcal",
	Short: "termcal turns academic term schedules into subscribable calendar feeds",
	Long: `termcal validates term schedules, expands them into dated events and
publishes them as iCalendar feeds that carry their own source, so a feed can
be imported back for editing. It can also rebuild a schedule from a
registrar spreadsheet export, and serve everything over HTTP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		// A missing .env is normal.
		_ = godotenv.Load()

		level := flagLogLevel
		if !cmd.Flags().Changed("log-level") {
			if env := os.Getenv("TERMCAL_LOG_LEVEL"); env != "" {
				level = env
			}
		}
		appLog.SetLevel(appLog.ParseLevel(level))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to config file (default $TERMCAL_CONFIG or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		appLog.Error("termcal failed", err)
		os.Exit(1)
	}
}

func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}
	if env := os.Getenv("TERMCAL_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath
}

// loadConfig reads the config for one-shot commands. Unlike serve, a
// missing file means defaults and nothing is written.
func loadConfig() (*config.Config, error) {
	path := configPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		appLog.Debug("no config file; using defaults", "config_path", path)
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}
