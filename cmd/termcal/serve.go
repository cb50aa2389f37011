package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"termcal/internal/config"
	appLog "termcal/internal/log"
	"termcal/internal/refresh"
	"termcal/internal/templates"
	"termcal/internal/web"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and keep configured calendar feeds fresh",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configPath()
		conf, err := config.Load(path)
		if err != nil {
			appLog.Error("failed to load config", err, "config_path", path)
			return err
		}

		// --listen overrides the config file.
		if flagListen != "" {
			conf.Listen = flagListen
		}

		registry, err := templates.Open(conf.TemplatesPath)
		if err != nil {
			return err
		}

		appLog.Info("termcal starting", "version", version)
		appLog.Info("effective config",
			"listen", conf.Listen,
			"namespace", conf.Namespace,
			"uid_domain", conf.UIDDomain,
			"timezone", conf.Timezone,
			"max_days", conf.MaxDays,
			"refresh", conf.RefreshCron,
			"calendars", len(conf.Calendars),
			"templates_version", registry.Version,
		)

		// Root context with cancellation on SIGINT/SIGTERM.
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		go func() {
			select {
			case sig := <-sigCh:
				appLog.Info("signal received, shutting down", "signal", sig.String())
				cancel()
			case <-ctx.Done():
			}
		}()

		store := refresh.NewStore()
		refresher := refresh.New(conf, registry, store)

		// Serve whatever succeeds; failures are recorded per feed.
		if err := refresher.RunOnce(ctx); err != nil {
			appLog.Warn("initial refresh had failures", "error", err.Error())
		}
		if _, err := refresher.Start(ctx); err != nil {
			return err
		}

		if err := web.StartServer(ctx, conf, registry, store); err != nil {
			return err
		}
		appLog.Info("termcal exiting")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "HTTP listen address (overrides config if set)")
	rootCmd.AddCommand(serveCmd)
}
