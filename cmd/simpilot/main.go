package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"simpilot/internal/app"
)

// runFunc starts the application with the final configuration.
type runFunc func(ctx context.Context, cfg app.Config) error

func runApplication(ctx context.Context, cfg app.Config) error {
	application, err := app.NewApplication(cfg)
	if err != nil {
		return err
	}
	return application.Run(ctx)
}

// overrides copies one flag's value from the flag-bound config onto the
// file-loaded one.
var overrides = map[string]func(dst, src *app.Config){
	"listen":         func(d, s *app.Config) { d.Listen = s.Listen },
	"command":        func(d, s *app.Config) { d.Command = s.Command },
	"poll":           func(d, s *app.Config) { d.Poll = s.Poll },
	"warning-limit":  func(d, s *app.Config) { d.WarningLimit = s.WarningLimit },
	"log-level":      func(d, s *app.Config) { d.LogLevel = s.LogLevel },
	"log-file":       func(d, s *app.Config) { d.LogFile = s.LogFile },
	"verbose":        func(d, s *app.Config) { d.Verbose = s.Verbose },
	"record":         func(d, s *app.Config) { d.Record = s.Record },
	"recording-dir":  func(d, s *app.Config) { d.RecordingDir = s.RecordingDir },
	"utc":            func(d, s *app.Config) { d.RecordingUTC = s.RecordingUTC },
	"retention-days": func(d, s *app.Config) { d.RetentionDays = s.RetentionDays },
	"metrics-addr":   func(d, s *app.Config) { d.MetricsAddr = s.MetricsAddr },
	"console":        func(d, s *app.Config) { d.Console = s.Console },
	"controllers":    func(d, s *app.Config) { d.Controllers = s.Controllers },
}

func newRootCommand(run runFunc) *cobra.Command {
	config := app.DefaultConfig()
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "simpilot",
		Short: "Flight simulator autopilot",
		Long: `Autopilot for a flight simulator speaking a semicolon-separated UDP protocol.

Receives telemetry frames, runs the enabled flight controllers on every frame,
merges their outputs in priority order and sends the resulting command back.
Type "status", "enable <controller>", "key <name>" or "signal <name>" on stdin
to drive it while running.

Example usage:
  simpilot --listen 127.0.0.1:41000 --controllers airdata,attitude,recorder`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.ShowVersion {
				app.ShowVersion(cmd.OutOrStdout())
				return nil
			}

			cfg := config
			if configPath != "" {
				loaded, err := app.LoadConfig(configPath)
				if err != nil {
					return err
				}
				cmd.Flags().Visit(func(f *pflag.Flag) {
					if apply, ok := overrides[f.Name]; ok {
						apply(&loaded, &config)
					}
				})
				cfg = loaded
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file; flags given explicitly override it")
	flags.StringVarP(&config.Listen, "listen", "l", config.Listen, "Address to receive telemetry on")
	flags.StringVar(&config.Command, "command", config.Command, "Address to send commands to (default: the telemetry sender)")
	flags.DurationVar(&config.Poll, "poll", config.Poll, "Receive poll interval")
	flags.IntVar(&config.WarningLimit, "warning-limit", config.WarningLimit, "Distinct warnings kept before the set is cleared")
	flags.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level")
	flags.StringVar(&config.LogFile, "log-file", config.LogFile, "Also log to this file, rotated by size")
	flags.BoolVarP(&config.Verbose, "verbose", "v", config.Verbose, "Verbose logging")
	flags.BoolVar(&config.Record, "record", config.Record, "Record frames to daily files")
	flags.StringVarP(&config.RecordingDir, "recording-dir", "d", config.RecordingDir, "Recording directory")
	flags.BoolVarP(&config.RecordingUTC, "utc", "u", config.RecordingUTC, "Use UTC for recording rotation")
	flags.IntVar(&config.RetentionDays, "retention-days", config.RetentionDays, "Delete recordings older than this many days (0 keeps all)")
	flags.StringVar(&config.MetricsAddr, "metrics-addr", config.MetricsAddr, "Serve Prometheus metrics on this address")
	flags.BoolVar(&config.Console, "console", config.Console, "Read commands from stdin")
	flags.StringSliceVar(&config.Controllers, "controllers", config.Controllers, "Controllers to enable")
	flags.BoolVar(&config.ShowVersion, "version", false, "Show version information")

	return rootCmd
}

func main() {
	if err := newRootCommand(runApplication).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
