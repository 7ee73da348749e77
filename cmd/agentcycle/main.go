// Package main provides the agentcycle binary entry point. Agentcycle is a
// per-agent continuous operation engine: a safety-gated control loop that
// turns an indefinitely-running worker into a coordinated task processor.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentcycle/agentcycle/config"
)

const (
	Version = "0.1.0"
	appName = "agentcycle"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		agentID    string
	)

	root := &cobra.Command{
		Use:           appName,
		Short:         "Continuous operation workflow engine",
		Long:          "agentcycle runs a single agent's safety-gated control loop, coordinated over NATS streams.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: layered lookup)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&agentID, "agent", "", "agent identity (overrides config)")

	root.AddCommand(runCmd(&configPath, &logLevel, &agentID))
	root.AddCommand(validateCmd(&configPath))
	root.AddCommand(versionCmd())

	return root
}

func runCmd(configPath, logLevel, agentID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(*logLevel)
			slog.SetDefault(logger)

			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}
			if *agentID != "" {
				cfg.Agent.ID = *agentID
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(cfg, logger)
			if err != nil {
				return err
			}
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Stop()

			watchPath := *configPath
			if watchPath == "" {
				watchPath = config.NewLoader(logger).FindProjectConfig()
			}
			if watchPath != "" {
				app.WatchConfig(ctx, watchPath)
			}

			return app.Run(ctx)
		},
	}
}

func validateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := newLogger("warn")
			cfg, err := loadConfig(*configPath, logger)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Printf("Configuration OK (agent %q)\n", cfg.Agent.ID)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("%s %s\n", appName, Version)
		},
	}
}

func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.NewLoader(logger).Load()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
