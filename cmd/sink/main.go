package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/modoterra/logsink/internal/buildinfo"
	"github.com/modoterra/logsink/pkg/config"
	"github.com/modoterra/logsink/pkg/core"
	"github.com/modoterra/logsink/pkg/prune"
	"github.com/modoterra/logsink/pkg/service"
	"github.com/modoterra/logsink/pkg/sink"
	tuimodel "github.com/modoterra/logsink/pkg/tui/model"
)

var (
	configPath string
	dryRun     bool
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, core.ErrInvalidIdentifier) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sink [flags] <identifier>",
	Short: "Store and publish the output of a CI run",
	Long: `sink reads a worker's output on stdin, stores it under the log root as
<identifier>/log, and reports the status records that open and close the
stream to GitHub, IRC and the journal. A NUL byte switches the stream to
a tar archive that is unpacked next to the log.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runSink,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to sink.yaml (default $XDG_CONFIG_HOME/sink/sink.yaml)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "report expired runs instead of deleting them")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")

	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config %s: %w", path, errors.Join(errs...))
	}
	return cfg, nil
}

// --- Root: one run ---

func runSink(cmd *cobra.Command, args []string) error {
	identifier := args[0]
	if err := core.ValidateIdentifier(identifier); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if prune.Due(cfg.Sink.Logs, cfg.Sink.PruneEvery(), time.Now()) {
		spawnSweep(logger)
	}

	return sink.Run(ctx, sink.Options{
		Config:     cfg,
		Identifier: identifier,
		Input:      cmd.InOrStdin(),
		Output:     cmd.OutOrStdout(),
		Chdir:      true,
		Logger:     logger,
	})
}

func spawnSweep(logger *slog.Logger) {
	exe, err := os.Executable()
	if err != nil {
		logger.Warn("cannot locate sink binary for sweep", "err", err)
		return
	}
	args := []string{"prune"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if dryRun {
		args = append(args, "--dry-run")
	}
	if err := prune.Spawn(exe, args...); err != nil {
		logger.Warn("sweep not started", "err", err)
		return
	}
	logger.Debug("sweep started in background")
}

// --- Prune ---

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete run directories with no new files for 30 days",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		report, err := prune.Sweep(cmd.Context(), prune.Options{
			Root:   cfg.Sink.Logs,
			DryRun: dryRun,
			Logger: newLogger(cmd),
		})
		if errors.Is(err, prune.ErrBusy) {
			fmt.Fprintln(cmd.OutOrStdout(), "another sweep is running")
			return nil
		}
		if err != nil {
			return err
		}

		verb := "removed"
		if dryRun {
			verb = "would remove"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "kept %d, %s %d, failed %d\n", len(report.Kept), verb, len(report.Removed), len(report.Failed))
		if len(report.Failed) > 0 {
			return fmt.Errorf("could not sweep %d run(s)", len(report.Failed))
		}
		return nil
	},
}

// --- Browse ---

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse runs in the log root",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := tea.NewProgram(tuimodel.New(cfg.Sink.Logs), tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

// --- Service ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the systemd user timer that sweeps the log root",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the sweep timer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := service.Install(configPath, cfg.Sink.PruneEvery()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sweep timer installed")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the sweep timer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sweep timer removed")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sweep timer state",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(ctx))
	},
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}

// --- Config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the sink configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a sink.yaml",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}
		if path == "" {
			var err error
			if path, err = config.DefaultPath(); err != nil {
				return err
			}
		}

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", path)
			return nil
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d error(s)\n", path, len(errs))
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
		}
		return fmt.Errorf("%s is invalid", path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sink %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}
