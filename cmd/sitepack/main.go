// Command sitepack builds a static site into a deployable output directory.
//
// Logging:
//   - Base logger is created here from --log-level and --log-format
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
//
// Build summaries go to stdout; logs go to stderr.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sitepack/internal/build"
	"sitepack/internal/config"
	"sitepack/internal/logging"
)

var version = "dev"

func main() {
	if err := execute(newRootCmd(os.Stdout)); err != nil {
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	out    io.Writer
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	rootCmd := &cobra.Command{
		Use:           "sitepack",
		Short:         "Build a static site for deployment",
		Long:          "sitepack minifies, optimises and pre-compresses a static site into a fresh output directory and generates sitemap.xml, robots.txt and sw.js.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.build(cmd.Context())
		},
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().String("config", "", "TOML file layered over the built-in configuration")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Run one build (the default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.build(cmd.Context())
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(buildCmd, a.watchCmd(), a.serveCmd(), a.publishCmd(), versionCmd)
	return rootCmd
}

// execute runs cmd until it returns or the process is interrupted.
func execute(cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
	}
	return err
}

func (a *app) init(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	logger, err := logging.New(os.Stderr, level, format)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// build runs a single build and prints its summary. Per-file failures make
// the command fail after the summary is printed.
func (a *app) build(ctx context.Context) error {
	b, err := build.New(a.cfg, a.logger)
	if err != nil {
		return err
	}
	rep, err := b.Run(ctx)
	if err != nil {
		return err
	}
	a.report(rep)
	if !rep.OK() {
		return fmt.Errorf("%d file(s) failed: %w", rep.Failed, rep.Errors)
	}
	return nil
}

func (a *app) report(rep *build.Report) {
	fmt.Fprintln(a.out, rep.Summary())
	if rep.OK() {
		fmt.Fprintln(a.out, color.GreenString("✓ %s ready", a.cfg.OutputDir))
	} else {
		fmt.Fprintln(a.out, color.YellowString("! %s built with %d failed file(s)", a.cfg.OutputDir, rep.Failed))
	}
}
