// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command rbench runs ReasoningBank evaluations against a science simulator
// and manages the memory bank and episode ledger they produce.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jllopis/reasoningbank/pkg/config"
	"github.com/jllopis/reasoningbank/pkg/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	ConfigPath string
	Profile    string
	Overrides  []string
	LogLevel   string
	LogFormat  string
	JSON       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err, wantsJSON(root))
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "rbench",
		Short:         "ReasoningBank evaluation harness",
		Long:          "rbench runs reproducible agent evaluations with an episodic memory bank of distilled reasoning strategies.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to a YAML config file")
	pf.StringVar(&flags.Profile, "profile", "", "config profile overlaid from <config>.<profile>.yaml")
	pf.StringArrayVar(&flags.Overrides, "set", nil, "override a config key (key=value, repeatable)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.LogFormat, "log-format", "", "log format: text or json (default: text on a terminal, json otherwise)")
	pf.BoolVar(&flags.JSON, "json", false, "JSON output")

	root.AddCommand(
		newRunCmd(flags),
		newScheduleCmd(flags),
		newMemoryCmd(flags),
		newLedgerCmd(flags),
		newServeSimCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rbench version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rbench %s\n", version)
		},
	}
}

// loadConfig reads the config with extra overrides appended after the
// --set values.
func (g *globalFlags) loadConfig(extra ...string) (*config.Config, error) {
	overrides := append(append([]string(nil), g.Overrides...), extra...)
	cfg, err := config.LoadWithOptions(config.Options{
		Path:      g.ConfigPath,
		Profile:   g.Profile,
		Overrides: overrides,
	})
	if err != nil {
		return nil, NewConfigError(err, g.ConfigPath)
	}
	return cfg, nil
}

// logger builds the process logger on stderr. Flags win over the config;
// without --log-format, a terminal gets the configured format and anything
// else gets JSON.
func (g *globalFlags) logger(cfg *config.Config, stderr io.Writer) *slog.Logger {
	level := cfg.Log.Level
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	format := g.LogFormat
	if format == "" {
		format = "json"
		if f, ok := stderr.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = cfg.Log.Format
		}
	}
	return telemetry.ConfigureSlog(stderr, level, format)
}

func wantsJSON(root *cobra.Command) bool {
	v, err := root.PersistentFlags().GetBool("json")
	return err == nil && v
}
