package main

import (
	"github.com/spf13/cobra"

	"github.com/jllopis/reasoningbank/pkg/env"
)

// newServeSimCmd serves a scripted simulator over stdio MCP so it can stand
// in for the real simulator as environment.command.
func newServeSimCmd(_ *globalFlags) *cobra.Command {
	var script string
	cmd := &cobra.Command{
		Use:   "serve-sim",
		Short: "Serve a scripted simulator over stdio MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if script == "" {
				return NewInvalidArgumentError("--script", "a script file is required")
			}
			sim, err := env.LoadScript(script)
			if err != nil {
				return NewEnvironmentError(err, "script")
			}
			return env.ServeStdio(sim)
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "YAML task script")
	return cmd
}
