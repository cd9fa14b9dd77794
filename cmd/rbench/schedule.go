package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jllopis/reasoningbank/pkg/scheduler"
)

func newScheduleCmd(flags *globalFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the episode order a run would use",
		Long: `Print the deterministic episode order for the configured tasks, split
and seed without running any episode. The simulator is queried for the
variation lists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(rf.overrides(cmd)...)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return NewConfigError(err, flags.ConfigPath)
			}
			ctx := cmd.Context()
			logger := flags.logger(cfg, cmd.ErrOrStderr())

			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			environment, err := openEnvironment(ctx, cfg, catalog, logger)
			if err != nil {
				return err
			}
			defer environment.Close()

			schedule, err := scheduler.BuildSchedule(ctx, catalog, environment, scheduler.Params{
				TaskIDs:         cfg.Test.TaskIDs,
				Split:           cfg.Test.Split,
				Seed:            cfg.Test.Seed,
				EpisodesPerTask: cfg.Test.NumEpisodes,
				Logger:          logger,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.JSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(schedule)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tEPISODE\tTASK\tVARIATION")
			for i, d := range schedule {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", i+1, d.EpisodeID, d.TaskName, d.Variation)
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&rf.tasks, "tasks", nil, "task ids to schedule (default: all)")
	f.IntVar(&rf.episodes, "episodes", 0, "episodes per task")
	f.StringVar(&rf.split, "split", "", "variation split: train, dev or test")
	return cmd
}
