package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jllopis/reasoningbank/pkg/results"
)

func newLedgerCmd(flags *globalFlags) *cobra.Command {
	var (
		runID  string
		taskID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the episode ledger",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded episodes of a run",
		Long: `List the episodes recorded for a run. Without --run the run id of the
current configuration is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if runID == "" {
				runID = cfg.RunID()
			}
			ledger, err := results.OpenLedger(filepath.Join(cfg.Runtime.OutputDir, "ledger.db"))
			if err != nil {
				return err
			}
			defer ledger.Close()

			ctx := cmd.Context()
			entries, err := ledger.List(ctx, results.LedgerFilter{RunID: runID, TaskID: taskID, Limit: limit})
			if err != nil {
				return err
			}
			stats, err := ledger.RunSummary(ctx, runID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.JSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Summary results.RunStats      `json:"summary"`
					Entries []results.LedgerEntry `json:"entries"`
				}{stats, entries})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EPISODE\tSUCCESS\tSCORE\tSTEPS\tMEMORIES\tERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%v\t%.0f\t%d\t%d\t%s\n",
					e.EpisodeID, e.Success, e.Score, e.Steps, len(e.UsedMemories), e.Error)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nRun %s: %d episodes, %.1f%% success, avg score %.1f, avg steps %.1f, %d errors\n",
				stats.RunID, stats.Episodes, stats.SuccessRate*100, stats.AvgScore, stats.AvgSteps, stats.Errors)
			return nil
		},
	}
	f := list.Flags()
	f.StringVar(&runID, "run", "", "run id (default: the configured run)")
	f.StringVar(&taskID, "task", "", "only this task id")
	f.IntVar(&limit, "limit", 0, "maximum rows")
	cmd.AddCommand(list)
	return cmd
}
